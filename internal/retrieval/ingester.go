package retrieval

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/kurolabs/kuro-gateway/internal/vectorstore"
	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// similarity floor for query results; hits below it are noise.
const defaultThreshold = 0.35

// Document is one ingestion unit before chunking.
type Document struct {
	Text   string `json:"text"`
	FileID string `json:"fileId,omitempty"`
}

// Layer ties the embedder to the per-user stores. It is the only way
// the rest of the gateway reads or writes retrieval state.
type Layer struct {
	embedder contracts.EmbeddingDriver
	stores   *vectorstore.Manager
}

func NewLayer(embedder contracts.EmbeddingDriver, stores *vectorstore.Manager) *Layer {
	return &Layer{embedder: embedder, stores: stores}
}

// Ingest chunks, embeds and stores documents in the user's namespace.
// Returns the number of chunks written.
func (l *Layer) Ingest(ctx context.Context, userID string, ns models.Namespace, docs []Document) (int, error) {
	store, err := l.stores.Get(userID, ns)
	if err != nil {
		return 0, err
	}

	var texts []string
	var metas []map[string]string
	for _, doc := range docs {
		chunks := Chunk(doc.Text, 0, 0)
		for i, chunk := range chunks {
			meta := map[string]string{"chunk_index": strconv.Itoa(i)}
			if doc.FileID != "" {
				meta["file_id"] = doc.FileID
			}
			texts = append(texts, chunk)
			metas = append(metas, meta)
		}
	}
	if len(texts) == 0 {
		return 0, nil
	}

	embeddings, err := l.embedBatched(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed documents: %w", err)
	}
	if err := store.Add(texts, embeddings, metas); err != nil {
		return 0, err
	}
	log.Info().Str("user", userID).Str("namespace", string(ns)).Int("chunks", len(texts)).Msg("Documents ingested")
	return len(texts), nil
}

// Query embeds the query text and runs a similarity search over the
// caller's own store. Isolation is structural: the store handle is
// addressed by the caller's user id, so another user's records are
// unreachable by construction.
func (l *Layer) Query(ctx context.Context, userID string, ns models.Namespace, query string, topK int) ([]models.RetrievalHit, error) {
	if topK <= 0 {
		topK = 4
	}
	store, err := l.stores.Get(userID, ns)
	if err != nil {
		return nil, err
	}
	if store.Count() == 0 {
		return []models.RetrievalHit{}, nil
	}
	embeddings, err := l.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return store.Query(embeddings[0], topK, defaultThreshold), nil
}

// WriteTrace stores an assistant reply in the user's response-trace
// namespace. Failures are logged, not surfaced — a missed trace never
// breaks a delivered response.
func (l *Layer) WriteTrace(ctx context.Context, userID, sessionID, reply string) {
	if userID == "" || reply == "" {
		return
	}
	store, err := l.stores.Get(userID, models.NamespaceMnemosyne)
	if err != nil {
		return
	}
	embeddings, err := l.embedder.Embed(ctx, []string{reply})
	if err != nil {
		log.Warn().Err(err).Msg("Trace embedding failed")
		return
	}
	meta := map[string]string{}
	if sessionID != "" {
		meta["session_id"] = sessionID
	}
	if err := store.Add([]string{reply}, embeddings, []map[string]string{meta}); err != nil {
		log.Warn().Err(err).Msg("Trace write failed")
	}
}

// Clear drops the user's namespace.
func (l *Layer) Clear(userID string, ns models.Namespace) error {
	store, err := l.stores.Get(userID, ns)
	if err != nil {
		return err
	}
	return store.Clear()
}

// Stats reports per-namespace record counts for the user.
func (l *Layer) Stats(userID string) (map[string]int, error) {
	out := make(map[string]int, 2)
	for _, ns := range []models.Namespace{models.NamespaceEdubba, models.NamespaceMnemosyne} {
		store, err := l.stores.Get(userID, ns)
		if err != nil {
			return nil, err
		}
		out[string(ns)] = store.Count()
	}
	return out, nil
}

// Embedder exposes the driver for health checks and /api/embed.
func (l *Layer) Embedder() contracts.EmbeddingDriver { return l.embedder }

func (l *Layer) embedBatched(ctx context.Context, texts []string) ([][]float64, error) {
	batch := l.embedder.MaxBatchSize()
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += batch {
		end := min(start+batch, len(texts))
		vecs, err := l.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}
