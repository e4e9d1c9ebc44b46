package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurolabs/kuro-gateway/internal/vectorstore"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// fakeEmbedder maps texts onto axis-aligned vectors by keyword so tests
// get deterministic similarity without a runtime.
type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) Kind() string      { return "fake" }
func (f *fakeEmbedder) Dimensions() int   { return 3 }
func (f *fakeEmbedder) MaxBatchSize() int { return 8 }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	f.calls++
	out := make([][]float64, len(texts))
	for i, t := range texts {
		switch {
		case strings.Contains(t, "cat"):
			out[i] = []float64{1, 0, 0}
		case strings.Contains(t, "dog"):
			out[i] = []float64{0.9, 0.1, 0}
		default:
			out[i] = []float64{0, 0, 1}
		}
	}
	return out, nil
}

func (f *fakeEmbedder) HealthCheck(context.Context) error { return nil }

func newTestLayer(t *testing.T) (*Layer, *fakeEmbedder) {
	t.Helper()
	mgr := vectorstore.NewManager(t.TempDir(), nil)
	emb := &fakeEmbedder{}
	return NewLayer(emb, mgr), emb
}

func TestChunkShortTextIsSingle(t *testing.T) {
	chunks := Chunk("just a short note", 0, 0)
	assert.Equal(t, []string{"just a short note"}, chunks)
	assert.Nil(t, Chunk("   ", 0, 0))
}

func TestChunkPrefersParagraphBoundaries(t *testing.T) {
	para := strings.Repeat("alpha beta gamma. ", 30) // ~540 chars
	text := para + "\n\n" + para + "\n\n" + para
	chunks := Chunk(text, 800, 100)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 800)
		assert.NotEmpty(t, c)
	}
}

func TestChunkOverlapCarriesContext(t *testing.T) {
	text := strings.Repeat("x", 500) + ". " + strings.Repeat("y", 500)
	chunks := Chunk(text, 600, 50)
	require.Len(t, chunks, 2)
	// The second chunk starts inside the first chunk's tail.
	assert.True(t, strings.HasPrefix(chunks[1], strings.Repeat("x", 10)) ||
		strings.Contains(chunks[0][len(chunks[0])-60:], chunks[1][:10]))
}

func TestIngestAndQuery(t *testing.T) {
	layer, _ := newTestLayer(t)
	ctx := context.Background()

	n, err := layer.Ingest(ctx, "alice", models.NamespaceEdubba, []Document{
		{Text: "the cat sat on the mat", FileID: "f1"},
		{Text: "quarterly report figures"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := layer.Query(ctx, "alice", models.NamespaceEdubba, "cat facts", 4)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Document, "cat")
	assert.Equal(t, "f1", hits[0].Metadata["file_id"])
}

func TestQueryEmptyStoreSkipsEmbedding(t *testing.T) {
	layer, emb := newTestLayer(t)
	hits, err := layer.Query(context.Background(), "alice", models.NamespaceEdubba, "anything", 4)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Zero(t, emb.calls, "no embedding call for an empty store")
}

func TestQueryIsolatedPerUser(t *testing.T) {
	layer, _ := newTestLayer(t)
	ctx := context.Background()

	_, err := layer.Ingest(ctx, "user-b", models.NamespaceEdubba, []Document{{Text: "the cat document"}})
	require.NoError(t, err)

	// User A queries a namespace only user B populated.
	hits, err := layer.Query(ctx, "user-a", models.NamespaceEdubba, "cat", 4)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestWriteTraceGoesToMnemosyne(t *testing.T) {
	layer, _ := newTestLayer(t)
	layer.WriteTrace(context.Background(), "alice", "sess-1", "here is the cat answer")

	stats, err := layer.Stats("alice")
	require.NoError(t, err)
	assert.Equal(t, 0, stats["edubba"])
	assert.Equal(t, 1, stats["mnemosyne"])

	hits, err := layer.Query(context.Background(), "alice", models.NamespaceMnemosyne, "cat", 4)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "sess-1", hits[0].Metadata["session_id"])
}

func TestClear(t *testing.T) {
	layer, _ := newTestLayer(t)
	ctx := context.Background()
	_, err := layer.Ingest(ctx, "alice", models.NamespaceEdubba, []Document{{Text: "the cat"}})
	require.NoError(t, err)
	require.NoError(t, layer.Clear("alice", models.NamespaceEdubba))

	stats, err := layer.Stats("alice")
	require.NoError(t, err)
	assert.Equal(t, 0, stats["edubba"])
}
