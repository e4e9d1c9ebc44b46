// Package vectorstore holds per-user document + embedding records and
// answers nearest-neighbor queries with brute-force cosine similarity.
// Stores are small and per-user, so retrieval is an exact linear scan.
//
// Addressing is {userId}/{namespace} with a closed namespace set:
// edubba (durable knowledge) and mnemosyne (response traces). A store
// is never shared across users and guests are refused at the manager.
package vectorstore

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// Store is one user's records in one namespace. The three arrays are
// parallel and always the same length.
type Store struct {
	mu         sync.RWMutex
	path       string
	Documents  []string            `json:"documents"`
	Embeddings [][]float64         `json:"embeddings"`
	Metadata   []map[string]string `json:"metadata"`
}

func load(path string) (*Store, error) {
	s := &Store{path: path}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vector store: %w", err)
	}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("parse vector store: %w", err)
	}
	if len(s.Documents) != len(s.Embeddings) || len(s.Documents) != len(s.Metadata) {
		return nil, fmt.Errorf("vector store %s: parallel arrays out of sync", path)
	}
	return s, nil
}

// Add appends records. The arrays must have equal length; a document
// whose embedding is missing (nil) is dropped silently.
func (s *Store) Add(documents []string, embeddings [][]float64, metadata []map[string]string) error {
	if len(documents) != len(embeddings) || len(documents) != len(metadata) {
		return fmt.Errorf("array length mismatch: docs=%d embeddings=%d metadata=%d",
			len(documents), len(embeddings), len(metadata))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	for i := range documents {
		if embeddings[i] == nil {
			continue
		}
		meta := metadata[i]
		if meta == nil {
			meta = map[string]string{}
		}
		if meta["timestamp"] == "" {
			meta["timestamp"] = now
		}
		s.Documents = append(s.Documents, documents[i])
		s.Embeddings = append(s.Embeddings, embeddings[i])
		s.Metadata = append(s.Metadata, meta)
	}
	return s.persistLocked()
}

// Query ranks all records by cosine similarity against the query
// embedding, filters by threshold and returns the top k. A nil
// embedding yields the empty result set.
func (s *Store) Query(embedding []float64, k int, threshold float64) []models.RetrievalHit {
	if embedding == nil {
		return nil
	}
	if k <= 0 {
		k = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]models.RetrievalHit, 0, len(s.Documents))
	for i := range s.Documents {
		score := cosineSimilarity(embedding, s.Embeddings[i])
		if score < threshold {
			continue
		}
		hits = append(hits, models.RetrievalHit{
			Document: s.Documents[i],
			Score:    score,
			Metadata: s.Metadata[i],
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Clear removes every record and persists the empty store.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Documents = nil
	s.Embeddings = nil
	s.Metadata = nil
	return s.persistLocked()
}

// Count returns the number of records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Documents)
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil // detached store (tests)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ── Manager ─────────────────────────────────────────────────

// Manager caches stores process-wide, keyed userId/namespace, and
// enforces the isolation rules: sanitized user ids, the closed
// namespace set, and no guest access.
type Manager struct {
	mu     sync.Mutex
	dir    string
	stores map[string]*Store
	audit  func(action string, meta map[string]any)
}

// NewManager creates the store cache rooted at dir (vectors/ under the
// data root). The audit hook receives namespace violations; nil is fine.
func NewManager(dir string, audit func(action string, meta map[string]any)) *Manager {
	if audit == nil {
		audit = func(string, map[string]any) {}
	}
	return &Manager{dir: dir, stores: make(map[string]*Store), audit: audit}
}

// Get returns the store for (userID, ns), creating it on first use.
func (m *Manager) Get(userID string, ns models.Namespace) (*Store, error) {
	if userID == "" {
		return nil, fmt.Errorf("vector store refused: anonymous caller")
	}
	if !models.ValidNamespace(ns) {
		return nil, fmt.Errorf("unknown namespace %q", ns)
	}

	clean, changed := sanitizeUserID(userID)
	if changed {
		m.audit("namespace_violation", map[string]any{"raw": userID, "sanitized": clean})
		log.Warn().Str("raw", userID).Str("sanitized", clean).Msg("Vector store user id sanitized")
	}

	key := clean + "/" + string(ns)

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[key]; ok {
		return s, nil
	}
	s, err := load(filepath.Join(m.dir, clean, string(ns)+".json"))
	if err != nil {
		return nil, err
	}
	m.stores[key] = s
	return s, nil
}

func sanitizeUserID(raw string) (string, bool) {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw) && len(out) < 64; i++ {
		c := raw[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		out = append(out, '_')
	}
	clean := string(out)
	return clean, clean != raw
}
