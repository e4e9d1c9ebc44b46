// Package quota implements the tier/usage gate: buffered per-user
// counters with periodic durable flush, per-tier ceilings, concurrency
// slots, and the anonymous guest bucket.
package quota

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CounterStore is the durable side of the quota ledger. AddBatch must
// be an upsert-add: stored(k) becomes stored(k) + delta(k).
type CounterStore interface {
	Get(key string) (int64, error)
	AddBatch(deltas map[string]int64) error
	Close() error
}

// FileCounterStore keeps the whole ledger in one JSON file, rewritten
// atomically on flush. Counters are coarse (one bump per request), so
// a single file is plenty.
type FileCounterStore struct {
	mu     sync.Mutex
	path   string
	counts map[string]int64
}

// NewFileCounterStore loads (or creates) the ledger at path.
func NewFileCounterStore(path string) (*FileCounterStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create quota dir: %w", err)
	}
	s := &FileCounterStore{path: path, counts: make(map[string]int64)}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read quota ledger: %w", err)
	}
	if err := json.Unmarshal(raw, &s.counts); err != nil {
		return nil, fmt.Errorf("parse quota ledger: %w", err)
	}
	return s, nil
}

func (s *FileCounterStore) Get(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key], nil
}

func (s *FileCounterStore) AddBatch(deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, d := range deltas {
		s.counts[k] += d
	}
	return s.persistLocked()
}

func (s *FileCounterStore) Close() error { return nil }

func (s *FileCounterStore) persistLocked() error {
	raw, err := json.Marshal(s.counts)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
