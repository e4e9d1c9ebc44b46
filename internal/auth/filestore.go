package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kurolabs/kuro-gateway/internal/validate"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// ErrSessionNotFound is returned for unknown or already-deleted sessions.
type ErrSessionNotFound struct{ ID string }

func (e *ErrSessionNotFound) Error() string { return fmt.Sprintf("session %s not found", e.ID) }

// FileSessionStore keeps one JSON file per session under sessions/ in
// the data root. It is the default store; deployments with Postgres
// select PgSessionStore instead.
type FileSessionStore struct {
	mu  sync.RWMutex
	dir string
}

// NewFileSessionStore creates the store rooted at dir.
func NewFileSessionStore(dir string) (*FileSessionStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &FileSessionStore{dir: dir}, nil
}

func (s *FileSessionStore) path(id string) (string, error) {
	// Session ids are gateway-minted, but the file path still goes
	// through the central validator.
	return validate.ResolveUnder(s.dir, id+".json")
}

func (s *FileSessionStore) Create(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(sess)
}

func (s *FileSessionStore) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.path(id)
	if err != nil {
		return nil, &ErrSessionNotFound{ID: id}
	}
	raw, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, &ErrSessionNotFound{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &sess, nil
}

func (s *FileSessionStore) Update(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.path(sess.ID)
	if err != nil {
		return &ErrSessionNotFound{ID: sess.ID}
	}
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return &ErrSessionNotFound{ID: sess.ID}
	}
	return s.writeLocked(sess)
}

func (s *FileSessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.path(id)
	if err != nil {
		return &ErrSessionNotFound{ID: id}
	}
	if err := os.Remove(p); os.IsNotExist(err) {
		return &ErrSessionNotFound{ID: id}
	} else if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *FileSessionStore) Close() error { return nil }

func (s *FileSessionStore) writeLocked(sess *models.Session) error {
	p, err := s.path(sess.ID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	tmp := filepath.Join(s.dir, "."+sess.ID+".tmp")
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}
