// Package contracts defines the service interfaces of the Kuro gateway.
//
// These interfaces are the seams between subsystems: the streaming
// orchestrator only knows a ChatBackend, the retrieval layer only knows
// an EmbeddingDriver, and the auth resolver only knows a SessionStore.
// Swapping the file-backed session store for the Postgres one, or the
// local backend for a frontier adapter, is a wiring change in pkg/server.
package contracts

import (
	"context"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// ── LLM backend ─────────────────────────────────────────────

// ChatBackend streams chat completions from an inference runtime.
//
// Stream invokes onToken for every token in backend order and returns
// after the final frame. A non-nil error from onToken aborts the call.
type ChatBackend interface {
	// Name identifies the backend ("local" or a frontier provider name).
	Name() string

	// Model returns the model identifier requests are served with.
	Model() string

	// Stream runs a streaming completion.
	Stream(ctx context.Context, messages []models.ChatMessage, opts StreamOptions, onToken func(token string) error) error

	// Complete runs a non-streaming completion (synthesis judge/merge).
	Complete(ctx context.Context, messages []models.ChatMessage, opts StreamOptions) (string, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// StreamOptions carries the per-request model knobs.
type StreamOptions struct {
	Temperature   float64
	ContextTokens int
	Reasoning     bool
}

// ── Embeddings ──────────────────────────────────────────────

// EmbeddingDriver turns texts into fixed-dimension vectors.
type EmbeddingDriver interface {
	Kind() string
	Dimensions() int
	MaxBatchSize() int
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	HealthCheck(ctx context.Context) error
}

// ── Sessions ────────────────────────────────────────────────

// SessionStore persists authentication sessions.
// Implementations: file-backed (default) and Postgres (pgx).
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// ── Audit ───────────────────────────────────────────────────

// AuditSink accepts security events. The concrete implementation is the
// hash chain; subsystems depend on this interface so tests can stub it.
type AuditSink interface {
	Log(e models.AuditEntry) (*models.AuditEntry, error)
}
