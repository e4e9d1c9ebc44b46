package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// PgSessionStore persists sessions in PostgreSQL. Selected when
// KURO_SESSIONS_URL is set; the schema mirrors the file store's fields.
type PgSessionStore struct {
	pool *pgxpool.Pool
}

// NewPgSessionStore connects and ensures the schema exists.
func NewPgSessionStore(ctx context.Context, connURL string) (*PgSessionStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("sessions connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sessions ping: %w", err)
	}

	ddl := `
		CREATE TABLE IF NOT EXISTS kuro_sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			tier       TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			last_seen  TIMESTAMPTZ NOT NULL,
			ip         TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_kuro_sessions_expiry ON kuro_sessions (expires_at);
	`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sessions migrate: %w", err)
	}

	log.Info().Msg("Postgres session store initialized")
	return &PgSessionStore{pool: pool}, nil
}

func (s *PgSessionStore) Create(ctx context.Context, sess *models.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kuro_sessions (id, user_id, tier, created_at, expires_at, last_seen, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.UserID, string(sess.Tier), sess.CreatedAt, sess.ExpiresAt, sess.LastSeen, sess.IP, sess.UserAgent)
	return err
}

func (s *PgSessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	var tier string
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, tier, created_at, expires_at, last_seen, ip, user_agent
		FROM kuro_sessions WHERE id = $1`, id).
		Scan(&sess.ID, &sess.UserID, &tier, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastSeen, &sess.IP, &sess.UserAgent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrSessionNotFound{ID: id}
	}
	if err != nil {
		return nil, err
	}
	sess.Tier = models.Tier(tier)
	return &sess, nil
}

func (s *PgSessionStore) Update(ctx context.Context, sess *models.Session) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE kuro_sessions SET expires_at = $2, last_seen = $3 WHERE id = $1`,
		sess.ID, sess.ExpiresAt, sess.LastSeen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrSessionNotFound{ID: sess.ID}
	}
	return nil
}

func (s *PgSessionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM kuro_sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrSessionNotFound{ID: id}
	}
	return nil
}

func (s *PgSessionStore) Close() error {
	s.pool.Close()
	return nil
}
