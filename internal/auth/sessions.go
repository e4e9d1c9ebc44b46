package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// CookieName is the session cookie. Opaque, http-only, rotated on login.
const CookieName = "kuro_sid"

// SessionManager owns session lifecycle: minting on login, sliding
// refresh on authenticated access, expiry, revocation on logout.
type SessionManager struct {
	store  contracts.SessionStore
	slide  time.Duration
	absMax time.Duration
	idle   time.Duration // 0 disables the inactivity check
	audit  contracts.AuditSink

	// now is swappable in tests.
	now func() time.Time
}

// NewSessionManager wires the manager. audit may be nil.
func NewSessionManager(store contracts.SessionStore, slide, absMax, idle time.Duration, audit contracts.AuditSink) *SessionManager {
	return &SessionManager{
		store:  store,
		slide:  slide,
		absMax: absMax,
		idle:   idle,
		audit:  audit,
		now:    time.Now,
	}
}

// Login mints a fresh session. The id is 32 random bytes, hex encoded —
// minting a new id on every login is what rotates the cookie.
func (m *SessionManager) Login(ctx context.Context, userID string, tier models.Tier, ip, userAgent string) (*models.Session, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("mint session id: %w", err)
	}
	now := m.now().UTC()
	sess := &models.Session{
		ID:        hex.EncodeToString(buf),
		UserID:    userID,
		Tier:      tier,
		CreatedAt: now,
		ExpiresAt: now.Add(m.slide),
		LastSeen:  now,
		IP:        ip,
		UserAgent: userAgent,
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	m.logAudit("session_created", models.AuditOK, userID, nil)
	return sess, nil
}

// Logout revokes a session. Unknown ids are not an error.
func (m *SessionManager) Logout(ctx context.Context, id string) error {
	err := m.store.Delete(ctx, id)
	if err != nil {
		if _, ok := err.(*ErrSessionNotFound); ok {
			return nil
		}
		return err
	}
	m.logAudit("session_revoked", models.AuditOK, "", nil)
	return nil
}

// Resolve looks up a session and applies the expiry state machine:
//
//	fresh → active (sliding) → absolute_expired | idle_expired | revoked
//
// A session past its sliding expiry, its absolute lifetime, or the
// inactivity window never resolves; breaches emit session_expired.
// A live session is refreshed: expiresAt = now + slide.
func (m *SessionManager) Resolve(ctx context.Context, id string) (*models.Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()

	if !now.Before(sess.ExpiresAt) {
		m.logAudit("session_expired", models.AuditDenied, sess.UserID, map[string]any{"reason": "sliding"})
		return nil, &ErrSessionNotFound{ID: id}
	}
	if now.Sub(sess.CreatedAt) > m.absMax {
		m.logAudit("session_expired", models.AuditDenied, sess.UserID, map[string]any{"reason": "absolute"})
		return nil, &ErrSessionNotFound{ID: id}
	}
	if m.idle > 0 && now.Sub(sess.LastSeen) > m.idle {
		m.logAudit("session_expired", models.AuditDenied, sess.UserID, map[string]any{"reason": "idle"})
		return nil, &ErrSessionNotFound{ID: id}
	}

	sess.ExpiresAt = now.Add(m.slide)
	sess.LastSeen = now
	if err := m.store.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return sess, nil
}

func (m *SessionManager) logAudit(action string, result models.AuditResult, userID string, meta map[string]any) {
	if m.audit == nil {
		return
	}
	_, _ = m.audit.Log(models.AuditEntry{
		Agent:  "auth",
		Action: action,
		Result: result,
		UserID: userID,
		Meta:   meta,
	})
}
