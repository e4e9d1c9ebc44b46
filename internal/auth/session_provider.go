package auth

import (
	"context"
	"net/http"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// SessionProvider is the cookie leg of the waterfall.
type SessionProvider struct {
	sessions *SessionManager
}

// NewSessionProvider wraps the session manager as an AuthProvider.
func NewSessionProvider(sessions *SessionManager) *SessionProvider {
	return &SessionProvider{sessions: sessions}
}

func (p *SessionProvider) Name() string  { return "session" }
func (p *SessionProvider) Enabled() bool { return true }

// Authenticate resolves the kuro_sid cookie. A missing cookie falls
// through to the next provider; an expired or unknown session also
// falls through (to guest) rather than rejecting, so stale cookies
// degrade to anonymous instead of erroring.
func (p *SessionProvider) Authenticate(ctx context.Context, r *http.Request) (*models.Caller, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	sess, err := p.sessions.Resolve(ctx, cookie.Value)
	if err != nil {
		if _, ok := err.(*ErrSessionNotFound); ok {
			return nil, nil
		}
		return nil, err
	}
	return CallerForTier(sess.UserID, sess.Tier, models.AuthSession), nil
}
