// Authentication interfaces for the resolver waterfall.
//
// Each provider implements one leg of the waterfall (session cookie,
// legacy bearer token). The chain walks them in priority order; when no
// provider matches, the request is anonymous and the guest gate applies.
package contracts

import (
	"context"
	"net/http"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// AuthProvider authenticates an HTTP request and returns a Caller.
//
// The chain pattern:
//   - (*Caller, nil)  → authenticated, stop walking
//   - (nil, nil)      → provider doesn't handle this request, try next
//   - (nil, error)    → auth attempted but failed, reject immediately
type AuthProvider interface {
	// Name returns the provider identifier ("session", "legacy_token").
	Name() string

	// Authenticate inspects the request and returns a Caller.
	Authenticate(ctx context.Context, r *http.Request) (*models.Caller, error)

	// Enabled reports whether this provider is configured and active.
	Enabled() bool
}

// AuthChain walks providers in registration order until one matches.
type AuthChain interface {
	Authenticate(ctx context.Context, r *http.Request) (*models.Caller, error)
	RegisterProvider(p AuthProvider)
}
