package auth

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// ProviderChain implements contracts.AuthChain. It walks registered
// providers in order until one returns a caller.
type ProviderChain struct {
	mu        sync.RWMutex
	providers []contracts.AuthProvider
}

// NewProviderChain creates an empty chain.
func NewProviderChain() *ProviderChain {
	return &ProviderChain{providers: make([]contracts.AuthProvider, 0)}
}

// RegisterProvider appends a provider. Registration order is priority
// order: the session leg must be registered before the legacy leg so
// cookie auth unconditionally overrides legacy tokens.
func (c *ProviderChain) RegisterProvider(p contracts.AuthProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = append(c.providers, p)
	log.Info().Str("provider", p.Name()).Bool("enabled", p.Enabled()).Msg("Auth provider registered")
}

// Authenticate walks the chain.
//
// Contract:
//   - (*Caller, nil) → authenticated, stop walking
//   - (nil, nil)     → provider doesn't handle this request, try next
//   - (nil, error)   → auth attempted but failed, reject immediately
func (c *ProviderChain) Authenticate(ctx context.Context, r *http.Request) (*models.Caller, error) {
	c.mu.RLock()
	providers := make([]contracts.AuthProvider, len(c.providers))
	copy(providers, c.providers)
	c.mu.RUnlock()

	for _, p := range providers {
		if !p.Enabled() {
			continue
		}
		caller, err := p.Authenticate(ctx, r)
		if err != nil {
			log.Debug().Str("provider", p.Name()).Err(err).Msg("Auth provider rejected request")
			return nil, err
		}
		if caller != nil {
			log.Debug().
				Str("provider", p.Name()).
				Str("user", caller.UserID).
				Str("tier", string(caller.Tier)).
				Msg("Request authenticated")
			return caller, nil
		}
	}
	// No provider matched — anonymous request.
	return nil, nil
}
