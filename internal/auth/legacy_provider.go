package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// LegacyTokenProvider validates pre-session bearer tokens. The leg is
// deployment-flagged (KURO_LEGACY_TOKENS) and read-only: tokens carry
// no refresh semantics and are never minted by the gateway.
//
// Config: KURO_LEGACY_TOKEN_MAP, comma-separated token=userID:tier.
type LegacyTokenProvider struct {
	mu      sync.RWMutex
	tokens  map[string]legacyGrant
	enabled bool
}

type legacyGrant struct {
	userID string
	tier   models.Tier
}

// NewLegacyTokenProvider reads the token map from the environment.
func NewLegacyTokenProvider(flagEnabled bool) *LegacyTokenProvider {
	p := &LegacyTokenProvider{tokens: make(map[string]legacyGrant)}
	if !flagEnabled {
		return p
	}
	for _, pair := range strings.Split(os.Getenv("KURO_LEGACY_TOKEN_MAP"), ",") {
		token, grant, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || token == "" {
			continue
		}
		userID, tier, ok := strings.Cut(grant, ":")
		if !ok {
			tier = string(models.TierFree)
		}
		p.tokens[token] = legacyGrant{userID: userID, tier: models.Tier(tier)}
		p.enabled = true
	}
	return p
}

func (p *LegacyTokenProvider) Name() string { return "legacy_token" }

func (p *LegacyTokenProvider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// Authenticate validates Authorization: Bearer <token>. A missing
// header falls through; a present but unknown token rejects.
func (p *LegacyTokenProvider) Authenticate(_ context.Context, r *http.Request) (*models.Caller, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, nil
	}
	candidate := strings.TrimPrefix(header, "Bearer ")

	p.mu.RLock()
	defer p.mu.RUnlock()
	for token, grant := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return CallerForTier(grant.userID, grant.tier, models.AuthLegacyToken), nil
		}
	}
	return nil, fmt.Errorf("invalid legacy token")
}
