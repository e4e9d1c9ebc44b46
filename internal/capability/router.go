// Package capability resolves a requested power dial against the
// caller's tier ceiling and infrastructure signals into the effective
// per-request profile.
package capability

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// dialOrder ranks profiles for ceiling and downgrade comparisons.
var dialOrder = map[models.PowerDial]int{
	models.DialInstant:   0,
	models.DialBalanced:  1,
	models.DialDeep:      2,
	models.DialSovereign: 3,
}

// baseProfiles are the dial presets before tier and infra adjustments.
var baseProfiles = map[models.PowerDial]models.Profile{
	models.DialInstant: {
		Dial: models.DialInstant, ContextTokens: 2048, Temperature: 0.3,
		RetrievalTopK: 2, HistoryTurns: 4,
		Tools: []string{"rag.query"},
	},
	models.DialBalanced: {
		Dial: models.DialBalanced, ContextTokens: 8192, Temperature: 0.7,
		RetrievalTopK: 4, HistoryTurns: 10,
		Tools: []string{"rag.query", "fs.read", "history.read"},
	},
	models.DialDeep: {
		Dial: models.DialDeep, ContextTokens: 16384, Temperature: 0.8,
		Reasoning: true, RetrievalTopK: 6, HistoryTurns: 20,
		Tools: []string{"rag.query", "fs.read", "fs.write", "history.read"},
	},
	models.DialSovereign: {
		Dial: models.DialSovereign, ContextTokens: 32768, Temperature: 0.9,
		Speculative: true, Reasoning: true, Synthesis: true,
		RetrievalTopK: 8, HistoryTurns: 40,
		Tools: []string{"rag.query", "fs.read", "fs.write", "shell.exec", "history.read"},
	},
}

// tierCeilings caps the dial per subscription tier.
var tierCeilings = map[models.Tier]models.PowerDial{
	models.TierFree:      models.DialBalanced,
	models.TierPro:       models.DialDeep,
	models.TierSovereign: models.DialSovereign,
}

// DeviceHints are client-advisory. They can only downgrade.
type DeviceHints struct {
	LowMemory   bool `json:"lowMemory,omitempty"`
	SlowNetwork bool `json:"slowNetwork,omitempty"`
}

// InfraSignals come from the health monitor and GPU telemetry.
type InfraSignals struct {
	BackendDegraded bool
	ThermalThrottle bool
}

// Router resolves profiles and caches the result per session id so the
// rest of the pipeline reads one consistent policy for the request's
// lifetime. The client only ever receives the profile summary.
type Router struct {
	mu    sync.RWMutex
	cache map[string]*models.Profile
	audit contracts.AuditSink
}

func NewRouter(audit contracts.AuditSink) *Router {
	return &Router{cache: make(map[string]*models.Profile), audit: audit}
}

// Resolve computes the effective profile. Precedence: tier ceiling,
// then device hints, then infra signals — each step can only lower the
// dial. The originally requested dial is preserved in the audit meta.
func (r *Router) Resolve(caller *models.Caller, requested models.PowerDial, hints DeviceHints, infra InfraSignals, sessionID string) *models.Profile {
	if _, ok := dialOrder[requested]; !ok {
		requested = models.DialBalanced
	}
	effective := requested
	reason := ""

	ceiling, ok := tierCeilings[caller.Tier]
	if !ok {
		ceiling = tierCeilings[models.TierFree]
	}
	if caller.IsGuest {
		ceiling = models.DialInstant
	}
	if dialOrder[effective] > dialOrder[ceiling] {
		effective = ceiling
		reason = "tier_ceiling"
	}

	if (hints.LowMemory || hints.SlowNetwork) && dialOrder[effective] > dialOrder[models.DialBalanced] {
		effective = models.DialBalanced
		reason = "device_hint"
	}
	if infra.ThermalThrottle && dialOrder[effective] > dialOrder[models.DialBalanced] {
		effective = models.DialBalanced
		reason = "gpu_thermal"
	}
	if infra.BackendDegraded && dialOrder[effective] > dialOrder[models.DialInstant] {
		effective = models.DialInstant
		reason = "backend_health"
	}

	profile := baseProfiles[effective]
	profile.Requested = requested
	profile.Downgraded = effective != requested
	if profile.Downgraded {
		profile.DowngradeWhy = reason
		log.Debug().
			Str("requested", string(requested)).
			Str("effective", string(effective)).
			Str("reason", reason).
			Msg("Power dial downgraded")
		if r.audit != nil {
			_, _ = r.audit.Log(models.AuditEntry{
				Agent: "capability", Action: "dial_downgraded",
				Result: models.AuditOK, UserID: caller.UserID,
				Meta: map[string]any{
					"requested": string(requested),
					"effective": string(effective),
					"reason":    reason,
				},
			})
		}
	}

	if sessionID != "" {
		r.mu.Lock()
		r.cache[sessionID] = &profile
		r.mu.Unlock()
	}
	return &profile
}

// Policy returns the cached profile for a session, if any.
func (r *Router) Policy(sessionID string) (*models.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.cache[sessionID]
	return p, ok
}

// Forget drops a session's cached policy.
func (r *Router) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, sessionID)
}

// Profiles returns the dial presets in ascending order. This is the
// public catalog; per-session resolution still applies ceilings.
func Profiles() []models.Profile {
	out := make([]models.Profile, 0, len(dialOrder))
	for _, dial := range []models.PowerDial{models.DialInstant, models.DialBalanced, models.DialDeep, models.DialSovereign} {
		p := baseProfiles[dial]
		p.Requested = dial
		out = append(out, p)
	}
	return out
}

// Ceiling returns the highest dial a tier may hold.
func Ceiling(tier models.Tier) models.PowerDial {
	if c, ok := tierCeilings[tier]; ok {
		return c
	}
	return models.DialInstant
}
