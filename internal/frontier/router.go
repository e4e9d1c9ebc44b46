// Package frontier decides when a request escapes the local runtime to
// an external provider, enforces the provider's per-user hourly quota,
// and adapts the provider's event stream to the gateway's SSE contract.
package frontier

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kurolabs/kuro-gateway/internal/metrics"
	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// Decision is the router's verdict for one request.
type Decision struct {
	Escalate bool    `json:"escalate"`
	POH      float64 `json:"poh"`
	Reason   string  `json:"reason"`
}

// Router gates escalation on the probability-of-handling score, the
// caller's tier threshold, and a per-user hourly window.
type Router struct {
	enabled     bool
	provider    string
	model       string
	hourlyQuota int
	thresholds  map[models.Tier]float64

	mu    sync.Mutex
	usage map[string][]time.Time

	audit contracts.AuditSink
	now   func() time.Time
}

func NewRouter(enabled bool, provider, model string, hourlyQuota int, thresholds map[models.Tier]float64, audit contracts.AuditSink) *Router {
	return &Router{
		enabled:     enabled,
		provider:    provider,
		model:       model,
		hourlyQuota: hourlyQuota,
		thresholds:  thresholds,
		usage:       make(map[string][]time.Time),
		audit:       audit,
		now:         time.Now,
	}
}

func (r *Router) Enabled() bool    { return r.enabled }
func (r *Router) Provider() string { return r.provider }
func (r *Router) Model() string    { return r.model }

// ScorePOH estimates how confidently the local model handles the
// message: long, multi-part or frontier-keyword questions score lower.
// Purely heuristic; the threshold is the policy knob.
func ScorePOH(lastMessage string) float64 {
	score := 0.9
	length := len(lastMessage)
	switch {
	case length > 2000:
		score -= 0.4
	case length > 800:
		score -= 0.2
	}
	questions := strings.Count(lastMessage, "?")
	if questions > 2 {
		score -= 0.1 * float64(questions-2)
	}
	lower := strings.ToLower(lastMessage)
	for _, kw := range []string{"latest", "current", "today", "news", "recent", "2026"} {
		if strings.Contains(lower, kw) {
			score -= 0.15
			break
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Decide routes a request. Below the tier threshold and within the
// hourly window, the request escalates; every escalation is audited
// with provider, model and POH for sovereignty accounting.
func (r *Router) Decide(caller *models.Caller, poh float64) Decision {
	d := Decision{POH: poh, Reason: "local_default"}
	if !r.enabled {
		d.Reason = "frontier_disabled"
		return d
	}
	threshold, ok := r.thresholds[caller.Tier]
	if !ok || threshold <= 0 {
		d.Reason = "tier_not_eligible"
		return d
	}
	if poh >= threshold {
		d.Reason = "poh_above_threshold"
		return d
	}
	if !r.consume(caller.UserID) {
		d.Reason = "provider_quota_exhausted"
		return d
	}

	d.Escalate = true
	d.Reason = "poh_below_threshold"
	metrics.FrontierEscalations.Inc()
	log.Info().Str("user", caller.UserID).Float64("poh", poh).Str("provider", r.provider).Msg("Request escalated to frontier")
	if r.audit != nil {
		_, _ = r.audit.Log(models.AuditEntry{
			Agent: "frontier", Action: "escalated", Result: models.AuditOK,
			UserID: caller.UserID,
			Meta: map[string]any{
				"provider": r.provider, "model": r.model, "poh": poh,
			},
		})
	}
	return d
}

// Usage reports the user's consumed escalations in the current window.
func (r *Router) Usage(userID string) (used, limit int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trimLocked(userID)), r.hourlyQuota
}

func (r *Router) consume(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	stamps := r.trimLocked(userID)
	if len(stamps) >= r.hourlyQuota {
		return false
	}
	r.usage[userID] = append(stamps, r.now())
	return true
}

func (r *Router) trimLocked(userID string) []time.Time {
	cutoff := r.now().Add(-time.Hour)
	stamps := r.usage[userID]
	i := 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	stamps = stamps[i:]
	if len(stamps) == 0 {
		delete(r.usage, userID)
	} else {
		r.usage[userID] = stamps
	}
	return stamps
}
