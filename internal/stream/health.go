package stream

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kurolabs/kuro-gateway/internal/metrics"
)

// HealthMonitor tracks consecutive backend failures. Once the threshold
// is crossed, requests short-circuit with a friendly error instead of
// queueing against a dead runtime; one success resets the counter.
type HealthMonitor struct {
	mu          sync.Mutex
	consecutive int
	threshold   int
	lastFailure time.Time
	lastSuccess time.Time
}

func NewHealthMonitor(threshold int) *HealthMonitor {
	if threshold <= 0 {
		threshold = 3
	}
	return &HealthMonitor{threshold: threshold}
}

func (h *HealthMonitor) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.consecutive >= h.threshold {
		log.Info().Msg("Backend recovered")
	}
	h.consecutive = 0
	h.lastSuccess = time.Now()
}

func (h *HealthMonitor) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutive++
	h.lastFailure = time.Now()
	metrics.BackendFailures.Inc()
	if h.consecutive == h.threshold {
		log.Warn().Int("consecutive", h.consecutive).Msg("Backend marked unhealthy")
	}
}

// Healthy is the precomputed state requests consult before streaming.
func (h *HealthMonitor) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutive < h.threshold
}

// Snapshot is served on /api/health and feeds the capability router's
// infra signals.
type HealthSnapshot struct {
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitzero"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
}

func (h *HealthMonitor) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthSnapshot{
		Healthy:             h.consecutive < h.threshold,
		ConsecutiveFailures: h.consecutive,
		LastFailure:         h.lastFailure,
		LastSuccess:         h.lastSuccess,
	}
}
