// Package metrics exposes the gateway's Prometheus instrumentation.
// Collectors are package-level and registered once; handlers and the
// orchestrator increment them directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamsStarted counts chat streams opened, by tier.
	StreamsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kuro",
		Name:      "streams_started_total",
		Help:      "Chat streams opened.",
	}, []string{"tier"})

	// StreamsCompleted counts terminal stream outcomes.
	StreamsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kuro",
		Name:      "streams_completed_total",
		Help:      "Chat streams by terminal outcome.",
	}, []string{"outcome"}) // done | blocked | gated | error | aborted

	// TokensEmitted counts SSE token events delivered to clients.
	TokensEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kuro",
		Name:      "tokens_emitted_total",
		Help:      "Tokens delivered over SSE.",
	})

	// BackendFailures counts upstream chat failures.
	BackendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kuro",
		Name:      "backend_failures_total",
		Help:      "Backend streaming failures.",
	})

	// QuotaDenials counts quota gate rejections, by action.
	QuotaDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kuro",
		Name:      "quota_denials_total",
		Help:      "Requests denied by the quota gate.",
	}, []string{"action"})

	// FrontierEscalations counts requests routed to the external provider.
	FrontierEscalations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kuro",
		Name:      "frontier_escalations_total",
		Help:      "Requests escalated to the frontier provider.",
	})

	// AuditWriteFailures counts non-fatal audit append failures.
	AuditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kuro",
		Name:      "audit_write_failures_total",
		Help:      "Audit chain append failures (non-fatal).",
	})

	// SandboxRuns counts sandbox runs by terminal status.
	SandboxRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kuro",
		Name:      "sandbox_runs_total",
		Help:      "Sandbox runs by terminal status.",
	}, []string{"status"})

	// StreamDuration observes wall time of completed streams.
	StreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kuro",
		Name:      "stream_duration_seconds",
		Help:      "Wall time of completed streams.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
