package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kurolabs/kuro-gateway/internal/capability"
	"github.com/kurolabs/kuro-gateway/internal/frontier"
	"github.com/kurolabs/kuro-gateway/internal/metrics"
	"github.com/kurolabs/kuro-gateway/internal/pipeline"
	"github.com/kurolabs/kuro-gateway/internal/quota"
	"github.com/kurolabs/kuro-gateway/internal/retrieval"
	"github.com/kurolabs/kuro-gateway/internal/synthesis"
	"github.com/kurolabs/kuro-gateway/internal/validate"
	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	"github.com/kurolabs/kuro-gateway/pkg/middleware"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

var errCorrection = errors.New("aborted for correction")

// Orchestrator threads a chat request through the pipeline stages and
// couples the backend stream to the SSE response. It owns the full
// request lifecycle described by the layer events it emits.
type Orchestrator struct {
	backend         contracts.ChatBackend
	frontierRouter  *frontier.Router
	frontierBackend contracts.ChatBackend

	health    *HealthMonitor
	registry  *Registry
	memory    *MemoryStore
	retrieval *retrieval.Layer
	caps      *capability.Router
	intents   *pipeline.IntentRouter
	rate      *pipeline.RateStage
	gate      *quota.Gate
	guests    *quota.GuestGate
	audit     contracts.AuditSink
	synth     *synthesis.Synthesizer
	thermal   func() bool
}

// Deps bundles the orchestrator's collaborators for wiring.
type Deps struct {
	Backend         contracts.ChatBackend
	FrontierRouter  *frontier.Router
	FrontierBackend contracts.ChatBackend
	Health          *HealthMonitor
	Registry        *Registry
	Memory          *MemoryStore
	Retrieval       *retrieval.Layer
	Capabilities    *capability.Router
	Intents         *pipeline.IntentRouter
	Rate            *pipeline.RateStage
	Quota           *quota.Gate
	Guests          *quota.GuestGate
	Audit           contracts.AuditSink
	Synthesizer     *synthesis.Synthesizer

	// Thermal reports whether host telemetry asks for a downgrade.
	// Optional; nil means never throttled.
	Thermal func() bool
}

func NewOrchestrator(d Deps) *Orchestrator {
	return &Orchestrator{
		backend:         d.Backend,
		frontierRouter:  d.FrontierRouter,
		frontierBackend: d.FrontierBackend,
		health:          d.Health,
		registry:        d.Registry,
		memory:          d.Memory,
		retrieval:       d.Retrieval,
		caps:            d.Capabilities,
		intents:         d.Intents,
		rate:            d.Rate,
		gate:            d.Quota,
		guests:          d.Guests,
		audit:           d.Audit,
		synth:           d.Synthesizer,
		thermal:         d.Thermal,
	}
}

// Registry exposes the handle registry for the correction endpoint.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Health exposes the backend health monitor.
func (o *Orchestrator) Health() *HealthMonitor { return o.health }

// Handle serves POST /api/stream. Validation failures are plain JSON
// 400s; everything after the SSE response opens is delivered as events.
func (o *Orchestrator) Handle(w http.ResponseWriter, r *http.Request) {
	var req models.StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"body: invalid JSON"}})
		return
	}
	if errs := validate.StreamRequest(&req); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
		return
	}

	caller := middleware.GetCaller(r.Context())
	requestID := middleware.GetCorrelationID(r.Context())
	fingerprint := quota.Fingerprint(r)

	emitter, err := NewEmitter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "streaming unsupported"})
		return
	}
	defer emitter.Close()

	metrics.StreamsStarted.WithLabelValues(string(caller.Tier)).Inc()
	start := time.Now()
	outcome := o.run(r, emitter, &req, caller, requestID, fingerprint, start)
	metrics.StreamsCompleted.WithLabelValues(outcome).Inc()
	metrics.StreamDuration.Observe(time.Since(start).Seconds())
}

// run returns the outcome label: done | blocked | gated | error | aborted.
func (o *Orchestrator) run(r *http.Request, emitter *Emitter, req *models.StreamRequest, caller *models.Caller, requestID, fingerprint string, start time.Time) string {
	// Admission: guest bucket for anonymous callers, quota and
	// concurrency for authenticated ones.
	if caller.IsGuest {
		status := o.guests.Check(fingerprint)
		if !status.Allowed {
			emitter.Send(models.GateEvent{
				Type: "gate", Reason: "demo_limit", Tier: caller.Tier,
				Remaining: 0, ResetAt: status.ResetAt.UTC().Format(time.RFC3339),
			})
			o.logAudit(caller, requestID, fingerprint, "stream_gated", models.AuditDenied, map[string]any{"reason": "demo_limit"})
			return "gated"
		}
	} else {
		for _, action := range []models.QuotaAction{models.ActionChatDaily, models.ActionChatWeekly} {
			if res := o.gate.Check(caller.UserID, caller.Tier, action); !res.Allowed {
				emitter.Send(models.GateEvent{
					Type: "gate", Reason: string(action) + "_exhausted",
					Tier: caller.Tier, Remaining: 0,
				})
				o.logAudit(caller, requestID, fingerprint, "stream_gated", models.AuditDenied, map[string]any{"reason": string(action)})
				return "gated"
			}
		}
		if !o.gate.Acquire(caller.UserID, caller.Tier) {
			emitter.Send(models.GateEvent{Type: "gate", Reason: "concurrency_limit", Tier: caller.Tier})
			o.logAudit(caller, requestID, fingerprint, "stream_gated", models.AuditDenied, map[string]any{"reason": "concurrency"})
			return "gated"
		}
		defer o.gate.Release(caller.UserID)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	owner := OwnerID(caller, fingerprint)
	handle := o.registry.Register(r.Context(), owner, sessionID)
	defer o.registry.Deregister(handle)
	ctx := handle.Context()

	// ── Threat filter ──
	emitter.Send(models.LayerEvent{Type: "layer", Layer: "threat_filter", Status: "active"})
	if verdict := pipeline.ThreatFilter(req.Messages); !verdict.Clear {
		emitter.Send(models.LayerEvent{Type: "layer", Layer: "threat_filter", Status: "blocked", Detail: verdict.Rule})
		emitter.Send(models.BlockedEvent{Type: "blocked", Reason: verdict.Rule})
		o.logAudit(caller, requestID, fingerprint, "threat_blocked", models.AuditDenied, map[string]any{"rule": verdict.Rule, "sample": verdict.Sample})
		return "blocked"
	}
	emitter.Send(models.LayerEvent{Type: "layer", Layer: "threat_filter", Status: "complete"})

	// ── Rate limiter ──
	emitter.Send(models.LayerEvent{Type: "layer", Layer: "rate_limiter", Status: "active"})
	rateKey := caller.UserID
	if caller.IsGuest {
		rateKey = fingerprint
	}
	if !o.rate.Allow(rateKey) {
		emitter.Send(models.LayerEvent{Type: "layer", Layer: "rate_limiter", Status: "blocked"})
		emitter.Send(models.BlockedEvent{Type: "blocked", Reason: "rate_limited"})
		o.logAudit(caller, requestID, fingerprint, "rate_blocked", models.AuditDenied, nil)
		return "blocked"
	}
	emitter.Send(models.LayerEvent{Type: "layer", Layer: "rate_limiter", Status: "complete"})

	// ── Capability profile ──
	profile := o.caps.Resolve(caller, req.PowerDial, capability.DeviceHints{}, o.infraSignals(), sessionID)
	emitter.Send(models.CapabilityEvent{Type: "capability", Profile: profile.Summary()})

	// ── Retrieval ──
	var hits []models.RetrievalHit
	if req.UseRAG && !caller.IsGuest {
		emitter.Send(models.LayerEvent{Type: "layer", Layer: "retrieval", Status: "active"})
		ns := models.Namespace(req.RAGNamespace)
		if ns == "" {
			ns = models.NamespaceEdubba
		}
		topK := req.RAGTopK
		if topK == 0 {
			topK = profile.RetrievalTopK
		}
		stageStart := time.Now()
		var err error
		hits, err = o.retrieval.Query(ctx, caller.UserID, ns, req.LastUserMessage(), topK)
		if err != nil {
			log.Warn().Err(err).Msg("Retrieval stage failed; continuing without context")
			hits = nil
		}
		emitter.Send(models.LayerEvent{
			Type: "layer", Layer: "retrieval", Status: "complete",
			Detail:  fmt.Sprintf("%d hits", len(hits)),
			Elapsed: time.Since(stageStart).Milliseconds(),
		})
	}

	// ── Intent routing ──
	emitter.Send(models.LayerEvent{Type: "layer", Layer: "intent_router", Status: "active"})
	intent := o.intents.Route(req.LastUserMessage())
	if intent.Blocked {
		emitter.Send(models.LayerEvent{Type: "layer", Layer: "intent_router", Status: "blocked", Detail: intent.Label})
		emitter.Send(models.BlockedEvent{Type: "blocked", Reason: intent.BlockReason})
		o.logAudit(caller, requestID, fingerprint, "intent_blocked", models.AuditDenied, map[string]any{"intent": intent.Label})
		return "blocked"
	}
	emitter.Send(models.LayerEvent{Type: "layer", Layer: "intent_router", Status: "complete", Detail: intent.Label})

	// ── Memory / context ──
	history, _ := o.memory.Recent(owner, sessionID, profile.HistoryTurns)

	// ── Agent orchestration ──
	selection := pipeline.SelectAgent(intent, caller, req.Mode, profile)
	if selection.Downgraded {
		emitter.Send(models.PolicyNoticeEvent{Type: "policy_notice", Notice: selection.DowngradeWhy})
	}

	// ── Fire control / frontier decision ──
	poh := frontier.ScorePOH(req.LastUserMessage())
	decision := o.frontierRouter.Decide(caller, poh)
	backend := o.backend
	if decision.Escalate && o.frontierBackend != nil {
		backend = o.frontierBackend
	}
	emitter.Send(models.RoutingEvent{Type: "routing", Intent: intent.Label, Frontier: decision.Escalate, POH: poh})
	emitter.Send(models.ModelEvent{Type: "model", Model: backend.Model(), Provider: backend.Name()})

	// Backend health short-circuit applies to the local path only.
	if backend == o.backend && !o.health.Healthy() {
		emitter.Send(models.ErrorEvent{Type: "error", Message: "The model runtime is temporarily unavailable. Please retry shortly."})
		o.logAudit(caller, requestID, fingerprint, "stream_error", models.AuditError, map[string]any{"reason": "backend_unhealthy"})
		return "error"
	}

	// ── Prompt assembly ──
	prompt := pipeline.BuildPrompt(pipeline.PromptInput{
		Selection: selection,
		Skill:     req.Skill,
		Thinking:  req.Thinking || profile.Reasoning,
		Hits:      hits,
		History:   history,
		UserMsgs:  req.Messages,
	})

	opts := contracts.StreamOptions{
		Temperature:   profile.Temperature,
		ContextTokens: profile.ContextTokens,
		Reasoning:     profile.Reasoning,
	}
	if req.Temperature > 0 {
		opts.Temperature = req.Temperature
	} else if intent.Temperature > 0 {
		opts.Temperature = intent.Temperature
	}

	// ── Streaming ──
	extractor := &ThinkingExtractor{}
	tokens := 0
	emitToken := func(visible string) {
		if visible == "" {
			return
		}
		tokens++
		handle.AppendPartial(visible)
		emitter.Send(models.TokenEvent{Type: "token", Token: visible})
		metrics.TokensEmitted.Inc()
	}
	onToken := func(tok string) error {
		if _, pending := handle.PendingCorrection(); pending {
			return errCorrection
		}
		visible, thoughts := extractor.Feed(tok)
		for _, th := range thoughts {
			emitter.Send(models.ThinkingEvent{Type: "thinking", Text: th})
		}
		emitToken(visible)
		return nil
	}

	var synthMeta *models.SynthesisMeta
	streamErr := error(nil)

	if profile.Synthesis && req.NuclearMode && o.synth != nil {
		merged, meta, err := o.synth.Run(ctx, prompt, opts)
		if err != nil {
			log.Warn().Err(err).Msg("Synthesis failed; falling back to direct streaming")
			streamErr = backend.Stream(ctx, prompt, opts, onToken)
		} else {
			synthMeta = meta
			for _, chunk := range synthesis.Chunks(merged) {
				if _, pending := handle.PendingCorrection(); pending {
					streamErr = errCorrection
					break
				}
				emitToken(chunk)
			}
		}
	} else {
		streamErr = backend.Stream(ctx, prompt, opts, onToken)
	}

	if streamErr == nil {
		visible, thoughts := extractor.Flush()
		for _, th := range thoughts {
			emitter.Send(models.ThinkingEvent{Type: "thinking", Text: th})
		}
		emitToken(visible)
	}

	switch {
	case errors.Is(streamErr, errCorrection):
		emitter.Send(models.AbortEvent{Type: "aborted_for_correction", Reason: "correction_pending"})
		o.logAudit(caller, requestID, fingerprint, "stream_aborted", models.AuditOK, map[string]any{"reason": "correction"})
		return "aborted"
	case streamErr != nil && ctx.Err() != nil:
		// Client disconnect or supersession; partial output stays on
		// the handle for diagnosis.
		o.logAudit(caller, requestID, fingerprint, "stream_aborted", models.AuditOK, map[string]any{"reason": "disconnect", "partial_bytes": len(handle.Partial())})
		return "aborted"
	case streamErr != nil:
		if backend == o.backend {
			o.health.RecordFailure()
		}
		emitter.Send(models.ErrorEvent{Type: "error", Message: "The model runtime returned an error."})
		o.logAudit(caller, requestID, fingerprint, "stream_error", models.AuditError, map[string]any{"error": streamErr.Error()})
		return "error"
	}
	if backend == o.backend {
		o.health.RecordSuccess()
	}

	// ── Post-processing ──
	reply := handle.Partial()
	if reply != "" {
		o.memory.Append(owner, sessionID,
			models.ChatMessage{Role: "user", Content: req.LastUserMessage()},
			models.ChatMessage{Role: "assistant", Content: StripThinking(reply)},
		)
		if !caller.IsGuest {
			o.retrieval.WriteTrace(ctx, caller.UserID, sessionID, StripThinking(reply))
		}
	}

	delivered := tokens > 0
	if delivered {
		if caller.IsGuest {
			status := o.guests.Consume(fingerprint)
			emitter.Send(models.GuestQuotaEvent{
				Type: "guest_quota", Used: status.Used, Limit: status.Limit, Remaining: status.Remaining,
			})
		} else {
			o.gate.Record(caller.UserID, models.ActionChatDaily)
			o.gate.Record(caller.UserID, models.ActionChatWeekly)
		}
	}

	emitter.Send(models.DoneEvent{
		Type: "done", Tokens: tokens, Model: backend.Model(),
		RequestID: requestID, Elapsed: time.Since(start).Milliseconds(),
		Synthesis: synthMeta,
	})
	o.logAudit(caller, requestID, fingerprint, "stream_complete", models.AuditOK, map[string]any{
		"tokens": tokens, "model": backend.Model(), "frontier": decision.Escalate,
	})
	return "done"
}

func (o *Orchestrator) infraSignals() capability.InfraSignals {
	sig := capability.InfraSignals{BackendDegraded: !o.health.Healthy()}
	if o.thermal != nil {
		sig.ThermalThrottle = o.thermal()
	}
	return sig
}

func (o *Orchestrator) logAudit(caller *models.Caller, requestID, fingerprint, action string, result models.AuditResult, meta map[string]any) {
	if o.audit == nil {
		return
	}
	_, _ = o.audit.Log(models.AuditEntry{
		Agent: "stream", Action: action, Result: result,
		UserID: caller.UserID, RequestID: requestID, Fingerprint: fingerprint,
		Meta: meta,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
