package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kurolabs/kuro-gateway/internal/capability"
	"github.com/kurolabs/kuro-gateway/internal/quota"
	"github.com/kurolabs/kuro-gateway/internal/stream"
	"github.com/kurolabs/kuro-gateway/internal/validate"
	"github.com/kurolabs/kuro-gateway/pkg/middleware"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// ToolsInvoke runs the JSON tool protocol. Protocol-level failures
// (unknown tool, denied gate, bad args) are ok=false results with
// status 200; only a malformed envelope is a transport error.
func (h *Handlers) ToolsInvoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Call *models.ToolCall `json:"kuro_tool_call"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Call == nil {
		respondError(w, http.StatusBadRequest, "kuro_tool_call: required")
		return
	}
	caller := middleware.GetCaller(r.Context())
	result := h.Tools.Invoke(r.Context(), caller, *req.Call)
	respondJSON(w, http.StatusOK, map[string]any{"kuro_tool_result": result})
}

// CapabilityNegotiate resolves a profile for the caller's session.
func (h *Handlers) CapabilityNegotiate(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	var req struct {
		PowerDial   string `json:"powerDial"`
		SessionID   string `json:"sessionId"`
		LowMemory   bool   `json:"lowMemory"`
		SlowNetwork bool   `json:"slowNetwork"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID != "" && !validate.ValidID(req.SessionID) {
		respondError(w, http.StatusBadRequest, "sessionId: must match [A-Za-z0-9_-]{1,64}")
		return
	}
	infra := capability.InfraSignals{}
	if h.Orchestrator != nil {
		infra.BackendDegraded = !h.Orchestrator.Health().Healthy()
	}
	if h.Sovereignty != nil {
		infra.ThermalThrottle = h.Sovereignty.Throttling()
	}
	profile := h.Capabilities.Resolve(caller, models.PowerDial(req.PowerDial),
		capability.DeviceHints{LowMemory: req.LowMemory, SlowNetwork: req.SlowNetwork},
		infra, req.SessionID)
	respondJSON(w, http.StatusOK, profile.Summary())
}

// CapabilityProfiles lists the dial catalog with the caller's ceiling.
func (h *Handlers) CapabilityProfiles(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	ceiling := capability.Ceiling(caller.Tier)
	if caller.IsGuest {
		ceiling = models.DialInstant
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"profiles": capability.Profiles(),
		"ceiling":  ceiling,
	})
}

// ── Audit surface ───────────────────────────────────────────

func (h *Handlers) AuditVerify(w http.ResponseWriter, r *http.Request) {
	if date := r.URL.Query().Get("date"); date != "" {
		respondJSON(w, http.StatusOK, h.Audit.VerifyChain(date))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"reports": h.Audit.VerifyAll()})
}

func (h *Handlers) AuditRecent(w http.ResponseWriter, r *http.Request) {
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			respondError(w, http.StatusBadRequest, "n: must be within [1, 500]")
			return
		}
		n = parsed
	}
	entries, err := h.Audit.Recent(n)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handlers) AuditStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Audit.Stats())
}

// AuditSeal seals a day on demand; the cron sealer covers the regular
// schedule. Operator only.
func (h *Handlers) AuditSeal(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	if caller.Role != models.RoleOperator {
		respondError(w, http.StatusForbidden, "seal requires the operator role")
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	seal, err := h.Audit.SealDay(date)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, seal)
}

// ── Observability ───────────────────────────────────────────

// Health reports component states, including disabled optional ones.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	components := map[string]any{}

	backend := "ok"
	if h.Orchestrator != nil {
		snap := h.Orchestrator.Health().Snapshot()
		if !snap.Healthy {
			backend = "degraded"
		}
		components["backend"] = map[string]any{
			"status":               backend,
			"consecutive_failures": snap.ConsecutiveFailures,
		}
		components["streams"] = map[string]any{"active": h.Orchestrator.Registry().Active()}
	}
	components["sandbox"] = componentState(h.Sandbox != nil)
	components["frontier"] = componentState(h.Frontier != nil && h.Frontier.Enabled())
	components["sessions_store"] = map[string]any{"status": "ok", "kind": sessionStoreKind(h.Cfg.Auth.SessionsURL)}

	status := http.StatusOK
	overall := "healthy"
	if backend == "degraded" {
		overall = "degraded"
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]any{
		"status":     overall,
		"service":    "kuro-gateway",
		"version":    h.Cfg.Version,
		"components": components,
	})
}

func componentState(enabled bool) map[string]any {
	if enabled {
		return map[string]any{"status": "ok"}
	}
	return map[string]any{"status": "disabled"}
}

func sessionStoreKind(url string) string {
	if url != "" {
		return "postgres"
	}
	return "file"
}

func (h *Handlers) SovereigntyStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Sovereignty.Status())
}

func (h *Handlers) SovereigntyProof(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Sovereignty.Proof())
}

func (h *Handlers) FrontierStatus(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	used, limit := h.Frontier.Usage(caller.UserID)
	respondJSON(w, http.StatusOK, map[string]any{
		"enabled":  h.Frontier.Enabled(),
		"provider": h.Frontier.Provider(),
		"model":    h.Frontier.Model(),
		"usage":    map[string]int{"used": used, "limit": limit},
	})
}

// ── Stream control ──────────────────────────────────────────

// StreamCorrection injects a correction into a live stream; the
// orchestrator aborts the generation and acknowledges with an
// aborted_for_correction event on the stream itself. The registry is
// keyed by owner, so a session id belonging to someone else is a 404.
func (h *Handlers) StreamCorrection(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	var req struct {
		SessionID  string `json:"sessionId"`
		Correction string `json:"correction"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !validate.ValidID(req.SessionID) {
		respondError(w, http.StatusBadRequest, "sessionId: must match [A-Za-z0-9_-]{1,64}")
		return
	}
	if req.Correction == "" {
		respondError(w, http.StatusBadRequest, "correction: required")
		return
	}
	owner := stream.OwnerID(caller, quota.Fingerprint(r))
	handle, ok := h.Orchestrator.Registry().Get(owner, req.SessionID)
	if !ok {
		respondError(w, http.StatusNotFound, "no active stream for session")
		return
	}
	handle.InjectCorrection(req.Correction)
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// StreamAbort cancels one of the caller's live streams outright.
func (h *Handlers) StreamAbort(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	sessionID := chi.URLParam(r, "sessionId")
	owner := stream.OwnerID(caller, quota.Fingerprint(r))
	handle, ok := h.Orchestrator.Registry().Get(owner, sessionID)
	if !ok {
		respondError(w, http.StatusNotFound, "no active stream for session")
		return
	}
	handle.Abort()
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ── Dev surface ─────────────────────────────────────────────

// DevExec screens and executes an allowlisted command. Deny-list hits
// are rejected before any execution attempt and audited as
// exec_blocked.
func (h *Handlers) DevExec(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	var req struct {
		Command string `json:"command"`
		Cwd     string `json:"cwd"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Command == "" {
		respondError(w, http.StatusBadRequest, "command: required")
		return
	}

	if err := h.Shell.Screen(req.Command); err != nil {
		if h.AuditSink != nil {
			_, _ = h.AuditSink.Log(models.AuditEntry{
				Agent: "dev", Action: "exec_blocked", Target: req.Command,
				Result: models.AuditDenied, UserID: caller.UserID,
				Meta: map[string]any{"reason": "denylist_match"},
			})
		}
		respondError(w, http.StatusForbidden, "Blocked: dangerous pattern")
		return
	}

	if h.Quota != nil {
		if res := h.Quota.Check(caller.UserID, caller.Tier, models.ActionShellHourly); !res.Allowed {
			respondError(w, http.StatusTooManyRequests, "shell quota exhausted for this hour")
			return
		}
	}

	result, err := h.Shell.Exec(r.Context(), caller, req.Command, req.Cwd)
	if err != nil {
		respondError(w, http.StatusForbidden, err.Error())
		return
	}
	if h.Quota != nil {
		h.Quota.Record(caller.UserID, models.ActionShellHourly)
	}
	respondJSON(w, http.StatusOK, result)
}
