// Package handlers implements the HTTP handlers for the Kuro gateway.
// Every handler reads its caller from the request context (installed by
// the auth resolver middleware) and responds through the shared
// respondJSON/respondError helpers.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kurolabs/kuro-gateway/internal/audit"
	"github.com/kurolabs/kuro-gateway/internal/auth"
	"github.com/kurolabs/kuro-gateway/internal/capability"
	"github.com/kurolabs/kuro-gateway/internal/config"
	"github.com/kurolabs/kuro-gateway/internal/connectors"
	"github.com/kurolabs/kuro-gateway/internal/frontier"
	"github.com/kurolabs/kuro-gateway/internal/quota"
	"github.com/kurolabs/kuro-gateway/internal/retrieval"
	"github.com/kurolabs/kuro-gateway/internal/sandbox"
	"github.com/kurolabs/kuro-gateway/internal/sovereignty"
	"github.com/kurolabs/kuro-gateway/internal/stream"
	"github.com/kurolabs/kuro-gateway/internal/tools"
	"github.com/kurolabs/kuro-gateway/pkg/contracts"
)

// Handlers holds all handler dependencies. Optional components may be
// nil; their routes respond 503 component_disabled.
type Handlers struct {
	Cfg          *config.Config
	Sessions     *auth.SessionManager
	Orchestrator *stream.Orchestrator
	Retrieval    *retrieval.Layer
	Sandbox      *sandbox.Manager
	Tools        *tools.Registry
	Audit        *audit.Chain
	Sovereignty  *sovereignty.Monitor
	Frontier     *frontier.Router
	Capabilities *capability.Router
	Shell        *connectors.ShellGate
	History      *connectors.HistoryGate
	Quota        *quota.Gate
	AuditSink    contracts.AuditSink
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
