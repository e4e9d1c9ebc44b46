package handlers

import (
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/kurolabs/kuro-gateway/internal/sandbox"
	"github.com/kurolabs/kuro-gateway/internal/validate"
	"github.com/kurolabs/kuro-gateway/pkg/middleware"
)

// sandboxEnabled guards the sandbox routes when no sidecar is
// configured.
func (h *Handlers) sandboxEnabled(w http.ResponseWriter) bool {
	if h.Sandbox == nil {
		respondError(w, http.StatusServiceUnavailable, "sandbox runner is not configured")
		return false
	}
	return true
}

// sandboxErr maps the manager's sentinel errors onto HTTP statuses.
func sandboxErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sandbox.ErrDisabled):
		respondError(w, http.StatusForbidden, "sandbox_disabled")
	case errors.Is(err, sandbox.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, sandbox.ErrLimit):
		respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, sandbox.ErrSidecar):
		respondError(w, http.StatusBadGateway, "execution sidecar unavailable")
	default:
		respondError(w, http.StatusBadRequest, err.Error())
	}
}

func (h *Handlers) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	if !h.sandboxEnabled(w) {
		return
	}
	caller := middleware.GetCaller(r.Context())
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ws, created, err := h.Sandbox.CreateWorkspace(caller, req.Name)
	if err != nil {
		sandboxErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id": ws.ID, "name": ws.Name, "created": created,
	})
}

func (h *Handlers) SandboxWriteFile(w http.ResponseWriter, r *http.Request) {
	if !h.sandboxEnabled(w) {
		return
	}
	caller := middleware.GetCaller(r.Context())
	var req struct {
		WorkspaceID string `json:"workspaceId"`
		Path        string `json:"path"`
		Content     string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Sandbox.WriteFile(caller, req.WorkspaceID, req.Path, []byte(req.Content)); err != nil {
		sandboxErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"path": req.Path, "size": len(req.Content)})
}

// SandboxUpload takes a raw body like /api/files/upload but lands it
// inside a workspace.
func (h *Handlers) SandboxUpload(w http.ResponseWriter, r *http.Request) {
	if !h.sandboxEnabled(w) {
		return
	}
	caller := middleware.GetCaller(r.Context())
	workspaceID := r.Header.Get("X-Workspace-ID")
	name := validate.SanitizeFilename(r.Header.Get("X-Filename"))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > maxUploadBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		return
	}
	if err := h.Sandbox.WriteFile(caller, workspaceID, name, body); err != nil {
		sandboxErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"filename": name, "size": len(body)})
}

func (h *Handlers) SandboxRun(w http.ResponseWriter, r *http.Request) {
	if !h.sandboxEnabled(w) {
		return
	}
	caller := middleware.GetCaller(r.Context())
	var req struct {
		WorkspaceID string `json:"workspaceId"`
		Entrypoint  string `json:"entrypoint"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Entrypoint == "" {
		respondError(w, http.StatusBadRequest, "entrypoint: required")
		return
	}
	run, err := h.Sandbox.Run(r.Context(), caller, req.WorkspaceID, req.Entrypoint)
	if err != nil {
		sandboxErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (h *Handlers) GetSandboxRun(w http.ResponseWriter, r *http.Request) {
	if !h.sandboxEnabled(w) {
		return
	}
	caller := middleware.GetCaller(r.Context())
	run, err := h.Sandbox.GetRun(r.Context(), caller, chi.URLParam(r, "runId"))
	if err != nil {
		sandboxErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (h *Handlers) KillSandboxRun(w http.ResponseWriter, r *http.Request) {
	if !h.sandboxEnabled(w) {
		return
	}
	caller := middleware.GetCaller(r.Context())
	if err := h.Sandbox.Kill(r.Context(), caller, chi.URLParam(r, "runId")); err != nil {
		sandboxErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// SandboxArtifact serves a run artifact with the strictest possible
// headers: the content is untrusted output of untrusted code.
func (h *Handlers) SandboxArtifact(w http.ResponseWriter, r *http.Request) {
	if !h.sandboxEnabled(w) {
		return
	}
	caller := middleware.GetCaller(r.Context())
	runID := chi.URLParam(r, "runId")
	rel := chi.URLParam(r, "*")

	path, err := h.Sandbox.ArtifactPath(caller, runID, rel)
	if err != nil {
		sandboxErr(w, err)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		respondError(w, http.StatusNotFound, "artifact not found")
		return
	}
	defer f.Close()

	contentType, _ := sandbox.ArtifactContentType(rel)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "sandbox; default-src 'none'")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", "attachment")
	_, _ = io.Copy(w, f)
}
