package handlers

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kurolabs/kuro-gateway/internal/validate"
	"github.com/kurolabs/kuro-gateway/pkg/middleware"
	"github.com/kurolabs/kuro-gateway/pkg/models"

	"github.com/kurolabs/kuro-gateway/internal/retrieval"
)

const maxUploadBytes = 10 << 20

// Embed returns raw embeddings for a batch of texts.
func (h *Handlers) Embed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Texts []string `json:"texts"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Texts) == 0 {
		respondError(w, http.StatusBadRequest, "texts: required, must be a non-empty array")
		return
	}
	vectors, err := h.Retrieval.Embedder().Embed(r.Context(), req.Texts)
	if err != nil {
		respondError(w, http.StatusBadGateway, "embedding backend unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"embeddings": vectors,
		"dimensions": h.Retrieval.Embedder().Dimensions(),
	})
}

// Ingest chunks and stores documents in the caller's namespace.
func (h *Handlers) Ingest(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	if caller.IsGuest {
		respondError(w, http.StatusForbidden, "retrieval requires an authenticated caller")
		return
	}
	var req struct {
		Documents []retrieval.Document `json:"documents"`
		Namespace string               `json:"namespace"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		respondError(w, http.StatusBadRequest, "documents: required, must be a non-empty array")
		return
	}
	ns, ok := resolveNamespace(req.Namespace)
	if !ok {
		respondError(w, http.StatusBadRequest, "namespace: must be edubba or mnemosyne")
		return
	}
	chunks, err := h.Retrieval.Ingest(r.Context(), caller.UserID, ns, req.Documents)
	if err != nil {
		respondError(w, http.StatusBadGateway, "ingest failed: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"chunks": chunks, "namespace": ns})
}

// RAGQuery answers a nearest-neighbor query over the caller's store.
func (h *Handlers) RAGQuery(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	if caller.IsGuest {
		respondError(w, http.StatusForbidden, "retrieval requires an authenticated caller")
		return
	}
	var req struct {
		Query     string `json:"query"`
		Namespace string `json:"namespace"`
		TopK      int    `json:"topK"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query: required")
		return
	}
	ns, ok := resolveNamespace(req.Namespace)
	if !ok {
		respondError(w, http.StatusBadRequest, "namespace: must be edubba or mnemosyne")
		return
	}
	hits, err := h.Retrieval.Query(r.Context(), caller.UserID, ns, req.Query, req.TopK)
	if err != nil {
		respondError(w, http.StatusBadGateway, "query failed: "+err.Error())
		return
	}
	if hits == nil {
		hits = []models.RetrievalHit{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": hits})
}

// RAGStats reports per-namespace document counts for the caller.
func (h *Handlers) RAGStats(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	if caller.IsGuest {
		respondError(w, http.StatusForbidden, "retrieval requires an authenticated caller")
		return
	}
	stats, err := h.Retrieval.Stats(caller.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// RAGClear wipes one namespace for the caller.
func (h *Handlers) RAGClear(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	if caller.IsGuest {
		respondError(w, http.StatusForbidden, "retrieval requires an authenticated caller")
		return
	}
	var req struct {
		Namespace string `json:"namespace"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ns, ok := resolveNamespace(req.Namespace)
	if !ok {
		respondError(w, http.StatusBadRequest, "namespace: must be edubba or mnemosyne")
		return
	}
	if err := h.Retrieval.Clear(caller.UserID, ns); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"cleared": ns})
}

// FileUpload stores a raw upload under the caller's upload directory
// and, for text content, ingests it into the edubba namespace.
func (h *Handlers) FileUpload(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	if caller.IsGuest {
		respondError(w, http.StatusForbidden, "uploads require an authenticated caller")
		return
	}

	rawName := r.Header.Get("X-Filename")
	uploadRoot := filepath.Join(h.Cfg.DataDir, "uploads", caller.UserID)
	if _, err := validate.ResolveUnder(uploadRoot, rawName); err != nil {
		log.Warn().Str("user", caller.UserID).Str("filename", rawName).Msg("UPLOAD_TRAVERSAL")
		respondError(w, http.StatusBadRequest, "filename resolves outside the upload root")
		return
	}
	name := validate.SanitizeFilename(rawName)
	target, err := validate.ResolveUnder(uploadRoot, name)
	if err != nil {
		respondError(w, http.StatusBadRequest, "filename resolves outside the upload root")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > maxUploadBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		return
	}
	if err := os.MkdirAll(uploadRoot, 0o700); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.WriteFile(target, body, 0o600); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	fileID := uuid.NewString()
	chunks := 0
	if utf8.Valid(body) && strings.TrimSpace(string(body)) != "" {
		chunks, _ = h.Retrieval.Ingest(r.Context(), caller.UserID, models.NamespaceEdubba,
			[]retrieval.Document{{Text: string(body), FileID: fileID}})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"fileId":   fileID,
		"filename": name,
		"size":     len(body),
		"chunks":   chunks,
	})
}

// SessionHistory returns the recent transcript for a session.
func (h *Handlers) SessionHistory(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	sessionID := chi.URLParam(r, "sessionId")
	if !validate.ValidID(sessionID) {
		respondError(w, http.StatusBadRequest, "sessionId: must match [A-Za-z0-9_-]{1,64}")
		return
	}
	msgs, err := h.History.Read(caller, sessionID, 50)
	if err != nil {
		respondError(w, http.StatusForbidden, err.Error())
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessionId": sessionID, "messages": msgs})
}

func resolveNamespace(raw string) (models.Namespace, bool) {
	if raw == "" {
		return models.NamespaceEdubba, true
	}
	ns := models.Namespace(raw)
	return ns, models.ValidNamespace(ns)
}
