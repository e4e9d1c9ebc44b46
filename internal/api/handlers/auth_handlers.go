package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/kurolabs/kuro-gateway/internal/auth"
	"github.com/kurolabs/kuro-gateway/internal/validate"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

type loginRequest struct {
	UserID string `json:"userId"`
	Tier   string `json:"tier"`
}

var loginTiers = map[models.Tier]bool{
	models.TierFree:      true,
	models.TierPro:       true,
	models.TierSovereign: true,
}

// Login mints a session and rotates the kuro_sid cookie. An existing
// cookie is revoked first so a login never extends an old session.
// Free sessions are open; pro and sovereign require the deployment's
// provision key, so a client-chosen tier never escalates on its own.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !validate.ValidID(req.UserID) {
		respondError(w, http.StatusBadRequest, "userId: must match [A-Za-z0-9_-]{1,64}")
		return
	}
	tier := models.Tier(req.Tier)
	if !loginTiers[tier] {
		respondError(w, http.StatusBadRequest, "tier: must be free, pro or sovereign")
		return
	}
	if tier != models.TierFree && !h.provisionKeyValid(r) {
		if h.AuditSink != nil {
			_, _ = h.AuditSink.Log(models.AuditEntry{
				Agent: "auth", Action: "login_denied", Target: req.UserID,
				Result: models.AuditDenied,
				Meta:   map[string]any{"tier": string(tier), "reason": "provision_key"},
			})
		}
		respondError(w, http.StatusForbidden, "tier: provisioning this tier requires a valid X-Provision-Key")
		return
	}

	if old, err := r.Cookie(auth.CookieName); err == nil && old.Value != "" {
		_ = h.Sessions.Logout(r.Context(), old.Value)
	}

	sess, err := h.Sessions.Login(r.Context(), req.UserID, tier, r.RemoteAddr, r.UserAgent())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "session creation failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.Cfg.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, map[string]any{
		"userId":    sess.UserID,
		"tier":      tier,
		"expiresAt": sess.ExpiresAt,
	})
}

// provisionKeyValid compares X-Provision-Key against the configured
// key in constant time. An unconfigured key admits no elevated tier.
func (h *Handlers) provisionKeyValid(r *http.Request) bool {
	key := h.Cfg.Auth.ProvisionKey
	if key == "" {
		return false
	}
	presented := r.Header.Get("X-Provision-Key")
	return subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1
}

// Logout revokes the session and clears the cookie. Unknown or missing
// cookies still succeed; logout is idempotent.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(auth.CookieName); err == nil && c.Value != "" {
		_ = h.Sessions.Logout(r.Context(), c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Cfg.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}
