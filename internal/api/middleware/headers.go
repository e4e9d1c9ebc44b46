package middleware

import (
	"net/http"

	"github.com/google/uuid"

	pkgmw "github.com/kurolabs/kuro-gateway/pkg/middleware"
)

// SecurityHeaders sets the baseline response headers on every route.
// HSTS is only meaningful behind TLS termination, so it is keyed off
// the forwarded proto rather than set unconditionally.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// Correlation mirrors X-Request-ID back and guarantees a correlation
// id: the client's X-Correlation-ID if present, a fresh uuid if not.
// The id rides the request context for handlers and the logger.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		w.Header().Set("X-Correlation-ID", correlationID)
		next.ServeHTTP(w, r.WithContext(pkgmw.SetCorrelationID(r.Context(), correlationID)))
	})
}
