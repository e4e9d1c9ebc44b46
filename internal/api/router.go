// Package api assembles the HTTP surface: the middleware chain and
// every route of the gateway.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kurolabs/kuro-gateway/internal/api/handlers"
	"github.com/kurolabs/kuro-gateway/internal/api/middleware"
	"github.com/kurolabs/kuro-gateway/internal/config"
	"github.com/kurolabs/kuro-gateway/pkg/contracts"
)

// NewRouter creates the HTTP router with all API routes. The stream
// handler is passed separately because it bypasses the body-size limit
// applied to plain JSON routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers, streamHandler http.HandlerFunc, chain contracts.AuthChain) http.Handler {
	r := chi.NewRouter()

	global := middleware.NewIPLimiter(cfg.RateLimit.GlobalPerSecond, cfg.RateLimit.GlobalBurst)
	authLimiter := middleware.NewIPLimiter(cfg.RateLimit.AuthPerMinute/60, cfg.RateLimit.AuthBurst)

	// Global middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Correlation)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Filename", "X-Workspace-ID", "X-Request-ID", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(global.Middleware)
	r.Use(middleware.Resolver(chain))

	r.Get("/api/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(authLimiter.Middleware)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
	})

	// Streaming chat. Raw body; the orchestrator validates it.
	r.Post("/api/stream", streamHandler)
	r.Post("/api/stream/correction", h.StreamCorrection)
	r.Post("/api/stream/abort/{sessionId}", h.StreamAbort)

	// Bounded-body JSON surface.
	r.Group(func(r chi.Router) {
		r.Use(bodyLimit(1 << 20))

		r.Post("/api/embed", h.Embed)
		r.Post("/api/ingest", h.Ingest)
		r.Route("/api/rag", func(r chi.Router) {
			r.Post("/query", h.RAGQuery)
			r.Get("/stats", h.RAGStats)
			r.Post("/clear", h.RAGClear)
		})
		r.Get("/api/history/{sessionId}", h.SessionHistory)

		r.Route("/api/sandbox", func(r chi.Router) {
			r.Post("/workspaces", h.CreateWorkspace)
			r.Post("/files/write", h.SandboxWriteFile)
			r.Post("/run", h.SandboxRun)
			r.Get("/run/{runId}", h.GetSandboxRun)
			r.Delete("/run/{runId}", h.KillSandboxRun)
		})

		r.Post("/api/tools/invoke", h.ToolsInvoke)
		r.Post("/api/capability/negotiate", h.CapabilityNegotiate)
		r.Get("/api/capability/profiles", h.CapabilityProfiles)

		r.Route("/api/audit", func(r chi.Router) {
			r.Get("/verify", h.AuditVerify)
			r.Get("/recent", h.AuditRecent)
			r.Get("/stats", h.AuditStats)
			r.Post("/seal", h.AuditSeal)
		})

		r.Get("/api/sovereignty", h.SovereigntyStatus)
		r.Get("/api/sovereignty/proof", h.SovereigntyProof)
		r.Get("/api/frontier/status", h.FrontierStatus)

		r.Post("/api/dev/exec", h.DevExec)
	})

	// Raw-body uploads sit outside the JSON body limit but carry their
	// own size caps.
	r.Post("/api/files/upload", h.FileUpload)
	r.Post("/api/sandbox/files/upload", h.SandboxUpload)
	r.Get("/api/sandbox/artifacts/{runId}/*", h.SandboxArtifact)

	return r
}

func bodyLimit(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
