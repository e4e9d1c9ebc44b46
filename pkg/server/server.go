// Package server provides the public entry point for initializing the
// Kuro gateway. It wires every component and owns the shutdown order:
// streams are aborted before the quota gate flushes, and the audit
// sealer stops last so every teardown event still lands in the chain.
package server

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kurolabs/kuro-gateway/internal/api"
	"github.com/kurolabs/kuro-gateway/internal/api/handlers"
	"github.com/kurolabs/kuro-gateway/internal/audit"
	"github.com/kurolabs/kuro-gateway/internal/auth"
	"github.com/kurolabs/kuro-gateway/internal/capability"
	"github.com/kurolabs/kuro-gateway/internal/config"
	"github.com/kurolabs/kuro-gateway/internal/connectors"
	"github.com/kurolabs/kuro-gateway/internal/frontier"
	"github.com/kurolabs/kuro-gateway/internal/pipeline"
	"github.com/kurolabs/kuro-gateway/internal/quota"
	"github.com/kurolabs/kuro-gateway/internal/retrieval"
	"github.com/kurolabs/kuro-gateway/internal/sandbox"
	"github.com/kurolabs/kuro-gateway/internal/sovereignty"
	"github.com/kurolabs/kuro-gateway/internal/stream"
	"github.com/kurolabs/kuro-gateway/internal/synthesis"
	"github.com/kurolabs/kuro-gateway/internal/telemetry"
	"github.com/kurolabs/kuro-gateway/internal/tools"
	"github.com/kurolabs/kuro-gateway/internal/vectorstore"
	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// Server holds the initialized gateway.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Port is the port the server should listen on.
	Port int

	shutdown []func(context.Context) error
}

// New initializes all gateway components from the environment.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the gateway with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	srv := &Server{Port: cfg.Port}

	otelShutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	srv.deferShutdown(otelShutdown)

	// Audit chain first: everything else logs through it.
	chain, err := audit.New(filepath.Join(cfg.DataDir, "audit"))
	if err != nil {
		return nil, fmt.Errorf("open audit chain: %w", err)
	}
	stopSealer := chain.StartSealer()
	srv.deferShutdown(func(context.Context) error { stopSealer(); return nil })
	log.Info().Msg("Audit chain ready")

	// Sessions: Postgres when configured, file-backed otherwise.
	var sessionStore contracts.SessionStore
	if cfg.Auth.SessionsURL != "" {
		pg, err := auth.NewPgSessionStore(ctx, cfg.Auth.SessionsURL)
		if err != nil {
			return nil, fmt.Errorf("connect session store: %w", err)
		}
		sessionStore = pg
		log.Info().Msg("Postgres session store connected")
	} else {
		fs, err := auth.NewFileSessionStore(filepath.Join(cfg.DataDir, "sessions"))
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		sessionStore = fs
		log.Info().Msg("File session store ready")
	}
	srv.deferShutdown(func(context.Context) error { return sessionStore.Close() })

	sessions := auth.NewSessionManager(sessionStore, cfg.Auth.SessionSlide, cfg.Auth.SessionAbsMax, cfg.Auth.SessionIdle, chain)
	authChain := auth.NewProviderChain()
	authChain.RegisterProvider(auth.NewSessionProvider(sessions))
	authChain.RegisterProvider(auth.NewLegacyTokenProvider(cfg.Auth.LegacyTokens))

	// Quota gate with buffered counters.
	counterStore, err := quota.NewFileCounterStore(filepath.Join(cfg.DataDir, "quota.json"))
	if err != nil {
		return nil, fmt.Errorf("open quota store: %w", err)
	}
	gate := quota.NewGate(counterStore, cfg.Quota.FlushInterval)
	guests := quota.NewGuestGate(cfg.Guest.Limit, cfg.Guest.Window)

	// Retrieval layer over the local embedding backend.
	embedder := retrieval.NewOllamaEmbedder(cfg.Backend.Endpoint, cfg.Backend.EmbedModel, cfg.Backend.EmbedTimeout)
	stores := vectorstore.NewManager(filepath.Join(cfg.DataDir, "vectors"), func(action string, meta map[string]any) {
		_, _ = chain.Log(models.AuditEntry{Agent: "vectorstore", Action: action, Result: models.AuditOK, Meta: meta})
	})
	retrievalLayer := retrieval.NewLayer(embedder, stores)

	// Chat backends.
	backend := stream.NewLocalBackend(cfg.Backend.Endpoint, cfg.Backend.ChatModel, cfg.Backend.ChatTimeout)
	var frontierBackend contracts.ChatBackend
	frontierRouter := frontier.NewRouter(cfg.Frontier.Enabled, cfg.Frontier.Provider, cfg.Frontier.Model,
		cfg.Frontier.HourlyQuota, tierThresholds(cfg.Frontier.POHThreshold), chain)
	if cfg.Frontier.Enabled && cfg.Frontier.Endpoint != "" {
		frontierBackend = frontier.NewBackend(cfg.Frontier.Provider, cfg.Frontier.Endpoint,
			cfg.Frontier.Model, cfg.Frontier.APIKey, cfg.Backend.ChatTimeout)
		log.Info().Str("provider", cfg.Frontier.Provider).Msg("Frontier escalation enabled")
	}

	// Connector gates.
	roots := connectors.Roots{
		Data:  cfg.DataDir,
		Code:  cfg.CodeDir,
		Audit: filepath.Join(cfg.DataDir, "audit"),
	}
	fileGate := connectors.NewFileGate(roots, chain)
	shellGate := connectors.NewShellGate(roots, chain)

	memory := stream.NewMemoryStore()
	historyGate := connectors.NewHistoryGate(memory, chain)

	caps := capability.NewRouter(chain)
	health := stream.NewHealthMonitor(cfg.Backend.UnhealthyAfter)
	registry := stream.NewRegistry()
	sov := sovereignty.NewMonitor(chain, sovereignty.NewSysfsProbe(), frontierRouter)

	orch := stream.NewOrchestrator(stream.Deps{
		Backend:         backend,
		FrontierRouter:  frontierRouter,
		FrontierBackend: frontierBackend,
		Health:          health,
		Registry:        registry,
		Memory:          memory,
		Retrieval:       retrievalLayer,
		Capabilities:    caps,
		Intents:         pipeline.NewIntentRouter(nil),
		Rate:            pipeline.NewRateStage(120, 20),
		Quota:           gate,
		Guests:          guests,
		Audit:           chain,
		Synthesizer:     synthesis.New(backend, 3),
		Thermal:         sov.Throttling,
	})
	srv.deferShutdown(func(context.Context) error { registry.AbortAll(); return nil })
	srv.deferShutdown(func(context.Context) error { return gate.Close() })

	// Sandbox is optional: no sidecar URL, no sandbox routes backing.
	var sandboxMgr *sandbox.Manager
	if cfg.Sandbox.SidecarURL != "" {
		sidecar := sandbox.NewHTTPSidecar(cfg.Sandbox.SidecarURL, cfg.Sandbox.SidecarTimeout)
		sandboxMgr, err = sandbox.NewManager(filepath.Join(cfg.DataDir, "sandboxes"), sidecar, cfg.Sandbox.RunsPerMinute, chain)
		if err != nil {
			return nil, fmt.Errorf("init sandbox: %w", err)
		}
		log.Info().Str("sidecar", cfg.Sandbox.SidecarURL).Msg("Sandbox runner ready")
	} else {
		log.Info().Msg("Sandbox runner disabled: no sidecar configured")
	}

	toolRegistry := tools.NewDefaultRegistry(tools.Deps{
		Files:     fileGate,
		Shell:     shellGate,
		History:   historyGate,
		Retrieval: retrievalLayer,
		Quota:     gate,
	})

	h := &handlers.Handlers{
		Cfg:          cfg,
		Sessions:     sessions,
		Orchestrator: orch,
		Retrieval:    retrievalLayer,
		Sandbox:      sandboxMgr,
		Tools:        toolRegistry,
		Audit:        chain,
		Sovereignty:  sov,
		Frontier:     frontierRouter,
		Capabilities: caps,
		Shell:        shellGate,
		History:      historyGate,
		Quota:        gate,
		AuditSink:    chain,
	}

	srv.Handler = api.NewRouter(cfg, h, orch.Handle, authChain)
	return srv, nil
}

// Shutdown tears components down in reverse initialization order.
func (s *Server) Shutdown(ctx context.Context) error {
	var first error
	for i := len(s.shutdown) - 1; i >= 0; i-- {
		if err := s.shutdown[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *Server) deferShutdown(fn func(context.Context) error) {
	if fn != nil {
		s.shutdown = append(s.shutdown, fn)
	}
}

func tierThresholds(raw map[string]float64) map[models.Tier]float64 {
	out := make(map[models.Tier]float64, len(raw))
	for tier, threshold := range raw {
		out[models.Tier(tier)] = threshold
	}
	return out
}

// ListenAndServe runs the gateway until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.Port).Msg("Kuro gateway listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	return s.Shutdown(shutdownCtx)
}
