// Kuro Gateway — a multi-tenant front door for a local LLM runtime.
//
// It provides:
//   - Streaming chat over SSE with thinking extraction and corrections
//   - Tiered quotas, guest demo limits, and capability negotiation
//   - Per-user retrieval (edubba/mnemosyne namespaces)
//   - Sandboxed code execution via an isolation sidecar
//   - A tamper-evident audit chain and a sovereignty report

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kurolabs/kuro-gateway/pkg/server"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("Kuro gateway starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Shutdown complete")
}
