// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

// Package main is the entry point for the collabd server.
//
// Collabd is the transport backend for a collaborative code editor:
// it relays CRDT document updates, presence, and chat between the
// members of named rooms over a single websocket, and fronts an AI
// service for code review and runtime-error analysis.
//
// Startup order:
//
//  1. Configuration (koanf: defaults, config.yaml, environment)
//  2. Logging (zerolog, per the logging section)
//  3. Room registry, chat gateway, AI client, error capture engine
//  4. Supervisor tree: awareness sweeper and HTTP server
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP
// server drains in-flight requests with a bounded timeout and the
// sweeper stops with the tree.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/collabd/collabd/internal/ai"
	"github.com/collabd/collabd/internal/api"
	"github.com/collabd/collabd/internal/capture"
	"github.com/collabd/collabd/internal/chat"
	"github.com/collabd/collabd/internal/config"
	"github.com/collabd/collabd/internal/crdt"
	"github.com/collabd/collabd/internal/logging"
	"github.com/collabd/collabd/internal/room"
	"github.com/collabd/collabd/internal/supervisor"
	"github.com/collabd/collabd/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Bool("ai_configured", cfg.AI.APIKey != "").
		Msg("Starting collabd")

	registry := room.NewRegistry(room.Config{
		DocFactory:          crdt.NewLogDocumentFactory(),
		AwarenessDefaultTTL: cfg.Awareness.DefaultTTL,
		AwarenessMaxTTL:     cfg.Awareness.MaxTTL,
	})
	gateway := chat.NewGateway(chat.Config{
		Window:      cfg.Chat.Window,
		MaxMessages: cfg.Chat.MaxMessages,
		MaxTextLen:  cfg.Chat.MaxTextLen,
		MaxUserLen:  cfg.Chat.MaxUserLen,
	}, registry)
	aiClient := ai.NewClient(ai.Config{
		APIKey:            cfg.AI.APIKey,
		BaseURL:           cfg.AI.BaseURL,
		Model:             cfg.AI.Model,
		Timeout:           cfg.AI.Timeout,
		MaxSourceChars:    cfg.AI.MaxSourceChars,
		RequestsPerMinute: cfg.AI.RequestsPerMinute,
	})
	engine := capture.NewEngine(aiClient)

	srv := api.NewServer(cfg, registry, gateway, aiClient, engine)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(srv),
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddMessagingService(services.NewSweeperService(registry, cfg.Awareness.SweepInterval))
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.Timeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
		if err := <-errCh; err != nil && err != context.Canceled {
			logging.Error().Err(err).Msg("Supervisor exited with error")
		}
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logging.Fatal().Err(err).Msg("Supervisor exited unexpectedly")
		}
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}

	logging.Info().Msg("Shutdown complete")
}
