// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evilkost/mixgene-notify/internal/api"
	"github.com/evilkost/mixgene-notify/internal/broker"
	"github.com/evilkost/mixgene-notify/internal/config"
	"github.com/evilkost/mixgene-notify/internal/logging"
	"github.com/evilkost/mixgene-notify/internal/metrics"
	"github.com/evilkost/mixgene-notify/internal/supervisor"
	"github.com/evilkost/mixgene-notify/internal/supervisor/services"
	"github.com/evilkost/mixgene-notify/internal/websocket"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}

	logging.Init(loggingConfig(cfg.Logging))
	defer func() {
		_ = logging.Close() // Explicitly ignore error - best-effort flush at exit
	}()

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("subscribe_path", cfg.Server.SubscribePath()).
		Str("broker_backend", cfg.Broker.Backend).
		Bool("embedded_nats", cfg.Broker.Embedded).
		Msg("Starting mixgene-notify relay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	brk, err := broker.Open(ctx, cfg.Broker, broker.WithBreakerStateHook(metrics.SetBreakerState))
	if err != nil {
		logging.Error().Err(err).Msg("Failed to connect to broker")
		return 1
	}
	defer func() {
		if err := brk.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing broker")
		}
		logging.Info().Msg("Broker connection closed")
	}()
	metrics.SetBrokerConnected(brk.Connected())

	hub := websocket.NewHub(brk, hubConfig(cfg.Relay))
	router := api.NewRouter(api.NewHandler(hub, brk), cfg.Server)
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create supervisor tree")
		return 1
	}

	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddMessagingService(services.NewBrokerWatchdog(brk, services.DefaultWatchInterval))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	err = tree.Serve(ctx)

	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}

	return exitCode(ctx, err)
}

// exitCode maps the tree's result to a process exit status. Cancellation by
// signal is a clean exit; anything else is a failure.
func exitCode(ctx context.Context, err error) int {
	if err == nil || (ctx.Err() != nil && errors.Is(err, context.Canceled)) {
		logging.Info().Msg("Relay stopped gracefully")
		return 0
	}
	logging.Error().Err(err).Msg("Relay stopped on fatal error")
	return 1
}

func loggingConfig(c config.LoggingConfig) logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Level
	lc.Format = c.Format
	lc.Caller = c.Caller
	lc.File = c.File
	return lc
}

func hubConfig(c config.RelayConfig) websocket.Config {
	return websocket.Config{
		InitTimeout:    c.InitTimeout,
		MaxMessageSize: c.MaxMessageSize,
		InboundRate:    c.InboundRate,
		InboundBurst:   c.InboundBurst,
	}
}
