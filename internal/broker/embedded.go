// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog"

	"github.com/evilkost/mixgene-notify/internal/logging"
)

// embeddedReadyTimeout bounds how long StartEmbedded waits for the listener.
const embeddedReadyTimeout = 10 * time.Second

// EmbeddedServer wraps an in-process core NATS server.
type EmbeddedServer struct {
	server    *server.Server
	clientURL string
}

// StartEmbedded starts a core NATS server (no JetStream) on host:port.
// Port -1 picks a random free port.
func StartEmbedded(host string, port int) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "mixgene-notify",
		Host:       host,
		Port:       port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	ns.SetLogger(&natsServerLogger{log: logging.WithComponent("nats-server")}, false, false)

	go ns.Start()

	if !ns.ReadyForConnections(embeddedReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("%w: embedded NATS server not ready within %s", ErrBrokerUnavailable, embeddedReadyTimeout)
	}

	logging.Info().Str("url", ns.ClientURL()).Msg("Embedded NATS server started")

	return &EmbeddedServer{
		server:    ns,
		clientURL: ns.ClientURL(),
	}, nil
}

// ClientURL returns the connection URL for clients.
func (s *EmbeddedServer) ClientURL() string {
	return s.clientURL
}

// Running reports whether the server is accepting connections.
func (s *EmbeddedServer) Running() bool {
	return s.server.Running()
}

// Shutdown stops the server and waits for it to finish, or for ctx.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	s.server.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.WaitForShutdown()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// natsServerLogger routes nats-server logs through zerolog.
type natsServerLogger struct {
	log zerolog.Logger
}

func (l *natsServerLogger) Noticef(format string, v ...any) {
	l.log.Debug().Msgf(format, v...)
}

func (l *natsServerLogger) Warnf(format string, v ...any) {
	l.log.Warn().Msgf(format, v...)
}

func (l *natsServerLogger) Fatalf(format string, v ...any) {
	l.log.Error().Msgf(format, v...)
}

func (l *natsServerLogger) Errorf(format string, v ...any) {
	l.log.Error().Msgf(format, v...)
}

func (l *natsServerLogger) Debugf(format string, v ...any) {
	l.log.Debug().Msgf(format, v...)
}

func (l *natsServerLogger) Tracef(format string, v ...any) {
	l.log.Trace().Msgf(format, v...)
}
