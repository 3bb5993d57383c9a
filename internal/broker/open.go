// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package broker

import (
	"context"
	"fmt"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/evilkost/mixgene-notify/internal/config"
	"github.com/evilkost/mixgene-notify/internal/logging"
)

// Option customizes Open.
type Option func(*options)

type options struct {
	onBreakerChange func(from, to gobreaker.State)
}

// WithBreakerStateHook registers fn to observe subscribe breaker transitions.
func WithBreakerStateHook(fn func(from, to gobreaker.State)) Option {
	return func(o *options) { o.onBreakerChange = fn }
}

// Open builds the configured backend and wraps it with the subscribe breaker.
//
// With cfg.Embedded set, an in-process NATS server is started first and the
// relay connects to it; the server is stopped when the broker is closed.
func Open(ctx context.Context, cfg config.BrokerConfig, opts ...Option) (*BreakerBroker, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	var backend Broker
	switch cfg.Backend {
	case "memory":
		backend = NewMemory(cfg.SubjectPrefix, logging.NewWatermillAdapter())
		logging.Info().Msg("Using in-memory broker; only in-process publishers are relayed")
	case "redis":
		b, err := ConnectRedis(ctx, RedisConfig{
			URL:            cfg.RedisURL,
			Name:           cfg.ClientName,
			SubjectPrefix:  cfg.SubjectPrefix,
			ConnectTimeout: cfg.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		backend = b
	case "nats":
		b, err := openNATS(ctx, cfg)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.Backend)
	}

	return WithSubscribeBreaker(backend, BreakerConfig{
		Name:             "broker-subscribe",
		FailureThreshold: cfg.BreakerFailures,
		Timeout:          cfg.BreakerTimeout,
		OnStateChange:    o.onBreakerChange,
	}), nil
}

func openNATS(ctx context.Context, cfg config.BrokerConfig) (*NATSBroker, error) {
	url := cfg.URL

	var embedded *EmbeddedServer
	if cfg.Embedded {
		srv, err := StartEmbedded(cfg.EmbeddedHost, cfg.EmbeddedPort)
		if err != nil {
			return nil, err
		}
		embedded = srv
		url = srv.ClientURL()
	}

	b, err := ConnectNATS(ctx, NATSConfig{
		URL:            url,
		Username:       cfg.Username,
		Password:       cfg.Password,
		Token:          cfg.Token,
		Name:           cfg.ClientName,
		SubjectPrefix:  cfg.SubjectPrefix,
		ConnectTimeout: cfg.ConnectTimeout,
		ReconnectWait:  cfg.ReconnectWait,
	})
	if err != nil {
		if embedded != nil {
			_ = embedded.Shutdown(ctx) //nolint:errcheck // already failing
		}
		return nil, err
	}
	b.embedded = embedded
	return b, nil
}
