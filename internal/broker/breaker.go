// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/evilkost/mixgene-notify/internal/logging"
)

// BreakerConfig configures the subscribe circuit breaker.
type BreakerConfig struct {
	Name string

	// FailureThreshold is the number of consecutive failures that open the breaker.
	FailureThreshold uint32

	// Timeout is the open-state duration before a half-open probe.
	Timeout time.Duration

	// OnStateChange, if set, is called after the breaker changes state.
	OnStateChange func(from, to gobreaker.State)
}

// BreakerBroker guards Subscribe with a circuit breaker. Publish and the
// lifecycle methods pass through.
type BreakerBroker struct {
	Broker
	cb *gobreaker.CircuitBreaker[Subscription]
}

var _ Broker = (*BreakerBroker)(nil)

// WithSubscribeBreaker wraps b so that repeated backend subscribe failures
// fail fast with ErrSubscribeFailure until the breaker half-opens.
func WithSubscribeBreaker(b Broker, cfg BreakerConfig) *BreakerBroker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Client mistakes are not backend failures.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidChannel) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Subscribe circuit breaker state changed")
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(from, to)
			}
		},
	}

	return &BreakerBroker{
		Broker: b,
		cb:     gobreaker.NewCircuitBreaker[Subscription](settings),
	}
}

// Subscribe runs the wrapped Subscribe through the breaker.
func (b *BreakerBroker) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	if err := ValidateChannel(channel); err != nil {
		return nil, err
	}
	sub, err := b.cb.Execute(func() (Subscription, error) {
		return b.Broker.Subscribe(ctx, channel, h)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %w", ErrSubscribeFailure, channel, err)
	}
	return sub, err
}

// BreakerState returns the breaker state name: closed, half-open or open.
func (b *BreakerBroker) BreakerState() string {
	return b.cb.State().String()
}
