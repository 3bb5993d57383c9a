// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/evilkost/mixgene-notify/internal/broker"
	"github.com/evilkost/mixgene-notify/internal/logging"
	"github.com/evilkost/mixgene-notify/internal/metrics"
)

// WatchedBroker is the part of broker.Broker the watchdog observes.
type WatchedBroker interface {
	Connected() bool
	Done() <-chan struct{}
}

// DefaultWatchInterval is how often the watchdog samples connectivity.
const DefaultWatchInterval = 5 * time.Second

// BrokerWatchdog tracks broker connectivity. Transient disconnects are
// handled by the client's own reconnect loop and only logged here; a
// permanently closed connection ends the supervisor tree.
type BrokerWatchdog struct {
	broker   WatchedBroker
	interval time.Duration
	name     string
}

// NewBrokerWatchdog watches b. A non-positive interval means DefaultWatchInterval.
func NewBrokerWatchdog(b WatchedBroker, interval time.Duration) *BrokerWatchdog {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &BrokerWatchdog{
		broker:   b,
		interval: interval,
		name:     "broker-watchdog",
	}
}

// Serve samples connectivity until ctx is canceled or the broker is done.
func (w *BrokerWatchdog) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	connected := w.broker.Connected()
	metrics.SetBrokerConnected(connected)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-w.broker.Done():
			metrics.SetBrokerConnected(false)
			// Shutdown also closes the broker; only report it as a failure
			// when the tree is still running.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Error().Msg("Broker connection closed permanently")
			return fmt.Errorf("%w: %w", suture.ErrTerminateSupervisorTree, broker.ErrBrokerClosed)

		case <-ticker.C:
			now := w.broker.Connected()
			if now != connected {
				if now {
					logging.Info().Msg("Broker connection restored")
				} else {
					logging.Warn().Msg("Broker connection lost; sessions receive nothing until it reconnects")
				}
				connected = now
			}
			metrics.SetBrokerConnected(now)
		}
	}
}

// String implements fmt.Stringer for suture's logs.
func (w *BrokerWatchdog) String() string {
	return w.name
}
