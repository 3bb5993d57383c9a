// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package websocket

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evilkost/mixgene-notify/internal/broker"
	"github.com/evilkost/mixgene-notify/internal/logging"
	"github.com/evilkost/mixgene-notify/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled indicates the parent context was canceled.
	// This is the normal graceful shutdown path (e.g., SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was exceeded.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// SessionID identifies a registered session. IDs are never reused.
type SessionID uint64

// Config holds per-session limits.
type Config struct {
	// InitTimeout closes sessions that have not bound a channel in time.
	// Zero disables the sweep.
	InitTimeout time.Duration

	// MaxMessageSize is the largest inbound frame accepted, in bytes.
	MaxMessageSize int64

	// InboundRate and InboundBurst size the per-session token bucket.
	InboundRate  float64
	InboundBurst int
}

// DefaultConfig returns the relay's default session limits.
func DefaultConfig() Config {
	return Config{
		InitTimeout:    5 * time.Minute,
		MaxMessageSize: 64 * 1024,
		InboundRate:    20,
		InboundBurst:   40,
	}
}

// Hub is the registry of live sessions.
//
// Sessions do not share state: each one holds its own broker subscription
// and the broker does the per-channel fan-out.
type Hub struct {
	broker broker.Broker
	config Config

	mu      sync.RWMutex
	clients map[SessionID]*Client
	nextID  atomic.Uint64
}

// NewHub creates a Hub that subscribes sessions through b.
func NewHub(b broker.Broker, cfg Config) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultConfig().MaxMessageSize
	}
	if cfg.InboundRate <= 0 {
		cfg.InboundRate = DefaultConfig().InboundRate
	}
	if cfg.InboundBurst <= 0 {
		cfg.InboundBurst = DefaultConfig().InboundBurst
	}
	return &Hub{
		broker:  b,
		config:  cfg,
		clients: make(map[SessionID]*Client),
	}
}

// Register adds c to the registry and returns its session ID.
func (h *Hub) Register(c *Client) SessionID {
	id := SessionID(h.nextID.Add(1))
	c.bind(id)

	h.mu.Lock()
	h.clients[id] = c
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	c.log.Debug().Int("total_clients", total).Msg("websocket client connected")
	return id
}

// Unregister removes a session, releases its subscription and closes its
// outbound queue. Unknown or already removed IDs are ignored.
func (h *Hub) Unregister(id SessionID) {
	h.remove(id, nil)
}

// closeSession removes a session and asks the write pump to send a close
// frame with code and reason before closing the connection.
func (h *Hub) closeSession(id SessionID, code int, reason string) {
	if h.remove(id, websocket.FormatCloseMessage(code, reason)) {
		metrics.RecordSessionClosed(code)
	}
}

func (h *Hub) remove(id SessionID, closeMsg []byte) bool {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return false
	}

	metrics.WSConnections.Dec()
	c.release(closeMsg)
	c.log.Debug().Int("total_clients", total).Msg("websocket client disconnected")
	return true
}

// Get returns the session registered under id.
func (h *Hub) Get(id SessionID) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

// ClientCount returns the number of registered sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscribedCount returns the number of sessions bound to a channel.
func (h *Hub) SubscribedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.State() == StateSubscribed {
			n++
		}
	}
	return n
}

// SessionsOnChannel returns the IDs of sessions bound to channel, in ID order.
func (h *Hub) SessionsOnChannel(channel string) []SessionID {
	var ids []SessionID

	h.mu.RLock()
	for id, c := range h.clients {
		if c.State() == StateSubscribed && c.Channel() == channel {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RunWithContext sweeps idle sessions until ctx is done, then closes every
// session. It is designed for use with suture supervision.
func (h *Hub) RunWithContext(ctx context.Context) error {
	var tick <-chan time.Time
	if h.config.InitTimeout > 0 {
		ticker := time.NewTicker(sweepInterval(h.config.InitTimeout))
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case now := <-tick:
			h.sweepIdle(now)
		}
	}
}

// sweepInterval checks a few times per timeout, but at most once a second
// and at least once a minute.
func sweepInterval(timeout time.Duration) time.Duration {
	interval := timeout / 4
	if interval < time.Second {
		return time.Second
	}
	if interval > time.Minute {
		return time.Minute
	}
	return interval
}

// sweepIdle closes sessions still waiting for init after InitTimeout.
func (h *Hub) sweepIdle(now time.Time) {
	var idle []SessionID

	h.mu.RLock()
	for id, c := range h.clients {
		if c.State() == StateConnected && now.Sub(c.connectedAt) >= h.config.InitTimeout {
			idle = append(idle, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range idle {
		h.closeSession(id, websocket.ClosePolicyViolation, "init timeout")
	}
	if len(idle) > 0 {
		logging.Info().Int("closed", len(idle)).Dur("init_timeout", h.config.InitTimeout).Msg("Closed sessions that never sent init")
	}
}

// logGracefulShutdown closes all sessions and logs the shutdown.
// ctx.Err() is not logged as an error; cancellation is the normal path.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	closed := h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", closed).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// closeAllClients closes every session in ID order and returns how many
// were closed.
func (h *Hub) closeAllClients() int {
	h.mu.RLock()
	ids := make([]SessionID, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		h.closeSession(id, websocket.CloseGoingAway, "server shutting down")
	}
	return len(ids)
}
