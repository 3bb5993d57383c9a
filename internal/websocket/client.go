// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package websocket

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/evilkost/mixgene-notify/internal/broker"
	"github.com/evilkost/mixgene-notify/internal/logging"
	"github.com/evilkost/mixgene-notify/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBufferSize is the outbound queue length. Deliveries that find it
	// full are dropped.
	sendBufferSize = 256

	subscribeTimeout = 10 * time.Second
)

// State is a session's position in its lifecycle.
type State int

const (
	StateConnected State = iota
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is one browser session: a websocket connection bound to at most
// one channel for its whole lifetime.
type Client struct {
	id          SessionID
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	limiter     *rate.Limiter
	connectedAt time.Time
	log         zerolog.Logger

	mu       sync.Mutex
	state    State
	channel  string
	sub      broker.Subscription
	closeMsg []byte
}

// NewClient creates a session for conn. It must be registered with the hub
// before Start.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		limiter:     rate.NewLimiter(rate.Limit(hub.config.InboundRate), hub.config.InboundBurst),
		connectedAt: time.Now(),
		log:         logging.WithComponent("relay-session"),
		state:       StateConnected,
	}
}

func (c *Client) bind(id SessionID) {
	c.id = id
	logCtx := c.log.With().Uint64("session_id", uint64(id))
	if c.conn != nil {
		logCtx = logCtx.Str("remote_addr", c.conn.RemoteAddr().String())
	}
	c.log = logCtx.Logger()
}

// ID returns the session ID assigned by Register.
func (c *Client) ID() SessionID {
	return c.id
}

// State returns the session's current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Channel returns the bound channel, or "" before init.
func (c *Client) Channel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump reads frames in arrival order and runs the session state machine.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c.id)
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug().Err(err).Msg("websocket connection reset")
			}
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame processes one inbound frame.
func (c *Client) handleFrame(data []byte) {
	if c.State() == StateClosed {
		return
	}
	if !c.limiter.Allow() {
		metrics.RecordDrop(metrics.DropRateLimited)
		c.log.Debug().Msg("inbound frame over rate limit, dropped")
		return
	}

	msg, err := ParseInbound(data)
	if err != nil {
		metrics.InboundMalformed.Inc()
		c.log.Warn().Err(err).Int("size", len(data)).Msg("ignoring malformed message")
		return
	}

	switch m := msg.(type) {
	case InitMessage:
		c.handleInit(m.Channel)
	case EchoMessage:
		if c.enqueue([]byte(m.Content)) {
			metrics.MessagesEchoed.Inc()
		}
	case UnknownMessage:
		c.log.Debug().Str("type", m.Type).Msg("ignoring message of unknown type")
	}
}

// handleInit binds the session to channel. A session binds at most once.
func (c *Client) handleInit(channel string) {
	switch c.State() {
	case StateClosed:
		return
	case StateSubscribed:
		c.log.Warn().Err(ErrChannelAlreadyBound).Str("channel", channel).Str("bound", c.Channel()).Msg("rejecting second init")
		c.hub.closeSession(c.id, websocket.ClosePolicyViolation, ErrChannelAlreadyBound.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()

	sub, err := c.hub.broker.Subscribe(ctx, channel, c.deliver)
	if err != nil {
		metrics.SubscribeFailures.Inc()
		c.log.Warn().Err(err).Str("channel", channel).Msg("subscribe failed")
		if errors.Is(err, broker.ErrInvalidChannel) {
			c.hub.closeSession(c.id, websocket.ClosePolicyViolation, "invalid channel")
			return
		}
		c.hub.closeSession(c.id, websocket.CloseInternalServerErr, "subscribe failed")
		return
	}

	c.mu.Lock()
	if c.state == StateClosed {
		// Closed while subscribing.
		c.mu.Unlock()
		_ = sub.Unsubscribe()
		return
	}
	c.state = StateSubscribed
	c.channel = channel
	c.sub = sub
	c.mu.Unlock()

	metrics.SessionsSubscribed.Inc()
	c.log.Info().Str("channel", channel).Msg("session subscribed")
}

// deliver is the broker handler. It never blocks.
func (c *Client) deliver(d broker.Delivery) {
	if c.enqueue(d.Payload) {
		metrics.MessagesDelivered.Inc()
	}
}

// enqueue queues payload for the write pump without blocking.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		metrics.RecordDrop(metrics.DropClosed)
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		metrics.RecordDrop(metrics.DropQueueFull)
		c.log.Warn().Str("channel", c.channel).Msg("outbound queue full, dropping message")
		return false
	}
}

// release moves the session to Closed, closes the outbound queue and drops
// the broker subscription. Only the first call has an effect.
func (c *Client) release(closeMsg []byte) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	wasSubscribed := c.state == StateSubscribed
	c.state = StateClosed
	c.closeMsg = closeMsg
	sub := c.sub
	c.sub = nil
	close(c.send)
	c.mu.Unlock()

	// Unsubscribe may wait for an in-flight deliver, which needs c.mu.
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			c.log.Warn().Err(err).Msg("failed to release subscription")
		}
	}
	if wasSubscribed {
		metrics.SessionsSubscribed.Dec()
	}
}

// frameType picks a text frame for valid UTF-8 and a binary frame otherwise;
// browsers fail the connection on a text frame that is not UTF-8.
func frameType(payload []byte) int {
	if utf8.Valid(payload) {
		return websocket.TextMessage
	}
	return websocket.BinaryMessage
}

// writePump drains the outbound queue and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Debug().Err(err).Msg("failed to set write deadline")
				return
			}

			if !ok {
				// The hub closed the session.
				c.mu.Lock()
				closeMsg := c.closeMsg
				c.mu.Unlock()
				if closeMsg == nil {
					closeMsg = []byte{}
				}
				_ = c.conn.WriteMessage(websocket.CloseMessage, closeMsg)
				return
			}

			if err := c.conn.WriteMessage(frameType(payload), payload); err != nil {
				c.log.Debug().Err(err).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Debug().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
