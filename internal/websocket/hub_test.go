// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package websocket

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evilkost/mixgene-notify/internal/broker"
	"github.com/evilkost/mixgene-notify/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

func setupHub(t *testing.T, cfg Config) (*Hub, *broker.MemoryBroker) {
	t.Helper()
	b := broker.NewMemory("", nil)
	t.Cleanup(func() { _ = b.Close() })
	return NewHub(b, cfg), b
}

// registerDetached registers a client without a connection.
func registerDetached(hub *Hub) *Client {
	c := NewClient(hub, nil)
	hub.Register(c)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewHub_Defaults(t *testing.T) {
	hub, _ := setupHub(t, Config{})

	def := DefaultConfig()
	if hub.config.MaxMessageSize != def.MaxMessageSize {
		t.Errorf("MaxMessageSize = %d, want %d", hub.config.MaxMessageSize, def.MaxMessageSize)
	}
	if hub.config.InboundRate != def.InboundRate {
		t.Errorf("InboundRate = %v, want %v", hub.config.InboundRate, def.InboundRate)
	}
	if hub.config.InboundBurst != def.InboundBurst {
		t.Errorf("InboundBurst = %d, want %d", hub.config.InboundBurst, def.InboundBurst)
	}
	if hub.config.InitTimeout != 0 {
		t.Errorf("InitTimeout = %v, want 0 (sweep disabled)", hub.config.InitTimeout)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub, _ := setupHub(t, DefaultConfig())

	a := registerDetached(hub)
	b := registerDetached(hub)

	if a.ID() == b.ID() {
		t.Fatalf("session IDs must be unique, both are %d", a.ID())
	}
	if hub.ClientCount() != 2 {
		t.Fatalf("ClientCount() = %d, want 2", hub.ClientCount())
	}
	if got, ok := hub.Get(a.ID()); !ok || got != a {
		t.Errorf("Get(%d) = %v, %v", a.ID(), got, ok)
	}

	hub.Unregister(a.ID())
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() after Unregister = %d, want 1", hub.ClientCount())
	}
	if a.State() != StateClosed {
		t.Errorf("state after Unregister = %s, want closed", a.State())
	}
	if _, ok := <-a.send; ok {
		t.Error("send channel should be closed after Unregister")
	}

	// Repeated and unknown IDs are ignored.
	hub.Unregister(a.ID())
	hub.Unregister(SessionID(9999))
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}
}

func TestHub_UnregisterReleasesSubscription(t *testing.T) {
	hub, b := setupHub(t, DefaultConfig())

	c := registerDetached(hub)
	c.handleInit("exp-1")
	if c.State() != StateSubscribed {
		t.Fatalf("state = %s, want subscribed", c.State())
	}
	if hub.SubscribedCount() != 1 {
		t.Fatalf("SubscribedCount() = %d, want 1", hub.SubscribedCount())
	}

	hub.Unregister(c.ID())

	// Publishing after release must neither deliver nor panic.
	if err := b.Publish(context.Background(), "exp-1", []byte("late")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if hub.SubscribedCount() != 0 {
		t.Errorf("SubscribedCount() = %d, want 0", hub.SubscribedCount())
	}
}

func TestHub_SessionsOnChannel(t *testing.T) {
	hub, _ := setupHub(t, DefaultConfig())

	a := registerDetached(hub)
	b := registerDetached(hub)
	other := registerDetached(hub)
	registerDetached(hub) // never sends init

	b.handleInit("ENPK-1")
	a.handleInit("ENPK-1")
	other.handleInit("ENPK-2")

	got := hub.SessionsOnChannel("ENPK-1")
	if len(got) != 2 || got[0] != a.ID() || got[1] != b.ID() {
		t.Errorf("SessionsOnChannel(ENPK-1) = %v, want [%d %d]", got, a.ID(), b.ID())
	}
	if got := hub.SessionsOnChannel("ENPK-3"); len(got) != 0 {
		t.Errorf("SessionsOnChannel(ENPK-3) = %v, want none", got)
	}

	hub.Unregister(a.ID())
	got = hub.SessionsOnChannel("ENPK-1")
	if len(got) != 1 || got[0] != b.ID() {
		t.Errorf("SessionsOnChannel(ENPK-1) after unregister = %v, want [%d]", got, b.ID())
	}
}

func TestHub_CloseSessionSetsCloseMessage(t *testing.T) {
	hub, _ := setupHub(t, DefaultConfig())
	c := registerDetached(hub)

	hub.closeSession(c.ID(), websocket.ClosePolicyViolation, "channel already bound")

	want := string(websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "channel already bound"))
	if string(c.closeMsg) != want {
		t.Errorf("closeMsg = %q, want %q", c.closeMsg, want)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
}

func TestHub_SweepIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitTimeout = time.Minute
	hub, _ := setupHub(t, cfg)

	idle := registerDetached(hub)
	idle.connectedAt = time.Now().Add(-2 * time.Minute)

	fresh := registerDetached(hub)

	bound := registerDetached(hub)
	bound.connectedAt = time.Now().Add(-2 * time.Minute)
	bound.handleInit("exp-1")

	hub.sweepIdle(time.Now())

	if idle.State() != StateClosed {
		t.Errorf("idle session state = %s, want closed", idle.State())
	}
	if fresh.State() != StateConnected {
		t.Errorf("fresh session state = %s, want connected", fresh.State())
	}
	if bound.State() != StateSubscribed {
		t.Errorf("bound session state = %s, want subscribed", bound.State())
	}
	if hub.ClientCount() != 2 {
		t.Errorf("ClientCount() = %d, want 2", hub.ClientCount())
	}
}

func TestHub_RunWithContext(t *testing.T) {
	t.Run("canceled context closes all sessions", func(t *testing.T) {
		hub, _ := setupHub(t, DefaultConfig())
		a := registerDetached(hub)
		b := registerDetached(hub)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- hub.RunWithContext(ctx) }()

		cancel()

		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("RunWithContext() = %v, want context.Canceled", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("RunWithContext did not return after cancel")
		}

		if hub.ClientCount() != 0 {
			t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
		}
		want := string(websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		for _, c := range []*Client{a, b} {
			if string(c.closeMsg) != want {
				t.Errorf("session %d closeMsg = %q, want %q", c.ID(), c.closeMsg, want)
			}
		}
	})

	t.Run("sweeps idle sessions while running", func(t *testing.T) {
		hub, _ := setupHub(t, Config{InitTimeout: time.Millisecond})
		c := registerDetached(hub)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = hub.RunWithContext(ctx) }()

		waitFor(t, "idle sweep", func() bool { return c.State() == StateClosed })
	})
}

func TestSweepInterval(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    time.Duration
	}{
		{time.Millisecond, time.Second},
		{2 * time.Second, time.Second},
		{20 * time.Second, 5 * time.Second},
		{5 * time.Minute, time.Minute},
	}
	for _, tt := range tests {
		if got := sweepInterval(tt.timeout); got != tt.want {
			t.Errorf("sweepInterval(%v) = %v, want %v", tt.timeout, got, tt.want)
		}
	}
}

func TestGetShutdownReason(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := getShutdownReason(ctx); got != ShutdownReasonContextCanceled {
		t.Errorf("getShutdownReason(canceled) = %s", got)
	}

	ctx, cancel = context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if got := getShutdownReason(ctx); got != ShutdownReasonContextDeadline {
		t.Errorf("getShutdownReason(deadline) = %s", got)
	}
}
