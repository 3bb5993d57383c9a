// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// failingBroker fails every Subscribe with a backend error.
type failingBroker struct {
	*MemoryBroker
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *failingBroker) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errors.New("backend rejected subscription")
	}
	return f.MemoryBroker.Subscribe(ctx, channel, h)
}

func (f *failingBroker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestBreakerBroker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	backend := &failingBroker{MemoryBroker: NewMemory("", nil), fail: true}
	defer backend.Close()

	var mu sync.Mutex
	var transitions []gobreaker.State
	b := WithSubscribeBreaker(backend, BreakerConfig{
		Name:             "test",
		FailureThreshold: 3,
		Timeout:          time.Hour,
		OnStateChange: func(_, to gobreaker.State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := b.Subscribe(ctx, "ENPK-1", func(Delivery) {}); err == nil {
			t.Fatalf("attempt %d: expected backend error", i)
		}
	}
	if got := b.BreakerState(); got != "open" {
		t.Fatalf("BreakerState() = %q, want open", got)
	}

	_, err := b.Subscribe(ctx, "ENPK-1", func(Delivery) {})
	if !errors.Is(err, ErrSubscribeFailure) {
		t.Errorf("open breaker error = %v, want ErrSubscribeFailure", err)
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("open breaker error = %v, want ErrOpenState", err)
	}
	if got := backend.callCount(); got != 3 {
		t.Errorf("backend calls = %d, want 3 (open breaker must fail fast)", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != gobreaker.StateOpen {
		t.Errorf("transitions = %v, want [open]", transitions)
	}
}

func TestBreakerBroker_InvalidChannelDoesNotTrip(t *testing.T) {
	t.Parallel()

	backend := NewMemory("", nil)
	defer backend.Close()
	b := WithSubscribeBreaker(backend, BreakerConfig{FailureThreshold: 1, Timeout: time.Hour})

	for i := 0; i < 5; i++ {
		if _, err := b.Subscribe(context.Background(), "bad channel", func(Delivery) {}); !errors.Is(err, ErrInvalidChannel) {
			t.Fatalf("error = %v, want ErrInvalidChannel", err)
		}
	}
	if got := b.BreakerState(); got != "closed" {
		t.Errorf("BreakerState() = %q, want closed", got)
	}

	sub, err := b.Subscribe(context.Background(), "ENPK-1", func(Delivery) {})
	if err != nil {
		t.Fatalf("valid Subscribe: %v", err)
	}
	_ = sub.Unsubscribe()
}

func TestBreakerBroker_PassesThrough(t *testing.T) {
	t.Parallel()

	backend := NewMemory("", nil)
	b := WithSubscribeBreaker(backend, BreakerConfig{FailureThreshold: 5, Timeout: time.Second})
	ctx := context.Background()

	c := newCollector()
	if _, err := b.Subscribe(ctx, "ENPK-3", c.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Publish(ctx, "ENPK-3", []byte("through")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	c.expect(t, "through")

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if b.Connected() {
		t.Error("Connected() should be false after Close")
	}
}
