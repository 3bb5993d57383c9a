// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/thejerf/suture/v4"

	"github.com/evilkost/mixgene-notify/internal/broker"
	"github.com/evilkost/mixgene-notify/internal/logging"
	"github.com/evilkost/mixgene-notify/internal/metrics"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*HubService)(nil)
	_ suture.Service = (*BrokerWatchdog)(nil)
)

// mockHTTPServer is a test double for HTTPServer.
type mockHTTPServer struct {
	listenErr     error
	block         bool
	shutdownErr   error
	shutdownCount atomic.Int32
	started       chan struct{}
	stopCh        chan struct{}
	stopOnce      sync.Once
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{
		started: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

func (m *mockHTTPServer) ListenAndServe() error {
	select {
	case m.started <- struct{}{}:
	default:
	}
	if m.listenErr != nil {
		return m.listenErr
	}
	if m.block {
		<-m.stopCh
		return http.ErrServerClosed
	}
	return nil
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdownCount.Add(1)
	m.stopOnce.Do(func() { close(m.stopCh) })
	return m.shutdownErr
}

func TestNewHTTPServerService_DefaultTimeout(t *testing.T) {
	for _, timeout := range []time.Duration{0, -5 * time.Second} {
		svc := NewHTTPServerService(newMockHTTPServer(), timeout)
		if svc.shutdownTimeout != 10*time.Second {
			t.Errorf("timeout %v: got %v, want 10s", timeout, svc.shutdownTimeout)
		}
	}
	if got := NewHTTPServerService(newMockHTTPServer(), time.Second).String(); got != "http-server" {
		t.Errorf("String() = %q", got)
	}
}

func TestHTTPServerService_Serve(t *testing.T) {
	t.Run("shuts down gracefully on context cancellation", func(t *testing.T) {
		server := newMockHTTPServer()
		server.block = true
		svc := NewHTTPServerService(server, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()

		<-server.started
		cancel()

		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return after cancellation")
		}
		if server.shutdownCount.Load() != 1 {
			t.Errorf("Shutdown called %d times, want 1", server.shutdownCount.Load())
		}
	})

	t.Run("listen failure terminates the tree", func(t *testing.T) {
		listenErr := errors.New("bind: address already in use")
		server := newMockHTTPServer()
		server.listenErr = listenErr

		err := NewHTTPServerService(server, time.Second).Serve(context.Background())
		if !errors.Is(err, listenErr) {
			t.Errorf("expected listen error, got %v", err)
		}
		if !errors.Is(err, suture.ErrTerminateSupervisorTree) {
			t.Errorf("expected ErrTerminateSupervisorTree, got %v", err)
		}
	})

	t.Run("unexpected stop terminates the tree", func(t *testing.T) {
		err := NewHTTPServerService(newMockHTTPServer(), time.Second).Serve(context.Background())
		if !errors.Is(err, suture.ErrTerminateSupervisorTree) {
			t.Errorf("expected ErrTerminateSupervisorTree, got %v", err)
		}
	})

	t.Run("returns shutdown error", func(t *testing.T) {
		shutdownErr := errors.New("shutdown timeout")
		server := newMockHTTPServer()
		server.block = true
		server.shutdownErr = shutdownErr
		svc := NewHTTPServerService(server, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()

		<-server.started
		cancel()

		if err := <-errCh; !errors.Is(err, shutdownErr) {
			t.Errorf("expected shutdown error, got %v", err)
		}
	})
}

type mockHub struct {
	runs atomic.Int32
}

func (m *mockHub) RunWithContext(ctx context.Context) error {
	m.runs.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestHubService(t *testing.T) {
	hub := &mockHub{}
	svc := NewHubService(hub)
	if svc.String() != "websocket-hub" {
		t.Errorf("String() = %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if hub.runs.Load() != 1 {
		t.Errorf("RunWithContext called %d times, want 1", hub.runs.Load())
	}
}

// fakeBroker is a WatchedBroker with switchable connectivity.
type fakeBroker struct {
	connected atomic.Bool
	done      chan struct{}
}

func newFakeBroker(connected bool) *fakeBroker {
	b := &fakeBroker{done: make(chan struct{})}
	b.connected.Store(connected)
	return b
}

func (b *fakeBroker) Connected() bool       { return b.connected.Load() }
func (b *fakeBroker) Done() <-chan struct{} { return b.done }

func TestBrokerWatchdog(t *testing.T) {
	t.Run("default interval", func(t *testing.T) {
		w := NewBrokerWatchdog(newFakeBroker(true), 0)
		if w.interval != DefaultWatchInterval {
			t.Errorf("interval = %v, want %v", w.interval, DefaultWatchInterval)
		}
		if w.String() != "broker-watchdog" {
			t.Errorf("String() = %q", w.String())
		}
	})

	t.Run("mirrors connectivity into gauge", func(t *testing.T) {
		b := newFakeBroker(true)
		w := NewBrokerWatchdog(b, 5*time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- w.Serve(ctx) }()

		waitGauge(t, 1)
		b.connected.Store(false)
		waitGauge(t, 0)
		b.connected.Store(true)
		waitGauge(t, 1)

		cancel()
		if err := <-errCh; !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("closed broker terminates the tree", func(t *testing.T) {
		b := newFakeBroker(true)
		w := NewBrokerWatchdog(b, time.Hour)

		errCh := make(chan error, 1)
		go func() { errCh <- w.Serve(context.Background()) }()
		close(b.done)

		select {
		case err := <-errCh:
			if !errors.Is(err, suture.ErrTerminateSupervisorTree) || !errors.Is(err, broker.ErrBrokerClosed) {
				t.Errorf("unexpected error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("watchdog did not return after broker closed")
		}
		if got := testutil.ToFloat64(metrics.BrokerConnected); got != 0 {
			t.Errorf("relay_broker_connected = %v, want 0", got)
		}
	})
}

func waitGauge(t *testing.T, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(metrics.BrokerConnected) == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("relay_broker_connected never reached %v", want)
}
