// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package main

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/evilkost/mixgene-notify/internal/broker"
	"github.com/evilkost/mixgene-notify/internal/config"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"message", []string{"--channel", "ENPK-42", "--message", "hi"}, false},
		{"short flags", []string{"-c", "ENPK-42", "-m", "hi", "-n", "3", "-i", "250ms"}, false},
		{"stdin mode", []string{"--channel", "ENPK-42"}, false},
		{"missing channel", []string{"--message", "hi"}, true},
		{"wildcard channel", []string{"--channel", "ENPK.*"}, true},
		{"zero count", []string{"--channel", "ENPK-42", "--count", "0"}, true},
		{"unknown flag", []string{"--nope"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseFlags(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if err == nil && opts.Count < 1 {
				t.Errorf("Count = %d, want default of at least 1", opts.Count)
			}
		})
	}
}

func TestParseFlags_Values(t *testing.T) {
	opts, err := parseFlags([]string{"-c", "ENPK-42", "-m", "hi", "-n", "3", "-i", "250ms"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.Channel != "ENPK-42" || opts.Message != "hi" || opts.Count != 3 || opts.Interval != 250*time.Millisecond {
		t.Errorf("opts = %+v", opts)
	}
}

func TestPublisherBrokerConfig(t *testing.T) {
	if _, err := publisherBrokerConfig(config.BrokerConfig{Backend: "memory"}); err == nil {
		t.Error("memory backend should be rejected")
	}

	c, err := publisherBrokerConfig(config.BrokerConfig{
		Backend:      "nats",
		URL:          "nats://ignored:4222",
		Embedded:     true,
		EmbeddedHost: "0.0.0.0",
		EmbeddedPort: 4333,
	})
	if err != nil {
		t.Fatalf("publisherBrokerConfig: %v", err)
	}
	if c.Embedded || c.URL != "nats://127.0.0.1:4333" {
		t.Errorf("config = %+v", c)
	}

	for _, port := range []int{-1, 0} {
		_, err := publisherBrokerConfig(config.BrokerConfig{
			Backend:      "nats",
			Embedded:     true,
			EmbeddedHost: "127.0.0.1",
			EmbeddedPort: port,
		})
		if err == nil || !strings.Contains(err.Error(), "NATS_EMBEDDED_PORT") {
			t.Errorf("embedded port %d: error = %v, want NATS_EMBEDDED_PORT error", port, err)
		}
	}

	redis := config.BrokerConfig{Backend: "redis", RedisURL: "redis://127.0.0.1:6379/0", Embedded: true, EmbeddedPort: -1}
	if c, err := publisherBrokerConfig(redis); err != nil || c != redis {
		t.Errorf("redis config = %+v, %v; want unchanged", c, err)
	}
}

// recorder collects deliveries from a memory broker subscription.
type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) handle(d broker.Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, string(d.Payload))
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func subscribeRecorder(t *testing.T, b *broker.MemoryBroker, channel string) *recorder {
	t.Helper()
	rec := &recorder{}
	sub, err := b.Subscribe(context.Background(), channel, rec.handle)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return rec
}

func TestPublishRepeated(t *testing.T) {
	b := broker.NewMemory("", nil)
	defer b.Close()
	rec := subscribeRecorder(t, b, "ENPK-42")

	n, err := publishRepeated(context.Background(), b, options{Channel: "ENPK-42", Message: "tick", Count: 3, Interval: time.Millisecond})
	if err != nil || n != 3 {
		t.Fatalf("publishRepeated() = %d, %v", n, err)
	}
	if got := rec.got(); len(got) != 3 || got[0] != "tick" {
		t.Errorf("delivered %v", got)
	}
}

func TestPublishLines(t *testing.T) {
	b := broker.NewMemory("", nil)
	defer b.Close()
	rec := subscribeRecorder(t, b, "ENPK-42")

	n, err := publishLines(context.Background(), b, "ENPK-42", strings.NewReader("one\n\ntwo\nthree\n"))
	if err != nil || n != 3 {
		t.Fatalf("publishLines() = %d, %v", n, err)
	}
	got := rec.got()
	want := []string{"one", "two", "three"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("delivered %v, want %v", got, want)
	}
}
