// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

// Package metrics holds the relay's Prometheus collectors.
//
// Collectors are registered on the default registry at init and exposed
// by the /metrics endpoint.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Drop reasons for MessagesDropped.
const (
	DropQueueFull   = "queue_full"
	DropRateLimited = "rate_limited"
	DropClosed      = "session_closed"
)

var (
	// Session Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_websocket_connections",
			Help: "Current number of open WebSocket sessions",
		},
	)

	SessionsSubscribed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_sessions_subscribed",
			Help: "Current number of sessions bound to a channel",
		},
	)

	MessagesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_delivered_total",
			Help: "Total broker messages queued to sessions",
		},
	)

	MessagesEchoed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_echoed_total",
			Help: "Total msg frames echoed back to their session",
		},
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_dropped_total",
			Help: "Total messages dropped, by reason",
		},
		[]string{"reason"}, // "queue_full", "rate_limited", "session_closed"
	)

	InboundMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_inbound_malformed_total",
			Help: "Total inbound frames that could not be parsed",
		},
	)

	SubscribeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_subscribe_failures_total",
			Help: "Total failed broker subscribe attempts",
		},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_sessions_closed_total",
			Help: "Total sessions closed by the relay, by close code",
		},
		[]string{"code"},
	)

	// Broker Metrics
	BrokerConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_broker_connected",
			Help: "Whether the broker connection is up (1) or down (0)",
		},
	)

	SubscribeBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_subscribe_breaker_state",
			Help: "Subscribe circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "path"},
	)
)

// RecordHTTPRequest records a completed HTTP request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDrop counts a dropped message.
func RecordDrop(reason string) {
	MessagesDropped.WithLabelValues(reason).Inc()
}

// RecordSessionClosed counts a relay-initiated session close.
func RecordSessionClosed(code int) {
	SessionsClosed.WithLabelValues(strconv.Itoa(code)).Inc()
}

// SetBrokerConnected mirrors the broker connection state.
func SetBrokerConnected(connected bool) {
	if connected {
		BrokerConnected.Set(1)
		return
	}
	BrokerConnected.Set(0)
}

// SetBreakerState records a subscribe breaker transition. It matches the
// hook signature accepted by broker.WithBreakerStateHook.
func SetBreakerState(_, to gobreaker.State) {
	SubscribeBreakerState.Set(float64(to))
}
