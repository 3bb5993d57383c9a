// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package api

import (
	"net/http"
	"time"

	"github.com/evilkost/mixgene-notify/internal/logging"
)

// Health status values.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status          string  `json:"status"`
	BrokerConnected bool    `json:"broker_connected"`
	Sessions        int     `json:"sessions"`
	Subscribed      int     `json:"subscribed"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// Ping is the liveness probe.
func (h *Handler) Ping(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("pong")); err != nil {
		logging.Debug().Err(err).Msg("Failed to write ping response")
	}
}

// Health reports broker connectivity and session counts. It answers 503 when
// the broker is disconnected, since no session can receive messages then.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	connected := h.broker != nil && h.broker.Connected()

	health := HealthStatus{
		Status:          StatusHealthy,
		BrokerConnected: connected,
		UptimeSeconds:   time.Since(h.startTime).Seconds(),
	}
	if h.hub != nil {
		health.Sessions = h.hub.ClientCount()
		health.Subscribed = h.hub.SubscribedCount()
	}

	status := http.StatusOK
	if !connected {
		health.Status = StatusDegraded
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, health)
}
