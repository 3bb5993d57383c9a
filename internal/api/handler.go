// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	ws "github.com/evilkost/mixgene-notify/internal/websocket"
)

// BrokerStatus reports whether the broker connection is up.
type BrokerStatus interface {
	Connected() bool
}

// Handler serves the relay endpoints.
type Handler struct {
	hub       *ws.Hub
	broker    BrokerStatus
	startTime time.Time
	upgrader  websocket.Upgrader
}

// NewHandler creates a Handler that registers upgraded sessions with hub.
func NewHandler(hub *ws.Hub, broker BrokerStatus) *Handler {
	return &Handler{
		hub:       hub,
		broker:    broker,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      allowAnyOrigin,
		},
	}
}

// allowAnyOrigin matches the Access-Control-Allow-Origin: * policy. Sessions
// carry no credentials, so cross-origin pages may connect.
func allowAnyOrigin(*http.Request) bool {
	return true
}
