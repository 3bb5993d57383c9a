// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

/*
Package api is the relay's HTTP front door.

Routes:

	GET  /ping                          liveness probe, 200 "pong"
	GET  /health                        JSON status, 503 when the broker is down
	GET  /metrics                       Prometheus exposition
	GET  <prefix>/subscribe             websocket upgrade
	GET  <prefix>/subscribe/websocket   websocket upgrade (SockJS raw URL)
	OPTIONS *                           204 with CORS headers

Every response carries the permissive CORS headers from the middleware
package, and every request is logged before it is routed. Upgrade attempts
are rate limited per client IP with httprate.

Usage:

	h := api.NewHandler(hub, brk)
	router := api.NewRouter(h, cfg.Server)
	srv := &http.Server{Addr: cfg.Server.Addr(), Handler: router}
*/
package api
