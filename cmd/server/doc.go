// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

/*
Package main is the entry point for the mixgene-notify relay.

The relay bridges a publish/subscribe broker to browser websocket sessions.
A browser opens <prefix>/subscribe, sends {"type":"init","content":"<channel>"}
and from then on receives every message published to that channel.

# Application Architecture

	RootSupervisor ("mixgene-notify")
	├── MessagingSupervisor ("messaging-layer")
	│   ├── websocket-hub
	│   └── broker-watchdog
	└── APISupervisor ("api-layer")
	    └── http-server

Initialization order:

 1. Configuration: koanf (defaults, config file, environment)
 2. Logging: zerolog, optional rotating file
 3. Broker: NATS (external or embedded) or in-memory, behind a subscribe breaker
 4. Hub: session registry
 5. Router: chi with CORS, request logging and metrics
 6. Supervisor tree

SIGINT and SIGTERM cancel the root context. Sessions are closed with 1001,
the HTTP server drains, and the broker connection is closed last. The process
exits 1 if the broker cannot be reached at startup, the listener fails, or
the broker connection closes for good.
*/
package main
