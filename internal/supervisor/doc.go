// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

/*
Package supervisor runs the relay's long-lived components in a suture v4
supervisor tree.

Tree layout:

	mixgene-notify (root)
	├── messaging-layer
	│   ├── websocket-hub     idle-session sweep, closes sessions on shutdown
	│   └── broker-watchdog   connectivity gauge, fatal on permanent close
	└── api-layer
	    └── http-server       front door, graceful shutdown

A service that crashes is restarted with suture's failure backoff. A service
that returns an error wrapping suture.ErrTerminateSupervisorTree stops the
whole tree, and Serve returns that error so the process can exit non-zero.

Supervisor events are logged through sutureslog on an slog.Logger backed by
zerolog (logging.NewSlogLogger).

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddMessagingService(services.NewBrokerWatchdog(brk, 0))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	err = tree.Serve(ctx)
*/
package supervisor
