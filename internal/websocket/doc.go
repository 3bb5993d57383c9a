// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

/*
Package websocket relays broker messages to browser WebSocket sessions.

Key Components:

  - Hub: registry of live sessions keyed by SessionID
  - Client: one browser connection with its session state machine
  - Inbound: the tagged set of messages a browser may send

Protocol:

A browser opens a connection and binds it to a channel:

	{"type":"init","content":"ENPK-42"}

From then on every message published on ENPK-42 is written to the
connection verbatim, one text frame per message. A browser may also send

	{"type":"msg","content":"X"}

at any time; X is written straight back to the same connection.

Session states:

	Connected --init--> Subscribed --disconnect--> Closed
	    |                                            ^
	    +----------------disconnect------------------+

A second init closes the session with 1008 (policy violation). A failed
subscribe closes it with 1011 (internal error). Malformed frames and unknown
types are logged and ignored.

Each client has two goroutines:
  - readPump: reads frames in order and runs the state machine
  - writePump: drains the outbound queue and sends pings

Usage Example - Server:

	hub := websocket.NewHub(brk, websocket.DefaultConfig())
	go hub.RunWithContext(ctx)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
	    return
	}
	client := websocket.NewClient(hub, conn)
	hub.Register(client)
	client.Start()
*/
package websocket
