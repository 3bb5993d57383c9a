// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

/*
Package services provides suture.Service wrappers for the relay's components.

Each wrapper implements the suture v4 Service interface:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Available services:

  - HTTPServerService: runs *http.Server and shuts it down gracefully when
    the context is canceled. A listen failure terminates the tree.
  - HubService: runs the session registry's idle sweep and closes every
    session on shutdown.
  - BrokerWatchdog: mirrors broker connectivity into the relay_broker_connected
    gauge and terminates the tree once the broker connection is gone for good.

Each wrapper implements fmt.Stringer so suture logs it by name.

Errors returned to the supervisor wrap suture.ErrTerminateSupervisorTree when
the failure is fatal to the process; the relay cannot serve without its
listener or its broker.
*/
package services
