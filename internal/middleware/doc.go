// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

/*
Package middleware provides the HTTP middleware in front of the relay's routes.

All middleware uses the chi signature func(http.Handler) http.Handler so it can
be installed with r.Use.

Key Components:

  - CORSHeaders: the fixed permissive cross-origin headers on every response
  - Preflight: go-chi/cors in passthrough mode for OPTIONS requests
  - RequestID: X-Request-ID propagation into the logging context
  - RequestLogger: logs method and path before the request is handled
  - PrometheusMetrics: request counts and latency per route pattern
  - Compression: gzip for small JSON and text responses

Middleware Stack:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORSHeaders)
	r.Use(middleware.Preflight())
	r.Use(middleware.PrometheusMetrics)

Responses wrapped by PrometheusMetrics still implement http.Hijacker, so the
websocket upgrade works behind it. Compression skips upgrade requests.
*/
package middleware
