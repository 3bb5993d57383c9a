// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evilkost/mixgene-notify/internal/config"
	"github.com/evilkost/mixgene-notify/internal/middleware"
)

// NewRouter builds the relay's route table.
func NewRouter(h *Handler, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Preflight())
	r.Use(middleware.CORSHeaders) // every response, including errors
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.AnswerOptions)

	r.Get("/ping", h.Ping)
	r.With(middleware.Compression).Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(upgradeRateLimit(cfg.UpgradeRateLimit))
		r.Get(cfg.SubscribePath(), h.Subscribe)
		r.Get(cfg.SubscribePath()+"/websocket", h.Subscribe)
	})

	return r
}

// upgradeRateLimit limits upgrade attempts per client IP per minute. A limit
// of zero disables it.
func upgradeRateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(perMinute, time.Minute)
}
