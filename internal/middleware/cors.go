// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// Cross-origin policy. Browsers on any origin may open a session.
const (
	AllowOrigin = "*"
)

var (
	AllowMethods = []string{"PUT", "GET", "POST", "DELETE", "OPTIONS"}
	AllowHeaders = []string{"Content-Type"}
)

// CORSHeaders sets the permissive cross-origin headers on every response.
// It must run after Preflight, which narrows Access-Control-Allow-Methods to
// the requested method.
func CORSHeaders(next http.Handler) http.Handler {
	methods := strings.Join(AllowMethods, ", ")
	headers := strings.Join(AllowHeaders, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", AllowOrigin)
		h.Set("Access-Control-Allow-Methods", methods)
		h.Set("Access-Control-Allow-Headers", headers)
		next.ServeHTTP(w, r)
	})
}

// Preflight validates CORS preflight requests with go-chi/cors and passes
// them on; AnswerOptions replies to them.
func Preflight() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:     []string{AllowOrigin},
		AllowedMethods:     AllowMethods,
		AllowedHeaders:     AllowHeaders,
		AllowCredentials:   false,
		MaxAge:             86400,
		OptionsPassthrough: true,
	})
}

// AnswerOptions replies 204 to every OPTIONS request before routing, so no
// route has to be registered for OPTIONS.
func AnswerOptions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
