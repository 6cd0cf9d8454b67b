// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import "net/http"

// securityHeaders is the hardening set injected into responses for
// rules with SecurityHeaders enabled and into every portal response.
// Injection never overrides a header the upstream set itself: an
// application that ships its own CSP knows better than the gateway.
var securityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "SAMEORIGIN",
	"Referrer-Policy":         "strict-origin-when-cross-origin",
	"Content-Security-Policy": "frame-ancestors 'self'",
}

// headerInjector wraps a ResponseWriter and adds the missing security
// headers at the moment the status is written, after the handler (or
// the forwarded upstream) has populated the header map.
type headerInjector struct {
	http.ResponseWriter
	wroteHeader bool
}

func injectSecurityHeaders(w http.ResponseWriter) http.ResponseWriter {
	return &headerInjector{ResponseWriter: w}
}

func (h *headerInjector) WriteHeader(status int) {
	if !h.wroteHeader {
		h.wroteHeader = true
		header := h.Header()
		for name, value := range securityHeaders {
			if header.Get(name) == "" {
				header.Set(name, value)
			}
		}
	}
	h.ResponseWriter.WriteHeader(status)
}

func (h *headerInjector) Write(b []byte) (int, error) {
	if !h.wroteHeader {
		h.WriteHeader(http.StatusOK)
	}
	return h.ResponseWriter.Write(b)
}

// Flush must pass through: the forwarding engine flushes event
// streams per chunk and asserts the writer to http.Flusher.
func (h *headerInjector) Flush() {
	if flusher, ok := h.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
