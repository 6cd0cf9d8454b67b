// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O helpers for Atrium.
//
// Body helpers (DecodeBody, ErrorBody) bound reads to prevent unbounded
// memory allocation from a misbehaving or malicious peer. They are for
// small JSON payloads (the login API, health checks) — never for proxied
// bodies, which the forwarding engine streams incrementally.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// MaxBodySize bounds JSON request and response body reads: 1 MB. The
// gateway's own API payloads (login credentials, identity responses)
// are a few hundred bytes; the limit exists only to stop a pathological
// payload from exhausting memory.
const MaxBodySize int64 = 1 << 20

// DecodeBody reads a JSON body (up to MaxBodySize bytes) and decodes it
// into v. Replaces the io.ReadAll + json.Unmarshal pattern.
func DecodeBody(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxBodySize))
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an HTTP error response body and returns it as a
// string for diagnostic messages. Read errors are silently ignored — a
// partial or empty body is still useful in an error message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxBodySize))
	return string(data)
}

// HostOnly strips an optional :port suffix from a Host header value.
// IPv6 literals in brackets are handled ([::1]:8080 -> [::1]).
func HostOnly(hostport string) string {
	if hostport == "" {
		return ""
	}
	// Bracketed IPv6 literal: the colon search must not look inside
	// the brackets.
	if hostport[0] == '[' {
		if end := strings.IndexByte(hostport, ']'); end >= 0 {
			return hostport[:end+1]
		}
		return hostport
	}
	if colon := strings.IndexByte(hostport, ':'); colon >= 0 {
		return hostport[:colon]
	}
	return hostport
}
