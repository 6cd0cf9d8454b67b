// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/atrium-foundation/atrium/session"
)

// SessionOpener validates a sealed cookie value. Satisfied by
// *session.Codec; tests substitute counting fakes.
type SessionOpener interface {
	OpenValue(value string) (session.Session, error)
}

// AuthOutcome is the auth gate's verdict for a protected request.
type AuthOutcome int

const (
	// AuthOK means the request carries a valid session that satisfies
	// the rule's role requirements.
	AuthOK AuthOutcome = iota

	// AuthUnauthenticated means the cookie was missing, forged,
	// expired, or malformed. The reasons are logged but the client
	// response must not distinguish them.
	AuthUnauthenticated

	// AuthForbidden means the session is valid but lacks every role
	// the rule requires.
	AuthForbidden
)

// AuthGate checks protected requests for a valid session cookie.
// The dispatcher only consults the gate for protected rules, so
// unprotected traffic never pays for cookie decryption.
type AuthGate struct {
	opener     SessionOpener
	cookieName string
	log        *slog.Logger
}

// NewAuthGate builds a gate around a session opener. cookieName
// defaults to session.DefaultCookieName; logger defaults to
// slog.Default.
func NewAuthGate(opener SessionOpener, cookieName string, logger *slog.Logger) *AuthGate {
	if cookieName == "" {
		cookieName = session.DefaultCookieName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthGate{opener: opener, cookieName: cookieName, log: logger}
}

// Check evaluates the request's session cookie against the rule. On
// AuthOK the returned session is the validated one; otherwise it is
// the zero Session. Never writes to the response: the dispatcher owns
// the client-facing rejection so the distinct failure reasons cannot
// leak.
func (g *AuthGate) Check(rule RouteRule, r *http.Request) (session.Session, AuthOutcome) {
	cookie, err := r.Cookie(g.cookieName)
	if err != nil {
		g.log.Debug("request without session cookie",
			"host", r.Host,
			"path", r.URL.Path)
		return session.Session{}, AuthUnauthenticated
	}

	s, err := g.opener.OpenValue(cookie.Value)
	if err != nil {
		g.log.Debug("rejecting session cookie",
			"reason", authReason(err),
			"host", r.Host,
			"path", r.URL.Path)
		return session.Session{}, AuthUnauthenticated
	}

	if len(rule.Roles) > 0 && !hasAnyRole(s, rule.Roles) {
		g.log.Debug("session lacks required role",
			"subject", s.Subject,
			"host", r.Host,
			"path", r.URL.Path)
		return session.Session{}, AuthForbidden
	}

	return s, AuthOK
}

func authReason(err error) string {
	switch {
	case errors.Is(err, session.ErrForged):
		return "forged"
	case errors.Is(err, session.ErrExpired):
		return "expired"
	case errors.Is(err, session.ErrMalformed):
		return "malformed"
	}
	return "unknown"
}

func hasAnyRole(s session.Session, required []string) bool {
	for _, role := range s.Roles() {
		if slices.Contains(required, role) {
			return true
		}
	}
	return false
}
