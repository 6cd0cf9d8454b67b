// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"net/http"
)

// DefaultCookieName is the session cookie name when the configuration
// does not override it.
const DefaultCookieName = "ATRIUM_AUTH"

// NewCookie seals a session into an HTTP cookie. The cookie is
// HttpOnly (scripts must not read it), Secure, SameSite=Lax, and
// scoped to the whole gateway host. The Expires attribute mirrors the
// embedded expiry with the leeway subtracted, so a well-behaved
// browser drops the cookie slightly before the server would start
// rejecting it.
func (c *Codec) NewCookie(name string, s Session) *http.Cookie {
	if name == "" {
		name = DefaultCookieName
	}
	return &http.Cookie{
		Name:     name,
		Value:    c.SealValue(s),
		Path:     "/",
		Expires:  s.ExpiresAt.Add(-c.leeway),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredCookie returns a cookie that instructs the browser to delete
// the named session cookie. Logout is necessarily best-effort: with
// stateless sessions there is no server-side record to revoke, so a
// captured cookie value stays valid until its embedded expiry.
func ExpiredCookie(name string) *http.Cookie {
	if name == "" {
		name = DefaultCookieName
	}
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}
