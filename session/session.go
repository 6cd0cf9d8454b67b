// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"strings"
	"time"
)

// Session is the authenticated state carried by a client between
// requests. It is minted by the login flow, sealed into a cookie, and
// opened by the auth gate on each protected request.
type Session struct {
	// Subject identifies the authenticated principal (the user login).
	Subject string

	// IssuedAt is when the session was minted.
	IssuedAt time.Time

	// ExpiresAt is when the session stops being valid. Open applies a
	// configurable leeway on top of this to absorb clock skew.
	ExpiresAt time.Time

	// Data holds small application key-value pairs (roles, display
	// name). Kept deliberately small — the whole session must fit in
	// a cookie.
	Data map[string]string
}

// rolesKey is the Data key under which the login flow stores the
// subject's roles, comma-separated.
const rolesKey = "roles"

// Roles returns the roles stored in Data by the login flow. Returns
// nil when the session carries no roles.
func (s Session) Roles() []string {
	joined := s.Data[rolesKey]
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}

// WithRoles returns a copy of the session with the given roles stored
// in Data. An empty list removes the entry.
func (s Session) WithRoles(roles []string) Session {
	data := make(map[string]string, len(s.Data)+1)
	for key, value := range s.Data {
		data[key] = value
	}
	if len(roles) == 0 {
		delete(data, rolesKey)
	} else {
		data[rolesKey] = strings.Join(roles, ",")
	}
	s.Data = data
	return s
}

// Equal reports whether two sessions are the same, comparing
// timestamps at second precision (the wire layout stores Unix
// seconds).
func (s Session) Equal(other Session) bool {
	if s.Subject != other.Subject {
		return false
	}
	if s.IssuedAt.Unix() != other.IssuedAt.Unix() {
		return false
	}
	if s.ExpiresAt.Unix() != other.ExpiresAt.Unix() {
		return false
	}
	if len(s.Data) != len(other.Data) {
		return false
	}
	for key, value := range s.Data {
		if other.Data[key] != value {
			return false
		}
	}
	return true
}
