// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

// Package login implements the gateway's own account portal: the
// endpoints that mint, inspect, and clear session cookies.
//
// The portal is an http.Handler mounted by the dispatcher on the
// gateway's hostname. It never proxies anything; its only job is
// exchanging credentials for a sealed session cookie. Passwords are
// verified against bcrypt hashes from configuration — the portal
// holds no password state of its own, so a configuration reload is a
// complete account update.
package login
