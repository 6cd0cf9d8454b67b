// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway implements Atrium's request pipeline: route matching,
// session authentication, and upstream forwarding.
//
// [Dispatcher] is the entry point invoked per inbound request. It
// consults the [RouteTable] (an immutable snapshot, atomically swapped
// on configuration reload), invokes the [AuthGate] when the matched
// route is protected, then hands the request to the [ForwardingEngine]
// or the static-serving collaborator. Every internal failure is
// converted into one of a small fixed set of HTTP responses — the
// dispatcher never propagates an unhandled failure to the transport
// layer, and responses never leak upstream addresses or configuration.
//
// [RouteTable] maps (host, path) to a [RouteRule]. Rules are ranked
// exact-host before wildcard-host, then longer path prefix before
// shorter; a catch-all deny rule always exists last, so matching is
// total. Tables are built once ([BuildTable]) and never mutated; a
// reload builds a fresh table and publishes it wholesale.
//
// [AuthGate] decides whether a request carries a valid, unexpired
// session cookie. The three ways a cookie can be bad (forged, expired,
// malformed) are logged but deliberately indistinguishable to the
// client. Unprotected routes never touch the session codec.
//
// [ForwardingEngine] streams the request to the upstream and the
// response back without buffering either body, rewrites hop-by-hop
// and provenance headers, enforces the per-request header deadline,
// and classifies failures into the ForwardError taxonomy (ErrTimeout,
// ErrUpstreamUnreachable, ErrMidStream) that the dispatcher maps to
// status codes. Connection pooling is the engine's shared http.Transport:
// bounded idle connections per upstream, broken connections evicted
// on failed reuse.
//
// Configuration parsing ([LoadConfig]) stays outside the pipeline: it
// produces validated []RouteRule consumed by BuildTable, and an
// ambiguous table is fatal at startup, never at request time.
package gateway
