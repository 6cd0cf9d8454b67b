// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/atrium-foundation/atrium/lib/netutil"
)

// StaticServer serves files for static route targets. Implemented by
// webdir; the dispatcher never touches the filesystem itself.
type StaticServer interface {
	Serve(w http.ResponseWriter, r *http.Request, root string)
}

// DispatcherConfig wires the dispatcher's collaborators.
type DispatcherConfig struct {
	// Table is the initial route table. Required.
	Table *RouteTable

	// Gate checks sessions on protected routes. Required unless no
	// rule is protected.
	Gate *AuthGate

	// Engine forwards upstream traffic. Required unless no rule has
	// an upstream target.
	Engine *ForwardingEngine

	// Static serves static targets. Required unless no rule has a
	// static target.
	Static StaticServer

	// Portal handles requests to the gateway's own Hostname that no
	// rule claims: the login endpoints, whoami, health.
	Portal http.Handler

	// Hostname is the gateway's own host name; LoginPath is where
	// browsers are redirected when unauthenticated.
	Hostname  string
	LoginPath string

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Dispatcher routes every inbound request: match, authenticate,
// forward. ServeHTTP is total — each request gets exactly one
// response (or a deliberate abort on mid-stream upstream failure).
type Dispatcher struct {
	table atomic.Pointer[RouteTable]

	gate      *AuthGate
	engine    *ForwardingEngine
	static    StaticServer
	portal    http.Handler
	hostname  string
	loginPath string
	log       *slog.Logger
}

// NewDispatcher builds a dispatcher. The route table can be replaced
// later with ReplaceTable; everything else is fixed for the process
// lifetime.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	d := &Dispatcher{
		gate:      cfg.Gate,
		engine:    cfg.Engine,
		static:    cfg.Static,
		portal:    cfg.Portal,
		hostname:  strings.ToLower(cfg.Hostname),
		loginPath: cfg.LoginPath,
		log:       cfg.Logger,
	}
	d.table.Store(cfg.Table)
	return d
}

// ReplaceTable publishes a new route table wholesale. In-flight
// requests finish against the table they started with; the next
// request sees the new one. The caller builds and validates the table
// first, so a bad reload never reaches serving state.
func (d *Dispatcher) ReplaceTable(table *RouteTable) {
	d.table.Store(table)
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rule := d.table.Load().Match(r.Host, r.URL.Path)

	if rule.Target.Kind == TargetDeny {
		// Only the implicit catch-all falls through to the portal: a
		// configured deny rule on the gateway hostname means exactly
		// what it says.
		if rule.implicit && d.portal != nil && strings.ToLower(netutil.HostOnly(r.Host)) == d.hostname {
			d.portal.ServeHTTP(injectSecurityHeaders(w), r)
			return
		}
		http.NotFound(w, r)
		return
	}

	if rule.SecurityHeaders {
		w = injectSecurityHeaders(w)
	}

	if rule.Protected {
		_, outcome := d.gate.Check(rule, r)
		switch outcome {
		case AuthOK:
		case AuthForbidden:
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		default:
			d.rejectUnauthenticated(w, r)
			return
		}
	}

	switch rule.Target.Kind {
	case TargetUpstream:
		d.forward(w, r, rule.Target.Upstream)
	case TargetStatic:
		d.static.Serve(w, r, rule.Target.StaticRoot)
	}
}

// rejectUnauthenticated sends browsers to the login page and everyone
// else a bare 401. All cookie failure modes land here identically.
func (d *Dispatcher) rejectUnauthenticated(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "text/html") {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	target := d.loginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
	if strings.ToLower(netutil.HostOnly(r.Host)) != d.hostname && d.hostname != "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		target = scheme + "://" + d.hostname + target
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// forward hands the request to the engine and maps its failure
// taxonomy to client responses. Idempotent requests get one retry
// when the upstream was unreachable, which can only happen before any
// response bytes exist.
func (d *Dispatcher) forward(w http.ResponseWriter, r *http.Request, upstream *url.URL) {
	err := d.engine.Forward(w, r, upstream)
	if errors.Is(err, ErrUpstreamUnreachable) && retryable(r) {
		d.log.Debug("retrying idempotent request after unreachable upstream",
			"host", r.Host,
			"path", r.URL.Path)
		err = d.engine.Forward(w, r, upstream)
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrTimeout):
		d.log.Warn("upstream timed out",
			"host", r.Host,
			"path", r.URL.Path,
			"error", err)
		http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
	case errors.Is(err, ErrUpstreamUnreachable):
		d.log.Warn("upstream unreachable",
			"host", r.Host,
			"path", r.URL.Path,
			"error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	case errors.Is(err, ErrMidStream):
		// Headers and some body bytes are already out; the only
		// honest signal left is an aborted connection.
		d.log.Error("upstream failed mid-stream",
			"host", r.Host,
			"path", r.URL.Path,
			"error", err)
		panic(http.ErrAbortHandler)
	default:
		d.log.Error("forwarding failed",
			"host", r.Host,
			"path", r.URL.Path,
			"error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}
}

// retryable reports whether a request may be re-issued after an
// unreachable upstream. The first attempt consumes the body, so only
// bodyless idempotent requests qualify.
func retryable(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	return r.Body == nil || r.Body == http.NoBody
}
