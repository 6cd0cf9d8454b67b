// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/atrium-foundation/atrium/lib/testutil"
)

func upstreamURL(t *testing.T, server *httptest.Server) *url.URL {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parsing upstream URL: %v", err)
	}
	return u
}

func TestForwardPassesThrough(t *testing.T) {
	var seen *http.Request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(r.Context())
		w.Header().Set("X-App", "hello")
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, "body bytes")
	}))
	defer upstream.Close()

	engine := NewForwardingEngine(ForwardingConfig{})
	r := httptest.NewRequest("GET", "http://app.example/some/path?q=1", nil)
	w := httptest.NewRecorder()

	if err := engine.Forward(w, r, upstreamURL(t, upstream)); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTeapot)
	}
	if got := w.Header().Get("X-App"); got != "hello" {
		t.Errorf("X-App = %q, want hello", got)
	}
	if got := w.Body.String(); got != "body bytes" {
		t.Errorf("body = %q, want %q", got, "body bytes")
	}

	if seen.URL.Path != "/some/path" || seen.URL.RawQuery != "q=1" {
		t.Errorf("upstream saw %q?%q, want /some/path?q=1", seen.URL.Path, seen.URL.RawQuery)
	}
	if got := seen.Header.Get("X-Forwarded-Host"); got != "app.example" {
		t.Errorf("X-Forwarded-Host = %q, want app.example", got)
	}
	if got := seen.Header.Get("X-Forwarded-Proto"); got != "http" {
		t.Errorf("X-Forwarded-Proto = %q, want http", got)
	}
	if got := seen.Header.Get("X-Forwarded-For"); got != "192.0.2.1" {
		t.Errorf("X-Forwarded-For = %q, want the client address", got)
	}
}

func TestForwardAppendsForwardedFor(t *testing.T) {
	var got string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Forwarded-For")
	}))
	defer upstream.Close()

	engine := NewForwardingEngine(ForwardingConfig{})
	r := httptest.NewRequest("GET", "http://app.example/", nil)
	r.Header.Set("X-Forwarded-For", "198.51.100.7")

	if err := engine.Forward(httptest.NewRecorder(), r, upstreamURL(t, upstream)); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if got != "198.51.100.7, 192.0.2.1" {
		t.Errorf("X-Forwarded-For = %q, want the prior chain with the client appended", got)
	}
}

func TestForwardStripsHopByHop(t *testing.T) {
	var seen http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.Header().Set("X-Session-Hint", "secret")
		w.Header().Set("Connection", "X-Session-Hint")
		w.Header().Set("Keep-Alive", "timeout=5")
	}))
	defer upstream.Close()

	engine := NewForwardingEngine(ForwardingConfig{})
	r := httptest.NewRequest("GET", "http://app.example/", nil)
	r.Header.Set("Proxy-Authorization", "Basic xxx")
	r.Header.Set("X-Internal", "drop me")
	r.Header.Set("Connection", "X-Internal")
	w := httptest.NewRecorder()

	if err := engine.Forward(w, r, upstreamURL(t, upstream)); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	for _, name := range []string{"Proxy-Authorization", "X-Internal", "Connection"} {
		if seen.Get(name) != "" {
			t.Errorf("upstream received hop-by-hop header %s", name)
		}
	}
	for _, name := range []string{"X-Session-Hint", "Keep-Alive"} {
		if w.Header().Get(name) != "" {
			t.Errorf("client received hop-by-hop response header %s", name)
		}
	}
}

func TestForwardPassesRedirectsThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		t.Error("the proxy followed the redirect instead of passing it through")
	}))
	defer upstream.Close()

	engine := NewForwardingEngine(ForwardingConfig{})
	r := httptest.NewRequest("GET", "http://app.example/old", nil)
	w := httptest.NewRecorder()

	if err := engine.Forward(w, r, upstreamURL(t, upstream)); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if w.Code != http.StatusFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if got := w.Header().Get("Location"); got != "/new" {
		t.Errorf("Location = %q, want /new", got)
	}
}

func TestForwardUnreachable(t *testing.T) {
	// A server started then closed guarantees a port nothing listens on.
	upstream := httptest.NewServer(http.NotFoundHandler())
	target := upstreamURL(t, upstream)
	upstream.Close()

	engine := NewForwardingEngine(ForwardingConfig{})
	r := httptest.NewRequest("GET", "http://app.example/", nil)
	w := httptest.NewRecorder()

	err := engine.Forward(w, r, target)
	if !errors.Is(err, ErrUpstreamUnreachable) {
		t.Fatalf("Forward = %v, want ErrUpstreamUnreachable", err)
	}
	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Error("bytes were written downstream before the dial failed")
	}
}

func TestForwardHeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()

	engine := NewForwardingEngine(ForwardingConfig{HeaderTimeout: 50 * time.Millisecond})
	r := httptest.NewRequest("GET", "http://app.example/", nil)

	err := engine.Forward(httptest.NewRecorder(), r, upstreamURL(t, upstream))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Forward = %v, want ErrTimeout", err)
	}
}

func TestForwardMidStreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Declare more bytes than are sent; the server closes the
		// connection short and the proxy's body copy fails.
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "partial")
	}))
	defer upstream.Close()

	engine := NewForwardingEngine(ForwardingConfig{})
	r := httptest.NewRequest("GET", "http://app.example/", nil)
	w := httptest.NewRecorder()

	err := engine.Forward(w, r, upstreamURL(t, upstream))
	if !errors.Is(err, ErrMidStream) {
		t.Fatalf("Forward = %v, want ErrMidStream", err)
	}
	if w.Body.String() != "partial" {
		t.Errorf("body = %q, want the partial bytes that made it through", w.Body.String())
	}
}

func TestForwardFlushesEventStreams(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		io.WriteString(w, "data: one\n\n")
	}))
	defer upstream.Close()

	engine := NewForwardingEngine(ForwardingConfig{})
	r := httptest.NewRequest("GET", "http://app.example/events", nil)
	w := httptest.NewRecorder()

	if err := engine.Forward(w, r, upstreamURL(t, upstream)); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !w.Flushed {
		t.Error("event-stream response was not flushed per chunk")
	}
	if !strings.Contains(w.Body.String(), "data: one") {
		t.Errorf("body = %q, want the event payload", w.Body.String())
	}
}

func TestForwardClientDisconnectCancelsUpstream(t *testing.T) {
	headersSent := make(chan struct{})
	upstreamSawCancel := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		close(headersSent)
		<-r.Context().Done()
		close(upstreamSawCancel)
	}))
	defer upstream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := httptest.NewRequest("GET", "http://app.example/stream", nil).WithContext(ctx)

	engine := NewForwardingEngine(ForwardingConfig{})
	done := make(chan error, 1)
	go func() {
		done <- engine.Forward(httptest.NewRecorder(), r, upstreamURL(t, upstream))
	}()

	testutil.RequireClosed(t, headersSent, 5*time.Second, "waiting for upstream headers")
	cancel()
	testutil.RequireClosed(t, upstreamSawCancel, 5*time.Second, "upstream never observed the cancellation")

	// A disconnected client is not an upstream fault.
	if err := testutil.RequireReceive(t, done, 5*time.Second, "Forward did not return"); err != nil {
		t.Errorf("Forward after client disconnect = %v, want nil", err)
	}
}

func TestForwardStreamsRequestBody(t *testing.T) {
	var got []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
	}))
	defer upstream.Close()

	engine := NewForwardingEngine(ForwardingConfig{})
	r := httptest.NewRequest("POST", "http://app.example/upload", strings.NewReader("payload"))

	if err := engine.Forward(httptest.NewRecorder(), r, upstreamURL(t, upstream)); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("upstream received %q, want payload", got)
	}
}
