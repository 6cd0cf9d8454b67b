// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/atrium-foundation/atrium/lib/netutil"
)

// Forwarding failure taxonomy. The dispatcher maps these to client
// status codes; the underlying transport error is preserved in the
// chain for logging but never shown to the client.
var (
	// ErrTimeout: the upstream did not produce response headers
	// within the configured deadline.
	ErrTimeout = errors.New("gateway: upstream timed out")

	// ErrUpstreamUnreachable: the upstream could not be dialed or
	// refused the connection before any response bytes existed.
	ErrUpstreamUnreachable = errors.New("gateway: upstream unreachable")

	// ErrMidStream: the upstream failed after response bytes were
	// already written downstream. The response cannot be replaced at
	// that point; the client connection is aborted instead.
	ErrMidStream = errors.New("gateway: upstream failed mid-stream")
)

// hopByHopHeaders never cross the proxy in either direction. Tokens
// named by a Connection header are stripped as well.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ForwardingConfig configures the engine's shared transport. The zero
// value is usable; fields default as documented.
type ForwardingConfig struct {
	// HeaderTimeout bounds the wait for upstream response headers.
	// Defaults to 30 seconds. Does not bound body streaming: a slow
	// long download is not an error.
	HeaderTimeout time.Duration

	// MaxIdleConns and MaxIdleConnsPerHost bound the pooled idle
	// connections across and per upstream. Default 128 and 16.
	MaxIdleConns        int
	MaxIdleConnsPerHost int

	// IdleConnTimeout evicts pooled connections that have sat unused.
	// Defaults to 90 seconds.
	IdleConnTimeout time.Duration

	// DialContext overrides the transport dialer. Tests inject
	// failing or recording dialers here.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// ForwardingEngine streams requests to upstream applications over a
// shared pooled transport. Safe for concurrent use.
type ForwardingEngine struct {
	client *http.Client
	log    *slog.Logger
}

// NewForwardingEngine builds the engine and its transport. One engine
// serves all upstreams; pooling is keyed per upstream host by the
// transport itself.
func NewForwardingEngine(cfg ForwardingConfig) *ForwardingEngine {
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = 30 * time.Second
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 128
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 16
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport := &http.Transport{
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.HeaderTimeout,
	}
	if cfg.DialContext != nil {
		transport.DialContext = cfg.DialContext
	}

	return &ForwardingEngine{
		client: &http.Client{
			Transport: transport,
			// Redirects belong to the client, not the proxy: pass
			// the upstream's 3xx through untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: cfg.Logger,
	}
}

// Forward streams the request to the upstream and the response back.
// Both bodies are streamed, never buffered, so memory use is
// independent of payload size. Client disconnects cancel the upstream
// request through the request context.
//
// Returns nil on success (any upstream status, including 5xx, is a
// success for the proxy), a wrapped ErrTimeout or
// ErrUpstreamUnreachable before bytes were written downstream, or a
// wrapped ErrMidStream after.
func (e *ForwardingEngine) Forward(w http.ResponseWriter, r *http.Request, upstream *url.URL) error {
	out, err := e.outboundRequest(r, upstream)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}

	resp, err := e.client.Do(out)
	if err != nil {
		return classifyRoundTripError(r.Context(), err)
	}
	defer resp.Body.Close()

	header := w.Header()
	stripHopByHop(resp.Header)
	for name, values := range resp.Header {
		header[name] = values
	}
	w.WriteHeader(resp.StatusCode)

	if err := copyBody(w, resp.Body, isEventStream(resp.Header)); err != nil {
		if r.Context().Err() != nil {
			// The client went away; nothing left to deliver.
			e.log.Debug("client disconnected mid-response",
				"host", r.Host,
				"path", r.URL.Path)
			return nil
		}
		return fmt.Errorf("%w: %v", ErrMidStream, err)
	}
	return nil
}

// outboundRequest clones the inbound request for the upstream: target
// URL rebased onto the upstream, hop-by-hop headers stripped,
// provenance headers set.
func (e *ForwardingEngine) outboundRequest(r *http.Request, upstream *url.URL) (*http.Request, error) {
	target := *r.URL
	target.Scheme = upstream.Scheme
	target.Host = upstream.Host

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}
	out.ContentLength = r.ContentLength
	out.Header = r.Header.Clone()
	stripHopByHop(out.Header)

	// Append, never overwrite: an upstream proxy's X-Forwarded-For
	// chain stays intact.
	if clientIP := netutil.HostOnly(r.RemoteAddr); clientIP != "" {
		if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
			out.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			out.Header.Set("X-Forwarded-For", clientIP)
		}
	}
	out.Header.Set("X-Forwarded-Host", r.Host)
	if r.TLS != nil {
		out.Header.Set("X-Forwarded-Proto", "https")
	} else {
		out.Header.Set("X-Forwarded-Proto", "http")
	}
	return out, nil
}

func stripHopByHop(h http.Header) {
	// Tokens named by Connection are hop-by-hop too (RFC 7230 §6.1).
	for _, value := range h.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(token); token != "" {
				h.Del(token)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func classifyRoundTripError(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		// Client disconnect, not an upstream fault.
		return nil
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
}

func isEventStream(h http.Header) bool {
	contentType := h.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(contentType) == "text/event-stream"
}

// copyBody streams the upstream body downstream. Event streams are
// flushed after every read so individual events reach the client
// without waiting for the transport's buffer to fill.
func copyBody(w http.ResponseWriter, body io.Reader, flushEachChunk bool) error {
	flusher, canFlush := w.(http.Flusher)
	if !flushEachChunk || !canFlush {
		_, err := io.Copy(w, body)
		return err
	}

	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			flusher.Flush()
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
