// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"
)

// Server runs the dispatcher behind an http.Server with sane
// timeouts. It owns the listener lifecycle; the dispatcher stays
// independently testable.
type Server struct {
	listenAddress string
	httpServer    *http.Server
	listener      net.Listener
	logger        *slog.Logger
}

// ServerConfig holds configuration for creating a new Server.
type ServerConfig struct {
	// ListenAddress is the TCP address to bind, e.g. "0.0.0.0:8080".
	ListenAddress string

	// Handler is the request entry point, normally the Dispatcher.
	Handler http.Handler

	Logger *slog.Logger
}

// NewServer creates a gateway server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.ListenAddress == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		listenAddress: config.ListenAddress,
		httpServer: &http.Server{
			Handler:     config.Handler,
			ReadTimeout: 30 * time.Second,
			// Long timeout: proxied downloads and event streams can
			// legitimately run for minutes.
			WriteTimeout: 5 * time.Minute,
		},
		logger: logger,
	}, nil
}

// Start binds the listener and begins serving in a goroutine. Signals
// readiness to systemd once the listener is bound.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listenAddress, err)
	}
	s.listener = listener

	s.logger.Info("gateway started", "address", listener.Addr().String())

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
		}
	}()

	// No-op outside systemd.
	notifySystemd("READY=1")

	return nil
}

// Addr returns the bound listener address. Useful when the configured
// port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.listenAddress
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gateway")
	notifySystemd("STOPPING=1")
	return s.httpServer.Shutdown(ctx)
}

// notifySystemd sends a notification to systemd's sd_notify socket.
// Does nothing if NOTIFY_SOCKET is not set.
func notifySystemd(state string) {
	socketPath := os.Getenv("NOTIFY_SOCKET")
	if socketPath == "" {
		return
	}

	conn, err := net.Dial("unixgram", socketPath)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.Write([]byte(state))
}
