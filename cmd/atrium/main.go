// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

// Atrium is a reverse-proxy gateway that puts a single authenticated
// front door in front of a set of backend applications. Routing,
// accounts, and session settings come from one YAML file; SIGHUP
// reloads it without dropping in-flight requests.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/atrium-foundation/atrium/gateway"
	"github.com/atrium-foundation/atrium/lib/version"
	"github.com/atrium-foundation/atrium/login"
	"github.com/atrium-foundation/atrium/session"
	"github.com/atrium-foundation/atrium/webdir"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var logLevel string
	var showVersion bool

	flagSet := pflag.NewFlagSet("atrium", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (required)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("atrium %s\n", version.Info())
		return nil
	}
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", logLevel)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	config, err := gateway.LoadConfig(configPath)
	if err != nil {
		return err
	}

	key, err := session.LoadOrGenerateKey(config.KeyFile)
	if err != nil {
		return fmt.Errorf("loading session key: %w", err)
	}
	codec, err := session.NewCodec(key,
		session.WithLeeway(config.SessionLeeway.Std()))
	if err != nil {
		return fmt.Errorf("building session codec: %w", err)
	}

	logger.Info("starting atrium",
		"version", version.Info(),
		"hostname", config.Hostname,
		"apps", len(config.Apps),
		"key_fingerprint", codec.KeyFingerprint(),
	)

	table, err := buildTable(config)
	if err != nil {
		return err
	}

	users := &reloadableUsers{}
	users.replace(config.Users)

	portal, err := login.NewPortal(login.Config{
		Codec:      codec,
		Users:      users,
		CookieName: config.CookieName,
		SessionTTL: config.SessionTTL.Std(),
		LoginPath:  config.LoginPath,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("building portal: %w", err)
	}

	dispatcher := gateway.NewDispatcher(gateway.DispatcherConfig{
		Table: table,
		Gate:  gateway.NewAuthGate(codec, config.CookieName, logger),
		Engine: gateway.NewForwardingEngine(gateway.ForwardingConfig{
			HeaderTimeout: config.ForwardTimeout.Std(),
			Logger:        logger,
		}),
		Static:    webdir.New(logger),
		Portal:    portal,
		Hostname:  config.Hostname,
		LoginPath: config.LoginPath,
		Logger:    logger,
	})

	server, err := gateway.NewServer(gateway.ServerConfig{
		ListenAddress: config.Listen,
		Handler:       dispatcher,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	// SIGHUP reloads routing and accounts. The listener, key, and
	// session codec stay fixed: a key change must restart the process
	// or every outstanding cookie would be half-valid.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-reload:
			reloaded, err := gateway.LoadConfig(configPath)
			if err != nil {
				logger.Error("reload failed, keeping previous config", "error", err)
				continue
			}
			newTable, err := buildTable(reloaded)
			if err != nil {
				logger.Error("reload failed, keeping previous config", "error", err)
				continue
			}
			dispatcher.ReplaceTable(newTable)
			users.replace(reloaded.Users)
			logger.Info("configuration reloaded",
				"apps", len(reloaded.Apps),
				"users", len(reloaded.Users),
			)

		case <-ctx.Done():
			logger.Info("received shutdown signal")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		}
	}
}

func buildTable(config *gateway.Config) (*gateway.RouteTable, error) {
	rules, err := config.Rules()
	if err != nil {
		return nil, fmt.Errorf("building routes: %w", err)
	}
	table, err := gateway.BuildTable(rules)
	if err != nil {
		return nil, fmt.Errorf("building route table: %w", err)
	}
	return table, nil
}

// reloadableUsers lets SIGHUP swap the account list while the portal
// keeps a stable UserSource.
type reloadableUsers struct {
	current atomic.Pointer[login.StaticUsers]
}

func (r *reloadableUsers) replace(users []gateway.UserConfig) {
	converted := make(login.StaticUsers, 0, len(users))
	for _, user := range users {
		converted = append(converted, login.User{
			Login:        user.Login,
			PasswordHash: user.PasswordHash,
			Roles:        user.Roles,
		})
	}
	r.current.Store(&converted)
}

func (r *reloadableUsers) Lookup(name string) (login.User, bool) {
	return r.current.Load().Lookup(name)
}
