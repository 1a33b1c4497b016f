// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Command parley runs the federated identity bridge.
//
// Subcommands:
//
//	serve    run the bridge against the live backend service
//	demo     run the built-in scenario against an in-memory backend
//	version  print version information
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/bridge"
	"github.com/parley-foundation/parley/exchange"
	"github.com/parley-foundation/parley/lib/clock"
	"github.com/parley-foundation/parley/lib/config"
	"github.com/parley-foundation/parley/realm"
	"github.com/parley-foundation/parley/store"
	"github.com/parley-foundation/parley/thread"
)

const version = "0.3.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch os.Args[1] {
	case "serve":
		return runServe(os.Args[2:])
	case "demo":
		return runDemo(os.Args[2:])
	case "version":
		fmt.Printf("parley %s\n", version)
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", os.Args[1])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: parley <subcommand> [flags]

Subcommands:
  serve     Run the bridge against the live backend service
  demo      Run the built-in scenario against an in-memory backend
  version   Print version information

Run 'parley <subcommand> --help' for subcommand flags.
`)
}

// runServe wires the live bridge: HTTP backend client, OAuth delegated
// exchange, Redis or in-memory cache store, and the diagnostics
// listener. Blocks until SIGINT/SIGTERM.
func runServe(args []string) error {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to parley.yaml (overrides PARLEY_CONFIG)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	registry, err := realm.NewRegistry(cfg.Realms)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cacheStore store.Store
	if cfg.Cache.RedisURL != "" {
		cacheStore, err = store.NewRedis(ctx, cfg.Cache.RedisURL, cfg.Cache.KeyPrefix)
		if err != nil {
			return err
		}
	} else {
		cacheStore = store.NewMemory(clock.Real())
	}

	backendService, err := backend.NewHTTPService(backend.HTTPConfig{
		BaseURL:      cfg.Backend.BaseURL,
		ServiceToken: cfg.Backend.ServiceToken,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	delegate := exchange.NewHTTPDelegate(exchange.HTTPDelegateConfig{Logger: logger})

	b, err := bridge.New(bridge.Config{
		Registry:             registry,
		Backend:              backendService,
		Delegate:             delegate,
		Store:                cacheStore,
		IdentityTTL:          cfg.Cache.IdentityTTL.Std(),
		SafetyMargin:         cfg.Cache.SafetyMargin.Std(),
		CounterpartAddresses: cfg.Threads.CounterpartAddresses,
		UnrestrictedListing:  cfg.Threads.UnrestrictedListing,
		LedgerCapacity:       cfg.Diagnostics.LedgerCapacity,
		Logger:               logger,
	})
	if err != nil {
		return err
	}
	defer b.Close()

	logger.Info("bridge ready",
		"realms", registry.IDs(),
		"backend", cfg.Backend.BaseURL,
		"diagnostics", cfg.Diagnostics.Listen,
	)

	if cfg.Diagnostics.Listen != "" {
		server := &http.Server{
			Addr:              cfg.Diagnostics.Listen,
			Handler:           b.DiagnosticsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("diagnostics listener failed", "error", err)
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// runDemo runs the reference scenario against an in-memory backend:
// alice from the origin realm creates a thread, sends a message, and
// the results are printed along with the operation ledger.
func runDemo(args []string) error {
	flags := pflag.NewFlagSet("demo", pflag.ContinueOnError)
	topic := flags.String("topic", "demo", "topic for the created thread")
	message := flags.String("message", "hello", "message for alice to send")
	if err := flags.Parse(args); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	registry, err := realm.NewRegistry([]realm.Realm{
		{
			ID:           "origin",
			Issuer:       "https://login.origin.example/v2",
			ClientID:     "origin-client",
			ClientSecret: "origin-secret",
			Scopes:       []string{"https://backend.example/.default"},
		},
		{
			ID:           "host",
			Issuer:       "https://login.host.example/v2",
			ClientID:     "host-client",
			ClientSecret: "host-secret",
			Scopes:       []string{"https://backend.example/.default"},
			Host:         true,
		},
	})
	if err != nil {
		return err
	}

	clk := clock.Real()
	mock := backend.NewMock(clk)
	memory := store.NewMemory(clk)

	delegate, err := bridge.MockDelegate(mock, memory, logger)
	if err != nil {
		return err
	}

	b, err := bridge.New(bridge.Config{
		Registry:             registry,
		Backend:              mock,
		Delegate:             delegate,
		Store:                memory,
		CounterpartAddresses: []string{"bob@host.example", "carol@remote.example"},
		Logger:               logger,
	})
	if err != nil {
		return err
	}
	defer b.Close()

	ctx := context.Background()
	alice, err := demoCredential("https://login.origin.example/v2", "alice-subject", "Alice", "alice@origin.example")
	if err != nil {
		return err
	}

	created, err := b.CreateThread(ctx, *topic, alice, thread.CreateOptions{})
	if err != nil {
		return err
	}
	fmt.Printf("thread %s (%q) cross-realm=%v\n", created.ID, created.Topic, created.CrossRealm)
	for _, p := range created.Participants {
		kind := "bound"
		if p.Placeholder {
			kind = "placeholder"
		}
		fmt.Printf("  participant %-11s %s <%s>\n", kind, p.DisplayName, p.Address)
	}

	if _, err := b.SendMessage(ctx, created.ID, *message, alice); err != nil {
		return err
	}

	messages, err := b.ListMessages(ctx, created.ID)
	if err != nil {
		return err
	}
	fmt.Println("messages:")
	for _, m := range messages {
		marker := " "
		if m.System {
			marker = "*"
		}
		fmt.Printf("  %s %s: %s\n", marker, m.SenderName, m.Body)
	}

	fmt.Println("operations:")
	for _, operation := range b.Operations().All() {
		status := "ok"
		if !operation.Success {
			status = "failed: " + operation.Error
		}
		fmt.Printf("  %-15s %-14s %d steps  %s\n", operation.Type, operation.Subject, len(operation.Steps), status)
	}
	return nil
}

// demoCredential mints a bearer credential for the demo. Only the
// claims matter; the bridge reads them without signature verification.
func demoCredential(issuer, subject, name, email string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   issuer,
		"sub":   subject,
		"name":  name,
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("parley-demo"))
}
