// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/exchange"
	"github.com/parley-foundation/parley/identity"
	"github.com/parley-foundation/parley/lib/clock"
	"github.com/parley-foundation/parley/realm"
	"github.com/parley-foundation/parley/store"
	"github.com/parley-foundation/parley/thread"
	"github.com/parley-foundation/parley/track"
)

// Config holds configuration for creating a Bridge. Registry, Backend,
// Delegate, and Store carry no defaults: the caller chooses the live
// or mock implementation once at wiring, and business logic never
// branches on which one it received.
type Config struct {
	// Registry is the realm registry.
	Registry *realm.Registry
	// Backend is the backend messaging service client.
	Backend backend.Service
	// Delegate performs delegated exchange for external principals.
	Delegate exchange.Delegate
	// Store backs the identity and token caches.
	Store store.Store
	// IdentityTTL bounds cached identity handles. Zero uses the
	// identity package default.
	IdentityTTL time.Duration
	// SafetyMargin is reserved from token lifetimes. Zero uses the
	// exchange package default.
	SafetyMargin time.Duration
	// CounterpartAddresses become placeholder participants on every
	// new thread.
	CounterpartAddresses []string
	// UnrestrictedListing disables membership filtering in listing.
	UnrestrictedListing bool
	// LedgerCapacity bounds the operation ledger. Zero uses the track
	// package default.
	LedgerCapacity int
	// Clock is the time source. If nil, the real clock is used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Bridge is the composition root: the full federated identity bridge
// assembled once per process, exposing the operation set consumed by
// the transport layer. No ambient statics; every component is
// constructed here and owned by the Bridge.
type Bridge struct {
	registry *realm.Registry
	engine   *exchange.Engine
	threads  *thread.Service
	tracker  *track.Tracker
	store    store.Store
	logger   *slog.Logger
}

// New wires a Bridge from its parts.
func New(config Config) (*Bridge, error) {
	if config.Registry == nil {
		return nil, fmt.Errorf("bridge: Registry is required")
	}
	if config.Backend == nil {
		return nil, fmt.Errorf("bridge: Backend is required")
	}
	if config.Delegate == nil {
		return nil, fmt.Errorf("bridge: Delegate is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("bridge: Store is required")
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracker := track.NewTracker(track.TrackerConfig{
		Clock:    clk,
		Capacity: config.LedgerCapacity,
		Logger:   logger,
	})

	identities, err := identity.NewCache(identity.CacheConfig{
		Backend: config.Backend,
		Store:   config.Store,
		TTL:     config.IdentityTTL,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}

	engine, err := exchange.NewEngine(exchange.EngineConfig{
		Registry:     config.Registry,
		Identities:   identities,
		Backend:      config.Backend,
		Delegate:     config.Delegate,
		Store:        config.Store,
		SafetyMargin: config.SafetyMargin,
		Clock:        clk,
		Tracker:      tracker,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}

	threads, err := thread.NewService(thread.ServiceConfig{
		Backend:              config.Backend,
		Exchanger:            engine,
		CounterpartAddresses: config.CounterpartAddresses,
		UnrestrictedListing:  config.UnrestrictedListing,
		Clock:                clk,
		Tracker:              tracker,
		Logger:               logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}

	return &Bridge{
		registry: config.Registry,
		engine:   engine,
		threads:  threads,
		tracker:  tracker,
		store:    config.Store,
		logger:   logger,
	}, nil
}

// Authenticate parses a bearer credential and binds it to its issuing
// realm, producing the principal the thread operations act as. No
// remote calls; the credential's signature is assumed verified by the
// transport that accepted the login.
func (b *Bridge) Authenticate(credential string) (identity.Principal, error) {
	claims, err := identity.ParseCredential(credential)
	if err != nil {
		return identity.Principal{}, err
	}
	issuingRealm, err := b.registry.Resolve(claims.Issuer)
	if err != nil {
		return identity.Principal{}, err
	}
	return identity.FromClaims(claims, issuingRealm, credential), nil
}

// Exchange converts a bearer credential into a backend access token.
func (b *Bridge) Exchange(ctx context.Context, credential string) (exchange.ExchangedToken, error) {
	return b.engine.Exchange(ctx, credential)
}

// CreateThread creates a thread owned by the credential's principal.
func (b *Bridge) CreateThread(ctx context.Context, topic, credential string, options thread.CreateOptions) (thread.Thread, error) {
	principal, err := b.Authenticate(credential)
	if err != nil {
		return thread.Thread{}, err
	}
	return b.threads.CreateThread(ctx, topic, principal, options)
}

// AddParticipant adds the credential's principal to a thread.
func (b *Bridge) AddParticipant(ctx context.Context, threadID backend.ThreadID, credential string) error {
	principal, err := b.Authenticate(credential)
	if err != nil {
		return err
	}
	return b.threads.AddParticipant(ctx, threadID, principal)
}

// SendMessage posts a message as the credential's principal.
func (b *Bridge) SendMessage(ctx context.Context, threadID backend.ThreadID, body, credential string) (backend.MessageID, error) {
	principal, err := b.Authenticate(credential)
	if err != nil {
		return "", err
	}
	return b.threads.SendMessage(ctx, threadID, body, principal)
}

// ListMessages returns a thread's messages, oldest first.
func (b *Bridge) ListMessages(ctx context.Context, threadID backend.ThreadID) ([]backend.Message, error) {
	return b.threads.ListMessages(ctx, threadID)
}

// ListThreadsFor returns the threads visible to the credential's
// principal, reconciling placeholder participants first.
func (b *Bridge) ListThreadsFor(ctx context.Context, credential string) ([]thread.Thread, error) {
	principal, err := b.Authenticate(credential)
	if err != nil {
		return nil, err
	}
	return b.threads.ListThreadsFor(ctx, principal)
}

// Operations exposes the operation ledger for diagnostics.
func (b *Bridge) Operations() *track.Tracker {
	return b.tracker
}

// DiagnosticsHandler serves the operation ledger API.
func (b *Bridge) DiagnosticsHandler() http.Handler {
	return track.Handler(b.tracker)
}

// Close releases the cache store.
func (b *Bridge) Close() error {
	return b.store.Close()
}
