// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/identity"
	"github.com/parley-foundation/parley/lib/clock"
	"github.com/parley-foundation/parley/lib/codec"
	"github.com/parley-foundation/parley/realm"
	"github.com/parley-foundation/parley/store"
	"github.com/parley-foundation/parley/track"
)

// DefaultSafetyMargin is subtracted from a cached token's remaining
// lifetime before serving it: a token within the margin of expiry is
// treated as already expired, so callers never receive a token that
// expires mid-request.
const DefaultSafetyMargin = 10 * time.Minute

// minCacheTTL is the floor applied to the cache TTL when the margin
// calculation yields a non-positive duration.
const minCacheTTL = 10 * time.Minute

// ExchangedToken is the result of an exchange: a backend access token
// bound to the backend identity it was minted for.
type ExchangedToken struct {
	AccessToken string
	Identity    backend.IdentityID
	ExpiresAt   time.Time
}

// EngineConfig holds configuration for creating an Engine.
type EngineConfig struct {
	// Registry resolves credential issuers to realms.
	Registry *realm.Registry
	// Identities maps principals to backend identity handles.
	Identities *identity.Cache
	// Backend issues tokens directly for host-realm principals.
	Backend backend.Service
	// Delegate performs the delegated exchange for external
	// principals.
	Delegate Delegate
	// Store caches exchanged tokens keyed by (realm, subject).
	Store store.Store
	// SafetyMargin overrides DefaultSafetyMargin when positive.
	SafetyMargin time.Duration
	// Clock is the time source. If nil, the real clock is used.
	Clock clock.Clock
	// Tracker records the exchange in the operation ledger. Optional.
	Tracker *track.Tracker
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Engine converts an origin-realm bearer credential into a backend
// access token. The flow is: parse claims, resolve the issuing realm,
// consult the token cache, and on a miss mint a fresh token (directly
// from the backend for host-realm principals, via delegated exchange
// at the origin issuer for external ones) and cache it with a TTL
// derived from the token's own expiry.
//
// Concurrent misses for the same (realm, subject) are coalesced
// through a singleflight group, so a burst of requests for one user
// performs at most one remote exchange.
type Engine struct {
	registry     *realm.Registry
	identities   *identity.Cache
	backend      backend.Service
	delegate     Delegate
	store        store.Store
	safetyMargin time.Duration
	clock        clock.Clock
	tracker      *track.Tracker
	logger       *slog.Logger
	group        singleflight.Group
}

// tokenRecord is the store representation of a cached token.
type tokenRecord struct {
	Token     string `cbor:"1,keyasint"`
	Identity  string `cbor:"2,keyasint"`
	ExpiresAt int64  `cbor:"3,keyasint"`
}

// NewEngine creates a token exchange engine.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Registry == nil {
		return nil, fmt.Errorf("exchange: Registry is required")
	}
	if config.Identities == nil {
		return nil, fmt.Errorf("exchange: Identities is required")
	}
	if config.Backend == nil {
		return nil, fmt.Errorf("exchange: Backend is required")
	}
	if config.Delegate == nil {
		return nil, fmt.Errorf("exchange: Delegate is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("exchange: Store is required")
	}

	margin := config.SafetyMargin
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		registry:     config.Registry,
		identities:   config.Identities,
		backend:      config.Backend,
		delegate:     config.Delegate,
		store:        config.Store,
		safetyMargin: margin,
		clock:        clk,
		tracker:      config.Tracker,
		logger:       logger,
	}, nil
}

// Exchange converts a bearer credential into a backend access token.
// Idempotent while the cached token stays outside the safety margin:
// repeated calls with the same credential return the same token with
// no remote traffic. Returns identity.ErrMalformedCredential,
// realm.ErrUnknownRealm, ErrDelegationDenied, or
// backend.ErrUnavailable as appropriate; all are inspectable with
// errors.Is.
func (e *Engine) Exchange(ctx context.Context, credential string) (ExchangedToken, error) {
	op := e.startOperation()

	claims, err := identity.ParseCredential(credential)
	if err != nil {
		e.step(op, "parse_credential", "parse bearer credential claims", false, nil, err)
		e.complete(op, false, err)
		return ExchangedToken{}, err
	}

	issuingRealm, err := e.registry.Resolve(claims.Issuer)
	if err != nil {
		e.step(op, "resolve_realm", "resolve issuer to realm", false,
			map[string]string{"issuer": claims.Issuer}, err)
		e.complete(op, false, err)
		return ExchangedToken{}, err
	}
	e.annotate(op, claims.Subject, issuingRealm.ID)
	e.step(op, "resolve_realm", "resolve issuer to realm", true,
		map[string]string{"realm": issuingRealm.ID.String()}, nil)

	key := tokenKey(issuingRealm.ID, claims.Subject)
	if token, ok := e.cachedToken(ctx, key); ok {
		e.step(op, "token_cache", "serve cached token", true, nil, nil)
		e.complete(op, true, nil)
		return token, nil
	}

	result, err, _ := e.group.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// cached a token between our miss and winning the flight.
		if token, ok := e.cachedToken(ctx, key); ok {
			return token, nil
		}
		return e.mint(ctx, op, claims, issuingRealm, credential, key)
	})
	if err != nil {
		e.complete(op, false, err)
		return ExchangedToken{}, err
	}

	e.complete(op, true, nil)
	return result.(ExchangedToken), nil
}

// mint creates a fresh token for the principal: backend identity
// first, then either the direct issue path (host realm) or the
// delegated exchange path (external realm), then the cache write.
func (e *Engine) mint(
	ctx context.Context,
	op track.OperationID,
	claims *identity.Claims,
	issuingRealm realm.Realm,
	credential string,
	key string,
) (ExchangedToken, error) {
	principal := identity.FromClaims(claims, issuingRealm, credential)

	identityID, err := e.identities.GetOrCreate(ctx, principal)
	if err != nil {
		e.step(op, "backend_identity", "resolve backend identity", false, nil, err)
		return ExchangedToken{}, err
	}
	e.step(op, "backend_identity", "resolve backend identity", true,
		map[string]string{"identity": identityID.String()}, nil)

	var token ExchangedToken
	if principal.IsExternal {
		grant, err := e.delegate.Exchange(ctx, issuingRealm, credential)
		if err != nil {
			e.step(op, "delegated_exchange", "exchange credential at origin issuer", false, nil, err)
			return ExchangedToken{}, err
		}
		e.step(op, "delegated_exchange", "exchange credential at origin issuer", true, nil, nil)
		token = ExchangedToken{
			AccessToken: grant.AccessToken,
			Identity:    identityID,
			ExpiresAt:   grant.ExpiresAt,
		}
	} else {
		issued, err := e.backend.IssueToken(ctx, identityID, issuingRealm.Scopes)
		if err != nil {
			e.step(op, "direct_issue", "issue token from backend", false, nil, err)
			return ExchangedToken{}, err
		}
		e.step(op, "direct_issue", "issue token from backend", true, nil, nil)
		token = ExchangedToken{
			AccessToken: issued.Token,
			Identity:    identityID,
			ExpiresAt:   issued.ExpiresAt,
		}
	}

	e.cacheToken(ctx, key, token)

	e.logger.Info("exchanged token",
		"subject", claims.Subject,
		"realm", issuingRealm.ID,
		"external", principal.IsExternal,
		"expires_at", token.ExpiresAt,
	)
	return token, nil
}

// cachedToken reads the token cache, applying the safety margin: a
// token within the margin of expiry is a miss. Store failures and
// corrupt entries degrade to misses.
func (e *Engine) cachedToken(ctx context.Context, key string) (ExchangedToken, bool) {
	data, ok, err := e.store.Get(ctx, key)
	if err != nil {
		e.logger.Warn("token cache read failed", "key", key, "error", err)
		return ExchangedToken{}, false
	}
	if !ok {
		return ExchangedToken{}, false
	}

	var record tokenRecord
	if err := codec.Unmarshal(data, &record); err != nil {
		e.logger.Warn("token cache entry corrupt, discarding", "key", key, "error", err)
		if err := e.store.Delete(ctx, key); err != nil {
			e.logger.Warn("token cache delete failed", "key", key, "error", err)
		}
		return ExchangedToken{}, false
	}

	expiresAt := time.Unix(record.ExpiresAt, 0)
	// The store's own TTL already accounts for the margin, but the
	// margin is re-checked here so a backing store with coarser expiry
	// (or an operator-tuned margin) can never serve a token that is
	// about to expire.
	if !e.clock.Now().Add(e.safetyMargin).Before(expiresAt) {
		return ExchangedToken{}, false
	}

	return ExchangedToken{
		AccessToken: record.Token,
		Identity:    backend.IdentityID(record.Identity),
		ExpiresAt:   expiresAt,
	}, true
}

// cacheToken writes a freshly minted token to the cache. The TTL is
// the token's remaining lifetime minus the safety margin, floored at
// minCacheTTL. A write failure is logged, never surfaced: the caller
// holds a valid token either way.
func (e *Engine) cacheToken(ctx context.Context, key string, token ExchangedToken) {
	ttl := token.ExpiresAt.Sub(e.clock.Now()) - e.safetyMargin
	if ttl <= 0 {
		ttl = minCacheTTL
	}

	record, err := codec.Marshal(tokenRecord{
		Token:     token.AccessToken,
		Identity:  token.Identity.String(),
		ExpiresAt: token.ExpiresAt.Unix(),
	})
	if err == nil {
		err = e.store.Set(ctx, key, record, ttl)
	}
	if err != nil {
		e.logger.Warn("token cache write failed", "key", key, "error", err)
	}
}

// Tracker hooks. All tolerate a nil tracker so the engine can run
// without a ledger in tests.

func (e *Engine) startOperation() track.OperationID {
	if e.tracker == nil {
		return ""
	}
	return e.tracker.Start("token_exchange", "exchange bearer credential for backend token", "", "")
}

func (e *Engine) annotate(op track.OperationID, subject string, realmID realm.ID) {
	if e.tracker == nil {
		return
	}
	e.tracker.Annotate(op, subject, realmID.String())
}

func (e *Engine) step(op track.OperationID, name, description string, success bool, metadata map[string]string, err error) {
	if e.tracker == nil {
		return
	}
	e.tracker.AddStep(op, name, description, success, metadata, err)
}

func (e *Engine) complete(op track.OperationID, success bool, err error) {
	if e.tracker == nil {
		return
	}
	e.tracker.Complete(op, success, err)
}

// tokenKey builds the cache key for a (realm, subject) pair.
func tokenKey(realmID realm.ID, subject string) string {
	return "token|" + realmID.String() + "|" + subject
}
