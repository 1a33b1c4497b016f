// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/exchange"
	"github.com/parley-foundation/parley/identity"
	"github.com/parley-foundation/parley/realm"
	"github.com/parley-foundation/parley/store"
)

// MockDelegate adapts a backend.Mock into an exchange.Delegate for
// demo and test wiring. Instead of an OAuth exchange at a real issuer,
// it resolves the assertion's principal against the shared cache store
// and issues a token straight from the mock, so tokens it returns are
// valid on that mock.
//
// The identity handle is read from the same store the bridge's own
// identity cache writes to; the exchange engine resolves the identity
// before invoking the delegate, so the lookup always hits.
func MockDelegate(mock *backend.Mock, cacheStore store.Store, logger *slog.Logger) (exchange.Delegate, error) {
	identities, err := identity.NewCache(identity.CacheConfig{
		Backend: mock,
		Store:   cacheStore,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}

	return exchange.DelegateFunc(func(ctx context.Context, issuingRealm realm.Realm, assertion string) (exchange.Grant, error) {
		claims, err := identity.ParseCredential(assertion)
		if err != nil {
			return exchange.Grant{}, fmt.Errorf("%w: %v", exchange.ErrDelegationDenied, err)
		}
		principal := identity.FromClaims(claims, issuingRealm, assertion)

		id, err := identities.GetOrCreate(ctx, principal)
		if err != nil {
			return exchange.Grant{}, err
		}
		token, err := mock.IssueToken(ctx, id, issuingRealm.Scopes)
		if err != nil {
			return exchange.Grant{}, err
		}
		return exchange.Grant{
			AccessToken: token.Token,
			ExpiresAt:   token.ExpiresAt,
		}, nil
	}), nil
}
