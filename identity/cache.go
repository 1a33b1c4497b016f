// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/lib/codec"
	"github.com/parley-foundation/parley/realm"
	"github.com/parley-foundation/parley/store"
)

// DefaultIdentityTTL bounds how long a cached backend identity handle
// is trusted before it is re-confirmed. Backend identities do not
// expire in practice; the TTL is a defensive refresh, chosen to be
// safely shorter than any backend-side identity expiry policy.
const DefaultIdentityTTL = 24 * time.Hour

// CacheConfig holds configuration for creating a Cache.
type CacheConfig struct {
	// Backend creates identities on a miss.
	Backend backend.Service
	// Store persists the (subject, realm) → identity mapping.
	Store store.Store
	// TTL overrides DefaultIdentityTTL when positive.
	TTL time.Duration
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Cache maps (subject, realm) to the backend identity handle created
// for that principal. One backend identity is created lazily per
// subject and reused for the process lifetime, decoupling who the
// user is from what token they currently hold.
//
// The backend has no create-if-absent primitive, so concurrent misses
// for the same key are coalesced through a singleflight group: N
// concurrent callers produce at most one remote identity creation.
type Cache struct {
	backend backend.Service
	store   store.Store
	ttl     time.Duration
	logger  *slog.Logger
	group   singleflight.Group
}

// identityRecord is the store representation of a cached handle.
type identityRecord struct {
	Identity string `cbor:"1,keyasint"`
}

// NewCache creates an identity cache.
func NewCache(config CacheConfig) (*Cache, error) {
	if config.Backend == nil {
		return nil, fmt.Errorf("identity: Backend is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("identity: Store is required")
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultIdentityTTL
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		backend: config.Backend,
		store:   config.Store,
		ttl:     ttl,
		logger:  logger,
	}, nil
}

// GetOrCreate returns the backend identity handle for the principal,
// creating it on first use. A store read failure degrades to a miss
// (logged, never masked as success); a failed backend creation
// propagates to the caller — the cache never hides failures behind a
// stale or empty value.
func (c *Cache) GetOrCreate(ctx context.Context, principal Principal) (backend.IdentityID, error) {
	key := cacheKey(principal.Subject, principal.Realm)

	if id, ok := c.lookup(ctx, key); ok {
		return id, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// populated the store between our miss and winning the flight.
		if id, ok := c.lookup(ctx, key); ok {
			return id, nil
		}

		id, err := c.backend.CreateIdentity(ctx, principal.DisplayName)
		if err != nil {
			return nil, fmt.Errorf("identity: creating backend identity for %s@%s: %w",
				principal.Subject, principal.Realm, err)
		}

		record, encodeErr := codec.Marshal(identityRecord{Identity: id.String()})
		if encodeErr == nil {
			encodeErr = c.store.Set(ctx, key, record, c.ttl)
		}
		if encodeErr != nil {
			// The identity exists; failing the caller now would orphan
			// it and retry creation. Log and serve the live handle.
			c.logger.Warn("identity cache write failed",
				"subject", principal.Subject,
				"realm", principal.Realm,
				"error", encodeErr,
			)
		}

		c.logger.Info("created backend identity",
			"subject", principal.Subject,
			"realm", principal.Realm,
			"identity", id,
		)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return result.(backend.IdentityID), nil
}

// lookup reads the store, treating store failures as misses.
func (c *Cache) lookup(ctx context.Context, key string) (backend.IdentityID, bool) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("identity cache read failed", "key", key, "error", err)
		return "", false
	}
	if !ok {
		return "", false
	}

	var record identityRecord
	if err := codec.Unmarshal(data, &record); err != nil {
		c.logger.Warn("identity cache entry corrupt, discarding", "key", key, "error", err)
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("identity cache delete failed", "key", key, "error", err)
		}
		return "", false
	}
	return backend.IdentityID(record.Identity), true
}

// cacheKey builds the store key for a (subject, realm) pair.
func cacheKey(subject string, realmID realm.ID) string {
	return "identity|" + realmID.String() + "|" + subject
}
