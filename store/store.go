// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"time"
)

// Store is a key/value cache with per-entry TTL. The identity cache and
// the token cache are both built on it; implementations exist for
// process memory (the default) and Redis (shared across processes).
//
// A Store never resurrects expired entries: Get on an expired key
// behaves exactly like Get on an absent key. Values are opaque bytes —
// callers encode their records with lib/codec.
type Store interface {
	// Get returns the value for key. The second return is false when
	// the key is absent or expired. An error indicates the store
	// itself failed (e.g. Redis unreachable), not a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set writes value under key with the given TTL. A non-positive
	// TTL is invalid — entries in this system always have a bounded
	// lifetime.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
