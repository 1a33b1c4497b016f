// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parley-foundation/parley/lib/clock"
)

// Memory is an in-process Store. Expiry is driven by an injected
// clock, so TTL behavior is testable without sleeping. Expired entries
// are dropped lazily on Get and swept opportunistically on Set once
// the map grows past a threshold.
type Memory struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]memoryEntry

	// sweepThreshold is the entry count above which Set triggers a
	// full sweep of expired entries. Keeps the map bounded under
	// churn without a background goroutine.
	sweepThreshold int
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory creates an in-process store using the given clock.
func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		clock:          clk,
		entries:        make(map[string]memoryEntry),
		sweepThreshold: 4096,
	}
}

// Get returns the value for key, treating expired entries as absent.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.After(m.clock.Now()) {
		delete(m.entries, key)
		return nil, false, nil
	}

	// Copy out so callers cannot mutate the stored bytes.
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true, nil
}

// Set writes value under key with the given TTL.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("store: non-positive TTL %v for key %q", ttl, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[key] = memoryEntry{
		value:     stored,
		expiresAt: m.clock.Now().Add(ttl),
	}

	if len(m.entries) > m.sweepThreshold {
		m.sweepLocked()
	}
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Close releases the store's memory.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

// Len returns the number of entries currently held, including entries
// that have expired but not yet been swept. Useful for test assertions.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// sweepLocked removes all expired entries. Caller holds m.mu.
func (m *Memory) sweepLocked() {
	now := m.clock.Now()
	for key, entry := range m.entries {
		if !entry.expiresAt.After(now) {
			delete(m.entries, key)
		}
	}
}
