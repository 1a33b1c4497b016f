// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"testing"
	"time"

	"github.com/parley-foundation/parley/lib/clock"
)

func TestMemorySetGet(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	memory := NewMemory(fake)
	ctx := context.Background()

	if err := memory.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, ok, err := memory.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || string(value) != "v" {
		t.Errorf("Get = %q, %v; want \"v\", true", value, ok)
	}
}

func TestMemoryExpiry(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	memory := NewMemory(fake)
	ctx := context.Background()

	if err := memory.Set(ctx, "k", []byte("v"), 10*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	fake.Advance(9 * time.Minute)
	if _, ok, _ := memory.Get(ctx, "k"); !ok {
		t.Fatal("entry expired before its TTL")
	}

	fake.Advance(time.Minute)
	if _, ok, _ := memory.Get(ctx, "k"); ok {
		t.Fatal("entry survived past its TTL")
	}
}

func TestMemoryNonPositiveTTL(t *testing.T) {
	memory := NewMemory(clock.Fake(time.Now()))
	if err := memory.Set(context.Background(), "k", []byte("v"), 0); err == nil {
		t.Fatal("Set with zero TTL succeeded, want error")
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	memory := NewMemory(clock.Fake(time.Now()))
	ctx := context.Background()

	if err := memory.Set(ctx, "k", []byte("abc"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	first, _, _ := memory.Get(ctx, "k")
	first[0] = 'X'

	second, _, _ := memory.Get(ctx, "k")
	if string(second) != "abc" {
		t.Errorf("stored value mutated through a returned slice: %q", second)
	}
}

func TestMemoryDelete(t *testing.T) {
	memory := NewMemory(clock.Fake(time.Now()))
	ctx := context.Background()

	if err := memory.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := memory.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := memory.Get(ctx, "k"); ok {
		t.Fatal("entry survived Delete")
	}

	// Deleting an absent key is not an error.
	if err := memory.Delete(ctx, "absent"); err != nil {
		t.Errorf("Delete of absent key failed: %v", err)
	}
}

func TestMemorySweep(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	memory := NewMemory(fake)
	memory.sweepThreshold = 4
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d"} {
		if err := memory.Set(ctx, key, []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	fake.Advance(2 * time.Minute)

	// This Set pushes the map past the threshold and sweeps the four
	// expired entries.
	if err := memory.Set(ctx, "e", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := memory.Len(); got != 1 {
		t.Errorf("Len after sweep = %d, want 1", got)
	}
}
