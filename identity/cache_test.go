// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/lib/clock"
	"github.com/parley-foundation/parley/store"
)

func newTestCache(t *testing.T) (*Cache, *backend.Mock, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mock := backend.NewMock(fake)
	cache, err := NewCache(CacheConfig{
		Backend: mock,
		Store:   store.NewMemory(fake),
	})
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	return cache, mock, fake
}

func testPrincipal() Principal {
	return Principal{
		Subject:     "subject-1",
		DisplayName: "Alice",
		Address:     "alice@origin.example",
		Realm:       "origin",
		IsExternal:  true,
	}
}

func TestGetOrCreateReuses(t *testing.T) {
	cache, mock, _ := newTestCache(t)
	ctx := context.Background()

	first, err := cache.GetOrCreate(ctx, testPrincipal())
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	second, err := cache.GetOrCreate(ctx, testPrincipal())
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if first != second {
		t.Errorf("repeated GetOrCreate returned %q then %q", first, second)
	}
	if mock.CreateIdentityCalls() != 1 {
		t.Errorf("backend created %d identities, want 1", mock.CreateIdentityCalls())
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	cache, mock, _ := newTestCache(t)
	ctx := context.Background()

	const callers = 32
	results := make([]backend.IdentityID, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := cache.GetOrCreate(ctx, testPrincipal())
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			results[i] = id
		}()
	}
	wg.Wait()

	if mock.CreateIdentityCalls() != 1 {
		t.Errorf("backend created %d identities under %d concurrent callers, want 1",
			mock.CreateIdentityCalls(), callers)
	}
	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d got %q, caller 0 got %q", i, results[i], results[0])
		}
	}
}

func TestGetOrCreateDistinctKeys(t *testing.T) {
	cache, mock, _ := newTestCache(t)
	ctx := context.Background()

	alice := testPrincipal()
	sameSubjectOtherRealm := testPrincipal()
	sameSubjectOtherRealm.Realm = "host"

	first, err := cache.GetOrCreate(ctx, alice)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	second, err := cache.GetOrCreate(ctx, sameSubjectOtherRealm)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if first == second {
		t.Error("same subject in different realms shared a backend identity")
	}
	if mock.CreateIdentityCalls() != 2 {
		t.Errorf("backend created %d identities, want 2", mock.CreateIdentityCalls())
	}
}

func TestGetOrCreateTTLRefresh(t *testing.T) {
	cache, mock, fake := newTestCache(t)
	ctx := context.Background()

	if _, err := cache.GetOrCreate(ctx, testPrincipal()); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	fake.Advance(DefaultIdentityTTL + time.Minute)
	if _, err := cache.GetOrCreate(ctx, testPrincipal()); err != nil {
		t.Fatalf("GetOrCreate after TTL failed: %v", err)
	}
	if mock.CreateIdentityCalls() != 2 {
		t.Errorf("expired entry not refreshed: %d creations", mock.CreateIdentityCalls())
	}
}

func TestGetOrCreatePropagatesBackendFailure(t *testing.T) {
	cache, mock, _ := newTestCache(t)
	mock.SetUnavailable(true)

	_, err := cache.GetOrCreate(context.Background(), testPrincipal())
	if err == nil {
		t.Fatal("GetOrCreate succeeded against an unavailable backend")
	}
	if !backend.IsUnavailable(err) {
		t.Errorf("err = %v, want unavailable classification", err)
	}
}
