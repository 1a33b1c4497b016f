// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	redisStore := NewRedisWithClient(client, "parley:")
	t.Cleanup(func() { redisStore.Close() })
	return server, redisStore
}

func TestRedisSetGet(t *testing.T) {
	_, redisStore := newTestRedis(t)
	ctx := context.Background()

	if err := redisStore.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, ok, err := redisStore.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || string(value) != "v" {
		t.Errorf("Get = %q, %v; want \"v\", true", value, ok)
	}
}

func TestRedisMiss(t *testing.T) {
	_, redisStore := newTestRedis(t)

	_, ok, err := redisStore.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get of absent key errored: %v", err)
	}
	if ok {
		t.Fatal("Get of absent key reported a hit")
	}
}

func TestRedisExpiry(t *testing.T) {
	server, redisStore := newTestRedis(t)
	ctx := context.Background()

	if err := redisStore.Set(ctx, "k", []byte("v"), 10*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	server.FastForward(11 * time.Minute)
	if _, ok, _ := redisStore.Get(ctx, "k"); ok {
		t.Fatal("entry survived past its TTL")
	}
}

func TestRedisKeyPrefix(t *testing.T) {
	server, redisStore := newTestRedis(t)
	ctx := context.Background()

	if err := redisStore.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !server.Exists("parley:k") {
		t.Error("key written without the configured prefix")
	}
}

func TestRedisDelete(t *testing.T) {
	_, redisStore := newTestRedis(t)
	ctx := context.Background()

	if err := redisStore.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := redisStore.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := redisStore.Get(ctx, "k"); ok {
		t.Fatal("entry survived Delete")
	}
}

func TestRedisUnavailable(t *testing.T) {
	server, redisStore := newTestRedis(t)
	server.Close()

	_, _, err := redisStore.Get(context.Background(), "k")
	if err == nil {
		t.Fatal("Get against a closed server succeeded, want error")
	}
}
