// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package store provides the TTL key/value cache backing the identity
// and token caches: an in-process implementation for single-replica
// deployments and tests, and a Redis implementation for shared caches.
package store
