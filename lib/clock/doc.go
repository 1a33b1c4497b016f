// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that TTL and
// expiry logic (identity cache, token cache, in-memory store) can be
// tested deterministically without sleeping.
package clock
