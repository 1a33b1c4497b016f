// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides deterministic CBOR encoding for cache store
// records (identity handles, exchanged tokens). Consumers import only
// this package, not the CBOR library directly.
package codec
