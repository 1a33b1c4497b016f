// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge assembles the federated identity bridge: realm
// registry, identity and token caches, token exchange engine, thread
// membership, and the operation ledger, wired once per process and
// exposed as a library-level boundary for the transport layer.
package bridge
