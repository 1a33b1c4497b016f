// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package thread owns conversation membership: thread creation with
// placeholder participants for well-known counterpart addresses,
// participant joins, message send and retrieval through the backend,
// and the reconciliation pass that binds placeholders to principals
// when a matching address authenticates. A local mirror backs reads
// during backend outages; writes always go through the backend.
package thread
