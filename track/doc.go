// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package track is the append-only operation ledger: every multi-step
// cross-realm operation (token exchange, thread creation, message
// send) is recorded with its steps for audit and diagnostics. The
// ledger is deliberately off the critical path (tracking never fails
// the operation it describes) and is not durable across restarts.
package track
