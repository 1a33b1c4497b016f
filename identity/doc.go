// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity models authenticated principals and their backend
// identity handles: typed claim parsing from bearer credentials,
// placeholder subjects for participants invited by address only, and
// the (subject, realm) → backend identity cache with at-most-once
// remote creation.
package identity
