// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the messaging backend capability set the
// bridge consumes — identity provisioning, token issuance, threads,
// participants, messages — together with the live HTTP implementation
// and an in-memory mock. The backend owns message durability and its
// own identity namespace; this package only talks to it.
package backend
