// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package realm holds the static trust-domain table: one entry per
// realm with its issuer authority and registered confidential client.
// The token exchange engine resolves the issuer claim of an inbound
// credential against this table; an unknown issuer is a hard error.
package realm
