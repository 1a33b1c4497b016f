// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package exchange is the token exchange engine: it converts a bearer
// credential issued by any configured realm into a backend access
// token, caching results per (realm, subject) and coalescing
// concurrent requests so each user costs at most one remote exchange
// per token lifetime.
package exchange
