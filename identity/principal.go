// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/parley-foundation/parley/realm"
)

// Principal is an authenticated user as seen by the bridge: the
// claims of their bearer credential bound to the realm that issued
// it. Request/session scoped — never persisted except through the
// identity and token caches.
type Principal struct {
	// Subject is the stable, opaque subject id within the realm.
	Subject string
	// DisplayName is the human-readable name; falls back to the
	// address, then the subject, so it is never empty.
	DisplayName string
	// Address is the principal's email-like address. May be empty.
	Address string
	// Realm is the id of the issuing realm.
	Realm realm.ID
	// IsExternal is true when the issuing realm is not the host
	// realm that owns the backend service.
	IsExternal bool
	// Credential is the raw bearer credential, carried so that
	// downstream calls can trigger a delegated exchange without
	// re-prompting the user.
	Credential string
}

// FromClaims binds parsed claims to their resolved realm.
func FromClaims(claims *Claims, issuingRealm realm.Realm, credential string) Principal {
	displayName := claims.DisplayName
	if displayName == "" {
		displayName = claims.Address
	}
	if displayName == "" {
		displayName = claims.Subject
	}
	return Principal{
		Subject:     claims.Subject,
		DisplayName: displayName,
		Address:     claims.Address,
		Realm:       issuingRealm.ID,
		IsExternal:  !issuingRealm.Host,
		Credential:  credential,
	}
}

// placeholderPrefix marks subjects synthesized from an address for
// participants that have not authenticated yet.
const placeholderPrefix = "pending-"

// PlaceholderSubject derives a deterministic subject id from an
// address, for thread participants invited by address only. The same
// address always yields the same placeholder, so reconciliation can
// match it after the real principal authenticates.
func PlaceholderSubject(address string) string {
	sum := blake3.Sum256([]byte(strings.ToLower(strings.TrimSpace(address))))
	return placeholderPrefix + hex.EncodeToString(sum[:8])
}

// IsPlaceholderSubject reports whether subject was synthesized by
// PlaceholderSubject.
func IsPlaceholderSubject(subject string) bool {
	return strings.HasPrefix(subject, placeholderPrefix)
}
