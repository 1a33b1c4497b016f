// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package thread

import (
	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/identity"
)

// Reconcile binds placeholder participants to an authenticated
// principal. Every placeholder whose address matches the principal's
// address is rewritten with the principal's subject, display name,
// realm, and backend identity, and each touched thread's cross-realm
// flag is recomputed.
//
// Pure: the input set is not mutated; the returned set shares no
// participant or message slices with the input. Idempotent: once a
// placeholder is bound, a second pass with the same principal changes
// nothing. This is the only path that changes a placeholder's
// identity.
func Reconcile(threads []Thread, principal identity.Principal, principalIdentity backend.IdentityID) []Thread {
	out := make([]Thread, len(threads))
	for i := range threads {
		out[i] = copyThread(&threads[i])
		touched := false
		for j := range out[i].Participants {
			p := &out[i].Participants[j]
			if !p.Placeholder || !sameAddress(p.Address, principal.Address) {
				continue
			}
			p.Subject = principal.Subject
			p.DisplayName = principal.DisplayName
			p.Realm = principal.Realm
			p.Identity = principalIdentity
			p.External = principal.IsExternal
			p.Placeholder = false
			touched = true
		}
		if touched {
			out[i].CrossRealm = crossRealm(out[i].Participants)
		}
	}
	return out
}
