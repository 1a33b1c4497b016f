// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package thread

import (
	"errors"
	"strings"
	"time"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/realm"
)

// ErrThreadNotFound is returned when an operation references a thread
// absent from both the local mirror and the backend. Fatal for that
// call.
var ErrThreadNotFound = errors.New("thread: not found")

// Participant is one member of a thread. Either bound (Subject is a
// real principal, Identity is its backend handle) or a placeholder
// (Subject synthesized from Address, no backend identity yet).
// A thread holds at most one participant per address.
type Participant struct {
	// Subject is the principal's subject id, or a synthesized
	// placeholder id for participants known only by address.
	Subject string
	// DisplayName is shown in participant lists and system messages.
	DisplayName string
	// Address is the participant's email-like address. The dedupe and
	// reconciliation key.
	Address string
	// Realm is the issuing realm of a bound participant; empty for
	// placeholders.
	Realm realm.ID
	// Identity is the backend identity handle; empty for placeholders.
	Identity backend.IdentityID
	// External is true when the participant's realm is not the host
	// realm. Placeholders are presumed external until reconciled.
	External bool
	// Placeholder is true until reconciliation binds a real principal.
	Placeholder bool
}

// Thread is the local mirror of one conversation thread: the backend
// owns the authoritative message log, the mirror carries membership
// and a read fallback for backend outages.
type Thread struct {
	ID           backend.ThreadID
	Topic        string
	Creator      string
	CreatedAt    time.Time
	CrossRealm   bool
	Participants []Participant
	// Messages is the local message mirror, oldest first. Served only
	// when the backend read path is unavailable.
	Messages []backend.Message
}

// crossRealm reports whether any participant is outside the host
// realm. Placeholders count: a member known only by address has not
// authenticated at the host, so the thread must be treated as
// cross-realm until reconciliation proves otherwise.
func crossRealm(participants []Participant) bool {
	for _, p := range participants {
		if p.External || p.Placeholder {
			return true
		}
	}
	return false
}

// hasAddress reports whether any participant carries the address,
// case-insensitively.
func hasAddress(participants []Participant, address string) bool {
	for _, p := range participants {
		if sameAddress(p.Address, address) {
			return true
		}
	}
	return false
}

// sameAddress compares addresses the way reconciliation matches them.
func sameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// copyThread returns a deep copy safe to hand to callers.
func copyThread(t *Thread) Thread {
	out := *t
	out.Participants = make([]Participant, len(t.Participants))
	copy(out.Participants, t.Participants)
	out.Messages = make([]backend.Message, len(t.Messages))
	copy(out.Messages, t.Messages)
	return out
}
