// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package thread

import (
	"testing"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/identity"
)

func placeholderThread() Thread {
	return Thread{
		ID:      "19:thread-1",
		Topic:   "demo",
		Creator: "carol-subject",
		Participants: []Participant{
			{
				Subject:     "carol-subject",
				DisplayName: "Carol",
				Address:     "carol@host.example",
				Realm:       "host",
			},
			{
				Subject:     identity.PlaceholderSubject("bob@host.example"),
				DisplayName: "bob@host.example",
				Address:     "bob@host.example",
				External:    true,
				Placeholder: true,
			},
		},
		CrossRealm: true,
	}
}

func bobHostPrincipal() identity.Principal {
	return identity.Principal{
		Subject:     "bob-subject",
		DisplayName: "Bob",
		Address:     "bob@host.example",
		Realm:       "host",
		IsExternal:  false,
	}
}

func TestReconcileBindsPlaceholder(t *testing.T) {
	threads := []Thread{placeholderThread()}

	updated := Reconcile(threads, bobHostPrincipal(), backend.IdentityID("8:parley:bob"))

	if len(updated) != 1 || len(updated[0].Participants) != 2 {
		t.Fatalf("updated = %+v", updated)
	}
	bob := updated[0].Participants[1]
	if bob.Placeholder {
		t.Error("placeholder not bound")
	}
	if bob.Subject != "bob-subject" || bob.DisplayName != "Bob" || bob.Realm != "host" {
		t.Errorf("bound participant = %+v", bob)
	}
	if bob.Identity != "8:parley:bob" {
		t.Errorf("identity = %q", bob.Identity)
	}
	if updated[0].CrossRealm {
		t.Error("cross-realm flag not recomputed after binding a host principal")
	}
}

func TestReconcileCaseInsensitiveAddress(t *testing.T) {
	principal := bobHostPrincipal()
	principal.Address = "BOB@Host.Example"

	updated := Reconcile([]Thread{placeholderThread()}, principal, "8:parley:bob")
	if updated[0].Participants[1].Placeholder {
		t.Error("address match must be case-insensitive")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	once := Reconcile([]Thread{placeholderThread()}, bobHostPrincipal(), "8:parley:bob")
	twice := Reconcile(once, bobHostPrincipal(), "8:parley:bob")

	if len(twice) != len(once) {
		t.Fatalf("thread count changed: %d vs %d", len(twice), len(once))
	}
	for i := range once {
		if len(twice[i].Participants) != len(once[i].Participants) {
			t.Fatalf("participant count changed on second pass")
		}
		for j := range once[i].Participants {
			if twice[i].Participants[j] != once[i].Participants[j] {
				t.Errorf("participant %d/%d changed on second pass: %+v vs %+v",
					i, j, twice[i].Participants[j], once[i].Participants[j])
			}
		}
	}
}

func TestReconcileDoesNotMutateInput(t *testing.T) {
	input := []Thread{placeholderThread()}

	Reconcile(input, bobHostPrincipal(), "8:parley:bob")

	if !input[0].Participants[1].Placeholder {
		t.Error("input thread set was mutated")
	}
	if !input[0].CrossRealm {
		t.Error("input cross-realm flag was mutated")
	}
}

func TestReconcileIgnoresOtherAddresses(t *testing.T) {
	principal := identity.Principal{
		Subject: "eve-subject",
		Address: "eve@elsewhere.example",
		Realm:   "origin",
	}

	updated := Reconcile([]Thread{placeholderThread()}, principal, "8:parley:eve")
	if !updated[0].Participants[1].Placeholder {
		t.Error("placeholder bound to a non-matching address")
	}
}
