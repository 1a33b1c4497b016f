// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package track

import (
	"errors"
	"testing"
	"time"

	"github.com/parley-foundation/parley/lib/clock"
)

func newTestTracker() (*Tracker, *clock.FakeClock) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewTracker(TrackerConfig{Clock: fake}), fake
}

func TestOperationLifecycle(t *testing.T) {
	tracker, fake := newTestTracker()

	id := tracker.Start("token_exchange", "exchange bearer credential", "subject-1", "origin")
	tracker.AddStep(id, "resolve_realm", "resolved issuer to realm", true,
		map[string]string{"realm": "origin"}, nil)
	fake.Advance(time.Second)
	tracker.Complete(id, true, nil)

	operation, ok := tracker.Get(id)
	if !ok {
		t.Fatal("operation not found after Complete")
	}
	if !operation.Completed || !operation.Success {
		t.Errorf("operation = %+v, want completed and successful", operation)
	}
	if len(operation.Steps) != 1 || operation.Steps[0].Name != "resolve_realm" {
		t.Errorf("steps = %+v", operation.Steps)
	}
	if !operation.CompletedAt.Equal(operation.StartedAt.Add(time.Second)) {
		t.Errorf("CompletedAt = %v, want StartedAt+1s", operation.CompletedAt)
	}
}

func TestFailedOperationPreservesError(t *testing.T) {
	tracker, _ := newTestTracker()

	id := tracker.Start("token_exchange", "exchange bearer credential", "", "")
	stepErr := errors.New("issuer rejected assertion")
	tracker.AddStep(id, "delegated_exchange", "exchange at origin issuer", false, nil, stepErr)
	tracker.Complete(id, false, stepErr)

	operation, _ := tracker.Get(id)
	if operation.Error != "issuer rejected assertion" {
		t.Errorf("operation error = %q, want raw message preserved", operation.Error)
	}
	if operation.Steps[0].Error != "issuer rejected assertion" {
		t.Errorf("step error = %q", operation.Steps[0].Error)
	}
}

func TestSealedExactlyOnce(t *testing.T) {
	tracker, _ := newTestTracker()

	id := tracker.Start("thread_create", "create thread", "subject-1", "origin")
	tracker.Complete(id, true, nil)

	// Writes after sealing are dropped, never panic, never reopen.
	tracker.Complete(id, false, errors.New("late failure"))
	tracker.AddStep(id, "late", "late step", true, nil, nil)

	operation, _ := tracker.Get(id)
	if !operation.Success || operation.Error != "" {
		t.Errorf("sealed operation mutated: %+v", operation)
	}
	if len(operation.Steps) != 0 {
		t.Errorf("step appended after sealing: %+v", operation.Steps)
	}
}

func TestUnknownOperationIgnored(t *testing.T) {
	tracker, _ := newTestTracker()
	// Must not panic or create phantom operations.
	tracker.AddStep("missing", "step", "", true, nil, nil)
	tracker.Complete("missing", true, nil)
	if got := len(tracker.All()); got != 0 {
		t.Errorf("ledger has %d operations, want 0", got)
	}
}

func TestAnnotate(t *testing.T) {
	tracker, _ := newTestTracker()

	id := tracker.Start("token_exchange", "exchange bearer credential", "", "")
	tracker.Annotate(id, "subject-1", "origin")

	operation, _ := tracker.Get(id)
	if operation.Subject != "subject-1" || operation.Realm != "origin" {
		t.Errorf("annotation not applied: %+v", operation)
	}

	tracker.Complete(id, true, nil)
	tracker.Annotate(id, "other", "other")
	operation, _ = tracker.Get(id)
	if operation.Subject != "subject-1" {
		t.Error("annotation applied to sealed operation")
	}
}

func TestQueries(t *testing.T) {
	tracker, _ := newTestTracker()

	for i := 0; i < 3; i++ {
		id := tracker.Start("message_send", "send message", "alice", "origin")
		tracker.Complete(id, true, nil)
	}
	id := tracker.Start("message_send", "send message", "bob", "host")
	tracker.Complete(id, true, nil)

	if got := len(tracker.BySubject("alice")); got != 3 {
		t.Errorf("BySubject(alice) returned %d, want 3", got)
	}
	if got := len(tracker.Recent(2)); got != 2 {
		t.Errorf("Recent(2) returned %d, want 2", got)
	}
	if got := len(tracker.All()); got != 4 {
		t.Errorf("All returned %d, want 4", got)
	}

	recent := tracker.Recent(1)
	if recent[0].Subject != "bob" {
		t.Errorf("Recent(1) returned subject %q, want bob", recent[0].Subject)
	}
}

func TestEviction(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tracker := NewTracker(TrackerConfig{Clock: fake, Capacity: 2})

	first := tracker.Start("a", "", "", "")
	tracker.Complete(first, true, nil)
	second := tracker.Start("b", "", "", "")
	// second stays open.
	third := tracker.Start("c", "", "", "")
	tracker.Complete(third, true, nil)

	if _, ok := tracker.Get(first); ok {
		t.Error("oldest completed operation not evicted")
	}
	if _, ok := tracker.Get(second); !ok {
		t.Error("open operation evicted")
	}
	if _, ok := tracker.Get(third); !ok {
		t.Error("newest operation evicted")
	}
}

func TestQueryResultsAreCopies(t *testing.T) {
	tracker, _ := newTestTracker()

	id := tracker.Start("token_exchange", "", "alice", "origin")
	tracker.AddStep(id, "step", "", true, map[string]string{"k": "v"}, nil)

	result, _ := tracker.Get(id)
	result.Steps[0].Metadata["k"] = "tampered"

	fresh, _ := tracker.Get(id)
	if fresh.Steps[0].Metadata["k"] != "v" {
		t.Error("mutating a query result leaked into ledger state")
	}
}
