// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package track

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-foundation/parley/lib/clock"
)

// DefaultCapacity is the default ledger capacity in operations. When
// the ledger is full, the oldest completed operation is evicted to
// make room — ring-buffer semantics over the operation history.
const DefaultCapacity = 1024

// OperationID identifies one tracked operation.
type OperationID string

// Operation is one multi-step unit of work (a token exchange, a
// thread creation, a message send). Created open, sealed exactly once
// by Complete.
type Operation struct {
	ID          OperationID `json:"id"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Subject     string      `json:"subject,omitempty"`
	Realm       string      `json:"realm,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at,omitzero"`
	Completed   bool        `json:"completed"`
	Success     bool        `json:"success"`
	Error       string      `json:"error,omitempty"`
	Steps       []Step      `json:"steps"`
}

// Step is one recorded step within an operation.
type Step struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	At          time.Time         `json:"at"`
}

// Tracker is the append-only, in-memory operation ledger. It is a
// diagnostic surface, not a system of record: not durable across
// restarts, and every method is total — unknown ids and writes to
// sealed operations are logged and ignored, so a tracking failure can
// never fail the operation it describes.
//
// Safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	clock      clock.Clock
	logger     *slog.Logger
	capacity   int
	operations map[OperationID]*Operation
	order      []OperationID
}

// TrackerConfig holds configuration for creating a Tracker.
type TrackerConfig struct {
	// Clock provides timestamps. If nil, the real clock is used.
	Clock clock.Clock
	// Capacity overrides DefaultCapacity when positive.
	Capacity int
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// NewTracker creates an empty ledger.
func NewTracker(config TrackerConfig) *Tracker {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	capacity := config.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		clock:      clk,
		logger:     logger,
		capacity:   capacity,
		operations: make(map[OperationID]*Operation),
	}
}

// Start opens a new operation and returns its id. Subject and realm
// may be empty when not yet known; Annotate fills them in later.
func (t *Tracker) Start(operationType, description, subject, realmID string) OperationID {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := OperationID(uuid.NewString())
	t.operations[id] = &Operation{
		ID:          id,
		Type:        operationType,
		Description: description,
		Subject:     subject,
		Realm:       realmID,
		StartedAt:   t.clock.Now(),
	}
	t.order = append(t.order, id)
	t.evictLocked()
	return id
}

// Annotate sets the subject and realm on an open operation, for
// operations whose principal is only known after the first step
// (claim parsing). No-op on sealed or unknown operations.
func (t *Tracker) Annotate(id OperationID, subject, realmID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	operation, ok := t.openLocked(id, "Annotate")
	if !ok {
		return
	}
	if subject != "" {
		operation.Subject = subject
	}
	if realmID != "" {
		operation.Realm = realmID
	}
}

// AddStep appends a step to an open operation. The err argument may
// be nil; its message is preserved verbatim when present.
func (t *Tracker) AddStep(id OperationID, name, description string, success bool, metadata map[string]string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	operation, ok := t.openLocked(id, "AddStep")
	if !ok {
		return
	}

	step := Step{
		Name:        name,
		Description: description,
		Success:     success,
		At:          t.clock.Now(),
	}
	if err != nil {
		step.Error = err.Error()
	}
	if len(metadata) > 0 {
		step.Metadata = make(map[string]string, len(metadata))
		for key, value := range metadata {
			step.Metadata[key] = value
		}
	}
	operation.Steps = append(operation.Steps, step)
}

// Complete seals an operation exactly once. Later Complete and
// AddStep calls for the same id are dropped with a warning.
func (t *Tracker) Complete(id OperationID, success bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	operation, ok := t.openLocked(id, "Complete")
	if !ok {
		return
	}

	operation.Completed = true
	operation.Success = success
	operation.CompletedAt = t.clock.Now()
	if err != nil {
		operation.Error = err.Error()
	}
}

// Get returns a copy of the operation with the given id.
func (t *Tracker) Get(id OperationID) (Operation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	operation, ok := t.operations[id]
	if !ok {
		return Operation{}, false
	}
	return copyOperation(operation), true
}

// BySubject returns copies of all operations for a subject, oldest
// first.
func (t *Tracker) BySubject(subject string) []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result []Operation
	for _, id := range t.order {
		operation := t.operations[id]
		if operation.Subject == subject {
			result = append(result, copyOperation(operation))
		}
	}
	return result
}

// Recent returns copies of the most recent n operations, oldest
// first. n <= 0 returns nil.
func (t *Tracker) Recent(n int) []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 {
		return nil
	}
	start := len(t.order) - n
	if start < 0 {
		start = 0
	}
	return t.copyRangeLocked(start)
}

// All returns copies of every retained operation, oldest first.
func (t *Tracker) All() []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyRangeLocked(0)
}

// copyRangeLocked copies operations from order[start:]. Caller holds
// t.mu.
func (t *Tracker) copyRangeLocked(start int) []Operation {
	result := make([]Operation, 0, len(t.order)-start)
	for _, id := range t.order[start:] {
		result = append(result, copyOperation(t.operations[id]))
	}
	return result
}

// openLocked returns the operation if it exists and is not sealed.
// Caller holds t.mu.
func (t *Tracker) openLocked(id OperationID, caller string) (*Operation, bool) {
	operation, ok := t.operations[id]
	if !ok {
		t.logger.Warn("tracker call for unknown operation", "call", caller, "operation", id)
		return nil, false
	}
	if operation.Completed {
		t.logger.Warn("tracker call for sealed operation", "call", caller, "operation", id)
		return nil, false
	}
	return operation, true
}

// evictLocked drops the oldest completed operations while the ledger
// is over capacity. Open operations are skipped — an operation still
// in flight must stay addressable so it can be sealed. Caller holds
// t.mu.
func (t *Tracker) evictLocked() {
	for len(t.order) > t.capacity {
		evicted := false
		for i, id := range t.order {
			if !t.operations[id].Completed {
				continue
			}
			delete(t.operations, id)
			t.order = append(t.order[:i], t.order[i+1:]...)
			evicted = true
			break
		}
		if !evicted {
			// Everything retained is still open. Let the ledger run
			// over capacity rather than losing in-flight operations.
			return
		}
	}
}

// copyOperation deep-copies an operation so callers cannot mutate
// ledger state through a query result.
func copyOperation(operation *Operation) Operation {
	result := *operation
	result.Steps = make([]Step, len(operation.Steps))
	copy(result.Steps, operation.Steps)
	for i, step := range result.Steps {
		if step.Metadata == nil {
			continue
		}
		metadata := make(map[string]string, len(step.Metadata))
		for key, value := range step.Metadata {
			metadata[key] = value
		}
		result.Steps[i].Metadata = metadata
	}
	return result
}
