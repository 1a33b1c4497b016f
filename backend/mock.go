// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-foundation/parley/lib/clock"
)

// Mock is an in-memory Service implementation for tests and the demo
// binary. It enforces the same attribution rules as the live backend:
// CreateThread and SendMessage require a token issued for a known
// identity, and messages are attributed to the token's identity.
//
// Remote-call counters expose how often each capability was exercised,
// which the cache tests use to prove at-most-once semantics.
type Mock struct {
	mu    sync.Mutex
	clock clock.Clock

	identities map[IdentityID]string     // id → display name
	tokens     map[string]IdentityID     // token → identity
	threads    map[ThreadID]*mockThread

	unavailable bool

	// TokenLifetime is the validity window of issued tokens.
	// Defaults to an hour, matching the reference backend.
	TokenLifetime time.Duration

	createIdentityCalls int
	issueTokenCalls     int
	createThreadCalls   int
	sendMessageCalls    int
}

type mockThread struct {
	info         ThreadInfo
	participants []IdentityID
	messages     []Message
}

// NewMock creates an empty mock backend using the given clock.
func NewMock(clk clock.Clock) *Mock {
	return &Mock{
		clock:         clk,
		identities:    make(map[IdentityID]string),
		tokens:        make(map[string]IdentityID),
		threads:       make(map[ThreadID]*mockThread),
		TokenLifetime: time.Hour,
	}
}

// SetUnavailable toggles simulated outage. While unavailable, every
// call fails with ErrUnavailable.
func (m *Mock) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
}

// CreateIdentityCalls returns how many identities were created.
func (m *Mock) CreateIdentityCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createIdentityCalls
}

// IssueTokenCalls returns how many tokens were issued.
func (m *Mock) IssueTokenCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issueTokenCalls
}

// CreateThreadCalls returns how many threads were created.
func (m *Mock) CreateThreadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createThreadCalls
}

// SendMessageCalls returns how many user messages were sent.
func (m *Mock) SendMessageCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendMessageCalls
}

// GrantToken registers an externally minted token (e.g. one produced
// by a delegated exchange) as valid for the given identity, mirroring
// how the live backend accepts tokens minted by a trusted issuer.
func (m *Mock) GrantToken(token string, identity IdentityID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = identity
}

func (m *Mock) checkAvailable() error {
	if m.unavailable {
		return fmt.Errorf("backend: mock outage: %w", ErrUnavailable)
	}
	return nil
}

// CreateIdentity provisions a new identity.
func (m *Mock) CreateIdentity(_ context.Context, displayName string) (IdentityID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAvailable(); err != nil {
		return "", err
	}

	m.createIdentityCalls++
	id := IdentityID("8:parley:" + uuid.NewString())
	m.identities[id] = displayName
	return id, nil
}

// IssueToken issues a token for a known identity.
func (m *Mock) IssueToken(_ context.Context, identity IdentityID, _ []string) (AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAvailable(); err != nil {
		return AccessToken{}, err
	}

	if _, ok := m.identities[identity]; !ok {
		return AccessToken{}, &ServiceError{
			Code:       ErrCodeIdentityNotFound,
			Message:    fmt.Sprintf("identity %q does not exist", identity),
			StatusCode: http.StatusNotFound,
		}
	}

	m.issueTokenCalls++
	token := "tok-" + uuid.NewString()
	m.tokens[token] = identity
	return AccessToken{
		Token:     token,
		ExpiresAt: m.clock.Now().Add(m.TokenLifetime),
	}, nil
}

// CreateThread creates a thread attributed to the token's identity.
func (m *Mock) CreateThread(_ context.Context, topic string, creator IdentityID, asToken string) (ThreadID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAvailable(); err != nil {
		return "", err
	}

	tokenIdentity, err := m.resolveToken(asToken)
	if err != nil {
		return "", err
	}
	if tokenIdentity != creator {
		return "", &ServiceError{
			Code:       ErrCodeForbidden,
			Message:    "token identity does not match creator",
			StatusCode: http.StatusForbidden,
		}
	}

	m.createThreadCalls++
	id := ThreadID("19:thread-" + uuid.NewString())
	m.threads[id] = &mockThread{
		info: ThreadInfo{
			ID:        id,
			Topic:     topic,
			CreatedAt: m.clock.Now(),
		},
		participants: []IdentityID{creator},
	}
	return id, nil
}

// AddParticipant adds an identity to a thread. The display name is
// ignored — the mock already knows it from CreateIdentity.
func (m *Mock) AddParticipant(_ context.Context, thread ThreadID, participant IdentityID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAvailable(); err != nil {
		return err
	}

	t, err := m.thread(thread)
	if err != nil {
		return err
	}
	if _, ok := m.identities[participant]; !ok {
		return &ServiceError{
			Code:       ErrCodeIdentityNotFound,
			Message:    fmt.Sprintf("identity %q does not exist", participant),
			StatusCode: http.StatusNotFound,
		}
	}

	for _, existing := range t.participants {
		if existing == participant {
			return nil
		}
	}
	t.participants = append(t.participants, participant)
	return nil
}

// SendMessage posts a message attributed to the token's identity.
func (m *Mock) SendMessage(_ context.Context, thread ThreadID, body string, asToken string) (MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAvailable(); err != nil {
		return "", err
	}

	t, err := m.thread(thread)
	if err != nil {
		return "", err
	}
	sender, err := m.resolveToken(asToken)
	if err != nil {
		return "", err
	}

	m.sendMessageCalls++
	message := Message{
		ID:         MessageID("msg-" + uuid.NewString()),
		Sender:     sender,
		SenderName: m.identities[sender],
		Body:       body,
		SentAt:     m.clock.Now(),
	}
	t.messages = append(t.messages, message)
	return message.ID, nil
}

// PostSystemMessage posts a system-authored notice.
func (m *Mock) PostSystemMessage(_ context.Context, thread ThreadID, body string) (MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAvailable(); err != nil {
		return "", err
	}

	t, err := m.thread(thread)
	if err != nil {
		return "", err
	}

	message := Message{
		ID:         MessageID("msg-" + uuid.NewString()),
		SenderName: "system",
		Body:       body,
		System:     true,
		SentAt:     m.clock.Now(),
	}
	t.messages = append(t.messages, message)
	return message.ID, nil
}

// ListMessages returns copies of a thread's messages, oldest first.
func (m *Mock) ListMessages(_ context.Context, thread ThreadID) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAvailable(); err != nil {
		return nil, err
	}

	t, err := m.thread(thread)
	if err != nil {
		return nil, err
	}
	messages := make([]Message, len(t.messages))
	copy(messages, t.messages)
	return messages, nil
}

// ListThreads returns every thread.
func (m *Mock) ListThreads(_ context.Context) ([]ThreadInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAvailable(); err != nil {
		return nil, err
	}

	infos := make([]ThreadInfo, 0, len(m.threads))
	for _, t := range m.threads {
		infos = append(infos, t.info)
	}
	return infos, nil
}

// thread looks up a thread. Caller holds m.mu.
func (m *Mock) thread(id ThreadID) (*mockThread, error) {
	t, ok := m.threads[id]
	if !ok {
		return nil, &ServiceError{
			Code:       ErrCodeThreadNotFound,
			Message:    fmt.Sprintf("thread %q does not exist", id),
			StatusCode: http.StatusNotFound,
		}
	}
	return t, nil
}

// resolveToken maps a token to its identity. Caller holds m.mu.
func (m *Mock) resolveToken(token string) (IdentityID, error) {
	if token == "" {
		return "", &ServiceError{
			Code:       ErrCodeInvalidToken,
			Message:    "missing access token",
			StatusCode: http.StatusUnauthorized,
		}
	}
	identity, ok := m.tokens[token]
	if !ok {
		return "", &ServiceError{
			Code:       ErrCodeInvalidToken,
			Message:    "unknown access token",
			StatusCode: http.StatusUnauthorized,
		}
	}
	return identity, nil
}
