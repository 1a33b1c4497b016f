// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"time"
)

// IdentityID is the opaque identity handle issued by the backend
// service. One handle exists per (subject, realm); the identity cache
// guarantees at-most-once creation.
type IdentityID string

func (id IdentityID) String() string { return string(id) }

// ThreadID is a backend-assigned conversation thread identifier.
type ThreadID string

func (id ThreadID) String() string { return string(id) }

// MessageID is a backend-assigned message identifier.
type MessageID string

func (id MessageID) String() string { return string(id) }

// AccessToken is a backend access token with its expiry. Issued either
// directly by the backend (host-realm principals) or via delegated
// exchange at the origin realm's issuer.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// Message is one message in a thread as the backend reports it.
type Message struct {
	ID         MessageID  `json:"id"`
	Sender     IdentityID `json:"sender"`
	SenderName string     `json:"sender_name"`
	Body       string     `json:"body"`
	System     bool       `json:"system"`
	SentAt     time.Time  `json:"sent_at"`
}

// ThreadInfo is the backend's view of a thread: id and topic only.
// Participant and message state live behind their own calls.
type ThreadInfo struct {
	ID        ThreadID  `json:"id"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
}

// Service is the backend messaging service capability set consumed by
// the bridge. Two implementations exist: HTTPService talks to the live
// service; Mock is in-memory for tests and the demo binary. The
// implementation is chosen once at wiring — business logic never
// branches on which one it holds.
//
// CreateIdentity, IssueToken, AddParticipant, and PostSystemMessage
// are privileged calls authenticated by the bridge's service
// credential. CreateThread and SendMessage act as the user identified
// by asToken, so threads and messages are attributed to the user's
// backend identity rather than a service identity.
type Service interface {
	// CreateIdentity provisions a new backend identity. The backend
	// has no create-if-absent primitive — callers must guarantee
	// at-most-once semantics per logical user themselves.
	CreateIdentity(ctx context.Context, displayName string) (IdentityID, error)

	// IssueToken issues a backend access token for an identity. This
	// is the direct token path for host-realm principals; external
	// principals obtain tokens through delegated exchange instead.
	IssueToken(ctx context.Context, identity IdentityID, scopes []string) (AccessToken, error)

	// CreateThread creates a thread with the creator as its initial
	// participant, acting as the user identified by asToken.
	CreateThread(ctx context.Context, topic string, creator IdentityID, asToken string) (ThreadID, error)

	// AddParticipant adds an identity to a thread's participant list.
	AddParticipant(ctx context.Context, thread ThreadID, participant IdentityID, displayName string) error

	// SendMessage posts a message as the user identified by asToken.
	SendMessage(ctx context.Context, thread ThreadID, body string, asToken string) (MessageID, error)

	// PostSystemMessage posts a system-authored notice (welcome
	// message, join announcement) to a thread.
	PostSystemMessage(ctx context.Context, thread ThreadID, body string) (MessageID, error)

	// ListMessages returns a thread's messages, oldest first. Pure
	// read: repeated calls with no intervening send return identical
	// content.
	ListMessages(ctx context.Context, thread ThreadID) ([]Message, error)

	// ListThreads returns every thread known to the backend.
	ListThreads(ctx context.Context) ([]ThreadInfo, error)
}
