// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package thread

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/exchange"
	"github.com/parley-foundation/parley/identity"
	"github.com/parley-foundation/parley/lib/clock"
	"github.com/parley-foundation/parley/track"
)

// TokenExchanger supplies backend tokens for principals. Satisfied by
// *exchange.Engine; the indirection keeps the thread service testable
// without a live exchange stack.
type TokenExchanger interface {
	Exchange(ctx context.Context, credential string) (exchange.ExchangedToken, error)
}

// CreateOptions controls CreateThread.
type CreateOptions struct {
	// ForceNew bypasses the current-thread reuse policy and always
	// creates a fresh thread.
	ForceNew bool
}

// ServiceConfig holds configuration for creating a Service.
type ServiceConfig struct {
	// Backend owns the authoritative thread and message state.
	Backend backend.Service
	// Exchanger mints backend tokens for acting principals.
	Exchanger TokenExchanger
	// CounterpartAddresses are the well-known addresses added as
	// placeholder participants to every new thread, so the other side
	// can discover it before ever logging in.
	CounterpartAddresses []string
	// UnrestrictedListing disables membership filtering in
	// ListThreadsFor. Deliberate opt-in for diagnostics; the default
	// lists only threads the principal belongs to.
	UnrestrictedListing bool
	// Clock is the time source. If nil, the real clock is used.
	Clock clock.Clock
	// Tracker records operations in the ledger. Optional.
	Tracker *track.Tracker
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Service owns thread membership and the local mirror. The backend
// holds the authoritative threads and messages; the mirror adds what
// the backend does not model (participants by address, placeholders,
// the cross-realm flag) and serves reads during backend outages.
//
// One structural lock guards the mirror. Membership mutation is rare
// relative to reads, so finer-grained locking buys nothing here.
type Service struct {
	backend              backend.Service
	exchanger            TokenExchanger
	counterpartAddresses []string
	unrestrictedListing  bool
	clock                clock.Clock
	tracker              *track.Tracker
	logger               *slog.Logger

	mu               sync.Mutex
	threads          map[backend.ThreadID]*Thread
	order            []backend.ThreadID
	currentByCreator map[string]backend.ThreadID
}

// NewService creates a thread service.
func NewService(config ServiceConfig) (*Service, error) {
	if config.Backend == nil {
		return nil, fmt.Errorf("thread: Backend is required")
	}
	if config.Exchanger == nil {
		return nil, fmt.Errorf("thread: Exchanger is required")
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		backend:              config.Backend,
		exchanger:            config.Exchanger,
		counterpartAddresses: config.CounterpartAddresses,
		unrestrictedListing:  config.UnrestrictedListing,
		clock:                clk,
		tracker:              config.Tracker,
		logger:               logger,
		threads:              make(map[backend.ThreadID]*Thread),
		currentByCreator:     make(map[string]backend.ThreadID),
	}, nil
}

// CreateThread creates a thread owned by the creator, with placeholder
// participants for the configured counterpart addresses (minus any
// matching the creator's own address) and a system welcome message.
//
// Without ForceNew the call is idempotent per creator: if a current
// thread already exists for the creator's subject, it is returned
// unchanged and no backend call is made.
func (s *Service) CreateThread(ctx context.Context, topic string, creator identity.Principal, options CreateOptions) (Thread, error) {
	op := s.startOperation("thread_create", "create conversation thread", creator)

	if !options.ForceNew {
		if current, ok := s.currentThread(creator.Subject); ok {
			s.step(op, "reuse_current", "return creator's current thread", true,
				map[string]string{"thread": current.ID.String()}, nil)
			s.complete(op, true, nil)
			return current, nil
		}
	}

	token, err := s.exchanger.Exchange(ctx, creator.Credential)
	if err != nil {
		s.step(op, "token_exchange", "obtain creator token", false, nil, err)
		s.complete(op, false, err)
		return Thread{}, err
	}
	s.step(op, "token_exchange", "obtain creator token", true, nil, nil)

	threadID, err := s.backend.CreateThread(ctx, topic, token.Identity, token.AccessToken)
	if err != nil {
		s.step(op, "backend_create", "create thread at backend", false, nil, err)
		s.complete(op, false, err)
		return Thread{}, fmt.Errorf("thread: creating thread: %w", err)
	}
	s.step(op, "backend_create", "create thread at backend", true,
		map[string]string{"thread": threadID.String()}, nil)

	t := &Thread{
		ID:        threadID,
		Topic:     topic,
		Creator:   creator.Subject,
		CreatedAt: s.clock.Now(),
		Participants: []Participant{{
			Subject:     creator.Subject,
			DisplayName: creator.DisplayName,
			Address:     creator.Address,
			Realm:       creator.Realm,
			Identity:    token.Identity,
			External:    creator.IsExternal,
		}},
	}
	for _, address := range s.counterpartAddresses {
		if sameAddress(address, creator.Address) || hasAddress(t.Participants, address) {
			continue
		}
		t.Participants = append(t.Participants, Participant{
			Subject:     identity.PlaceholderSubject(address),
			DisplayName: address,
			Address:     address,
			External:    true,
			Placeholder: true,
		})
	}
	t.CrossRealm = crossRealm(t.Participants)

	s.postSystemMessage(ctx, t, fmt.Sprintf("%s started the conversation %q", creator.DisplayName, topic))

	s.mu.Lock()
	s.threads[threadID] = t
	s.order = append(s.order, threadID)
	s.currentByCreator[creator.Subject] = threadID
	s.mu.Unlock()

	s.logger.Info("created thread",
		"thread", threadID,
		"topic", topic,
		"creator", creator.Subject,
		"participants", len(t.Participants),
		"cross_realm", t.CrossRealm,
	)
	s.complete(op, true, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	return copyThread(t), nil
}

// AddParticipant adds a principal to a thread. A no-op when the
// address is already a bound member; a placeholder for the address is
// bound in place instead of appending a duplicate. Announces genuine
// joins with a system message and recomputes the cross-realm flag.
func (s *Service) AddParticipant(ctx context.Context, threadID backend.ThreadID, principal identity.Principal) error {
	op := s.startOperation("participant_add", "add thread participant", principal)

	if _, err := s.lookup(threadID); err != nil {
		s.complete(op, false, err)
		return err
	}

	if s.alreadyBound(threadID, principal) {
		s.step(op, "dedupe", "address already a bound member", true, nil, nil)
		s.complete(op, true, nil)
		return nil
	}

	token, err := s.exchanger.Exchange(ctx, principal.Credential)
	if err != nil {
		s.step(op, "token_exchange", "resolve participant identity", false, nil, err)
		s.complete(op, false, err)
		return err
	}
	s.step(op, "token_exchange", "resolve participant identity", true, nil, nil)

	if err := s.backend.AddParticipant(ctx, threadID, token.Identity, principal.DisplayName); err != nil {
		s.step(op, "backend_add", "add participant at backend", false, nil, err)
		s.complete(op, false, err)
		return fmt.Errorf("thread: adding participant: %w", err)
	}
	s.step(op, "backend_add", "add participant at backend", true, nil, nil)

	s.mu.Lock()
	t, ok := s.threads[threadID]
	if ok {
		bound := false
		for i := range t.Participants {
			p := &t.Participants[i]
			if p.Placeholder && sameAddress(p.Address, principal.Address) {
				p.Subject = principal.Subject
				p.DisplayName = principal.DisplayName
				p.Realm = principal.Realm
				p.Identity = token.Identity
				p.External = principal.IsExternal
				p.Placeholder = false
				bound = true
				break
			}
		}
		if !bound {
			t.Participants = append(t.Participants, Participant{
				Subject:     principal.Subject,
				DisplayName: principal.DisplayName,
				Address:     principal.Address,
				Realm:       principal.Realm,
				Identity:    token.Identity,
				External:    principal.IsExternal,
			})
		}
		t.CrossRealm = crossRealm(t.Participants)
	}
	s.mu.Unlock()
	if !ok {
		s.complete(op, false, ErrThreadNotFound)
		return ErrThreadNotFound
	}

	s.postSystemMessage(ctx, t, fmt.Sprintf("%s joined the conversation", principal.DisplayName))

	s.complete(op, true, nil)
	return nil
}

// SendMessage posts a message to a thread as the sender. The sender's
// token is obtained transparently, so the message is attributed to the
// sender's backend identity rather than a service identity. The
// message is mirrored locally for the outage read path; the send
// itself never falls back — a failed send is surfaced.
func (s *Service) SendMessage(ctx context.Context, threadID backend.ThreadID, body string, sender identity.Principal) (backend.MessageID, error) {
	op := s.startOperation("message_send", "send thread message", sender)

	if _, err := s.lookup(threadID); err != nil {
		s.complete(op, false, err)
		return "", err
	}

	token, err := s.exchanger.Exchange(ctx, sender.Credential)
	if err != nil {
		s.step(op, "token_exchange", "obtain sender token", false, nil, err)
		s.complete(op, false, err)
		return "", err
	}
	s.step(op, "token_exchange", "obtain sender token", true, nil, nil)

	messageID, err := s.backend.SendMessage(ctx, threadID, body, token.AccessToken)
	if err != nil {
		err = mapNotFound(err)
		s.step(op, "backend_send", "send message at backend", false, nil, err)
		s.complete(op, false, err)
		return "", err
	}
	s.step(op, "backend_send", "send message at backend", true,
		map[string]string{"message": messageID.String()}, nil)

	s.mu.Lock()
	if t, ok := s.threads[threadID]; ok {
		t.Messages = append(t.Messages, backend.Message{
			ID:         messageID,
			Sender:     token.Identity,
			SenderName: sender.DisplayName,
			Body:       body,
			SentAt:     s.clock.Now(),
		})
	}
	s.mu.Unlock()

	s.complete(op, true, nil)
	return messageID, nil
}

// ListMessages returns a thread's messages, oldest first. A pure
// projection of backend state: reading never mutates content, and two
// reads with no intervening send return identical messages. When the
// backend is unavailable the local mirror is served instead, so a
// backend outage degrades reads rather than failing them.
func (s *Service) ListMessages(ctx context.Context, threadID backend.ThreadID) ([]backend.Message, error) {
	if _, err := s.lookup(threadID); err != nil {
		return nil, err
	}

	messages, err := s.backend.ListMessages(ctx, threadID)
	if err == nil {
		return messages, nil
	}
	if !backend.IsUnavailable(err) {
		return nil, mapNotFound(err)
	}

	s.logger.Warn("backend read unavailable, serving message mirror",
		"thread", threadID, "error", err)

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	mirror := make([]backend.Message, len(t.Messages))
	copy(mirror, t.Messages)
	return mirror, nil
}

// ListThreadsFor returns the threads visible to a principal, most
// recently created first. Reconciliation runs first: placeholders
// matching the principal's address are bound before filtering, so a
// user invited by address sees their threads on first login. Only
// threads the principal belongs to are returned unless unrestricted
// listing was explicitly enabled.
func (s *Service) ListThreadsFor(ctx context.Context, principal identity.Principal) ([]Thread, error) {
	reconcile := principal.Credential != ""
	var principalIdentity backend.IdentityID
	if reconcile {
		token, err := s.exchanger.Exchange(ctx, principal.Credential)
		switch {
		case err == nil:
			principalIdentity = token.Identity
		case backend.IsUnavailable(err):
			// Listing degrades to the mirror during an outage;
			// reconciliation waits for the next authenticated request.
			s.logger.Warn("skipping reconciliation, backend unavailable",
				"subject", principal.Subject, "error", err)
			reconcile = false
		default:
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if reconcile {
		s.reconcileLocked(principal, principalIdentity)
	}

	visible := make([]Thread, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.threads[s.order[i]]
		if s.unrestrictedListing || isMember(t, principal) {
			visible = append(visible, copyThread(t))
		}
	}
	return visible, nil
}

// Reconciliation and helpers.

// reconcileLocked rewrites placeholders matching the principal's
// address across the whole mirror. Caller holds s.mu.
func (s *Service) reconcileLocked(principal identity.Principal, principalIdentity backend.IdentityID) {
	if principal.Address == "" {
		return
	}

	all := make([]Thread, 0, len(s.order))
	for _, id := range s.order {
		all = append(all, *s.threads[id])
	}
	for _, updated := range Reconcile(all, principal, principalIdentity) {
		t := updated
		s.threads[t.ID] = &t
	}
}

// isMember reports whether the principal is a participant, by subject
// or by address.
func isMember(t *Thread, principal identity.Principal) bool {
	for _, p := range t.Participants {
		if p.Subject == principal.Subject {
			return true
		}
		if sameAddress(p.Address, principal.Address) {
			return true
		}
	}
	return false
}

// currentThread returns a copy of the creator's current thread.
func (s *Service) currentThread(subject string) (Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.currentByCreator[subject]
	if !ok {
		return Thread{}, false
	}
	t, ok := s.threads[id]
	if !ok {
		return Thread{}, false
	}
	return copyThread(t), true
}

// lookup confirms a thread exists in the mirror.
func (s *Service) lookup(threadID backend.ThreadID) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	return t, nil
}

// alreadyBound reports whether the principal's address is already a
// bound (non-placeholder) member of the thread.
func (s *Service) alreadyBound(threadID backend.ThreadID, principal identity.Principal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return false
	}
	for _, p := range t.Participants {
		if p.Placeholder {
			continue
		}
		if p.Subject == principal.Subject || sameAddress(p.Address, principal.Address) {
			return true
		}
	}
	return false
}

// postSystemMessage posts a system notice and mirrors it. Failures are
// logged, never surfaced: a missing announcement must not fail the
// operation it decorates. The thread is re-fetched under the lock
// because reconciliation replaces mirror entries.
func (s *Service) postSystemMessage(ctx context.Context, t *Thread, body string) {
	messageID, err := s.backend.PostSystemMessage(ctx, t.ID, body)
	if err != nil {
		s.logger.Warn("system message failed", "thread", t.ID, "error", err)
		return
	}
	message := backend.Message{
		ID:         messageID,
		SenderName: "system",
		Body:       body,
		System:     true,
		SentAt:     s.clock.Now(),
	}
	s.mu.Lock()
	if current, ok := s.threads[t.ID]; ok {
		current.Messages = append(current.Messages, message)
	} else {
		t.Messages = append(t.Messages, message)
	}
	s.mu.Unlock()
}

// mapNotFound converts the backend's thread-not-found code to
// ErrThreadNotFound so callers handle one error either way.
func mapNotFound(err error) error {
	if backend.IsServiceError(err, backend.ErrCodeThreadNotFound) {
		return fmt.Errorf("%w: %v", ErrThreadNotFound, err)
	}
	return err
}

// Tracker hooks, tolerant of a nil tracker.

func (s *Service) startOperation(opType, description string, principal identity.Principal) track.OperationID {
	if s.tracker == nil {
		return ""
	}
	return s.tracker.Start(opType, description, principal.Subject, principal.Realm.String())
}

func (s *Service) step(op track.OperationID, name, description string, success bool, metadata map[string]string, err error) {
	if s.tracker == nil {
		return
	}
	s.tracker.AddStep(op, name, description, success, metadata, err)
}

func (s *Service) complete(op track.OperationID, success bool, err error) {
	if s.tracker == nil {
		return
	}
	s.tracker.Complete(op, success, err)
}
