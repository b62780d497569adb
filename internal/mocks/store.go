// Package mocks provides shared test doubles for the store, transport and
// generator boundaries.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/kaviohq/onboardd/internal/store"
)

const queueDepth = 64

// Store is an in-memory store.Store with the same transition rules and
// blocking-dequeue semantics as the Redis implementation.
type Store struct {
	mu           sync.Mutex
	status       map[string]store.ChatState
	lastActivity map[string]time.Time
	inputs       map[string][]string
	errs         map[string][]string
	turnQueues   map[string]chan store.TurnPayload
	outbound     chan store.OutboundMessage

	// scripted failures, consumed in order before real behavior
	dequeueOutboundErrs []error
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		status:       make(map[string]store.ChatState),
		lastActivity: make(map[string]time.Time),
		inputs:       make(map[string][]string),
		errs:         make(map[string][]string),
		turnQueues:   make(map[string]chan store.TurnPayload),
		outbound:     make(chan store.OutboundMessage, queueDepth),
	}
}

func (s *Store) SessionExists(_ context.Context, sessionKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.status[sessionKey]
	return ok, nil
}

func (s *Store) SetStatus(_ context.Context, sessionKey string, status store.ChatState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.status[sessionKey]; ok {
		if err := store.CheckTransition(current, status); err != nil {
			return err
		}
	}
	s.status[sessionKey] = status
	s.lastActivity[sessionKey] = time.Now()
	return nil
}

func (s *Store) Status(_ context.Context, sessionKey string) (store.ChatState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.status[sessionKey]
	if !ok {
		return "", store.ErrNotFound
	}
	return status, nil
}

func (s *Store) AppendInput(_ context.Context, sessionKey, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs[sessionKey] = append(s.inputs[sessionKey], text)
	s.lastActivity[sessionKey] = time.Now()
	return nil
}

func (s *Store) DrainInput(_ context.Context, sessionKey string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.inputs[sessionKey]
	delete(s.inputs, sessionKey)
	return entries, nil
}

func (s *Store) EnqueueTurn(_ context.Context, sessionKey string, payload store.TurnPayload) error {
	s.turnQueue(sessionKey) <- payload
	return nil
}

func (s *Store) BlockingDequeueTurn(ctx context.Context, sessionKey string, timeout time.Duration) (store.TurnPayload, error) {
	select {
	case payload := <-s.turnQueue(sessionKey):
		return payload, nil
	case <-time.After(timeout):
		return store.TurnPayload{}, store.ErrNoData
	case <-ctx.Done():
		return store.TurnPayload{}, ctx.Err()
	}
}

func (s *Store) EnqueueOutbound(_ context.Context, msg store.OutboundMessage) error {
	s.outbound <- msg
	return nil
}

func (s *Store) BlockingDequeueOutbound(ctx context.Context, timeout time.Duration) (store.OutboundMessage, error) {
	s.mu.Lock()
	if len(s.dequeueOutboundErrs) > 0 {
		err := s.dequeueOutboundErrs[0]
		s.dequeueOutboundErrs = s.dequeueOutboundErrs[1:]
		s.mu.Unlock()
		return store.OutboundMessage{}, err
	}
	s.mu.Unlock()

	select {
	case msg := <-s.outbound:
		return msg, nil
	case <-time.After(timeout):
		return store.OutboundMessage{}, store.ErrNoData
	case <-ctx.Done():
		return store.OutboundMessage{}, ctx.Err()
	}
}

func (s *Store) RecordError(_ context.Context, sessionKey, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[sessionKey] = append(s.errs[sessionKey], message)
	return nil
}

func (s *Store) EndSession(ctx context.Context, sessionKey string) error {
	if err := s.SetStatus(ctx, sessionKey, store.StateConversationEnded); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.inputs, sessionKey)
	q := s.turnQueues[sessionKey]
	s.mu.Unlock()
	if q == nil {
		return nil
	}
	for {
		select {
		case <-q:
		default:
			return nil
		}
	}
}

func (s *Store) SessionKeys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.status))
	for k := range s.status {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *Store) LastActivity(_ context.Context, sessionKey string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastActivity[sessionKey]
	if !ok {
		return time.Time{}, store.ErrNotFound
	}
	return last, nil
}

func (s *Store) DeleteSession(_ context.Context, sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.status, sessionKey)
	delete(s.lastActivity, sessionKey)
	delete(s.inputs, sessionKey)
	delete(s.errs, sessionKey)
	delete(s.turnQueues, sessionKey)
	return nil
}

func (s *Store) turnQueue(sessionKey string) chan store.TurnPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.turnQueues[sessionKey]
	if !ok {
		q = make(chan store.TurnPayload, queueDepth)
		s.turnQueues[sessionKey] = q
	}
	return q
}

// Test helpers.

// PushDequeueOutboundError makes the next BlockingDequeueOutbound call
// return err instead of a message.
func (s *Store) PushDequeueOutboundError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dequeueOutboundErrs = append(s.dequeueOutboundErrs, err)
}

// SetLastActivity backdates a session's activity timestamp.
func (s *Store) SetLastActivity(sessionKey string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity[sessionKey] = at
}

// Errors returns the recorded error list for a session.
func (s *Store) Errors(sessionKey string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.errs[sessionKey]))
	copy(out, s.errs[sessionKey])
	return out
}

// BufferedInput returns the undrained input buffer for a session.
func (s *Store) BufferedInput(sessionKey string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.inputs[sessionKey]))
	copy(out, s.inputs[sessionKey])
	return out
}

// QueuedTurns drains and returns everything currently on the session's
// turn queue without blocking.
func (s *Store) QueuedTurns(sessionKey string) []store.TurnPayload {
	q := s.turnQueue(sessionKey)
	var out []store.TurnPayload
	for {
		select {
		case payload := <-q:
			out = append(out, payload)
		default:
			return out
		}
	}
}

// QueuedOutbound drains and returns everything currently on the shared
// outbound queue without blocking.
func (s *Store) QueuedOutbound() []store.OutboundMessage {
	var out []store.OutboundMessage
	for {
		select {
		case msg := <-s.outbound:
			out = append(out, msg)
		default:
			return out
		}
	}
}
