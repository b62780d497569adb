// Package session owns the live-session registry and the per-session
// runner task that feeds coalesced turns to the generator.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kaviohq/onboardd/internal/coalesce"
	"github.com/kaviohq/onboardd/internal/conversation"
	"github.com/kaviohq/onboardd/internal/scheduler"
	"github.com/kaviohq/onboardd/internal/store"
	"github.com/kaviohq/onboardd/internal/turn"
)

// DefaultConversationTimeout bounds how long a runner waits for the next
// coalesced turn before retiring the session.
const DefaultConversationTimeout = 15 * time.Minute

// DefaultApologyText is the user-visible message sent when a turn fails.
// Raw errors never reach the user.
const DefaultApologyText = "Desculpe, tivemos um problema técnico. Por favor, tente novamente mais tarde."

// ErrNotStarted is returned by Acquire before the manager is started.
var ErrNotStarted = errors.New("session manager not started")

// Config configures a Manager.
type Config struct {
	ConversationTimeout time.Duration
	ExitToken           string
	Marker              string
	ApologyText         string
}

// Deps are the collaborators a runner needs.
type Deps struct {
	Store     store.Store
	Router    *turn.Router
	Coalescer *coalesce.Coalescer
	FollowUp  *scheduler.FollowUp
	Logger    *slog.Logger

	// OnSessionEnd, when set, runs after a session is ended in the store.
	// Used to release per-session generator state.
	OnSessionEnd func(sessionKey string)
}

// Manager is the concurrency-safe registry of live runners, keyed by
// session key. Exactly one runner (and therefore one turn-queue consumer)
// exists per session per process.
type Manager struct {
	deps Deps
	cfg  Config

	mu      sync.Mutex
	rootCtx context.Context
	runners map[string]*Runner
}

// NewManager creates a Manager.
func NewManager(deps Deps, cfg Config) *Manager {
	if cfg.ConversationTimeout <= 0 {
		cfg.ConversationTimeout = DefaultConversationTimeout
	}
	if cfg.ExitToken == "" {
		cfg.ExitToken = coalesce.DefaultExitToken
	}
	if cfg.ApologyText == "" {
		cfg.ApologyText = DefaultApologyText
	}
	return &Manager{
		deps:    deps,
		cfg:     cfg,
		runners: make(map[string]*Runner),
	}
}

// Start records the root context runner goroutines derive from. Must be
// called before Acquire.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rootCtx = ctx
}

// Acquire returns the live runner for the session, creating and starting
// one on first contact. The second return reports whether a new runner was
// created.
func (m *Manager) Acquire(meta coalesce.Meta, userType string) (*Runner, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rootCtx == nil {
		return nil, false, ErrNotStarted
	}
	if r, ok := m.runners[meta.SessionKey]; ok {
		return r, false, nil
	}

	ctx, cancel := context.WithCancel(m.rootCtx)
	r := &Runner{
		meta:     meta,
		userType: userType,
		tracker: conversation.NewTracker(
			meta.RID, meta.SessionKey, m.cfg.Marker, m.deps.Logger),
		manager: m,
		cancel:  cancel,
	}
	m.runners[meta.SessionKey] = r

	go r.run(ctx)
	m.deps.Logger.Info("session runner started",
		slog.String("session", meta.SessionKey))
	return r, true, nil
}

// Release removes the runner from the registry. Called by the runner on
// exit; calling it for an unknown key is a no-op.
func (m *Manager) Release(sessionKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runners, sessionKey)
}

// Evict cancels the session's runner and removes it from the registry.
func (m *Manager) Evict(sessionKey string) {
	m.mu.Lock()
	r, ok := m.runners[sessionKey]
	delete(m.runners, sessionKey)
	m.mu.Unlock()

	if ok {
		r.cancel()
	}
}

// Active returns the number of live runners.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runners)
}
