// Package coalesce absorbs bursts of rapid user input into one logical
// turn before the generator is invoked, so a session never has overlapping
// generator calls for a single burst.
package coalesce

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kaviohq/onboardd/internal/store"
)

const (
	// DefaultWindow is the default debounce duration.
	DefaultWindow = 6 * time.Second

	// DefaultExitToken short-circuits the debounce window.
	DefaultExitToken = "exit"

	// flushTimeout bounds the store calls made from a timer callback.
	flushTimeout = 10 * time.Second
)

// ErrSessionEnded is returned when input arrives for an ended session.
var ErrSessionEnded = errors.New("session already ended")

// Meta identifies the session an input burst belongs to.
type Meta struct {
	SessionKey   string
	RID          string
	Phone        string
	EmployeeName string
}

// Config configures a Coalescer.
type Config struct {
	Window    time.Duration
	ExitToken string
	Logger    *slog.Logger
}

// Coalescer buffers raw input in the store and emits one coalesced turn
// per debounce window. All timer bookkeeping is process-local; the buffer
// itself is durable.
type Coalescer struct {
	store     store.Store
	window    time.Duration
	exitToken string
	logger    *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewCoalescer creates a Coalescer.
func NewCoalescer(st store.Store, cfg Config) *Coalescer {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.ExitToken == "" {
		cfg.ExitToken = DefaultExitToken
	}
	return &Coalescer{
		store:     st,
		window:    cfg.Window,
		exitToken: strings.ToLower(cfg.ExitToken),
		logger:    cfg.Logger,
		timers:    make(map[string]*time.Timer),
	}
}

// Offer buffers one raw user input. The first input of a burst arms the
// debounce timer; everything arriving before it fires joins the same turn.
// An input equal to the exit token bypasses the window and flushes a
// termination turn immediately.
func (c *Coalescer) Offer(ctx context.Context, meta Meta, text string) error {
	status, err := c.store.Status(ctx, meta.SessionKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err == nil && status == store.StateConversationEnded {
		return ErrSessionEnded
	}

	if err := c.store.AppendInput(ctx, meta.SessionKey, text); err != nil {
		return err
	}

	if strings.EqualFold(strings.TrimSpace(text), c.exitToken) {
		c.disarm(meta.SessionKey)
		c.flush(meta)
		return nil
	}

	c.accumulate(ctx, meta.SessionKey, status)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, armed := c.timers[meta.SessionKey]; armed {
		return nil
	}
	c.timers[meta.SessionKey] = time.AfterFunc(c.window, func() {
		c.disarm(meta.SessionKey)
		c.flush(meta)
	})
	c.logger.Debug("debounce window armed",
		slog.String("session", meta.SessionKey),
		slog.Duration("window", c.window))
	return nil
}

// Cancel drops any armed timer for the session. Buffered input stays in
// the store; an ended session's buffer is cleared by EndSession.
func (c *Coalescer) Cancel(sessionKey string) {
	c.disarm(sessionKey)
}

// accumulate moves the session into the matching accumulating state when
// the current state permits it. Input arriving while a turn is in flight
// stays buffered without a state change.
func (c *Coalescer) accumulate(ctx context.Context, sessionKey string, current store.ChatState) {
	var next store.ChatState
	switch current {
	case "", store.StateAccumulatingFirstInput:
		next = store.StateAccumulatingFirstInput
	case store.StateWaitingUserResponse:
		next = store.StateAccumulatingUserInput
	default:
		return
	}
	if current == next {
		return
	}
	if err := c.store.SetStatus(ctx, sessionKey, next); err != nil {
		c.logger.Warn("failed to set accumulating state",
			slog.String("session", sessionKey),
			slog.Any("error", err))
	}
}

func (c *Coalescer) disarm(sessionKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[sessionKey]; ok {
		t.Stop()
		delete(c.timers, sessionKey)
	}
}

// flush drains the buffer and enqueues one coalesced turn. An empty drain
// is a race with a concurrent flush and silently no-ops.
func (c *Coalescer) flush(meta Meta) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	entries, err := c.store.DrainInput(ctx, meta.SessionKey)
	if err != nil {
		c.logger.Error("failed to drain input buffer",
			slog.String("session", meta.SessionKey),
			slog.Any("error", err))
		return
	}
	if len(entries) == 0 {
		return
	}

	payload := store.NewTurnPayload(
		strings.Join(entries, "\n"),
		"coordinator",
		meta.RID,
		meta.Phone,
		meta.EmployeeName,
	)
	if err := c.store.EnqueueTurn(ctx, meta.SessionKey, payload); err != nil {
		c.logger.Error("failed to enqueue coalesced turn",
			slog.String("session", meta.SessionKey),
			slog.Any("error", err))
		return
	}
	if err := c.store.SetStatus(ctx, meta.SessionKey, store.StateWaitingAgentResponse); err != nil {
		c.logger.Warn("failed to set waiting-agent state",
			slog.String("session", meta.SessionKey),
			slog.Any("error", err))
	}
	c.logger.Info("coalesced turn enqueued",
		slog.String("session", meta.SessionKey),
		slog.Int("fragments", len(entries)))
}

// ExitToken returns the configured exit token.
func (c *Coalescer) ExitToken() string {
	return c.exitToken
}
