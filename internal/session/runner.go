package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kaviohq/onboardd/internal/coalesce"
	"github.com/kaviohq/onboardd/internal/conversation"
	"github.com/kaviohq/onboardd/internal/store"
	"github.com/kaviohq/onboardd/internal/turn"
)

// cleanupTimeout bounds store calls made after the runner's context is gone.
const cleanupTimeout = 10 * time.Second

// Runner is the single concurrent task driving one session: it consumes
// the session's turn queue strictly sequentially, runs each turn through
// the router, and retires the session on finalization, timeout, exit or
// error.
type Runner struct {
	meta     coalesce.Meta
	userType string
	tracker  *conversation.Tracker
	manager  *Manager
	cancel   context.CancelFunc

	// watchCancel stops the previous turn's follow-up watcher. Touched only
	// by the runner goroutine.
	watchCancel context.CancelFunc
}

// Tracker exposes the session's conversation tracker.
func (r *Runner) Tracker() *conversation.Tracker {
	return r.tracker
}

func (r *Runner) run(ctx context.Context) {
	m := r.manager
	logger := m.deps.Logger

	defer func() {
		if r.watchCancel != nil {
			r.watchCancel()
		}
		r.cancel()
		m.deps.Coalescer.Cancel(r.meta.SessionKey)
		m.Release(r.meta.SessionKey)
		logger.Info("session runner stopped",
			slog.String("session", r.meta.SessionKey))
	}()

	sink := storeSink{store: m.deps.Store}
	sessCtx := turn.SessionContext{
		SessionKey:   r.meta.SessionKey,
		RID:          r.meta.RID,
		Phone:        r.meta.Phone,
		EmployeeName: r.meta.EmployeeName,
		UserType:     r.userType,
	}

	for {
		payload, err := m.deps.Store.BlockingDequeueTurn(
			ctx, r.meta.SessionKey, m.cfg.ConversationTimeout)

		switch {
		case errors.Is(err, store.ErrNoData):
			logger.Info("conversation timed out waiting for input",
				slog.String("session", r.meta.SessionKey))
			r.endSession(ctx)
			return

		case err != nil:
			var payloadErr *store.PayloadError
			if errors.As(err, &payloadErr) {
				logger.Error("dropping malformed turn payload",
					slog.String("session", r.meta.SessionKey),
					slog.Any("error", payloadErr))
				continue
			}
			if ctx.Err() != nil {
				return
			}
			// Store connectivity is fatal to the session; abandon it
			// rather than spin against a dead backend.
			logger.Error("turn dequeue failed, abandoning session",
				slog.String("session", r.meta.SessionKey),
				slog.Any("error", err))
			return
		}

		if strings.EqualFold(strings.TrimSpace(payload.Msg), m.cfg.ExitToken) {
			logger.Info("user requested exit",
				slog.String("session", r.meta.SessionKey))
			r.endSession(ctx)
			return
		}

		finished, err := m.deps.Router.RunTurn(
			ctx, sessCtx, composeInput(payload), r.tracker, sink)
		if err != nil {
			r.failTurn(ctx, err)
			return
		}

		if finished || r.tracker.Finished() {
			report := r.tracker.BuildReport()
			logger.Info("conversation finalized",
				slog.String("session", r.meta.SessionKey),
				slog.String("status", report.Status),
				slog.Int("messages", report.MessageCount),
				slog.Float64("duration_seconds", report.DurationSeconds))
			r.endSession(ctx)
			return
		}

		// Turn completed without finalization: watch for user silence. At
		// most one watcher exists per session; replacing it means only
		// silence after the latest turn counts.
		r.rearmWatch(ctx)
	}
}

func (r *Runner) rearmWatch(ctx context.Context) {
	if r.watchCancel != nil {
		r.watchCancel()
	}
	watchCtx, cancel := context.WithCancel(ctx)
	r.watchCancel = cancel
	go r.manager.deps.FollowUp.Watch(watchCtx, r.meta.SessionKey, r.meta.Phone)
}

// failTurn handles a generator failure: the error is recorded, the user
// gets a plain apology through the normal outbound path, and the session
// is force-ended.
func (r *Runner) failTurn(ctx context.Context, cause error) {
	m := r.manager
	logger := m.deps.Logger

	logger.Error("turn failed",
		slog.String("session", r.meta.SessionKey),
		slog.Any("error", cause))

	if err := m.deps.Store.RecordError(ctx, r.meta.SessionKey, cause.Error()); err != nil {
		logger.Error("failed to record turn error",
			slog.String("session", r.meta.SessionKey),
			slog.Any("error", err))
	}
	if err := m.deps.Store.EnqueueOutbound(ctx, store.OutboundMessage{
		Phone:   r.meta.Phone,
		Msg:     m.cfg.ApologyText,
		ChatKey: r.meta.SessionKey,
	}); err != nil {
		logger.Error("failed to enqueue apology",
			slog.String("session", r.meta.SessionKey),
			slog.Any("error", err))
	}
	r.endSession(ctx)
}

func (r *Runner) endSession(ctx context.Context) {
	// The runner's own context may already be cancelled during eviction;
	// cleanup still has to reach the store.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
	}
	if err := r.manager.deps.Store.EndSession(ctx, r.meta.SessionKey); err != nil {
		r.manager.deps.Logger.Error("failed to end session",
			slog.String("session", r.meta.SessionKey),
			slog.Any("error", err))
	}
	if r.manager.deps.OnSessionEnd != nil {
		r.manager.deps.OnSessionEnd(r.meta.SessionKey)
	}
}

// composeInput prefixes the coalesced text with the employee identity the
// generator prompts expect.
func composeInput(payload store.TurnPayload) string {
	if payload.EmployeeName == "" {
		return payload.Msg
	}
	return fmt.Sprintf("Employee: %s\n%s", payload.EmployeeName, payload.Msg)
}

// storeSink delivers router output onto the shared outbound queue.
type storeSink struct {
	store store.Store
}

func (s storeSink) Deliver(ctx context.Context, msg store.OutboundMessage) error {
	return s.store.EnqueueOutbound(ctx, msg)
}
