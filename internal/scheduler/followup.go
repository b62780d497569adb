package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kaviohq/onboardd/internal/store"
)

const (
	// DefaultIdleWindow is how long a session may sit awaiting the user
	// before a follow-up nudge goes out.
	DefaultIdleWindow = 10 * time.Minute

	// DefaultGraceWindow is how long the nudge waits for a reaction before
	// the session is force-closed.
	DefaultGraceWindow = 30 * time.Second

	// DefaultFollowUpText is the nudge sent after the idle window.
	DefaultFollowUpText = "Olá! Ainda estou por aqui. Alguma dúvida?"

	// DefaultClosingText is sent when the grace window also elapses.
	DefaultClosingText = "Conversa encerrada por inatividade. Obrigado!"
)

// FollowUpConfig configures a FollowUp.
type FollowUpConfig struct {
	IdleWindow   time.Duration
	GraceWindow  time.Duration
	FollowUpText string
	ClosingText  string
	Logger       *slog.Logger
}

// FollowUp escalates idle sessions: one nudge after the idle window, then
// a forced close after the grace window. There is no preemptive
// cancellation signal; the session's status is re-checked at every wake
// and an ended session simply exits the watch.
type FollowUp struct {
	store        store.Store
	idleWindow   time.Duration
	graceWindow  time.Duration
	followUpText string
	closingText  string
	logger       *slog.Logger
}

// NewFollowUp creates a FollowUp.
func NewFollowUp(st store.Store, cfg FollowUpConfig) *FollowUp {
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = DefaultIdleWindow
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	if cfg.FollowUpText == "" {
		cfg.FollowUpText = DefaultFollowUpText
	}
	if cfg.ClosingText == "" {
		cfg.ClosingText = DefaultClosingText
	}
	return &FollowUp{
		store:        st,
		idleWindow:   cfg.IdleWindow,
		graceWindow:  cfg.GraceWindow,
		followUpText: cfg.FollowUpText,
		closingText:  cfg.ClosingText,
		logger:       cfg.Logger,
	}
}

// Watch runs one follow-up cycle for the session. Callers start it in its
// own goroutine after a turn completes without finalization.
func (f *FollowUp) Watch(ctx context.Context, sessionKey, phone string) {
	sleepCtx(ctx, f.idleWindow)
	if ctx.Err() != nil {
		return
	}

	status, err := f.store.Status(ctx, sessionKey)
	if errors.Is(err, store.ErrNotFound) || status == store.StateConversationEnded {
		return
	}
	if err != nil {
		f.logger.Error("follow-up status check failed",
			slog.String("session", sessionKey),
			slog.Any("error", err))
		return
	}

	if err := f.store.EnqueueOutbound(ctx, store.OutboundMessage{
		Phone:   phone,
		Msg:     f.followUpText,
		ChatKey: sessionKey,
	}); err != nil {
		f.logger.Error("failed to enqueue follow-up",
			slog.String("session", sessionKey),
			slog.Any("error", err))
		return
	}
	f.logger.Info("follow-up sent", slog.String("session", sessionKey))

	sleepCtx(ctx, f.graceWindow)
	if ctx.Err() != nil {
		return
	}

	status, err = f.store.Status(ctx, sessionKey)
	if err != nil || status != store.StateWaitingUserResponse {
		return
	}

	if err := f.store.EnqueueOutbound(ctx, store.OutboundMessage{
		Phone:   phone,
		Msg:     f.closingText,
		ChatKey: sessionKey,
	}); err != nil {
		f.logger.Error("failed to enqueue closing message",
			slog.String("session", sessionKey),
			slog.Any("error", err))
		return
	}
	if err := f.store.EndSession(ctx, sessionKey); err != nil {
		f.logger.Error("failed to end idle session",
			slog.String("session", sessionKey),
			slog.Any("error", err))
		return
	}
	f.logger.Info("session closed for inactivity", slog.String("session", sessionKey))
}
