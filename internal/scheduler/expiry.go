package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kaviohq/onboardd/internal/store"
)

const (
	// DefaultSweepInterval is the cadence of the expiry sweep.
	DefaultSweepInterval = time.Hour

	// DefaultMaxIdle is how long a session may be inactive before it is
	// removed from the store entirely.
	DefaultMaxIdle = 168 * time.Hour
)

// Sweep periodically deletes sessions whose last activity is older than
// the configured threshold.
type Sweep struct {
	store    store.Store
	interval time.Duration
	maxIdle  time.Duration
	logger   *slog.Logger
}

// NewSweep creates an expiry sweep.
func NewSweep(st store.Store, interval, maxIdle time.Duration, logger *slog.Logger) *Sweep {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	return &Sweep{store: st, interval: interval, maxIdle: maxIdle, logger: logger}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweep) Run(ctx context.Context) error {
	s.logger.Info("expiry sweep started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweep stopping")
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass. Per-session failures are logged and the
// pass continues.
func (s *Sweep) SweepOnce(ctx context.Context) {
	keys, err := s.store.SessionKeys(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed to list sessions", slog.Any("error", err))
		return
	}

	now := time.Now()
	removed := 0
	for _, key := range keys {
		last, err := s.store.LastActivity(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error("expiry sweep failed to read activity",
				slog.String("session", key),
				slog.Any("error", err))
			continue
		}
		if now.Sub(last) <= s.maxIdle {
			continue
		}
		if err := s.store.DeleteSession(ctx, key); err != nil {
			s.logger.Error("expiry sweep failed to delete session",
				slog.String("session", key),
				slog.Any("error", err))
			continue
		}
		removed++
	}

	s.logger.Info("expiry sweep complete",
		slog.Int("scanned", len(keys)),
		slog.Int("removed", removed))
}
