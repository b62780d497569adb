package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kaviohq/onboardd/internal/store"
)

const (
	// DefaultDequeueTick is the liveness timeout for the blocking dequeue.
	// Hitting it is not a failure, just a chance to observe cancellation.
	DefaultDequeueTick = 60 * time.Second

	// deliveryErrorPause backs the loop off after a store failure.
	deliveryErrorPause = 5 * time.Second
)

// DeliveryLoop consumes the shared outbound queue and hands each message
// to the transport.
type DeliveryLoop struct {
	store     store.Store
	transport Transport
	tick      time.Duration
	logger    *slog.Logger
}

// NewDeliveryLoop creates a delivery loop.
func NewDeliveryLoop(st store.Store, tr Transport, tick time.Duration, logger *slog.Logger) *DeliveryLoop {
	if tick <= 0 {
		tick = DefaultDequeueTick
	}
	return &DeliveryLoop{store: st, transport: tr, tick: tick, logger: logger}
}

// Run blocks until ctx is cancelled. Malformed payloads and transport
// failures are logged and dropped; the loop itself only stops on
// cancellation.
func (d *DeliveryLoop) Run(ctx context.Context) error {
	d.logger.Info("delivery loop started")

	for {
		if err := ctx.Err(); err != nil {
			d.logger.Info("delivery loop stopping")
			return err
		}

		msg, err := d.store.BlockingDequeueOutbound(ctx, d.tick)
		switch {
		case errors.Is(err, store.ErrNoData):
			continue
		case err != nil:
			var payloadErr *store.PayloadError
			if errors.As(err, &payloadErr) {
				d.logger.Error("dropping malformed outbound payload",
					slog.String("raw", payloadErr.Raw),
					slog.Any("error", payloadErr.Err))
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			d.logger.Error("outbound dequeue failed", slog.Any("error", err))
			sleepCtx(ctx, deliveryErrorPause)
			continue
		}

		d.deliver(ctx, msg)
	}
}

func (d *DeliveryLoop) deliver(ctx context.Context, msg store.OutboundMessage) {
	if msg.Phone == "" || msg.Msg == "" {
		d.logger.Warn("dropping incomplete outbound message",
			slog.String("session", msg.ChatKey))
		return
	}

	if err := d.transport.Send(ctx, msg.Phone, msg.Msg, msg.Audio); err != nil {
		d.logger.Error("delivery failed, message dropped",
			slog.String("session", msg.ChatKey),
			slog.Any("error", err))
		return
	}

	d.logger.Info("message delivered",
		slog.String("session", msg.ChatKey),
		slog.Int("length", len(msg.Msg)))

	// Ended sessions keep their terminal state; the rejection is expected.
	if err := d.store.SetStatus(ctx, msg.ChatKey, store.StateWaitingUserResponse); err != nil {
		d.logger.Debug("post-delivery status not updated",
			slog.String("session", msg.ChatKey),
			slog.Any("error", err))
	}
}

// sleepCtx pauses for at most wait, returning early on cancellation.
func sleepCtx(ctx context.Context, wait time.Duration) {
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
