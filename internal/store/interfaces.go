package store

import (
	"context"
	"time"
)

// Store is the durable session state contract. Every method is a single-key
// Redis call (or one MULTI/EXEC) and therefore safe to interleave across
// session tasks without in-process locking. Connectivity failures surface to
// the caller as wrapped errors and are never retried internally.
type Store interface {
	// SessionExists reports whether the session's status key is present.
	SessionExists(ctx context.Context, sessionKey string) (bool, error)

	// SetStatus writes the status and refreshes last activity. Transitions
	// out of StateConversationEnded are rejected.
	SetStatus(ctx context.Context, sessionKey string, status ChatState) error

	// Status returns the current status, or ErrNotFound if the session
	// does not exist.
	Status(ctx context.Context, sessionKey string) (ChatState, error)

	// AppendInput pushes one raw user fragment onto the debounce buffer.
	AppendInput(ctx context.Context, sessionKey, text string) error

	// DrainInput atomically empties the debounce buffer and returns its
	// entries in arrival order. An empty buffer yields a nil slice.
	DrainInput(ctx context.Context, sessionKey string) ([]string, error)

	// EnqueueTurn appends a coalesced turn to the session's turn queue.
	EnqueueTurn(ctx context.Context, sessionKey string, payload TurnPayload) error

	// BlockingDequeueTurn pops the next turn, suspending the caller until
	// one arrives or timeout elapses; the latter returns ErrNoData.
	BlockingDequeueTurn(ctx context.Context, sessionKey string, timeout time.Duration) (TurnPayload, error)

	// EnqueueOutbound appends a message to the shared delivery queue.
	EnqueueOutbound(ctx context.Context, msg OutboundMessage) error

	// BlockingDequeueOutbound pops the next delivery-queue message,
	// returning ErrNoData on timeout.
	BlockingDequeueOutbound(ctx context.Context, timeout time.Duration) (OutboundMessage, error)

	// RecordError appends a failure record to the session's error list.
	RecordError(ctx context.Context, sessionKey, message string) error

	// EndSession marks the session ended and clears its transient buffer
	// and turn queue. Calling it on an already-ended session is a no-op.
	EndSession(ctx context.Context, sessionKey string) error

	// SessionKeys lists every live session key.
	SessionKeys(ctx context.Context) ([]string, error)

	// LastActivity returns the session's last activity timestamp, or
	// ErrNotFound if it was never recorded.
	LastActivity(ctx context.Context, sessionKey string) (time.Time, error)

	// DeleteSession removes every key in the session's namespace.
	DeleteSession(ctx context.Context, sessionKey string) error
}
