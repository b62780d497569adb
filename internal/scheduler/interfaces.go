// Package scheduler owns the background coordination loops: outbound
// delivery, per-session follow-up escalation, and the periodic expiry
// sweep.
package scheduler

import "context"

// Transport delivers one message to the end user. Implementations must be
// safe for concurrent use. Delivery is best effort: a failed send is
// logged and dropped, never requeued.
type Transport interface {
	Send(ctx context.Context, phone, text string, audio bool) error
}
