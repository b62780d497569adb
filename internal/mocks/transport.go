package mocks

import (
	"context"
	"sync"
)

// SentMessage is one delivery recorded by the Transport double.
type SentMessage struct {
	Phone string
	Text  string
	Audio bool
}

// Transport records deliveries and optionally fails scripted calls.
type Transport struct {
	mu   sync.Mutex
	sent []SentMessage
	errs []error
}

// NewTransport creates a recording transport.
func NewTransport() *Transport {
	return &Transport{}
}

// FailNext makes the next Send calls return the given errors in order.
func (t *Transport) FailNext(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errs = append(t.errs, errs...)
}

func (t *Transport) Send(_ context.Context, phone, text string, audio bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.errs) > 0 {
		err := t.errs[0]
		t.errs = t.errs[1:]
		return err
	}
	t.sent = append(t.sent, SentMessage{Phone: phone, Text: text, Audio: audio})
	return nil
}

// Sent returns a copy of the recorded deliveries.
func (t *Transport) Sent() []SentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SentMessage, len(t.sent))
	copy(out, t.sent)
	return out
}
