// Package turn drives one generator invocation per coalesced user turn and
// relays the role-tagged fragment stream with dedup and ordering guarantees.
package turn

import (
	"context"
	"sync"
)

// Role identifies the origin of a generator fragment. The set is closed;
// fragments with any other role are logged and dropped downstream.
type Role string

const (
	// RoleUser is the coalesced user input that initiated the turn.
	RoleUser Role = "user"

	// RolePlanner is the internal planning role. Its fragments gate
	// responder output but are never delivered to the user.
	RolePlanner Role = "planner"

	// RoleResponder produces the user-facing reply fragments.
	RoleResponder Role = "responder"

	// RoleFinalizer emits the structured wrap-up. Optional: finalization is
	// detected from content, never from this role's participation.
	RoleFinalizer Role = "finalizer"
)

// Known reports whether r belongs to the closed role set.
func (r Role) Known() bool {
	switch r {
	case RoleUser, RolePlanner, RoleResponder, RoleFinalizer:
		return true
	default:
		return false
	}
}

// Fragment is the single normalized event shape crossing the generator
// boundary. Adapters must map whatever their underlying stream produces
// into this form.
type Fragment struct {
	Role    Role
	Content string
}

// SessionContext carries the session identity a generator needs to build
// its prompt context.
type SessionContext struct {
	SessionKey   string
	RID          string
	Phone        string
	EmployeeName string
	UserType     string
}

// Stream is a lazy fragment sequence. Fragments is closed when the
// generator finishes; Err reports the terminal error, if any, once the
// channel is closed (the bufio.Scanner contract).
type Stream struct {
	Fragments <-chan Fragment

	mu  sync.Mutex
	err error
}

// NewStream builds a stream around a fragment channel. The producer closes
// the channel and calls fail (at most once) on a terminal error.
func NewStream(fragments <-chan Fragment) (*Stream, func(error)) {
	s := &Stream{Fragments: fragments}
	return s, s.fail
}

// Err returns the terminal stream error. Only meaningful after Fragments
// has been closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Generator produces a role-tagged fragment stream for one turn. A non-nil
// error from GenerateTurn means the turn never started; failures mid-stream
// are reported through Stream.Err after the fragment channel closes.
type Generator interface {
	GenerateTurn(ctx context.Context, sess SessionContext, input string) (*Stream, error)
}
