package mocks

import (
	"context"
	"sync"

	"github.com/kaviohq/onboardd/internal/turn"
)

// ScriptedTurn is one scripted generator invocation.
type ScriptedTurn struct {
	Fragments []turn.Fragment
	// StartErr, when set, makes GenerateTurn fail before streaming.
	StartErr error
	// StreamErr, when set, surfaces through Stream.Err after the
	// fragments are drained.
	StreamErr error
}

// ScriptedGenerator replays pre-scripted fragment streams, one per call.
type ScriptedGenerator struct {
	mu    sync.Mutex
	turns []ScriptedTurn
	calls int

	// Inputs records the coalesced text handed to each invocation.
	Inputs []string
}

// NewScriptedGenerator creates a generator that replays the given turns in
// order. Calls beyond the script return an empty stream.
func NewScriptedGenerator(turns ...ScriptedTurn) *ScriptedGenerator {
	return &ScriptedGenerator{turns: turns}
}

// Calls returns how many times GenerateTurn ran.
func (g *ScriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *ScriptedGenerator) GenerateTurn(ctx context.Context, _ turn.SessionContext, input string) (*turn.Stream, error) {
	g.mu.Lock()
	var scripted ScriptedTurn
	if g.calls < len(g.turns) {
		scripted = g.turns[g.calls]
	}
	g.calls++
	g.Inputs = append(g.Inputs, input)
	g.mu.Unlock()

	if scripted.StartErr != nil {
		return nil, scripted.StartErr
	}

	fragments := make(chan turn.Fragment)
	stream, fail := turn.NewStream(fragments)
	go func() {
		defer close(fragments)
		for _, frag := range scripted.Fragments {
			select {
			case fragments <- frag:
			case <-ctx.Done():
				return
			}
		}
		if scripted.StreamErr != nil {
			fail(scripted.StreamErr)
		}
	}()
	return stream, nil
}
