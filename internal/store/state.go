package store

import "fmt"

// stateTransitions defines the valid lifecycle moves. StateConversationEnded
// is terminal: nothing transitions out of it.
var stateTransitions = map[ChatState][]ChatState{
	StateAccumulatingFirstInput: {StateWaitingAgentResponse, StateConversationEnded},
	StateAccumulatingUserInput:  {StateWaitingAgentResponse, StateConversationEnded},
	StateWaitingAgentResponse:   {StateWaitingUserResponse, StateConversationEnded},
	StateWaitingUserResponse:    {StateAccumulatingUserInput, StateWaitingAgentResponse, StateConversationEnded},
	StateConversationEnded:      {},
}

// Valid reports whether s is a known ChatState.
func (s ChatState) Valid() bool {
	_, ok := stateTransitions[s]
	return ok
}

// Terminal reports whether s has no outgoing transitions.
func (s ChatState) Terminal() bool {
	t, ok := stateTransitions[s]
	return ok && len(t) == 0
}

// CanTransition reports whether moving from one state to another is allowed.
// Re-setting the current state is treated as a no-op and always allowed,
// which keeps EndSession idempotent.
func CanTransition(from, to ChatState) bool {
	if from == to {
		return true
	}
	for _, next := range stateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a descriptive error for an invalid move.
func CheckTransition(from, to ChatState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}
