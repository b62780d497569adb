package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kaviohq/onboardd/internal/store"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from store.ChatState
		to   store.ChatState
		want bool
	}{
		{"first input to agent", store.StateAccumulatingFirstInput, store.StateWaitingAgentResponse, true},
		{"agent to user", store.StateWaitingAgentResponse, store.StateWaitingUserResponse, true},
		{"user to accumulating", store.StateWaitingUserResponse, store.StateAccumulatingUserInput, true},
		{"accumulating to agent", store.StateAccumulatingUserInput, store.StateWaitingAgentResponse, true},
		{"any to ended", store.StateWaitingUserResponse, store.StateConversationEnded, true},
		{"self transition is a no-op", store.StateWaitingUserResponse, store.StateWaitingUserResponse, true},
		{"ended self transition stays allowed", store.StateConversationEnded, store.StateConversationEnded, true},
		{"ended to agent rejected", store.StateConversationEnded, store.StateWaitingAgentResponse, false},
		{"ended to accumulating rejected", store.StateConversationEnded, store.StateAccumulatingUserInput, false},
		{"agent to accumulating rejected", store.StateWaitingAgentResponse, store.StateAccumulatingUserInput, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := store.CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestCheckTransition(t *testing.T) {
	err := store.CheckTransition(store.StateConversationEnded, store.StateWaitingAgentResponse)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid transition")

	assert.NoError(t, store.CheckTransition(store.StateWaitingAgentResponse, store.StateWaitingUserResponse))
}

func TestChatStateValid(t *testing.T) {
	for _, s := range []store.ChatState{
		store.StateAccumulatingFirstInput,
		store.StateAccumulatingUserInput,
		store.StateWaitingAgentResponse,
		store.StateWaitingUserResponse,
		store.StateConversationEnded,
	} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}

	if store.ChatState("banana").Valid() {
		t.Error("expected unknown state to be invalid")
	}
}

func TestChatStateTerminal(t *testing.T) {
	if !store.StateConversationEnded.Terminal() {
		t.Error("ended should be terminal")
	}
	if store.StateWaitingUserResponse.Terminal() {
		t.Error("waiting_user_response should not be terminal")
	}
}
