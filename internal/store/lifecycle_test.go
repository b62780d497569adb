package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaviohq/onboardd/internal/mocks"
	"github.com/kaviohq/onboardd/internal/store"
)

func TestEndSessionIdempotent(t *testing.T) {
	st := mocks.NewStore()
	ctx := context.Background()

	require.NoError(t, st.SetStatus(ctx, "chat:r1", store.StateWaitingUserResponse))
	require.NoError(t, st.AppendInput(ctx, "chat:r1", "oi"))

	require.NoError(t, st.EndSession(ctx, "chat:r1"))
	require.NoError(t, st.EndSession(ctx, "chat:r1"))

	status, err := st.Status(ctx, "chat:r1")
	require.NoError(t, err)
	assert.Equal(t, store.StateConversationEnded, status)
	assert.Empty(t, st.BufferedInput("chat:r1"))
}

func TestTerminalStateSurvivesConcurrentWriter(t *testing.T) {
	st := mocks.NewStore()
	ctx := context.Background()
	require.NoError(t, st.SetStatus(ctx, "chat:r1", store.StateWaitingAgentResponse))

	// Races the delivery loop's post-delivery status write against a
	// concurrent session end; whichever order they land in, the terminal
	// state must win.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = st.EndSession(ctx, "chat:r1")
	}()
	go func() {
		defer wg.Done()
		_ = st.SetStatus(ctx, "chat:r1", store.StateWaitingUserResponse)
	}()
	wg.Wait()

	require.NoError(t, st.EndSession(ctx, "chat:r1"))
	status, err := st.Status(ctx, "chat:r1")
	require.NoError(t, err)
	assert.Equal(t, store.StateConversationEnded, status)
}
