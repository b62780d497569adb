package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaviohq/onboardd/internal/mocks"
	"github.com/kaviohq/onboardd/internal/scheduler"
	"github.com/kaviohq/onboardd/internal/store"
)

func TestSweepOnceDeletesOnlyExpiredSessions(t *testing.T) {
	st := mocks.NewStore()
	ctx := context.Background()

	require.NoError(t, st.SetStatus(ctx, "chat:stale", store.StateWaitingUserResponse))
	require.NoError(t, st.SetStatus(ctx, "chat:fresh", store.StateWaitingUserResponse))
	st.SetLastActivity("chat:stale", time.Now().Add(-200*time.Hour))

	sweep := scheduler.NewSweep(st, time.Hour, 168*time.Hour, testLogger())
	sweep.SweepOnce(ctx)

	exists, err := st.SessionExists(ctx, "chat:stale")
	require.NoError(t, err)
	assert.False(t, exists, "stale session should be gone")

	exists, err = st.SessionExists(ctx, "chat:fresh")
	require.NoError(t, err)
	assert.True(t, exists, "fresh session should survive")
}

func TestSweepOnceEmptyStore(t *testing.T) {
	st := mocks.NewStore()
	sweep := scheduler.NewSweep(st, time.Hour, 168*time.Hour, testLogger())

	// Nothing to do and nothing to panic over.
	sweep.SweepOnce(context.Background())
}

func TestSweepRunStopsOnCancel(t *testing.T) {
	st := mocks.NewStore()
	sweep := scheduler.NewSweep(st, 10*time.Millisecond, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweep.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not stop on cancellation")
	}
}
