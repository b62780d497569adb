package conversation_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaviohq/onboardd/internal/conversation"
	"github.com/kaviohq/onboardd/internal/turn"
)

func newTracker(t *testing.T) *conversation.Tracker {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return conversation.NewTracker("r1", "chat:r1", "TERMINATE", logger)
}

func TestTrackerRecord(t *testing.T) {
	tr := newTracker(t)

	tr.Record(turn.RoleUser, "olá")
	tr.Record(turn.RoleResponder, "Bem-vindo! TERMINATE")

	history := tr.History()
	require.Len(t, history, 2)
	assert.Equal(t, turn.RoleUser, history[0].Role)
	assert.Equal(t, "Bem-vindo! TERMINATE", history[1].Raw)
	assert.Equal(t, "Bem-vindo!", history[1].Filtered)
}

func TestTrackerRecordDropsEmptyAndUnknown(t *testing.T) {
	tr := newTracker(t)

	tr.Record(turn.RoleUser, "   ")
	tr.Record(turn.Role("auditor"), "should not be kept")

	assert.Empty(t, tr.History())
}

func TestTrackerFinalization(t *testing.T) {
	tr := newTracker(t)

	assert.False(t, tr.Finished())

	tr.Record(turn.RoleFinalizer, "Done. TERMINATE\n```json\n{\"status\":\"ok\"}\n```")
	require.True(t, tr.Finished())
	assert.Equal(t, "ok", tr.Finalization()["status"])
}

func TestTrackerFinalizationIdempotent(t *testing.T) {
	tr := newTracker(t)

	tr.Record(turn.RoleFinalizer, "TERMINATE ```json\n{\"first\":true}\n```")
	require.True(t, tr.Finished())

	tr.Record(turn.RoleFinalizer, "TERMINATE ```json\n{\"second\":true}\n```")
	assert.Contains(t, tr.Finalization(), "first")
	assert.NotContains(t, tr.Finalization(), "second")
}

func TestTrackerFinalizationRequiresMarker(t *testing.T) {
	tr := newTracker(t)

	tr.Record(turn.RoleFinalizer, "```json\n{\"status\":\"ok\"}\n```")
	assert.False(t, tr.Finished())
}

func TestTrackerFinalizationParseFailureIsRecoverable(t *testing.T) {
	tr := newTracker(t)

	tr.Record(turn.RoleFinalizer, "TERMINATE {broken json")
	assert.False(t, tr.Finished())

	// The conversation continues and a later well-formed payload lands.
	tr.Record(turn.RoleFinalizer, "TERMINATE {\"ok\":true}")
	assert.True(t, tr.Finished())
}

func TestTrackerBuildReport(t *testing.T) {
	tr := newTracker(t)

	tr.Record(turn.RoleUser, "oi")
	tr.Record(turn.RoleResponder, "olá!")

	report := tr.BuildReport()
	assert.Equal(t, "r1", report.SessionID)
	assert.Equal(t, "incomplete", report.Status)
	assert.Equal(t, 2, report.MessageCount)
	assert.False(t, report.Succeeded)

	tr.Record(turn.RoleFinalizer, "TERMINATE {\"done\":true}")
	report = tr.BuildReport()
	assert.Equal(t, "completed", report.Status)
	assert.True(t, report.Succeeded)
	assert.GreaterOrEqual(t, report.DurationSeconds, 0.0)
}
