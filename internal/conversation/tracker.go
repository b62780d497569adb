// Package conversation accumulates per-session history, filters control
// tokens out of user-visible content, and detects session finalization by
// parsing structured data from finalizer output.
package conversation

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kaviohq/onboardd/internal/turn"
)

// Entry is one recorded fragment. Raw is never mutated by filtering;
// Filtered is the control-token-free view.
type Entry struct {
	Timestamp time.Time
	Role      turn.Role
	Raw       string
	Filtered  string
}

// Report summarizes a session once its tracker is released.
type Report struct {
	SessionID           string         `json:"session_id"`
	Status              string         `json:"status"`
	DurationSeconds     float64        `json:"duration_seconds"`
	MessageCount        int            `json:"message_count"`
	FinalizationPayload map[string]any `json:"finalization_data"`
	Succeeded           bool           `json:"succeeded"`
}

// Tracker is the process-local conversation record for one session. It is
// a working cache rebuilt per execution, never the source of truth for
// session liveness; the store holds that.
type Tracker struct {
	sessionID  string
	sessionKey string
	marker     string
	filter     *Filter
	logger     *slog.Logger

	mu           sync.RWMutex
	entries      []Entry
	finalization map[string]any
	startTime    time.Time
}

// NewTracker creates a tracker. marker is the termination marker that
// makes finalizer content eligible for payload extraction.
func NewTracker(sessionID, sessionKey, marker string, logger *slog.Logger) *Tracker {
	return &Tracker{
		sessionID:  sessionID,
		sessionKey: sessionKey,
		marker:     strings.ToUpper(marker),
		filter:     NewFilter(),
		logger:     logger,
		startTime:  time.Now(),
	}
}

// Filter exposes the tracker's control-token filter so callers can reuse
// the same vocabulary on outbound content.
func (t *Tracker) Filter() *Filter {
	return t.filter
}

// Record appends one fragment to the history. Empty content and unknown
// roles are dropped, never appended. Finalizer content carrying the
// termination marker additionally feeds finalization extraction, exactly
// once per session: once a payload is captured it is immutable.
func (t *Tracker) Record(role turn.Role, raw string) {
	content := strings.TrimSpace(raw)
	if content == "" {
		t.logger.Debug("dropping empty fragment", slog.String("session", t.sessionKey))
		return
	}
	if !role.Known() {
		t.logger.Warn("dropping fragment with unknown role",
			slog.String("session", t.sessionKey),
			slog.String("role", string(role)))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, Entry{
		Timestamp: time.Now(),
		Role:      role,
		Raw:       content,
		Filtered:  t.filter.Apply(content),
	})

	if role == turn.RoleFinalizer && t.finalization == nil &&
		strings.Contains(strings.ToUpper(content), t.marker) {
		t.extractFinalization(content)
	}
}

// extractFinalization runs the ordered fallback chain. Caller holds t.mu.
func (t *Tracker) extractFinalization(content string) {
	res := ExtractFinalization(content)
	switch res.Outcome {
	case ExtractSuccess:
		t.finalization = res.Payload
		t.logger.Info("finalization payload captured",
			slog.String("session", t.sessionKey),
			slog.Int("fields", len(res.Payload)))
	case ExtractParseError:
		t.logger.Warn("finalization payload failed to parse",
			slog.String("session", t.sessionKey),
			slog.Any("error", res.Err))
	case ExtractNoMatch:
		t.logger.Warn("no finalization payload found in finalizer output",
			slog.String("session", t.sessionKey))
	}
}

// Finished reports whether a finalization payload has been captured. Its
// presence is the sole authoritative signal that the conversation is done.
func (t *Tracker) Finished() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finalization != nil
}

// Finalization returns the captured payload, or nil.
func (t *Tracker) Finalization() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finalization
}

// History returns a copy of the recorded entries in order.
func (t *Tracker) History() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// BuildReport summarizes the session so far.
func (t *Tracker) BuildReport() Report {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status := "incomplete"
	if t.finalization != nil {
		status = "completed"
	}
	return Report{
		SessionID:           t.sessionID,
		Status:              status,
		DurationSeconds:     time.Since(t.startTime).Seconds(),
		MessageCount:        len(t.entries),
		FinalizationPayload: t.finalization,
		Succeeded:           t.finalization != nil,
	}
}
