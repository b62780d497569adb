package gateway_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaviohq/onboardd/internal/coalesce"
	"github.com/kaviohq/onboardd/internal/gateway"
	"github.com/kaviohq/onboardd/internal/mocks"
	"github.com/kaviohq/onboardd/internal/scheduler"
	"github.com/kaviohq/onboardd/internal/session"
	"github.com/kaviohq/onboardd/internal/store"
	"github.com/kaviohq/onboardd/internal/turn"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pingStub struct{ err error }

func (p pingStub) Ping(context.Context) error { return p.err }

type ingressHarness struct {
	store   *mocks.Store
	server  *gateway.Server
	manager *session.Manager
}

func newIngress(t *testing.T, health gateway.HealthChecker) *ingressHarness {
	t.Helper()
	logger := testLogger()
	st := mocks.NewStore()

	router := turn.NewRouter(turn.RouterConfig{
		Generator: mocks.NewScriptedGenerator(),
		Marker:    "TERMINATE",
		Logger:    logger,
	})
	coal := coalesce.NewCoalescer(st, coalesce.Config{
		Window: time.Hour,
		Logger: logger,
	})
	followUp := scheduler.NewFollowUp(st, scheduler.FollowUpConfig{
		IdleWindow: time.Hour,
		Logger:     logger,
	})
	mgr := session.NewManager(session.Deps{
		Store:     st,
		Router:    router,
		Coalescer: coal,
		FollowUp:  followUp,
		Logger:    logger,
	}, session.Config{Marker: "TERMINATE"})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	mgr.Start(ctx)

	srv := gateway.NewServer(gateway.ServerConfig{
		Addr:    ":0",
		Store:   st,
		Coal:    coal,
		Manager: mgr,
		Health:  health,
		Logger:  logger,
	})
	return &ingressHarness{store: st, server: srv, manager: mgr}
}

func postMessage(h *ingressHarness, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/onboarding/message", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newIngress(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestGeneratorHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := newIngress(t, pingStub{})
		req := httptest.NewRequest(http.MethodGet, "/api/health/generator", nil)
		rec := httptest.NewRecorder()
		h.server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unhealthy", func(t *testing.T) {
		h := newIngress(t, pingStub{err: errors.New("connection refused")})
		req := httptest.NewRequest(http.MethodGet, "/api/health/generator", nil)
		rec := httptest.NewRecorder()
		h.server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("unconfigured", func(t *testing.T) {
		h := newIngress(t, nil)
		req := httptest.NewRequest(http.MethodGet, "/api/health/generator", nil)
		rec := httptest.NewRecorder()
		h.server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "unconfigured")
	})
}

func TestMessageValidation(t *testing.T) {
	h := newIngress(t, nil)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing msg", `{"phone":"+5511999","rid":"r1"}`},
		{"blank msg", `{"msg":"   ","phone":"+5511999","rid":"r1"}`},
		{"missing phone", `{"msg":"oi","rid":"r1"}`},
		{"missing rid", `{"msg":"oi","phone":"+5511999"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postMessage(h, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestMessageCreatesSessionAndBuffersInput(t *testing.T) {
	h := newIngress(t, nil)

	rec := postMessage(h, `{"msg":"oi, cheguei","phone":"+5511999","rid":"r1","employee_name":"Ana"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"queued"`)

	ctx := context.Background()
	status, err := h.store.Status(ctx, "chat:r1")
	require.NoError(t, err)
	assert.Equal(t, store.StateAccumulatingFirstInput, status)
	assert.Equal(t, []string{"oi, cheguei"}, h.store.BufferedInput("chat:r1"))
	assert.Equal(t, 1, h.manager.Active())
}

func TestMessageJoinsExistingSession(t *testing.T) {
	h := newIngress(t, nil)

	rec := postMessage(h, `{"msg":"primeira","phone":"+5511999","rid":"r1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = postMessage(h, `{"msg":"segunda","phone":"+5511999","rid":"r1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	assert.Equal(t, []string{"primeira", "segunda"}, h.store.BufferedInput("chat:r1"))
	assert.Equal(t, 1, h.manager.Active())
}

func TestMessageToEndedSessionSpawnsNoRunner(t *testing.T) {
	h := newIngress(t, nil)

	// Ended session left over from a previous process; no runner is live.
	require.NoError(t, h.store.SetStatus(context.Background(), "chat:r1", store.StateConversationEnded))

	rec := postMessage(h, `{"msg":"oi","phone":"+5511999","rid":"r1"}`)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, 0, h.manager.Active())
}

func TestMessageAfterSessionEnded(t *testing.T) {
	h := newIngress(t, nil)

	rec := postMessage(h, `{"msg":"oi","phone":"+5511999","rid":"r1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.NoError(t, h.store.EndSession(context.Background(), "chat:r1"))

	rec = postMessage(h, `{"msg":"ainda aí?","phone":"+5511999","rid":"r1"}`)
	assert.Equal(t, http.StatusGone, rec.Code)
}
