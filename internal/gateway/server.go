// Package gateway is the HTTP edge: the ingress endpoint that feeds user
// messages into the session layer, and the outbound transport that hands
// delivered messages to the messaging provider.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kaviohq/onboardd/internal/coalesce"
	"github.com/kaviohq/onboardd/internal/session"
	"github.com/kaviohq/onboardd/internal/store"
)

// userTypeHeader carries the caller classification set by the upstream
// messaging integration.
const userTypeHeader = "X-User-Type"

// HealthChecker probes the turn generator's reachability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// ServerConfig configures the ingress server.
type ServerConfig struct {
	Addr    string
	Store   store.Store
	Coal    *coalesce.Coalescer
	Manager *session.Manager
	Health  HealthChecker
	Logger  *slog.Logger
}

// Server is the echo-backed ingress.
type Server struct {
	echo    *echo.Echo
	addr    string
	store   store.Store
	coal    *coalesce.Coalescer
	manager *session.Manager
	health  HealthChecker
	logger  *slog.Logger
}

type inboundMessage struct {
	Msg          string `json:"msg"`
	Phone        string `json:"phone"`
	RID          string `json:"rid"`
	EmployeeName string `json:"employee_name"`
}

// NewServer creates the ingress server and registers its routes.
func NewServer(cfg ServerConfig) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	s := &Server{
		echo:    e,
		addr:    cfg.Addr,
		store:   cfg.Store,
		coal:    cfg.Coal,
		manager: cfg.Manager,
		health:  cfg.Health,
		logger:  cfg.Logger,
	}

	e.GET("/healthz", s.handleHealthz)
	e.GET("/api/health/generator", s.handleGeneratorHealth)
	e.POST("/api/onboarding/message", s.handleMessage)
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("ingress listening", slog.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGeneratorHealth(c echo.Context) error {
	if s.health == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "unconfigured"})
	}
	if err := s.health.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"detail": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// handleMessage accepts one raw user message. First contact creates the
// session; later messages join the session's debounce window. The actual
// reply flows back asynchronously through the delivery loop.
func (s *Server) handleMessage(c echo.Context) error {
	var in inboundMessage
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	if strings.TrimSpace(in.Msg) == "" || in.Phone == "" || in.RID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "msg, phone and rid are required")
	}

	ctx := c.Request().Context()
	meta := coalesce.Meta{
		SessionKey:   store.SessionKey(in.RID),
		RID:          in.RID,
		Phone:        in.Phone,
		EmployeeName: in.EmployeeName,
	}
	userType := c.Request().Header.Get(userTypeHeader)

	status, err := s.store.Status(ctx, meta.SessionKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := s.store.SetStatus(ctx, meta.SessionKey, store.StateAccumulatingFirstInput); err != nil {
			s.logger.Error("session creation failed",
				slog.String("session", meta.SessionKey),
				slog.Any("error", err))
			return echo.NewHTTPError(http.StatusInternalServerError, "session creation failed")
		}
		s.logger.Info("session created",
			slog.String("session", meta.SessionKey),
			slog.String("user_type", userType))
	case err != nil:
		s.logger.Error("session lookup failed",
			slog.String("session", meta.SessionKey),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "session lookup failed")
	case status == store.StateConversationEnded:
		// Rejected before Acquire so an ended session never gets a runner.
		return echo.NewHTTPError(http.StatusGone, "conversation already ended")
	}

	// Recreates the runner after a process restart as well; Acquire is a
	// no-op for an already-live session.
	if _, _, err := s.manager.Acquire(meta, userType); err != nil {
		s.logger.Error("runner acquire failed",
			slog.String("session", meta.SessionKey),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "session unavailable")
	}

	if err := s.coal.Offer(ctx, meta, in.Msg); err != nil {
		if errors.Is(err, coalesce.ErrSessionEnded) {
			return echo.NewHTTPError(http.StatusGone, "conversation already ended")
		}
		s.logger.Error("input buffering failed",
			slog.String("session", meta.SessionKey),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "input buffering failed")
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"session_id": in.RID,
		"status":     "queued",
	})
}
