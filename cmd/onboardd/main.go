// Package main is the onboardd entry point: it wires the store, the
// session layer, the background loops and the HTTP ingress together.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kaviohq/onboardd/internal/coalesce"
	"github.com/kaviohq/onboardd/internal/config"
	"github.com/kaviohq/onboardd/internal/conversation"
	"github.com/kaviohq/onboardd/internal/gateway"
	"github.com/kaviohq/onboardd/internal/generator"
	"github.com/kaviohq/onboardd/internal/scheduler"
	"github.com/kaviohq/onboardd/internal/session"
	"github.com/kaviohq/onboardd/internal/store"
	"github.com/kaviohq/onboardd/internal/turn"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	root := &cobra.Command{
		Use:           "onboardd",
		Short:         "Concurrent onboarding chat orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(debug)
			cfg, err := config.Load(configPath)
			if err != nil {
				logger.Error("configuration failed", slog.Any("error", err))
				return err
			}
			if err := run(cmd.Context(), cfg, logger); err != nil && err != context.Canceled {
				logger.Error("onboardd exited with error", slog.Any("error", err))
				return err
			}
			return nil
		},
	}
	root.AddCommand(serve)
	return root
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("onboardd starting")

	st, err := store.NewRedisStore(ctx, cfg.Redis.URL, logger)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Warn("store close failed", slog.Any("error", cerr))
		}
	}()

	gen := generator.NewClient(generator.Config{
		APIKey:          cfg.OpenAI.APIKey,
		Model:           cfg.OpenAI.Model,
		Marker:          cfg.Turn.Marker,
		PlannerPrompt:   cfg.OpenAI.PlannerPrompt,
		ResponderPrompt: cfg.OpenAI.ResponderPrompt,
		FinalizerPrompt: cfg.OpenAI.FinalizerPrompt,
		Logger:          logger,
	})

	router := turn.NewRouter(turn.RouterConfig{
		Generator: gen,
		Marker:    cfg.Turn.Marker,
		Deadline:  cfg.Turn.Deadline,
		Filter:    conversation.NewFilter().Apply,
		Logger:    logger,
	})

	coalescer := coalesce.NewCoalescer(st, coalesce.Config{
		Window:    cfg.Debounce.Window,
		ExitToken: cfg.Debounce.ExitToken,
		Logger:    logger,
	})

	followUp := scheduler.NewFollowUp(st, scheduler.FollowUpConfig{
		IdleWindow:   cfg.FollowUp.IdleWindow,
		GraceWindow:  cfg.FollowUp.GraceWindow,
		FollowUpText: cfg.FollowUp.Text,
		ClosingText:  cfg.FollowUp.ClosingText,
		Logger:       logger,
	})

	manager := session.NewManager(session.Deps{
		Store:        st,
		Router:       router,
		Coalescer:    coalescer,
		FollowUp:     followUp,
		Logger:       logger,
		OnSessionEnd: gen.Forget,
	}, session.Config{
		ConversationTimeout: cfg.Turn.ConversationTimeout,
		ExitToken:           cfg.Debounce.ExitToken,
		Marker:              cfg.Turn.Marker,
	})
	manager.Start(ctx)

	var transport scheduler.Transport
	if cfg.Delivery.WebhookURL != "" {
		transport = gateway.NewWebhookTransport(cfg.Delivery.WebhookURL, logger)
	} else {
		logger.Warn("no delivery webhook configured, using log transport")
		transport = &gateway.LogTransport{Logger: logger}
	}

	delivery := scheduler.NewDeliveryLoop(st, transport, cfg.Delivery.Tick, logger)
	sweep := scheduler.NewSweep(st, cfg.Expiry.Interval, cfg.Expiry.MaxIdle, logger)

	server := gateway.NewServer(gateway.ServerConfig{
		Addr:    cfg.Server.Addr,
		Store:   st,
		Coal:    coalescer,
		Manager: manager,
		Health:  gen,
		Logger:  logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return delivery.Run(gctx) })
	g.Go(func() error { return sweep.Run(gctx) })
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("onboardd started", slog.String("addr", cfg.Server.Addr))
	return g.Wait()
}
