package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/trailpost/billing/pkg/httpserver"
	"github.com/trailpost/billing/pkg/logger"
	"github.com/trailpost/billing/pkg/metrics"
	"github.com/trailpost/billing/svc/lifecycle"
)

const readinessTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var noSchedule bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve payment webhooks, health and metrics, and run scheduled sweeps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if !noSchedule {
				c, err := newScheduler(ctx, a.manager, a.logger, a.cfg.SweepSchedule, a.cfg.ResetSchedule)
				if err != nil {
					return err
				}
				c.Start()
				defer func() { <-c.Stop().Done() }()
			}

			return httpserver.New(a.cfg.HTTP, a.logger).Run(ctx, newRouter(a))
		},
	}

	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "do not run sweeps in this process")
	return cmd
}

// newRouter mounts the webhook endpoint next to the operational endpoints.
func newRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/webhooks/payments", lifecycle.NewWebhookHandler(a.manager, a.parser))

	r.Get("/healthz", httpserver.HealthHandler(a.logger, readinessTimeout, nil))
	r.Get("/readyz", httpserver.HealthHandler(a.logger, readinessTimeout, a.checks))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(a.registry))
	return r
}

// newScheduler runs the sweep and the usage reset on their cron schedules.
// An empty schedule disables the job. Runs never overlap.
func newScheduler(ctx context.Context, s sweeper, l *slog.Logger, sweepSpec, resetSpec string) (*cron.Cron, error) {
	cl := cronLogger{l: l.With(logger.Component("scheduler"))}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if sweepSpec != "" {
		if _, err := c.AddFunc(sweepSpec, func() { _, _ = runSweep(ctx, s, l) }); err != nil {
			return nil, fmt.Errorf("invalid sweep schedule %q: %w", sweepSpec, err)
		}
	}
	if resetSpec != "" {
		if _, err := c.AddFunc(resetSpec, func() {
			n, err := s.ResetStaleUsage(ctx)
			if err != nil {
				l.ErrorContext(ctx, "usage reset failed", logger.Error(err))
				return
			}
			l.InfoContext(ctx, "usage reset finished", logger.Count(n))
		}); err != nil {
			return nil, fmt.Errorf("invalid usage reset schedule %q: %w", resetSpec, err)
		}
	}
	return c, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append([]any{logger.Error(err)}, keysAndValues...)...)
}
