package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/trailpost/billing/pkg/logger"
	"github.com/trailpost/billing/svc/lifecycle"
)

// sweeper runs the periodic subscription sweeps.
type sweeper interface {
	RenewDue(ctx context.Context) (lifecycle.RenewReport, error)
	ExpireDue(ctx context.Context) (int, error)
	ResetStaleUsage(ctx context.Context) (int, error)
}

type sweepResult struct {
	Renewal lifecycle.RenewReport `json:"renewal"`
	Expired int                   `json:"expired"`
}

// runSweep renews due auto-renewing subscriptions first so that only the
// ones that could not renew are expired. Expiry runs even when renewal
// fails.
func runSweep(ctx context.Context, s sweeper, l *slog.Logger) (sweepResult, error) {
	var res sweepResult
	report, renewErr := s.RenewDue(ctx)
	res.Renewal = report
	if renewErr != nil {
		l.ErrorContext(ctx, "renewal sweep failed", logger.Error(renewErr))
	}

	expired, expireErr := s.ExpireDue(ctx)
	res.Expired = expired
	if expireErr != nil {
		l.ErrorContext(ctx, "expiry sweep failed", logger.Error(expireErr))
	}

	l.InfoContext(ctx, "sweep finished",
		slog.Int("renewed", report.Renewed),
		slog.Int("declined", report.Declined),
		slog.Int("pending", report.Pending),
		slog.Int("expired", expired),
	)
	return res, errors.Join(renewErr, expireErr)
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Renew due subscriptions and expire ended periods and trials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := runSweep(cmd.Context(), a.manager, a.logger)
			if perr := printOutput(cmd, res); perr != nil {
				return perr
			}
			return err
		},
	}
}

func newResetUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-usage",
		Short: "Reset usage counters older than the reset period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.manager.ResetStaleUsage(cmd.Context())
			if err != nil {
				return err
			}
			return printOutput(cmd, map[string]int{"reset": n})
		},
	}
}
