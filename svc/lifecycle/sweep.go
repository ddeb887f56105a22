package lifecycle

import (
	"context"
	"errors"
	"log/slog"

	"github.com/trailpost/billing/pkg/logger"
	"github.com/trailpost/billing/pkg/metrics"
	"github.com/trailpost/billing/pkg/subscription"
)

// RenewReport summarises a RenewDue run.
type RenewReport struct {
	Renewed  int `json:"renewed"`
	Declined int `json:"declined"`
	Pending  int `json:"pending"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// ExpireDue persists expiry of every trial and paid period that has ended.
// Reads already see these transitions lazily; the sweep makes them durable
// and visible to reporting. Returns how many subscriptions expired.
func (m *Manager) ExpireDue(ctx context.Context) (n int, err error) {
	ctx, done := m.begin(ctx, "expire_due")
	defer done(&err)

	now := m.clock()
	subs, err := m.store.List(ctx, subscription.Filter{
		Statuses:  []subscription.Status{subscription.StatusTrial, subscription.StatusActive},
		DueBefore: now,
	})
	if err != nil {
		return 0, storeError("list due subscriptions", err)
	}

	var errs []error
	for _, due := range subs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		expired := false
		_, err := m.mutate(ctx, due.UserID, func(s *subscription.Subscription) error {
			expired = false
			to, err := resolve(ctx, eventExpire, &change{sub: s, plan: s.Plan, cycle: s.Billing.Cycle, now: now})
			if err != nil {
				return subscription.ErrUnchanged
			}
			s.Settle(now)
			s.Status = to
			s.Touch(now)
			expired = true
			return nil
		})
		if err != nil {
			errs = append(errs, err)
			m.logger.ErrorContext(ctx, "failed to expire subscription", logger.UserID(due.UserID), logger.Error(err))
			continue
		}
		if expired {
			n++
		}
	}

	m.metrics.ObserveSweep("expire", metrics.ResultOK, n)
	m.metrics.ObserveSweep("expire", metrics.ResultError, len(errs))
	m.logger.InfoContext(ctx, "expiry sweep finished", logger.Count(n), logger.Errors(errs...))
	return n, errors.Join(errs...)
}

// RenewDue charges every auto-renewing paid subscription whose period has
// ended. Declines suspend the subscription and are not sweep errors.
func (m *Manager) RenewDue(ctx context.Context) (report RenewReport, err error) {
	ctx, done := m.begin(ctx, "renew_due")
	defer done(&err)

	now := m.clock()
	subs, err := m.store.List(ctx, subscription.Filter{
		Statuses:  []subscription.Status{subscription.StatusActive, subscription.StatusExpired},
		DueBefore: now,
	})
	if err != nil {
		return report, storeError("list due subscriptions", err)
	}

	var errs []error
	for _, due := range subs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !due.Plan.IsPaid() || !due.Window.AutoRenew {
			report.Skipped++
			continue
		}

		_, err := m.Renew(ctx, due.UserID)
		var perr *subscription.PaymentError
		switch {
		case err == nil:
			report.Renewed++
		case errors.As(err, &perr) && perr.Pending:
			report.Pending++
		case errors.As(err, &perr) && !perr.Retryable:
			report.Declined++
		case subscription.KindOf(err) == subscription.KindConflict:
			report.Skipped++
		default:
			report.Failed++
			errs = append(errs, err)
		}
	}

	m.metrics.ObserveSweep("renew", metrics.ResultOK, report.Renewed)
	m.metrics.ObserveSweep("renew", metrics.ResultPayment, report.Declined)
	m.metrics.ObserveSweep("renew", metrics.ResultPending, report.Pending)
	m.metrics.ObserveSweep("renew", metrics.ResultError, report.Failed)
	m.logger.InfoContext(ctx, "renewal sweep finished",
		logger.Count(report.Renewed),
		logger.Group("report",
			slog.Int("declined", report.Declined),
			slog.Int("pending", report.Pending),
			slog.Int("skipped", report.Skipped),
			slog.Int("failed", report.Failed),
		),
	)
	return report, errors.Join(errs...)
}

// ResetStaleUsage zeroes the counters of subscriptions without a billing
// period, free plans and trials, once UsageResetPeriod has passed since their
// last reset. Paid plans reset on renewal.
func (m *Manager) ResetStaleUsage(ctx context.Context) (n int, err error) {
	ctx, done := m.begin(ctx, "reset_stale_usage")
	defer done(&err)

	now := m.clock()
	subs, err := m.store.List(ctx, subscription.Filter{
		Statuses: []subscription.Status{subscription.StatusActive, subscription.StatusTrial},
	})
	if err != nil {
		return 0, storeError("list subscriptions", err)
	}

	cutoff := now.Add(-m.cfg.UsageResetPeriod)
	var errs []error
	for _, s := range subs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if s.Billing.NextBillingDate != nil || s.Limits.ResetDate.After(cutoff) {
			continue
		}
		if _, err := m.meter.Reset(ctx, s.UserID); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}

	m.metrics.ObserveSweep("reset_usage", metrics.ResultOK, n)
	m.metrics.ObserveSweep("reset_usage", metrics.ResultError, len(errs))
	return n, errors.Join(errs...)
}
