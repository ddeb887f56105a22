package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/trailpost/billing/pkg/catalog"
	"github.com/trailpost/billing/pkg/logger"
	"github.com/trailpost/billing/pkg/subscription"
)

// DowngradeSubscription moves an active subscription to a lower plan at once.
// Nothing is refunded; the new price applies from the next renewal and usage
// counters are clamped to the new limits. An empty cycle keeps the current one.
func (m *Manager) DowngradeSubscription(ctx context.Context, userID string, plan catalog.Plan, cycle catalog.Cycle) (s *subscription.Subscription, err error) {
	ctx, done := m.begin(ctx, "downgrade")
	defer done(&err)

	switch {
	case userID == "":
		return nil, subscription.ErrMissingUserID
	case !plan.Valid():
		return nil, fmt.Errorf("%w: %q", subscription.ErrInvalidPlan, string(plan))
	case cycle != "" && !cycle.Valid():
		return nil, fmt.Errorf("%w: %q", subscription.ErrInvalidCycle, string(cycle))
	}

	features, err := m.catalog.LookupFeatures(plan)
	if err != nil {
		return nil, subscription.Internal("plan features", err)
	}

	now := m.clock()
	var lost []catalog.Feature
	s, err = m.mutate(ctx, userID, func(s *subscription.Subscription) error {
		s.Settle(now)
		to, err := resolve(ctx, eventDowngrade, &change{sub: s, plan: plan, cycle: cycle, now: now})
		if err != nil {
			return err
		}

		cmp, err := m.catalog.ComparePlans(s.Plan, plan)
		if err != nil {
			return subscription.Internal("compare plans", err)
		}
		lost = cmp.LostFeatures

		if plan.IsPaid() {
			next := cycle
			if next == "" {
				next = s.Billing.Cycle
			}
			price, err := m.catalog.LookupPrice(plan, next)
			if err != nil {
				return subscription.Internal("price plan", err)
			}
			s.Billing.Cycle = next
			s.Billing.Amount = price
		} else {
			// free has no billing period
			s.Billing.Cycle = ""
			s.Billing.Amount = catalog.Money{Currency: m.catalog.Currency()}
			s.Billing.NextBillingDate = nil
			s.Window.EndDate = nil
			s.Window.AutoRenew = false
		}

		s.Plan = plan
		s.Features = features.Clone()
		s.Status = to
		s.ClampUsage()
		s.Touch(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "subscription downgraded",
		logger.UserID(userID),
		logger.Plan(plan),
		slog.Any("lost_features", lost),
	)
	return s, nil
}

// CancelSubscription cancels the user's subscription. Immediate cancellation
// ends it now and falls back to free features with status inactive; otherwise
// it stays active until the end of the paid period and does not renew.
func (m *Manager) CancelSubscription(ctx context.Context, userID, reason string, immediate bool) (s *subscription.Subscription, err error) {
	ctx, done := m.begin(ctx, "cancel")
	defer done(&err)

	if userID == "" {
		return nil, subscription.ErrMissingUserID
	}
	free, err := m.catalog.LookupFeatures(catalog.PlanFree)
	if err != nil {
		return nil, subscription.Internal("plan features", err)
	}

	ev := eventCancelAtPeriodEnd
	if immediate {
		ev = eventCancelNow
	}

	now := m.clock()
	s, err = m.mutate(ctx, userID, func(s *subscription.Subscription) error {
		s.Settle(now)
		to, err := resolve(ctx, ev, &change{sub: s, plan: s.Plan, cycle: s.Billing.Cycle, now: now})
		if err != nil {
			return err
		}

		s.Window.CancelledAt = subscription.TimePtr(now)
		s.Window.CancelReason = reason
		s.Window.AutoRenew = false

		if immediate {
			s.Status = to
			s.Plan = catalog.PlanFree
			s.Features = free.Clone()
			s.Trial.IsTrialUser = false
			s.Window.EndDate = subscription.TimePtr(now)
			s.Billing.Cycle = ""
			s.Billing.Amount = catalog.Money{Currency: m.catalog.Currency()}
			s.Billing.NextBillingDate = nil
			s.ClampUsage()
		}
		s.Touch(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "subscription cancelled",
		logger.UserID(userID),
		logger.Status(s.Status),
		logger.Reason(reason),
		slog.Bool("immediate", immediate),
	)
	return s, nil
}

// StartTrial gives the user days of plan for free. Each account gets one
// trial, and an active paid subscription cannot start one.
func (m *Manager) StartTrial(ctx context.Context, userID string, plan catalog.Plan, days int) (s *subscription.Subscription, err error) {
	ctx, done := m.begin(ctx, "start_trial")
	defer done(&err)

	switch {
	case userID == "":
		return nil, subscription.ErrMissingUserID
	case !plan.Valid() || !plan.IsPaid():
		return nil, fmt.Errorf("%w: no trial for %q", subscription.ErrInvalidPlan, string(plan))
	case days < 1 || days > m.cfg.MaxTrialDays:
		return nil, fmt.Errorf("%w: %d days, must be between 1 and %d", subscription.ErrInvalidTrialDays, days, m.cfg.MaxTrialDays)
	}

	features, err := m.catalog.LookupFeatures(plan)
	if err != nil {
		return nil, subscription.Internal("plan features", err)
	}

	now := m.clock()
	end := now.AddDate(0, 0, days)
	s, err = m.upsert(ctx, userID, func(s *subscription.Subscription) error {
		s.Settle(now)
		to, err := resolve(ctx, eventStartTrial, &change{sub: s, plan: plan, now: now})
		if err != nil {
			return err
		}

		s.Status = to
		s.Plan = plan
		s.Features = features.Clone()
		s.Trial = subscription.Trial{
			IsTrialUser:  true,
			StartDate:    subscription.TimePtr(now),
			EndDate:      subscription.TimePtr(end),
			Plan:         plan,
			HasUsedTrial: true,
		}
		s.Window = subscription.Window{
			StartDate: now,
			EndDate:   subscription.TimePtr(end),
		}
		s.Touch(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "trial started",
		logger.UserID(userID),
		logger.Plan(plan),
		slog.Time("ends_at", end),
	)
	return s, nil
}
