package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trailpost/billing/pkg/catalog"
	"github.com/trailpost/billing/pkg/statemachine"
	"github.com/trailpost/billing/pkg/subscription"
)

// event triggers a lifecycle transition.
type event string

const (
	eventCreate            event = "create"
	eventStartTrial        event = "start_trial"
	eventUpgrade           event = "upgrade"
	eventDowngrade         event = "downgrade"
	eventCancelNow         event = "cancel"
	eventCancelAtPeriodEnd event = "cancel_at_period_end"
	eventRenew             event = "renew"
	eventRenewDeclined     event = "renew_declined"
	eventExpire            event = "expire"
	eventTerminate         event = "terminate"
)

// change is what guards evaluate: the persisted snapshot and the request.
type change struct {
	sub   *subscription.Subscription
	plan  catalog.Plan
	cycle catalog.Cycle
	now   time.Time
}

const (
	inactive  = subscription.StatusInactive
	trial     = subscription.StatusTrial
	active    = subscription.StatusActive
	cancelled = subscription.StatusCancelled
	expired   = subscription.StatusExpired
	suspended = subscription.StatusSuspended
)

// transitions is the lifecycle state machine. A free subscription is active,
// so "no subscription yet" resolves from active after lazy creation.
var transitions = statemachine.NewBuilder[subscription.Status, event, *change]().
	From(inactive, trial, active, cancelled, expired).When(eventCreate).To(active).
	Guard(noPaidSubscription).Add().
	From(inactive, trial, active, cancelled, expired).When(eventStartTrial).To(trial).
	Guard(trialUnused, noPaidSubscription).Add().
	From(trial, active, cancelled, expired).When(eventUpgrade).To(active).
	Guard(isUpgrade).Add().
	From(active).When(eventDowngrade).To(active).
	Guard(isDowngrade).Add().
	From(active, trial, suspended, cancelled, inactive).When(eventCancelNow).To(inactive).
	Guard(notCancelled).Add().
	From(active).When(eventCancelAtPeriodEnd).To(active).
	Guard(notCancelled, hasBillingPeriod).Add().
	From(active, expired, suspended).When(eventRenew).To(active).
	Guard(renewable, autoRenew, renewalDue).Add().
	From(active, expired, suspended).When(eventRenewDeclined).To(suspended).
	Guard(renewable).Add().
	From(trial, active).When(eventExpire).To(expired).
	Guard(expiryDue).Add().
	From(active, trial, suspended, expired).When(eventTerminate).To(cancelled).Add().
	MustBuild()

// resolve evaluates ev against the snapshot in c and maps state machine
// errors to subscription errors.
func resolve(ctx context.Context, ev event, c *change) (subscription.Status, error) {
	to, err := transitions.Resolve(ctx, c.sub.Status, ev, c)
	if err == nil {
		return to, nil
	}

	var rejected *statemachine.TransitionRejectedError
	if errors.As(err, &rejected) && rejected.Err != nil {
		if errors.Is(rejected.Err, statemachine.ErrCancelled) {
			return "", subscription.Internal("resolve transition", rejected.Err)
		}
		return "", rejected.Err
	}
	return "", fmt.Errorf("%w: cannot %s a %s subscription", subscription.ErrInvalidTransition, ev, c.sub.Status)
}

func noPaidSubscription(_ context.Context, _ subscription.Status, _ event, c *change) error {
	if c.sub.IsPaid() {
		return fmt.Errorf("%w: on the %s plan", subscription.ErrActiveSubscriptionExists, c.sub.Plan)
	}
	return nil
}

func trialUnused(_ context.Context, _ subscription.Status, _ event, c *change) error {
	if c.sub.Trial.HasUsedTrial {
		return subscription.ErrTrialAlreadyUsed
	}
	return nil
}

func isUpgrade(_ context.Context, _ subscription.Status, _ event, c *change) error {
	if c.plan.Level() <= c.sub.Plan.Level() {
		return fmt.Errorf("%w: %s to %s", subscription.ErrNotAnUpgrade, c.sub.Plan, c.plan)
	}
	return nil
}

func isDowngrade(_ context.Context, _ subscription.Status, _ event, c *change) error {
	if c.plan.Level() >= c.sub.Plan.Level() {
		return fmt.Errorf("%w: %s to %s", subscription.ErrNotADowngrade, c.sub.Plan, c.plan)
	}
	return nil
}

func notCancelled(_ context.Context, _ subscription.Status, _ event, c *change) error {
	if c.sub.IsCancelled() || c.sub.Status == subscription.StatusInactive {
		return subscription.ErrAlreadyCancelled
	}
	return nil
}

func hasBillingPeriod(_ context.Context, _ subscription.Status, _ event, c *change) error {
	if !c.sub.Plan.IsPaid() || c.sub.Window.EndDate == nil {
		return fmt.Errorf("%w: the %s plan has no billing period to run out", subscription.ErrInvalidTransition, c.sub.Plan)
	}
	return nil
}

func renewable(_ context.Context, _ subscription.Status, _ event, c *change) error {
	if !c.sub.Plan.IsPaid() || !c.sub.Billing.Cycle.Valid() {
		return fmt.Errorf("%w: the %s plan is not billed", subscription.ErrInvalidTransition, c.sub.Plan)
	}
	return nil
}

func autoRenew(_ context.Context, _ subscription.Status, _ event, c *change) error {
	if !c.sub.Window.AutoRenew {
		return fmt.Errorf("%w: auto-renewal is off", subscription.ErrInvalidTransition)
	}
	return nil
}

func renewalDue(_ context.Context, _ subscription.Status, _ event, c *change) error {
	if c.sub.Status == subscription.StatusSuspended {
		return nil
	}
	due := c.sub.Billing.NextBillingDate
	if due != nil && c.now.Before(*due) {
		return fmt.Errorf("%w: renewal is not due until %s", subscription.ErrInvalidTransition, due.Format(time.DateOnly))
	}
	return nil
}

func expiryDue(_ context.Context, _ subscription.Status, _ event, c *change) error {
	if !c.sub.Clone().Settle(c.now) {
		return fmt.Errorf("%w: nothing to expire", subscription.ErrInvalidTransition)
	}
	return nil
}
