package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/trailpost/billing/pkg/gateway"
	"github.com/trailpost/billing/pkg/logger"
	"github.com/trailpost/billing/pkg/subscription"
)

// Reconciliation is the effect of a gateway event.
type Reconciliation string

const (
	// ReconcileApplied means the event changed the subscription.
	ReconcileApplied Reconciliation = "applied"
	// ReconcileDuplicate means the event was already applied.
	ReconcileDuplicate Reconciliation = "duplicate"
	// ReconcileUnmatched means no pending charge or subscription state
	// matched the event; nothing changed.
	ReconcileUnmatched Reconciliation = "unmatched"
	// ReconcileDeclined means a pending charge failed and was dropped.
	ReconcileDeclined Reconciliation = "declined"
	// ReconcileRefundDue means money was captured for a change that no
	// longer applies; a refund_due invoice was recorded.
	ReconcileRefundDue Reconciliation = "refund_due"
)

// HandleGatewayEvent reconciles an asynchronous provider notification with
// the stored subscription. Providers deliver at least once: repeated events
// are detected by idempotency key or transaction id and change nothing.
func (m *Manager) HandleGatewayEvent(ctx context.Context, ev gateway.Event) (res Reconciliation, err error) {
	ctx, done := m.begin(ctx, "handle_gateway_event")
	defer done(&err)
	defer func() {
		result := string(res)
		if err != nil && res == "" {
			result = "error"
		}
		m.metrics.ObserveWebhook(string(ev.Type), result)
	}()

	if err := ev.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", subscription.ErrValidation, err)
	}

	switch ev.Type {
	case gateway.EventPaymentSucceeded:
		res, err = m.reconcilePayment(ctx, ev, false)
	case gateway.EventSubscriptionRenewed:
		res, err = m.reconcilePayment(ctx, ev, true)
	case gateway.EventPaymentFailed:
		res, err = m.reconcileFailure(ctx, ev)
	case gateway.EventSubscriptionCancelled:
		res, err = m.reconcileCancellation(ctx, ev)
	}

	m.logger.InfoContext(ctx, "gateway event reconciled",
		logger.UserID(ev.UserID),
		logger.EventID(ev.ID),
		logger.EventType(string(ev.Type)),
		logger.Transaction(ev.TransactionID, ev.IdempotencyKey),
		logger.Reason(string(res)),
		logger.Error(err),
	)
	return res, err
}

// reconcilePayment applies a captured payment. A provider-initiated renewal
// without a matching pending charge renews the current plan.
func (m *Manager) reconcilePayment(ctx context.Context, ev gateway.Event, renewal bool) (Reconciliation, error) {
	now := m.clock()
	key := ev.IdempotencyKey
	if renewal {
		key = firstNonEmpty(key, ev.ID)
	}

	var (
		res      Reconciliation
		pc       subscription.PendingCharge
		points   int
		rejected error
	)
	_, err := m.mutate(ctx, ev.UserID, func(s *subscription.Subscription) error {
		res, points, rejected = "", 0, nil
		s.Settle(now)

		if s.HasCharge(key, ev.TransactionID) {
			res = ReconcileDuplicate
			if i := s.FindPending(key, ev.TransactionID); i >= 0 {
				s.RemovePending(i)
				s.Touch(now)
				return nil
			}
			return subscription.ErrUnchanged
		}

		effective := now
		i := s.FindPending(key, ev.TransactionID)
		switch {
		case i >= 0:
			pc = s.Pending[i]
			s.RemovePending(i)
		case renewal:
			pc = subscription.PendingCharge{
				IdempotencyKey: key,
				Intent:         subscription.IntentRenew,
				Plan:           s.Plan,
				Cycle:          s.Billing.Cycle,
				Amount:         ev.Amount,
				CreatedAt:      now,
			}
			if pc.Amount.IsZero() {
				pc.Amount = s.Billing.Amount
			}
			// providers may bill a renewal ahead of the local due date
			if due := s.Billing.NextBillingDate; due != nil && due.After(now) {
				effective = *due
			}
		default:
			res = ReconcileUnmatched
			return subscription.ErrUnchanged
		}

		var err error
		points, rejected, err = m.apply(ctx, s, pc, ev.TransactionID, "", now, effective)
		if err != nil {
			return err
		}
		if rejected != nil {
			if pc.Amount.IsZero() {
				res = ReconcileUnmatched
				return subscription.ErrUnchanged
			}
			res = ReconcileRefundDue
		} else {
			res = ReconcileApplied
		}
		s.Touch(now)
		return nil
	})
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		m.logger.WarnContext(ctx, "payment for unknown subscription", logger.UserID(ev.UserID), logger.EventID(ev.ID))
		return ReconcileUnmatched, nil
	}
	if err != nil {
		return "", err
	}

	switch res {
	case ReconcileRefundDue:
		m.logger.ErrorContext(ctx, "payment captured for a change that no longer applies, refund due",
			logger.UserID(ev.UserID),
			logger.Plan(pc.Plan),
			logger.Transaction(ev.TransactionID, pc.IdempotencyKey),
			logger.Error(rejected),
		)
	case ReconcileApplied:
		m.award(ctx, ev.UserID, points, string(pc.Intent)+":"+string(pc.Plan))
	}
	return res, nil
}

// reconcileFailure drops a failed pending charge. A failed renewal suspends
// the subscription.
func (m *Manager) reconcileFailure(ctx context.Context, ev gateway.Event) (Reconciliation, error) {
	now := m.clock()

	var res Reconciliation
	_, err := m.mutate(ctx, ev.UserID, func(s *subscription.Subscription) error {
		res = ""
		s.Settle(now)

		i := s.FindPending(ev.IdempotencyKey, ev.TransactionID)
		if i < 0 {
			res = ReconcileUnmatched
			if s.HasCharge(ev.IdempotencyKey, ev.TransactionID) {
				res = ReconcileDuplicate
			}
			return subscription.ErrUnchanged
		}

		pc := s.Pending[i]
		s.RemovePending(i)
		s.Billing.FailedCharges++
		if pc.Intent == subscription.IntentRenew {
			if to, err := resolve(ctx, eventRenewDeclined, &change{sub: s, plan: s.Plan, cycle: s.Billing.Cycle, now: now}); err == nil {
				s.Status = to
			}
		}
		res = ReconcileDeclined
		s.Touch(now)
		return nil
	})
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return ReconcileUnmatched, nil
	}
	if err != nil {
		return "", err
	}
	return res, nil
}

// reconcileCancellation records a subscription the provider cancelled.
func (m *Manager) reconcileCancellation(ctx context.Context, ev gateway.Event) (Reconciliation, error) {
	now := m.clock()

	var res Reconciliation
	_, err := m.mutate(ctx, ev.UserID, func(s *subscription.Subscription) error {
		res = ""
		s.Settle(now)

		to, err := resolve(ctx, eventTerminate, &change{sub: s, plan: s.Plan, cycle: s.Billing.Cycle, now: now})
		if err != nil {
			res = ReconcileDuplicate
			return subscription.ErrUnchanged
		}
		s.Status = to
		s.Window.AutoRenew = false
		if s.Window.CancelledAt == nil {
			s.Window.CancelledAt = subscription.TimePtr(now)
		}
		s.Window.CancelReason = firstNonEmpty(ev.Reason, s.Window.CancelReason, "cancelled by payment provider")
		s.Trial.IsTrialUser = false
		s.Touch(now)
		res = ReconcileApplied
		return nil
	})
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return ReconcileUnmatched, nil
	}
	if err != nil {
		return "", err
	}
	return res, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
