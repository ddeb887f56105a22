package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trailpost/billing/pkg/billing"
	"github.com/trailpost/billing/pkg/catalog"
	"github.com/trailpost/billing/pkg/gateway"
	"github.com/trailpost/billing/pkg/logger"
	"github.com/trailpost/billing/pkg/subscription"
)

// chargeKeySpace namespaces derived idempotency keys.
var chargeKeySpace = uuid.MustParse("6f1c3c9e-5a0b-4d55-9a57-2f0b8f7b1a42")

var intentEvents = map[subscription.Intent]event{
	subscription.IntentCreate:  eventCreate,
	subscription.IntentUpgrade: eventUpgrade,
	subscription.IntentRenew:   eventRenew,
}

// CreateSubscription buys plan for cycle. A free or lapsed subscription is
// replaced; an active paid one is a conflict.
func (m *Manager) CreateSubscription(ctx context.Context, userID string, plan catalog.Plan, cycle catalog.Cycle, pay gateway.PaymentDetails) (s *subscription.Subscription, err error) {
	ctx, done := m.begin(ctx, "create")
	defer done(&err)

	switch {
	case userID == "":
		return nil, subscription.ErrMissingUserID
	case !plan.Valid() || !plan.IsPaid():
		return nil, fmt.Errorf("%w: %q cannot be purchased", subscription.ErrInvalidPlan, string(plan))
	case !cycle.Valid():
		return nil, fmt.Errorf("%w: %q", subscription.ErrInvalidCycle, string(cycle))
	case !pay.Valid():
		return nil, subscription.ErrMissingPayment
	}

	current, err := m.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.clock()
	if _, err := resolve(ctx, eventCreate, &change{sub: current, plan: plan, cycle: cycle, now: now}); err != nil {
		return nil, err
	}

	price, err := m.catalog.LookupPrice(plan, cycle)
	if err != nil {
		return nil, subscription.Internal("price plan", err)
	}

	return m.charge(ctx, current, subscription.PendingCharge{
		IdempotencyKey: chargeKey(subscription.IntentCreate, current, plan, cycle, price, pay.MethodID),
		Intent:         subscription.IntentCreate,
		Plan:           plan,
		Cycle:          cycle,
		Amount:         price,
		PaymentMethod:  pay.MethodID,
		CustomerID:     pay.CustomerID,
		RestartsPeriod: true,
		CreatedAt:      now,
	})
}

// UpgradeSubscription moves the user to a higher plan, charging the prorated
// difference. An empty cycle keeps the current one; an empty payment method
// falls back to the stored one.
func (m *Manager) UpgradeSubscription(ctx context.Context, userID string, plan catalog.Plan, cycle catalog.Cycle, pay gateway.PaymentDetails) (s *subscription.Subscription, err error) {
	ctx, done := m.begin(ctx, "upgrade")
	defer done(&err)

	switch {
	case userID == "":
		return nil, subscription.ErrMissingUserID
	case !plan.Valid():
		return nil, fmt.Errorf("%w: %q", subscription.ErrInvalidPlan, string(plan))
	case cycle != "" && !cycle.Valid():
		return nil, fmt.Errorf("%w: %q", subscription.ErrInvalidCycle, string(cycle))
	}

	current, err := m.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.clock()
	if cycle == "" {
		cycle = current.Billing.Cycle
		if !cycle.Valid() {
			cycle = catalog.CycleMonthly
		}
	}
	if _, err := resolve(ctx, eventUpgrade, &change{sub: current, plan: plan, cycle: cycle, now: now}); err != nil {
		return nil, err
	}
	if !pay.Valid() {
		pay = gateway.PaymentDetails{MethodID: current.Billing.PaymentMethod, CustomerID: current.Billing.CustomerID}
	}

	price, err := m.catalog.LookupPrice(plan, cycle)
	if err != nil {
		return nil, subscription.Internal("price plan", err)
	}

	// only an active paid period leaves credit behind
	var period billing.Period
	if current.IsPaid() && current.Billing.LastBillingDate != nil {
		period = billing.Period{
			Cycle:           current.Billing.Cycle,
			Amount:          current.Billing.Amount,
			LastBillingDate: *current.Billing.LastBillingDate,
		}
	}
	pr, err := billing.ProratedUpgrade(period, price, cycle, now)
	if err != nil {
		return nil, subscription.Internal("prorate upgrade", err)
	}
	if pr.Amount.Amount > 0 && !pay.Valid() {
		return nil, subscription.ErrMissingPayment
	}

	m.logger.DebugContext(ctx, "upgrade priced",
		logger.UserID(userID),
		logger.Plan(plan),
		logger.Amount(pr.Amount.Amount, pr.Amount.Currency),
		slog.Int64("remaining_days", pr.RemainingDays),
		slog.Bool("restarts_period", pr.RestartsPeriod),
	)

	return m.charge(ctx, current, subscription.PendingCharge{
		IdempotencyKey: chargeKey(subscription.IntentUpgrade, current, plan, cycle, pr.Amount, pay.MethodID),
		Intent:         subscription.IntentUpgrade,
		Plan:           plan,
		Cycle:          cycle,
		Amount:         pr.Amount,
		PaymentMethod:  pay.MethodID,
		CustomerID:     pay.CustomerID,
		RestartsPeriod: pr.RestartsPeriod,
		CreatedAt:      now,
	})
}

// Renew charges the next period of a due subscription with the stored
// payment method. A declined renewal suspends the subscription.
func (m *Manager) Renew(ctx context.Context, userID string) (s *subscription.Subscription, err error) {
	ctx, done := m.begin(ctx, "renew")
	defer done(&err)

	if userID == "" {
		return nil, subscription.ErrMissingUserID
	}
	current, err := m.store.Get(ctx, userID)
	if err != nil {
		return nil, storeError("load subscription", err)
	}
	now := m.clock()
	current.Settle(now)

	if _, err := resolve(ctx, eventRenew, &change{sub: current, plan: current.Plan, cycle: current.Billing.Cycle, now: now}); err != nil {
		return nil, err
	}
	pay := gateway.PaymentDetails{MethodID: current.Billing.PaymentMethod, CustomerID: current.Billing.CustomerID}
	if !pay.Valid() {
		return nil, subscription.ErrMissingPayment
	}
	price, err := m.catalog.LookupPrice(current.Plan, current.Billing.Cycle)
	if err != nil {
		return nil, subscription.Internal("price renewal", err)
	}

	return m.charge(ctx, current, subscription.PendingCharge{
		IdempotencyKey: chargeKey(subscription.IntentRenew, current, current.Plan, current.Billing.Cycle, price, pay.MethodID),
		Intent:         subscription.IntentRenew,
		Plan:           current.Plan,
		Cycle:          current.Billing.Cycle,
		Amount:         price,
		PaymentMethod:  pay.MethodID,
		CustomerID:     pay.CustomerID,
		CreatedAt:      now,
	})
}

// charge sends pc to the gateway and applies the outcome. No lock is held
// while the gateway is called.
func (m *Manager) charge(ctx context.Context, current *subscription.Subscription, pc subscription.PendingCharge) (*subscription.Subscription, error) {
	userID := current.UserID
	if err := m.checkPending(current, pc); err != nil {
		return nil, err
	}
	if pc.Amount.Amount == 0 {
		return m.settle(ctx, userID, pc, "", "")
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.ChargeTimeout)
	result, err := m.gateway.Charge(cctx, gateway.ChargeRequest{
		UserID:         userID,
		Amount:         pc.Amount,
		Payment:        gateway.PaymentDetails{MethodID: pc.PaymentMethod, CustomerID: pc.CustomerID},
		IdempotencyKey: pc.IdempotencyKey,
		Plan:           pc.Plan,
		Cycle:          pc.Cycle,
		Description:    fmt.Sprintf("%s %s plan (%s)", pc.Intent, pc.Plan, pc.Cycle),
	})
	cancel()

	intent := string(pc.Intent)
	switch {
	case err != nil && gateway.IsUnknownOutcome(err):
		m.metrics.ObserveCharge(intent, "unknown")
		return nil, m.holdPending(ctx, userID, pc, err)
	case errors.Is(err, gateway.ErrInvalidRequest):
		m.metrics.ObserveCharge(intent, "invalid")
		return nil, subscription.Internal("charge", err)
	case err != nil:
		// nothing reached the provider
		m.metrics.ObserveCharge(intent, "unavailable")
		return nil, &subscription.PaymentError{
			Reason:         "payment provider unavailable",
			Retryable:      true,
			IdempotencyKey: pc.IdempotencyKey,
			Err:            err,
		}
	}

	m.metrics.ObserveCharge(intent, string(result.Outcome))
	pc.TransactionID = result.TransactionID

	switch result.Outcome {
	case gateway.OutcomeSucceeded:
		return m.settle(ctx, userID, pc, result.TransactionID, result.InvoiceID)
	case gateway.OutcomePending:
		return nil, m.holdPending(ctx, userID, pc, nil)
	default:
		m.logger.InfoContext(ctx, "payment declined",
			logger.UserID(userID),
			logger.Plan(pc.Plan),
			logger.Transaction(result.TransactionID, pc.IdempotencyKey),
			logger.Reason(result.Reason),
		)
		if pc.Intent == subscription.IntentRenew {
			m.suspend(context.WithoutCancel(ctx), userID, pc)
		} else {
			m.recordDecline(context.WithoutCancel(ctx), userID)
		}
		return nil, &subscription.PaymentError{
			Reason:         result.Reason,
			TransactionID:  result.TransactionID,
			IdempotencyKey: pc.IdempotencyKey,
		}
	}
}

// checkPending refuses to start a second charge while one is unconfirmed.
// Repeating the pending charge itself reports it as still pending.
func (m *Manager) checkPending(s *subscription.Subscription, pc subscription.PendingCharge) error {
	now := m.clock()
	for _, p := range s.Pending {
		if p.IdempotencyKey == pc.IdempotencyKey {
			return pendingError(p, nil)
		}
		if now.Sub(p.CreatedAt) < m.cfg.PendingTTL {
			return fmt.Errorf("%w: %s to %s started %s", subscription.ErrChargeInProgress, p.Intent, p.Plan, p.CreatedAt.Format(time.RFC3339))
		}
	}
	return nil
}

// holdPending records a charge whose outcome a webhook will report. The
// write survives cancellation of ctx: the provider may already have the
// money.
func (m *Manager) holdPending(ctx context.Context, userID string, pc subscription.PendingCharge, cause error) error {
	ctx = context.WithoutCancel(ctx)
	now := m.clock()

	_, err := m.upsert(ctx, userID, func(s *subscription.Subscription) error {
		if s.HasCharge(pc.IdempotencyKey, pc.TransactionID) || s.FindPending(pc.IdempotencyKey, pc.TransactionID) >= 0 {
			return subscription.ErrUnchanged
		}
		s.Pending = append(s.Pending, pc)
		s.Touch(now)
		return nil
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to record pending charge",
			logger.UserID(userID),
			logger.Transaction(pc.TransactionID, pc.IdempotencyKey),
			logger.Error(err),
		)
	} else {
		m.logger.WarnContext(ctx, "charge awaiting confirmation",
			logger.UserID(userID),
			logger.Plan(pc.Plan),
			logger.Transaction(pc.TransactionID, pc.IdempotencyKey),
			logger.Error(cause),
		)
	}
	return pendingError(pc, cause)
}

// settle applies a captured charge. It is idempotent: a charge whose
// invoice is already recorded changes nothing.
func (m *Manager) settle(ctx context.Context, userID string, pc subscription.PendingCharge, transactionID, invoiceID string) (*subscription.Subscription, error) {
	ctx = context.WithoutCancel(ctx)
	now := m.clock()

	var (
		points   int
		applied  bool
		rejected error
	)
	s, err := m.upsert(ctx, userID, func(s *subscription.Subscription) error {
		points, applied, rejected = 0, false, nil
		s.Settle(now)
		if pc.Amount.Amount > 0 && s.HasCharge(pc.IdempotencyKey, transactionID) {
			return subscription.ErrUnchanged
		}
		if i := s.FindPending(pc.IdempotencyKey, transactionID); i >= 0 {
			s.RemovePending(i)
		}

		var err error
		points, rejected, err = m.apply(ctx, s, pc, transactionID, invoiceID, now, now)
		if err != nil {
			return err
		}
		if rejected != nil && pc.Amount.Amount == 0 {
			return rejected
		}
		applied = rejected == nil
		s.Touch(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if rejected != nil {
		m.logger.ErrorContext(ctx, "payment captured for a change that no longer applies, refund due",
			logger.UserID(userID),
			logger.Plan(pc.Plan),
			logger.Transaction(transactionID, pc.IdempotencyKey),
			logger.Amount(pc.Amount.Amount, pc.Amount.Currency),
			logger.Error(rejected),
		)
		return nil, fmt.Errorf("payment captured but not applied, refund due: %w", rejected)
	}
	if applied {
		m.logger.InfoContext(ctx, "subscription charged",
			logger.UserID(userID),
			logger.Plan(pc.Plan),
			logger.Status(s.Status),
			logger.Transaction(transactionID, pc.IdempotencyKey),
			logger.Amount(pc.Amount.Amount, pc.Amount.Currency),
		)
		m.award(ctx, userID, points, string(pc.Intent)+":"+string(pc.Plan))
	}
	return s, nil
}

// apply changes s for a captured charge. The transition and the new period
// are evaluated at effective, the invoice is dated now. When the transition
// no longer holds on s, a refund_due invoice is recorded and the guard error
// returned as rejected.
func (m *Manager) apply(ctx context.Context, s *subscription.Subscription, pc subscription.PendingCharge, transactionID, invoiceID string, now, effective time.Time) (points int, rejected, err error) {
	inv := subscription.Invoice{
		Intent:           pc.Intent,
		Plan:             pc.Plan,
		Cycle:            pc.Cycle,
		Amount:           pc.Amount,
		Status:           subscription.InvoicePaid,
		TransactionID:    transactionID,
		GatewayInvoiceID: invoiceID,
		IdempotencyKey:   pc.IdempotencyKey,
		Date:             now,
	}

	to, rerr := resolve(ctx, intentEvents[pc.Intent], &change{sub: s, plan: pc.Plan, cycle: pc.Cycle, now: effective})
	if rerr != nil {
		if subscription.KindOf(rerr) == subscription.KindInternal {
			return 0, nil, rerr
		}
		if pc.Amount.Amount > 0 {
			inv.Status = subscription.InvoiceRefundDue
			if err := s.AppendInvoice(inv); err != nil {
				return 0, nil, err
			}
		}
		return 0, rerr, nil
	}

	features, err := m.catalog.LookupFeatures(pc.Plan)
	if err != nil {
		return 0, nil, subscription.Internal("plan features", err)
	}
	price, err := m.catalog.LookupPrice(pc.Plan, pc.Cycle)
	if err != nil {
		return 0, nil, subscription.Internal("price plan", err)
	}

	switch pc.Intent {
	case subscription.IntentCreate:
		startPeriod(s, pc.Cycle, price, effective)
		points = CreationPoints(pc.Plan)
	case subscription.IntentUpgrade:
		if pc.RestartsPeriod {
			startPeriod(s, pc.Cycle, price, effective)
		} else {
			s.Billing.Cycle = pc.Cycle
			s.Billing.Amount = price
			s.Window.AutoRenew = true
			s.Window.CancelledAt = nil
			s.Window.CancelReason = ""
		}
		points = UpgradePoints(s.Plan, pc.Plan)
	case subscription.IntentRenew:
		renewPeriod(s, price, effective)
	}

	s.Plan = pc.Plan
	s.Features = features
	s.Status = to
	s.Trial.IsTrialUser = false
	s.Billing.FailedCharges = 0
	if pc.PaymentMethod != "" {
		s.Billing.PaymentMethod = pc.PaymentMethod
	}
	if pc.CustomerID != "" {
		s.Billing.CustomerID = pc.CustomerID
	}

	if pc.Amount.Amount > 0 {
		if err := s.AppendInvoice(inv); err != nil {
			return 0, nil, err
		}
	}
	return points, nil, nil
}

// recordDecline counts a declined purchase. The write moves the
// subscription to a new version, so the next attempt derives a new key.
func (m *Manager) recordDecline(ctx context.Context, userID string) {
	now := m.clock()
	_, err := m.upsert(ctx, userID, func(s *subscription.Subscription) error {
		s.Billing.FailedCharges++
		s.Touch(now)
		return nil
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to record declined charge", logger.UserID(userID), logger.Error(err))
	}
}

// suspend records a declined renewal.
func (m *Manager) suspend(ctx context.Context, userID string, pc subscription.PendingCharge) {
	now := m.clock()
	s, err := m.mutate(ctx, userID, func(s *subscription.Subscription) error {
		s.Settle(now)
		if i := s.FindPending(pc.IdempotencyKey, pc.TransactionID); i >= 0 {
			s.RemovePending(i)
		}
		s.Billing.FailedCharges++
		if to, err := resolve(ctx, eventRenewDeclined, &change{sub: s, plan: s.Plan, cycle: s.Billing.Cycle, now: now}); err == nil {
			s.Status = to
		}
		s.Touch(now)
		return nil
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to suspend subscription", logger.UserID(userID), logger.Error(err))
		return
	}
	m.logger.WarnContext(ctx, "renewal declined", logger.UserID(userID), logger.Status(s.Status))
}

// startPeriod begins a fresh billing period at now.
func startPeriod(s *subscription.Subscription, cycle catalog.Cycle, price catalog.Money, now time.Time) {
	next := billing.NextBillingDate(cycle, now)
	s.Billing.Cycle = cycle
	s.Billing.Amount = price
	s.Billing.LastBillingDate = subscription.TimePtr(now)
	s.Billing.NextBillingDate = subscription.TimePtr(next)
	s.Window = subscription.Window{
		StartDate: now,
		EndDate:   subscription.TimePtr(next),
		AutoRenew: true,
	}
	s.ResetUsage(now)
}

// renewPeriod extends the subscription by one cycle. A renewal made within a
// cycle of the due date keeps the billing anchor.
func renewPeriod(s *subscription.Subscription, price catalog.Money, now time.Time) {
	start := now
	if due := s.Billing.NextBillingDate; due != nil && !due.After(now) && billing.NextBillingDate(s.Billing.Cycle, *due).After(now) {
		start = *due
	}
	next := billing.NextBillingDate(s.Billing.Cycle, start)
	s.Billing.Amount = price
	s.Billing.LastBillingDate = subscription.TimePtr(start)
	s.Billing.NextBillingDate = subscription.TimePtr(next)
	s.Window.StartDate = start
	s.Window.EndDate = subscription.TimePtr(next)
	s.Window.AutoRenew = true
	s.ResetUsage(now)
}

// chargeKey derives a stable idempotency key for one logical charge: the
// same request for the same amount against the same subscription version
// maps to the same key. Declines are recorded on the subscription, so a
// retry after a decline gets a new key.
func chargeKey(intent subscription.Intent, s *subscription.Subscription, plan catalog.Plan, cycle catalog.Cycle, amount catalog.Money, method string) string {
	parts := []string{
		string(intent),
		s.UserID,
		string(plan),
		string(cycle),
		strconv.FormatInt(amount.Amount, 10),
		amount.Currency,
		method,
		strconv.FormatInt(s.Version, 10),
		strconv.FormatInt(s.Billing.FailedCharges, 10),
	}
	return uuid.NewSHA1(chargeKeySpace, []byte(strings.Join(parts, "|"))).String()
}

func pendingError(pc subscription.PendingCharge, cause error) error {
	return &subscription.PaymentError{
		Reason:         "payment is awaiting confirmation from the provider",
		Pending:        true,
		Retryable:      true,
		TransactionID:  pc.TransactionID,
		IdempotencyKey: pc.IdempotencyKey,
		Err:            cause,
	}
}
