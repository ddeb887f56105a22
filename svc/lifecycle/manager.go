package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trailpost/billing/pkg/catalog"
	"github.com/trailpost/billing/pkg/entitlement"
	"github.com/trailpost/billing/pkg/gateway"
	"github.com/trailpost/billing/pkg/logger"
	"github.com/trailpost/billing/pkg/metrics"
	"github.com/trailpost/billing/pkg/subscription"
	"github.com/trailpost/billing/pkg/usage"
)

// Repository is the persistence the manager works on.
type Repository interface {
	subscription.Store
	subscription.Lister
}

// Manager orchestrates subscription changes: it evaluates the transition
// table against the stored subscription, prices the change, charges the
// gateway outside of any lock and applies the result in a short
// read-modify-write.
type Manager struct {
	store   Repository
	catalog *catalog.Catalog
	gateway gateway.Gateway
	mutator *subscription.Mutator
	checker *entitlement.Checker
	meter   *usage.Meter
	locker  subscription.Locker
	awarder Awarder
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	cfg     Config
	awards  sync.WaitGroup
}

// New creates a Manager. Panics when a required dependency is nil.
func New(store Repository, cat *catalog.Catalog, gw gateway.Gateway, opts ...Option) *Manager {
	switch {
	case store == nil:
		panic("lifecycle: store is required")
	case cat == nil:
		panic("lifecycle: catalog is required")
	case gw == nil:
		panic("lifecycle: gateway is required")
	}

	m := &Manager{
		store:   store,
		catalog: cat,
		gateway: gw,
		awarder: noopAwarder{},
		logger:  slog.Default(),
		now:     time.Now,
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.logger = m.logger.With(logger.Component("lifecycle"))
	m.mutator = subscription.NewMutator(store, m.locker, m.cfg.MutateRetries)
	m.checker = entitlement.NewChecker(store, cat,
		entitlement.WithClock(m.now),
		entitlement.WithLogger(m.logger),
	)
	m.meter = usage.NewMeter(store, m.mutator,
		usage.WithClock(m.now),
		usage.WithLogger(m.logger),
		usage.WithRetries(m.cfg.MutateRetries),
	)
	return m
}

// Catalog returns the plan catalog the manager prices with.
func (m *Manager) Catalog() *catalog.Catalog {
	return m.catalog
}

// GetCurrentSubscription returns the user's subscription with due time-based
// transitions applied. It does not create one.
func (m *Manager) GetCurrentSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	if userID == "" {
		return nil, subscription.ErrMissingUserID
	}
	s, err := m.store.Get(ctx, userID)
	if err != nil {
		return nil, storeError("get subscription", err)
	}
	s.Settle(m.clock())
	return s, nil
}

// ValidateFeature checks whether the user may use units of feature now,
// creating a free subscription on first access.
func (m *Manager) ValidateFeature(ctx context.Context, userID, feature string, units int64) (res entitlement.Result, err error) {
	ctx, done := m.begin(ctx, "validate_feature")
	defer done(&err)

	res, err = m.checker.Validate(ctx, userID, feature, units)
	m.metrics.ObserveEntitlement(feature, decisionOf(err))
	return res, err
}

// UseFeature validates and then consumes units of feature in one guarded
// increment. Concurrent callers can never push a counter past its limit.
func (m *Manager) UseFeature(ctx context.Context, userID, feature string, units int64) (res usage.Result, err error) {
	ctx, done := m.begin(ctx, "use_feature")
	defer done(&err)
	defer func() { m.metrics.ObserveEntitlement(feature, decisionOf(err)) }()

	s, err := m.checker.Load(ctx, userID)
	if err != nil {
		return usage.Result{}, err
	}
	if _, err := entitlement.Evaluate(m.catalog, s, feature, units, m.clock()); err != nil {
		return usage.Result{}, err
	}
	return m.meter.Consume(ctx, s, feature, units)
}

// ResetUsage zeroes the user's usage counters.
func (m *Manager) ResetUsage(ctx context.Context, userID string) (s *subscription.Subscription, err error) {
	ctx, done := m.begin(ctx, "reset_usage")
	defer done(&err)

	if userID == "" {
		return nil, subscription.ErrMissingUserID
	}
	s, err = m.meter.Reset(ctx, userID)
	if err != nil {
		return nil, storeError("reset usage", err)
	}
	return s, nil
}

// SetCustomLimit sets a limit for a usage key outside the catalog, e.g. a
// promotional allowance. Use catalog.Unlimited to lift it.
func (m *Manager) SetCustomLimit(ctx context.Context, userID, key string, limit int64) (s *subscription.Subscription, err error) {
	ctx, done := m.begin(ctx, "set_custom_limit")
	defer done(&err)

	switch {
	case userID == "":
		return nil, subscription.ErrMissingUserID
	case key == "" || catalog.Feature(key).Known():
		return nil, fmt.Errorf("%w: %q cannot be used as a custom limit", subscription.ErrInvalidFeature, key)
	case limit < catalog.Unlimited:
		return nil, fmt.Errorf("%w: limit must be -1 or non-negative", subscription.ErrValidation)
	}

	now := m.clock()
	return m.upsert(ctx, userID, func(s *subscription.Subscription) error {
		if cur, ok := s.Limits.CustomLimits[key]; ok && cur == limit {
			return subscription.ErrUnchanged
		}
		if s.Limits.CustomLimits == nil {
			s.Limits.CustomLimits = make(map[string]int64)
		}
		s.Limits.CustomLimits[key] = limit
		s.ClampUsage()
		s.Touch(now)
		return nil
	})
}

func (m *Manager) clock() time.Time {
	return m.now().UTC()
}

func (m *Manager) newFree(userID string) func() *subscription.Subscription {
	return func() *subscription.Subscription {
		now := m.clock()
		s := subscription.NewFree(userID, m.catalog.Features(catalog.PlanFree), now)
		s.Billing.Amount = catalog.Money{Currency: m.catalog.Currency()}
		s.Touch(now)
		return s
	}
}

// snapshot returns the stored subscription with due transitions applied, or
// an unsaved free one for users who have none.
func (m *Manager) snapshot(ctx context.Context, userID string) (*subscription.Subscription, error) {
	s, err := m.store.Get(ctx, userID)
	switch {
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		return m.newFree(userID)(), nil
	case err != nil:
		return nil, storeError("load subscription", err)
	}
	s.Settle(m.clock())
	return s, nil
}

// mutate runs fn under the mutator and normalises store errors.
func (m *Manager) mutate(ctx context.Context, userID string, fn func(*subscription.Subscription) error) (*subscription.Subscription, error) {
	s, err := m.mutator.Mutate(ctx, userID, fn)
	if err != nil {
		return nil, storeError("update subscription", err)
	}
	return s, nil
}

// upsert is mutate that starts from a free subscription for new users.
func (m *Manager) upsert(ctx context.Context, userID string, fn func(*subscription.Subscription) error) (*subscription.Subscription, error) {
	s, err := m.mutator.Upsert(ctx, userID, m.newFree(userID), fn)
	if err != nil {
		return nil, storeError("update subscription", err)
	}
	return s, nil
}

// begin tags ctx with the operation and returns a func recording its outcome.
func (m *Manager) begin(ctx context.Context, op string) (context.Context, func(*error)) {
	ctx = logger.WithOperation(ctx, op)
	start := time.Now()
	return ctx, func(errp *error) {
		err := *errp
		m.metrics.ObserveOperation(op, resultOf(err), time.Since(start))
		if err != nil && subscription.KindOf(err) == subscription.KindInternal {
			m.logger.ErrorContext(ctx, "operation failed", logger.Error(err))
		}
	}
}

// storeError wraps errors that carry no kind as internal.
func storeError(op string, err error) error {
	if err == nil || errors.Is(err, subscription.ErrInternal) {
		return err
	}
	if subscription.KindOf(err) != subscription.KindInternal {
		return err
	}
	return subscription.Internal(op, err)
}

func resultOf(err error) string {
	var perr *subscription.PaymentError
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.As(err, &perr) && perr.Pending:
		return metrics.ResultPending
	case errors.Is(err, subscription.ErrPayment):
		return metrics.ResultPayment
	case subscription.KindOf(err) == subscription.KindInternal:
		return metrics.ResultError
	default:
		return metrics.ResultRejected
	}
}

func decisionOf(err error) string {
	switch {
	case err == nil:
		return metrics.DecisionAllowed
	case errors.Is(err, subscription.ErrQuotaExceeded):
		return metrics.DecisionQuota
	case errors.Is(err, subscription.ErrFeatureNotEntitled):
		return metrics.DecisionNotEntitled
	case errors.Is(err, subscription.ErrSubscriptionInactive):
		return metrics.DecisionInactive
	default:
		return metrics.ResultError
	}
}
