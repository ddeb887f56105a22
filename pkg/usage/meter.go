package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/trailpost/billing/pkg/logger"
	"github.com/trailpost/billing/pkg/subscription"
)

// Meter mutates usage counters in the store.
type Meter struct {
	store   subscription.Store
	mutator *subscription.Mutator
	now     func() time.Time
	logger  *slog.Logger
	retries int
}

// MeterOption configures a Meter.
type MeterOption func(*Meter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MeterOption {
	return func(m *Meter) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) MeterOption {
	return func(m *Meter) {
		m.logger = logger
	}
}

// WithRetries bounds how often Consume retries after the plan changed
// underneath it.
func WithRetries(n int) MeterOption {
	return func(m *Meter) {
		if n > 0 {
			m.retries = n
		}
	}
}

// NewMeter creates a Meter over store. Resets go through mutator.
func NewMeter(store subscription.Store, mutator *subscription.Mutator, opts ...MeterOption) *Meter {
	m := &Meter{
		store:   store,
		mutator: mutator,
		now:     time.Now,
		logger:  slog.Default(),
		retries: subscription.DefaultMutateRetries,
	}
	for _, opt := range opts {
		opt(m)
	}
	// one attempt on the caller's snapshot plus one on the stored record
	m.retries = max(m.retries, 2)
	return m
}

// Consume adds usage units of key to the subscription's counter in one
// conditional update. It fails with QuotaExceededError when the counter would
// pass the limit, so concurrent callers can never overrun a quota.
func (m *Meter) Consume(ctx context.Context, s *subscription.Subscription, key string, usage int64) (Result, error) {
	if usage <= 0 {
		return Result{}, subscription.ErrInvalidUsage
	}

	current := s
	refreshed := false
	for range m.retries {
		now := m.now()
		if current.Usable(now) && CanUse(current, key, usage) {
			updated, err := m.store.IncrementUsage(ctx, subscription.UsageIncrement{
				UserID: current.UserID,
				Key:    key,
				Delta:  usage,
				Limit:  current.LimitOf(key),
				Plan:   current.Plan,
				Now:    now,
			})
			if err == nil {
				return ResultOf(updated, key), nil
			}
			if !errors.Is(err, subscription.ErrUsageGuard) {
				return Result{}, subscription.Internal("increment usage", err)
			}
		} else if refreshed {
			if !current.Usable(now) {
				return Result{}, fmt.Errorf("%w: status %s", subscription.ErrSubscriptionInactive, current.Status)
			}
			return Result{}, quotaError(current, key, usage)
		}

		// the snapshot may be stale: decide against the stored counters and limits
		fresh, err := m.store.Get(ctx, current.UserID)
		if err != nil {
			return Result{}, subscription.Internal("reload subscription", err)
		}
		fresh.Settle(now)
		m.logger.DebugContext(ctx, "re-evaluating usage against stored subscription",
			logger.UserID(fresh.UserID),
			logger.Feature(key),
			logger.Plan(fresh.Plan),
		)
		current = fresh
		refreshed = true
	}

	return Result{}, fmt.Errorf("%w: usage increment kept conflicting", subscription.ErrVersionConflict)
}

// Reset zeroes every counter of the user's subscription, custom limits
// included, and sets the reset date to now.
func (m *Meter) Reset(ctx context.Context, userID string) (*subscription.Subscription, error) {
	now := m.now()
	return m.mutator.Mutate(ctx, userID, func(s *subscription.Subscription) error {
		s.ResetUsage(now)
		s.Touch(now)
		return nil
	})
}

func quotaError(s *subscription.Subscription, key string, requested int64) error {
	return &subscription.QuotaExceededError{
		Feature:   key,
		Used:      s.UsageOf(key),
		Limit:     s.LimitOf(key),
		Requested: requested,
		ResetDate: s.Limits.ResetDate,
	}
}
