package entitlement_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpost/billing/pkg/catalog"
	"github.com/trailpost/billing/pkg/entitlement"
	"github.com/trailpost/billing/pkg/subscription"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func newChecker(store subscription.Store) *entitlement.Checker {
	return entitlement.NewChecker(store, catalog.Default(), entitlement.WithClock(clock))
}

func TestChecker_Validate_CreatesFreeSubscription(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	checker := newChecker(store)

	res, err := checker.Validate(context.Background(), "new-user", "blogs", 1)
	require.NoError(t, err)

	assert.True(t, res.Allowed)
	assert.Equal(t, catalog.PlanFree, res.Plan)
	assert.Equal(t, int64(5), res.Limit)
	assert.Equal(t, int64(0), res.Used)
	assert.Equal(t, int64(5), res.Remaining)

	stored, err := store.Get(context.Background(), "new-user")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, stored.Status)
	assert.Equal(t, "USD", stored.Billing.Amount.Currency)
}

func TestChecker_Validate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := catalog.Default()

	seed := func(t *testing.T, mutate func(*subscription.Subscription)) *entitlement.Checker {
		t.Helper()
		store := subscription.NewMemoryStore()
		s := subscription.NewFree("u", cat.Features(catalog.PlanFree), now)
		if mutate != nil {
			mutate(s)
		}
		require.NoError(t, store.Insert(ctx, s))
		return newChecker(store)
	}

	t.Run("feature not in plan recommends a plan", func(t *testing.T) {
		t.Parallel()
		checker := seed(t, nil)

		_, err := checker.Validate(ctx, "u", "videos", 1)
		var fe *subscription.FeatureNotEntitledError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, catalog.PlanBasic, fe.RecommendedPlan)
		assert.Equal(t, catalog.PlanFree, fe.Plan)
		assert.Equal(t, subscription.KindEntitlement, subscription.KindOf(err))
	})

	t.Run("quota exceeded carries details", func(t *testing.T) {
		t.Parallel()
		checker := seed(t, func(s *subscription.Subscription) { s.Limits.Usage["blogs"] = 4 })

		_, err := checker.Validate(ctx, "u", "blogs", 2)
		var qe *subscription.QuotaExceededError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, int64(4), qe.Used)
		assert.Equal(t, int64(5), qe.Limit)
		assert.Equal(t, int64(2), qe.Requested)
		assert.Equal(t, now, qe.ResetDate)

		res, err := checker.Validate(ctx, "u", "blogs", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Remaining)
	})

	t.Run("unlimited on enterprise", func(t *testing.T) {
		t.Parallel()
		checker := seed(t, func(s *subscription.Subscription) {
			s.Plan = catalog.PlanEnterprise
			s.Features = cat.Features(catalog.PlanEnterprise)
			s.Limits.Usage["blogs"] = 1_000_000
		})

		res, err := checker.Validate(ctx, "u", "blogs", 1_000_000)
		require.NoError(t, err)
		assert.True(t, res.Unlimited)
		assert.Equal(t, catalog.Unlimited, res.Remaining)
	})

	t.Run("inactive subscription", func(t *testing.T) {
		t.Parallel()
		for _, status := range []subscription.Status{
			subscription.StatusInactive, subscription.StatusCancelled,
			subscription.StatusExpired, subscription.StatusSuspended,
		} {
			checker := seed(t, func(s *subscription.Subscription) { s.Status = status })
			_, err := checker.Validate(ctx, "u", "blogs", 1)
			assert.ErrorIs(t, err, subscription.ErrSubscriptionInactive, status)
		}
	})

	t.Run("ended trial is inactive", func(t *testing.T) {
		t.Parallel()
		checker := seed(t, func(s *subscription.Subscription) {
			s.Status = subscription.StatusTrial
			s.Trial.EndDate = subscription.TimePtr(now.Add(-time.Minute))
		})
		_, err := checker.Validate(ctx, "u", "blogs", 1)
		assert.ErrorIs(t, err, subscription.ErrSubscriptionInactive)
	})

	t.Run("period past end date is inactive", func(t *testing.T) {
		t.Parallel()
		checker := seed(t, func(s *subscription.Subscription) {
			s.Window.EndDate = subscription.TimePtr(now)
		})
		_, err := checker.Validate(ctx, "u", "blogs", 1)
		assert.ErrorIs(t, err, subscription.ErrSubscriptionInactive)
	})

	t.Run("custom limit", func(t *testing.T) {
		t.Parallel()
		checker := seed(t, func(s *subscription.Subscription) { s.Limits.CustomLimits["exports"] = 2 })
		res, err := checker.Validate(ctx, "u", "exports", 2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.Remaining)
	})

	t.Run("invalid input", func(t *testing.T) {
		t.Parallel()
		checker := seed(t, nil)

		_, err := checker.Validate(ctx, "u", "teleport", 1)
		assert.ErrorIs(t, err, subscription.ErrInvalidFeature)

		_, err = checker.Validate(ctx, "u", "blogs", 0)
		assert.ErrorIs(t, err, subscription.ErrInvalidUsage)

		_, err = checker.Validate(ctx, "", "blogs", 1)
		assert.ErrorIs(t, err, subscription.ErrMissingUserID)
	})

	t.Run("validate has no side effects", func(t *testing.T) {
		t.Parallel()
		store := subscription.NewMemoryStore()
		require.NoError(t, store.Insert(ctx, subscription.NewFree("u", cat.Features(catalog.PlanFree), now)))
		checker := newChecker(store)

		for range 10 {
			_, err := checker.Validate(ctx, "u", "blogs", 1)
			require.NoError(t, err)
		}
		s, err := store.Get(ctx, "u")
		require.NoError(t, err)
		assert.Zero(t, s.UsageOf("blogs"))
		assert.Equal(t, int64(1), s.Version)
	})
}

type failingStore struct {
	subscription.Store
	err error
}

func (f failingStore) Get(context.Context, string) (*subscription.Subscription, error) {
	return nil, f.err
}

func TestChecker_StoreFailure(t *testing.T) {
	t.Parallel()

	boom := subscription.Internal("get", errors.New("connection refused"))
	checker := newChecker(failingStore{err: boom})

	_, err := checker.Validate(context.Background(), "u", "blogs", 1)
	assert.ErrorIs(t, err, subscription.ErrInternal)
}
