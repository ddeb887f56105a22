package subscription_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpost/billing/pkg/catalog"
	"github.com/trailpost/billing/pkg/subscription"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func freeSub(userID string) *subscription.Subscription {
	return subscription.NewFree(userID, catalog.Default().Features(catalog.PlanFree), now)
}

func TestNewFree(t *testing.T) {
	t.Parallel()

	s := freeSub("user-1")

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, catalog.PlanFree, s.Plan)
	assert.Equal(t, subscription.StatusActive, s.Status)
	assert.Nil(t, s.Window.EndDate)
	assert.True(t, s.Usable(now.AddDate(10, 0, 0)))
	assert.False(t, s.IsPaid())
	assert.Equal(t, int64(5), s.LimitOf("blogs"))
	assert.Equal(t, now, s.Limits.ResetDate)
}

func TestSubscription_Clone(t *testing.T) {
	t.Parallel()

	s := freeSub("user-1")
	s.Limits.Usage["blogs"] = 2
	s.Window.EndDate = subscription.TimePtr(now)
	require.NoError(t, s.AppendInvoice(subscription.Invoice{Date: now}))

	c := s.Clone()
	c.Limits.Usage["blogs"] = 4
	c.Features.Quotas[catalog.FeatureBlogs] = 99
	*c.Window.EndDate = now.Add(time.Hour)
	c.Billing.Invoices[0].Status = subscription.InvoiceRefundDue

	assert.Equal(t, int64(2), s.UsageOf("blogs"))
	assert.Equal(t, int64(5), s.LimitOf("blogs"))
	assert.Equal(t, now, *s.Window.EndDate)
	assert.Empty(t, s.Billing.Invoices[0].Status)
}

func TestSubscription_Settle(t *testing.T) {
	t.Parallel()

	t.Run("trial ends", func(t *testing.T) {
		t.Parallel()
		s := freeSub("u")
		s.Status = subscription.StatusTrial
		s.Trial.IsTrialUser = true
		s.Trial.HasUsedTrial = true
		s.Trial.EndDate = subscription.TimePtr(now.AddDate(0, 0, 14))

		assert.False(t, s.Settle(now.AddDate(0, 0, 14)))
		assert.True(t, s.Usable(now.AddDate(0, 0, 14)))

		assert.True(t, s.Settle(now.AddDate(0, 0, 15)))
		assert.Equal(t, subscription.StatusExpired, s.Status)
		assert.False(t, s.Trial.IsTrialUser)
		assert.True(t, s.Trial.HasUsedTrial)
	})

	t.Run("active period ends", func(t *testing.T) {
		t.Parallel()
		s := freeSub("u")
		s.Window.EndDate = subscription.TimePtr(now.AddDate(0, 1, 0))

		assert.True(t, s.Usable(now))
		assert.False(t, s.Usable(now.AddDate(0, 1, 0)))
		assert.True(t, s.Settle(now.AddDate(0, 1, 0)))
		assert.Equal(t, subscription.StatusExpired, s.Status)
		assert.False(t, s.Settle(now.AddDate(0, 2, 0)))
	})

	t.Run("no end date never expires", func(t *testing.T) {
		t.Parallel()
		s := freeSub("u")
		assert.False(t, s.Settle(now.AddDate(50, 0, 0)))
	})
}

func TestSubscription_Limits(t *testing.T) {
	t.Parallel()

	s := freeSub("u")
	s.Limits.CustomLimits["exports"] = 3
	s.Limits.Usage["blogs"] = 5
	s.Limits.Usage["exports"] = 2

	assert.Equal(t, int64(3), s.LimitOf("exports"))
	assert.Equal(t, int64(0), s.LimitOf("unknown"))
	assert.Equal(t, int64(0), s.LimitOf(string(catalog.FeatureAPIAccess)))

	s.Features = catalog.Default().Features(catalog.PlanFree)
	s.Features.Quotas[catalog.FeatureBlogs] = 2
	s.ClampUsage()
	assert.Equal(t, int64(2), s.UsageOf("blogs"))
	assert.Equal(t, int64(2), s.UsageOf("exports"))

	s.ResetUsage(now.Add(time.Hour))
	assert.Zero(t, s.UsageOf("blogs"))
	assert.Zero(t, s.UsageOf("exports"))
	assert.Equal(t, now.Add(time.Hour), s.Limits.ResetDate)
}

func TestSubscription_Invoices(t *testing.T) {
	t.Parallel()

	s := freeSub("u")
	require.NoError(t, s.AppendInvoice(subscription.Invoice{IdempotencyKey: "k1", TransactionID: "t1", Date: now}))
	require.NoError(t, s.AppendInvoice(subscription.Invoice{IdempotencyKey: "k2", Date: now}))

	err := s.AppendInvoice(subscription.Invoice{IdempotencyKey: "k3", Date: now.Add(-time.Second)})
	assert.ErrorIs(t, err, subscription.ErrInvoiceOutOfOrder)
	assert.Len(t, s.Billing.Invoices, 2)

	assert.True(t, s.HasCharge("k1", ""))
	assert.True(t, s.HasCharge("", "t1"))
	assert.False(t, s.HasCharge("k3", "t3"))
	assert.False(t, s.HasCharge("", ""))
	assert.NotEmpty(t, s.Billing.Invoices[0].ID)
}

func TestSubscription_Pending(t *testing.T) {
	t.Parallel()

	s := freeSub("u")
	s.Pending = []subscription.PendingCharge{
		{IdempotencyKey: "k1"},
		{IdempotencyKey: "k2", TransactionID: "t2"},
	}

	assert.Equal(t, 1, s.FindPending("", "t2"))
	assert.Equal(t, 0, s.FindPending("k1", ""))
	assert.Equal(t, -1, s.FindPending("k9", ""))

	s.RemovePending(0)
	require.Len(t, s.Pending, 1)
	assert.Equal(t, "k2", s.Pending[0].IdempotencyKey)
}

func TestSubscription_Touch(t *testing.T) {
	t.Parallel()

	s := freeSub("u")
	s.Touch(now)
	assert.Nil(t, s.DueAt)

	end := now.AddDate(0, 1, 0)
	s.Plan = catalog.PlanBasic
	s.Window.EndDate = subscription.TimePtr(end)
	s.Billing.NextBillingDate = subscription.TimePtr(end)
	s.Touch(now)
	require.NotNil(t, s.DueAt)
	assert.Equal(t, end, *s.DueAt)

	s.Status = subscription.StatusSuspended
	s.Touch(now)
	assert.Nil(t, s.DueAt)
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want subscription.Kind
	}{
		{nil, ""},
		{subscription.ErrInvalidPlan, subscription.KindValidation},
		{subscription.ErrTrialAlreadyUsed, subscription.KindConflict},
		{fmt.Errorf("wrapped: %w", subscription.ErrNotAnUpgrade), subscription.KindConflict},
		{&subscription.PaymentError{Reason: "card_declined"}, subscription.KindPayment},
		{subscription.ErrSubscriptionNotFound, subscription.KindNotFound},
		{&subscription.QuotaExceededError{Feature: "blogs"}, subscription.KindEntitlement},
		{&subscription.FeatureNotEntitledError{Feature: "videos"}, subscription.KindEntitlement},
		{errors.New("boom"), subscription.KindInternal},
		{subscription.Internal("store", errors.New("boom")), subscription.KindInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, subscription.KindOf(tt.err), "%v", tt.err)
	}
}

func TestTypedErrors(t *testing.T) {
	t.Parallel()

	t.Run("quota exceeded", func(t *testing.T) {
		t.Parallel()
		var err error = &subscription.QuotaExceededError{Feature: "blogs", Used: 5, Limit: 5, Requested: 1, ResetDate: now}

		assert.ErrorIs(t, err, subscription.ErrQuotaExceeded)
		assert.ErrorIs(t, err, subscription.ErrEntitlement)

		var qe *subscription.QuotaExceededError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, int64(0), qe.Remaining())
		assert.Contains(t, err.Error(), "2024-06-01")
	})

	t.Run("feature not entitled", func(t *testing.T) {
		t.Parallel()
		err := fmt.Errorf("validate: %w", &subscription.FeatureNotEntitledError{Feature: "videos", Plan: catalog.PlanFree, RecommendedPlan: catalog.PlanBasic})

		var fe *subscription.FeatureNotEntitledError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, catalog.PlanBasic, fe.RecommendedPlan)
		assert.ErrorIs(t, err, subscription.ErrFeatureNotEntitled)
		assert.Contains(t, err.Error(), "upgrade to basic")
	})

	t.Run("payment", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("gateway timed out")

		pending := &subscription.PaymentError{Reason: "timeout", Pending: true, Retryable: true, Err: cause}
		assert.ErrorIs(t, pending, subscription.ErrPaymentPending)
		assert.ErrorIs(t, pending, cause)
		assert.NotErrorIs(t, pending, subscription.ErrPaymentDeclined)

		declined := &subscription.PaymentError{Reason: "card_declined"}
		assert.ErrorIs(t, declined, subscription.ErrPaymentDeclined)
		assert.ErrorIs(t, declined, subscription.ErrPayment)

		unavailable := &subscription.PaymentError{Reason: "circuit open", Retryable: true}
		assert.ErrorIs(t, unavailable, subscription.ErrGatewayFailure)
	})
}
