package billing_test

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpost/billing/pkg/billing"
	"github.com/trailpost/billing/pkg/catalog"
)

func usd(amount int64) catalog.Money {
	return catalog.Money{Amount: amount, Currency: "USD"}
}

func TestNextBillingDate(t *testing.T) {
	t.Parallel()

	from := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC), billing.NextBillingDate(catalog.CycleMonthly, from))
	assert.Equal(t, time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), billing.NextBillingDate(catalog.CycleYearly, from))
	assert.Panics(t, func() { billing.NextBillingDate("weekly", from) })
}

func TestCycleDays(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(30), billing.CycleDays(catalog.CycleMonthly))
	assert.Equal(t, int64(365), billing.CycleDays(catalog.CycleYearly))
	assert.Panics(t, func() { billing.CycleDays("") })
}

func TestDaysBetween(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(0), billing.DaysBetween(start, start.Add(23*time.Hour)))
	assert.Equal(t, int64(15), billing.DaysBetween(start, start.AddDate(0, 0, 15).Add(time.Hour)))
	assert.Equal(t, int64(-1), billing.DaysBetween(start, start.Add(-time.Hour)))
}

func TestProratedUpgrade(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("basic to premium after 15 days", func(t *testing.T) {
		t.Parallel()

		p, err := billing.ProratedUpgrade(
			billing.Period{Cycle: catalog.CycleMonthly, Amount: usd(999), LastBillingDate: start},
			usd(2999), catalog.CycleMonthly, start.AddDate(0, 0, 15),
		)
		require.NoError(t, err)

		assert.Equal(t, "4.995", p.Refund.String())
		assert.Equal(t, "14.995", p.Charge.String())
		assert.Equal(t, usd(1000), p.Amount)
		assert.Equal(t, int64(15), p.RemainingDays)
		assert.False(t, p.RestartsPeriod)
	})

	t.Run("overdue period clamps to zero", func(t *testing.T) {
		t.Parallel()

		p, err := billing.ProratedUpgrade(
			billing.Period{Cycle: catalog.CycleMonthly, Amount: usd(999), LastBillingDate: start},
			usd(2999), catalog.CycleMonthly, start.AddDate(0, 0, 45),
		)
		require.NoError(t, err)
		assert.Equal(t, int64(0), p.RemainingDays)
		assert.Equal(t, usd(0), p.Amount)
	})

	t.Run("billing date in the future is capped at a full cycle", func(t *testing.T) {
		t.Parallel()

		p, err := billing.ProratedUpgrade(
			billing.Period{Cycle: catalog.CycleMonthly, Amount: usd(999), LastBillingDate: start.AddDate(0, 0, 10)},
			usd(2999), catalog.CycleMonthly, start,
		)
		require.NoError(t, err)
		assert.Equal(t, int64(30), p.RemainingDays)
		assert.Equal(t, usd(2000), p.Amount)
	})

	t.Run("cheaper target never refunds", func(t *testing.T) {
		t.Parallel()

		p, err := billing.ProratedUpgrade(
			billing.Period{Cycle: catalog.CycleMonthly, Amount: usd(2999), LastBillingDate: start},
			usd(999), catalog.CycleMonthly, start.AddDate(0, 0, 3),
		)
		require.NoError(t, err)
		assert.Equal(t, int64(0), p.Amount.Amount)
	})

	t.Run("cycle change charges the full new price less credit", func(t *testing.T) {
		t.Parallel()

		p, err := billing.ProratedUpgrade(
			billing.Period{Cycle: catalog.CycleMonthly, Amount: usd(999), LastBillingDate: start},
			usd(29999), catalog.CycleYearly, start.AddDate(0, 0, 15),
		)
		require.NoError(t, err)
		assert.True(t, p.RestartsPeriod)
		// 299.99 - 4.995 = 294.995, rounded half away from zero
		assert.Equal(t, usd(29500), p.Amount)
	})

	t.Run("unpaid period charges the full price", func(t *testing.T) {
		t.Parallel()

		p, err := billing.ProratedUpgrade(billing.Period{}, usd(2999), catalog.CycleMonthly, start)
		require.NoError(t, err)
		assert.True(t, p.RestartsPeriod)
		assert.Equal(t, usd(2999), p.Amount)
	})

	t.Run("currency mismatch", func(t *testing.T) {
		t.Parallel()

		_, err := billing.ProratedUpgrade(
			billing.Period{Cycle: catalog.CycleMonthly, Amount: usd(999), LastBillingDate: start},
			catalog.Money{Amount: 2999, Currency: "EUR"}, catalog.CycleMonthly, start,
		)
		assert.ErrorIs(t, err, billing.ErrCurrencyMismatch)
	})

	t.Run("unknown cycle", func(t *testing.T) {
		t.Parallel()

		_, err := billing.ProratedUpgrade(billing.Period{}, usd(2999), "weekly", start)
		assert.ErrorIs(t, err, billing.ErrUnknownCycle)
	})
}

func TestProratedUpgrade_NeverNegative(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cycles := catalog.Cycles()

	for range 1000 {
		cur := billing.Period{
			Cycle:           cycles[rng.IntN(len(cycles))],
			Amount:          usd(rng.Int64N(100_000)),
			LastBillingDate: start,
		}
		now := start.Add(time.Duration(rng.Int64N(int64(800 * 24 * time.Hour))))

		p, err := billing.ProratedUpgrade(cur, usd(rng.Int64N(100_000)), cycles[rng.IntN(len(cycles))], now)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.Amount.Amount, int64(0))
		assert.GreaterOrEqual(t, p.RemainingDays, int64(0))
		assert.LessOrEqual(t, p.RemainingDays, p.TotalDays)
	}
}
