package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trailpost/billing/pkg/catalog"
)

// Period is the billing state a proration is computed from.
type Period struct {
	Cycle           catalog.Cycle
	Amount          catalog.Money
	LastBillingDate time.Time
}

// Proration is the result of a mid-cycle plan change.
type Proration struct {
	// Refund is the unused part of the current period, in major units.
	Refund decimal.Decimal
	// Charge is the cost of the new plan over the remaining days, or the full
	// new-cycle price when the period restarts.
	Charge decimal.Decimal
	// Amount is max(0, Charge-Refund) rounded to the currency's minor unit.
	Amount        catalog.Money
	TotalDays     int64
	RemainingDays int64
	// RestartsPeriod is set when the new plan starts a fresh billing period
	// instead of inheriting the current one.
	RestartsPeriod bool
}

// ProratedUpgrade computes what to charge for moving from the current period
// to a plan costing newAmount per newCycle at time now.
//
// With matching cycles both the refund and the charge cover the remaining
// days of the current period:
//
//	refund = current / totalDays * remainingDays
//	charge = new / totalDays * remainingDays
//
// When the cycle changes, or the current period was never paid for, the full
// new price is charged less the unused credit and the period restarts at now.
// The result is never negative and is rounded half away from zero.
func ProratedUpgrade(current Period, newAmount catalog.Money, newCycle catalog.Cycle, now time.Time) (Proration, error) {
	if !newCycle.Valid() {
		return Proration{}, fmt.Errorf("%w: %q", ErrUnknownCycle, string(newCycle))
	}
	if newAmount.Amount < 0 || current.Amount.Amount < 0 {
		return Proration{}, ErrNegativeAmount
	}

	unpaid := current.LastBillingDate.IsZero() || current.Amount.IsZero() || !current.Cycle.Valid()
	if !unpaid && current.Amount.Currency != newAmount.Currency {
		return Proration{}, fmt.Errorf("%w: %s and %s", ErrCurrencyMismatch, current.Amount.Currency, newAmount.Currency)
	}

	if unpaid {
		return Proration{
			Refund:         decimal.Zero,
			Charge:         newAmount.Decimal(),
			Amount:         newAmount,
			TotalDays:      CycleDays(newCycle),
			RemainingDays:  CycleDays(newCycle),
			RestartsPeriod: true,
		}, nil
	}

	total := CycleDays(current.Cycle)
	remaining := RemainingDays(current.Cycle, current.LastBillingDate, now)

	refund := share(current.Amount.Decimal(), remaining, total)

	p := Proration{
		Refund:        refund,
		TotalDays:     total,
		RemainingDays: remaining,
	}
	if newCycle == current.Cycle {
		p.Charge = share(newAmount.Decimal(), remaining, total)
	} else {
		p.Charge = newAmount.Decimal()
		p.RestartsPeriod = true
	}

	diff := p.Charge.Sub(refund)
	if diff.IsNegative() {
		diff = decimal.Zero
	}
	p.Amount = catalog.MoneyFromDecimal(diff, newAmount.Currency)
	return p, nil
}

// RemainingDays returns the days left in the period that started at
// lastBilling, clamped to [0, CycleDays(cycle)].
func RemainingDays(cycle catalog.Cycle, lastBilling, now time.Time) int64 {
	total := CycleDays(cycle)
	remaining := total - DaysBetween(lastBilling, now)
	return min(max(remaining, 0), total)
}

// share returns amount/total*part without intermediate rounding.
func share(amount decimal.Decimal, part, total int64) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return amount.Mul(decimal.NewFromInt(part)).Div(decimal.NewFromInt(total))
}
