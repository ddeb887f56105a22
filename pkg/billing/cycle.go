package billing

import (
	"fmt"
	"time"

	"github.com/trailpost/billing/pkg/catalog"
)

// Fixed cycle lengths used for proration. They approximate calendar months
// and years; NextBillingDate uses calendar arithmetic instead.
const (
	MonthlyCycleDays = 30
	YearlyCycleDays  = 365
)

const day = 24 * time.Hour

// NextBillingDate returns the start of the next billing period: one calendar
// month or year after from. Panics on unknown cycles.
func NextBillingDate(cycle catalog.Cycle, from time.Time) time.Time {
	switch cycle {
	case catalog.CycleMonthly:
		return from.AddDate(0, 1, 0)
	case catalog.CycleYearly:
		return from.AddDate(1, 0, 0)
	default:
		panic(fmt.Sprintf("billing: %v: %q", ErrUnknownCycle, string(cycle)))
	}
}

// CycleDays returns the fixed number of days in a billing cycle used for
// proration. Panics on unknown cycles.
func CycleDays(cycle catalog.Cycle) int64 {
	switch cycle {
	case catalog.CycleMonthly:
		return MonthlyCycleDays
	case catalog.CycleYearly:
		return YearlyCycleDays
	default:
		panic(fmt.Sprintf("billing: %v: %q", ErrUnknownCycle, string(cycle)))
	}
}

// DaysBetween returns the number of whole days from start to end, rounded
// down. Negative when end is before start.
func DaysBetween(start, end time.Time) int64 {
	d := end.Sub(start)
	days := int64(d / day)
	if d < 0 && d%day != 0 {
		days--
	}
	return days
}
