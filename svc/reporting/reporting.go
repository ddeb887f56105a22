package reporting

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trailpost/billing/pkg/archive"
	"github.com/trailpost/billing/pkg/catalog"
	"github.com/trailpost/billing/pkg/logger"
	"github.com/trailpost/billing/pkg/subscription"
)

var (
	ErrInvalidRange   = fmt.Errorf("%w: report range end must be after start", subscription.ErrValidation)
	ErrFailedToList   = errors.New("failed to list subscriptions")
	ErrFailedToExport = errors.New("failed to export report")
)

// RevenueLine is the paid revenue of one plan and cycle.
type RevenueLine struct {
	Plan     catalog.Plan  `json:"plan"`
	Cycle    catalog.Cycle `json:"cycle"`
	Invoices int           `json:"invoices"`
	Amount   catalog.Money `json:"amount"`
}

// RevenueReport aggregates subscriptions over [Start, End).
type RevenueReport struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	GeneratedAt time.Time `json:"generated_at"`
	Currency    string    `json:"currency"`

	// ActiveByPlan counts subscriptions usable at End, trials included.
	ActiveByPlan map[catalog.Plan]int `json:"active_by_plan"`
	TotalActive  int                  `json:"total_active"`

	Revenue      []RevenueLine `json:"revenue"`
	TotalRevenue catalog.Money `json:"total_revenue"`
	// RefundDue is money captured in range for changes that were not applied.
	RefundDue catalog.Money `json:"refund_due"`

	// Churned counts cancellations requested in range.
	Churned          int     `json:"churned"`
	TrialsStarted    int     `json:"trials_started"`
	TrialConversions int     `json:"trial_conversions"`
	ConversionRate   float64 `json:"conversion_rate"`
}

// Archiver stores exported reports.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (archive.Object, error)
}

// Reporter computes read-only analytics over stored subscriptions.
type Reporter struct {
	lister   subscription.Lister
	currency string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		r.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reporter) {
		r.logger = l
	}
}

// New creates a Reporter reporting amounts in the catalog currency.
func New(lister subscription.Lister, cat *catalog.Catalog, opts ...Option) *Reporter {
	r := &Reporter{
		lister:   lister,
		currency: cat.Currency(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logger.Component("reporting"))
	return r
}

// GetAnalytics reports active subscribers at end, revenue from paid invoices
// dated in [start, end), churn and trial conversion.
//
// A trial counts as converted when the same subscription has a paid invoice
// dated after the trial started and before end.
func (r *Reporter) GetAnalytics(ctx context.Context, start, end time.Time) (RevenueReport, error) {
	if !end.After(start) {
		return RevenueReport{}, ErrInvalidRange
	}
	start, end = start.UTC(), end.UTC()

	subs, err := r.lister.List(ctx, subscription.Filter{})
	if err != nil {
		return RevenueReport{}, subscription.Internal("list subscriptions", errors.Join(ErrFailedToList, err))
	}

	rep := RevenueReport{
		Start:        start,
		End:          end,
		GeneratedAt:  r.now().UTC(),
		Currency:     r.currency,
		ActiveByPlan: make(map[catalog.Plan]int, len(catalog.Plans())),
		TotalRevenue: catalog.Money{Currency: r.currency},
		RefundDue:    catalog.Money{Currency: r.currency},
	}
	for _, p := range catalog.Plans() {
		rep.ActiveByPlan[p] = 0
	}

	type lineKey struct {
		plan  catalog.Plan
		cycle catalog.Cycle
	}
	lines := make(map[lineKey]*RevenueLine)
	skipped := 0

	for _, s := range subs {
		snap := s.Clone()
		snap.Settle(end)
		if snap.Usable(end) && snap.CreatedAt.Before(end) {
			rep.ActiveByPlan[snap.Plan]++
			rep.TotalActive++
		}

		if c := s.Window.CancelledAt; c != nil && inRange(*c, start, end) {
			rep.Churned++
		}

		trialStart := s.Trial.StartDate
		if trialStart != nil && inRange(*trialStart, start, end) {
			rep.TrialsStarted++
		}
		converted := false

		for _, inv := range s.Billing.Invoices {
			if !inRange(inv.Date, start, end) {
				continue
			}
			if inv.Amount.Currency != r.currency {
				skipped++
				continue
			}
			if inv.Status == subscription.InvoiceRefundDue {
				rep.RefundDue.Amount += inv.Amount.Amount
				continue
			}

			k := lineKey{inv.Plan, inv.Cycle}
			line, ok := lines[k]
			if !ok {
				line = &RevenueLine{Plan: inv.Plan, Cycle: inv.Cycle, Amount: catalog.Money{Currency: r.currency}}
				lines[k] = line
			}
			line.Invoices++
			line.Amount.Amount += inv.Amount.Amount
			rep.TotalRevenue.Amount += inv.Amount.Amount

			if trialStart != nil && inRange(*trialStart, start, end) && inv.Date.After(*trialStart) {
				converted = true
			}
		}
		if converted {
			rep.TrialConversions++
		}
	}

	rep.Revenue = make([]RevenueLine, 0, len(lines))
	for _, line := range lines {
		rep.Revenue = append(rep.Revenue, *line)
	}
	slices.SortFunc(rep.Revenue, func(a, b RevenueLine) int {
		return cmp.Or(
			cmp.Compare(a.Plan.Level(), b.Plan.Level()),
			cmp.Compare(a.Cycle, b.Cycle),
		)
	})
	rep.ConversionRate = conversionRate(rep.TrialConversions, rep.TrialsStarted)

	if skipped > 0 {
		r.logger.WarnContext(ctx, "invoices in a foreign currency left out of the report",
			logger.Count(skipped),
			slog.String("currency", r.currency),
		)
	}
	r.logger.InfoContext(ctx, "analytics computed",
		logger.Count(len(subs)),
		slog.Time("start", start),
		slog.Time("end", end),
		logger.Amount(rep.TotalRevenue.Amount, rep.TotalRevenue.Currency),
	)
	return rep, nil
}

// Export writes the report as JSON to the archive, keyed by its range, and
// returns the stored object.
func (r *Reporter) Export(ctx context.Context, rep RevenueReport, a Archiver) (archive.Object, error) {
	body, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return archive.Object{}, errors.Join(ErrFailedToExport, err)
	}

	key := ReportKey(rep)
	obj, err := a.Put(ctx, key, body, "application/json")
	if err != nil {
		return archive.Object{}, errors.Join(ErrFailedToExport, err)
	}

	r.logger.InfoContext(ctx, "report exported",
		slog.String("key", obj.Key),
		slog.Int64("size", obj.Size),
	)
	return obj, nil
}

// ReportKey names the archived object of a report.
func ReportKey(rep RevenueReport) string {
	return fmt.Sprintf("%s/%s_%s.json",
		rep.Start.Format("2006"),
		rep.Start.Format("20060102"),
		rep.End.Format("20060102"),
	)
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

// conversionRate returns converted/started rounded to four decimals.
func conversionRate(converted, started int) float64 {
	if started == 0 {
		return 0
	}
	rate, _ := decimal.NewFromInt(int64(converted)).
		DivRound(decimal.NewFromInt(int64(started)), 4).
		Float64()
	return rate
}
