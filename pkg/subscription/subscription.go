package subscription

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/trailpost/billing/pkg/catalog"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusInactive  Status = "inactive"
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusInactive, StatusTrial, StatusActive, StatusCancelled, StatusExpired, StatusSuspended:
		return true
	}
	return false
}

// Subscription is a user's plan, billing state, usage and trial history.
// Each user has exactly one, keyed by UserID; it is never deleted.
type Subscription struct {
	ID      string       `json:"id" bson:"_id"`
	UserID  string       `json:"user_id" bson:"user_id"`
	Version int64        `json:"version" bson:"version"`
	Plan    catalog.Plan `json:"plan" bson:"plan"`
	Status  Status       `json:"status" bson:"status"`

	Billing  Billing            `json:"billing" bson:"billing"`
	Features catalog.FeatureSet `json:"features" bson:"features"`
	Limits   Limits             `json:"limits" bson:"limits"`
	Trial    Trial              `json:"trial" bson:"trial"`
	Window   Window             `json:"window" bson:"window"`

	// Pending holds charges whose outcome the gateway has not confirmed yet.
	Pending []PendingCharge `json:"pending,omitempty" bson:"pending,omitempty"`

	// DueAt is the next moment a sweep has work to do on this subscription.
	// Maintained by Touch; stores index it.
	DueAt *time.Time `json:"due_at,omitempty" bson:"due_at,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Billing holds the recurring charge and the invoice history.
type Billing struct {
	Cycle           catalog.Cycle `json:"cycle,omitempty" bson:"cycle,omitempty"`
	Amount          catalog.Money `json:"amount" bson:"amount"`
	PaymentMethod   string        `json:"payment_method,omitempty" bson:"payment_method,omitempty"`
	CustomerID      string        `json:"customer_id,omitempty" bson:"customer_id,omitempty"`
	NextBillingDate *time.Time    `json:"next_billing_date,omitempty" bson:"next_billing_date,omitempty"`
	LastBillingDate *time.Time    `json:"last_billing_date,omitempty" bson:"last_billing_date,omitempty"`
	// FailedCharges counts terminal declines since the last captured charge.
	FailedCharges int64 `json:"failed_charges,omitempty" bson:"failed_charges,omitempty"`
	// Invoices is append-only and ordered by Date.
	Invoices []Invoice `json:"invoices,omitempty" bson:"invoices,omitempty"`
}

// Limits holds usage counters for the current period.
// Keys are catalog feature names or custom limit names.
type Limits struct {
	Usage        map[string]int64 `json:"usage" bson:"usage"`
	CustomLimits map[string]int64 `json:"custom_limits,omitempty" bson:"custom_limits,omitempty"`
	ResetDate    time.Time        `json:"reset_date" bson:"reset_date"`
}

// Trial holds trial state. HasUsedTrial never goes back to false.
type Trial struct {
	IsTrialUser  bool         `json:"is_trial_user" bson:"is_trial_user"`
	StartDate    *time.Time   `json:"start_date,omitempty" bson:"start_date,omitempty"`
	EndDate      *time.Time   `json:"end_date,omitempty" bson:"end_date,omitempty"`
	Plan         catalog.Plan `json:"plan,omitempty" bson:"plan,omitempty"`
	HasUsedTrial bool         `json:"has_used_trial" bson:"has_used_trial"`
}

// Window is the paid period and its cancellation metadata.
type Window struct {
	StartDate    time.Time  `json:"start_date" bson:"start_date"`
	EndDate      *time.Time `json:"end_date,omitempty" bson:"end_date,omitempty"`
	AutoRenew    bool       `json:"auto_renew" bson:"auto_renew"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty" bson:"cancel_reason,omitempty"`
}

// InvoiceStatus is the settlement state recorded on an invoice.
type InvoiceStatus string

const (
	InvoicePaid InvoiceStatus = "paid"
	// InvoiceRefundDue records money captured for a change that could no
	// longer be applied.
	InvoiceRefundDue InvoiceStatus = "refund_due"
)

// Intent is what a charge pays for.
type Intent string

const (
	IntentCreate  Intent = "create"
	IntentUpgrade Intent = "upgrade"
	IntentRenew   Intent = "renew"
)

// Invoice is an immutable record of a completed charge.
type Invoice struct {
	ID               string        `json:"id" bson:"id"`
	Intent           Intent        `json:"intent" bson:"intent"`
	Plan             catalog.Plan  `json:"plan" bson:"plan"`
	Cycle            catalog.Cycle `json:"cycle" bson:"cycle"`
	Amount           catalog.Money `json:"amount" bson:"amount"`
	Status           InvoiceStatus `json:"status" bson:"status"`
	TransactionID    string        `json:"transaction_id,omitempty" bson:"transaction_id,omitempty"`
	GatewayInvoiceID string        `json:"gateway_invoice_id,omitempty" bson:"gateway_invoice_id,omitempty"`
	IdempotencyKey   string        `json:"idempotency_key" bson:"idempotency_key"`
	Date             time.Time     `json:"date" bson:"date"`
}

// PendingCharge is a charge sent to the gateway whose outcome is unknown.
// It carries everything needed to apply the change once confirmed.
type PendingCharge struct {
	IdempotencyKey string        `json:"idempotency_key" bson:"idempotency_key"`
	TransactionID  string        `json:"transaction_id,omitempty" bson:"transaction_id,omitempty"`
	Intent         Intent        `json:"intent" bson:"intent"`
	Plan           catalog.Plan  `json:"plan" bson:"plan"`
	Cycle          catalog.Cycle `json:"cycle" bson:"cycle"`
	Amount         catalog.Money `json:"amount" bson:"amount"`
	PaymentMethod  string        `json:"payment_method,omitempty" bson:"payment_method,omitempty"`
	CustomerID     string        `json:"customer_id,omitempty" bson:"customer_id,omitempty"`
	RestartsPeriod bool          `json:"restarts_period" bson:"restarts_period"`
	CreatedAt      time.Time     `json:"created_at" bson:"created_at"`
}

// NewFree returns a free subscription for userID, active with no end date.
func NewFree(userID string, features catalog.FeatureSet, now time.Time) *Subscription {
	now = now.UTC()
	s := &Subscription{
		ID:       uuid.NewString(),
		UserID:   userID,
		Plan:     catalog.PlanFree,
		Status:   StatusActive,
		Features: features.Clone(),
		Limits: Limits{
			Usage:        make(map[string]int64),
			CustomLimits: make(map[string]int64),
			ResetDate:    now,
		},
		Window:    Window{StartDate: now},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.Features = s.Features.Clone()
	c.Limits.Usage = maps.Clone(s.Limits.Usage)
	c.Limits.CustomLimits = maps.Clone(s.Limits.CustomLimits)
	c.Billing.Invoices = slices.Clone(s.Billing.Invoices)
	c.Billing.NextBillingDate = cloneTime(s.Billing.NextBillingDate)
	c.Billing.LastBillingDate = cloneTime(s.Billing.LastBillingDate)
	c.Trial.StartDate = cloneTime(s.Trial.StartDate)
	c.Trial.EndDate = cloneTime(s.Trial.EndDate)
	c.Window.EndDate = cloneTime(s.Window.EndDate)
	c.Window.CancelledAt = cloneTime(s.Window.CancelledAt)
	c.Pending = slices.Clone(s.Pending)
	c.DueAt = cloneTime(s.DueAt)
	if c.Limits.Usage == nil {
		c.Limits.Usage = make(map[string]int64)
	}
	return &c
}

// IsPaid reports whether the subscription is on a paid plan with an active
// paid period. Trials are not paid.
func (s *Subscription) IsPaid() bool {
	return s.Status == StatusActive && s.Plan.IsPaid()
}

// IsCancelled reports whether a cancellation was requested, immediate or deferred.
func (s *Subscription) IsCancelled() bool {
	return s.Status == StatusCancelled || s.Window.CancelledAt != nil
}

// Usable reports whether features may be used at now: the status is active
// or trial and the relevant window has not ended.
func (s *Subscription) Usable(now time.Time) bool {
	switch s.Status {
	case StatusActive:
		return s.Window.EndDate == nil || now.Before(*s.Window.EndDate)
	case StatusTrial:
		return s.Trial.EndDate == nil || !now.After(*s.Trial.EndDate)
	default:
		return false
	}
}

// Settle applies time-based transitions that are due at now: an ended trial
// and an active period past its end date both become expired. Reports
// whether anything changed.
func (s *Subscription) Settle(now time.Time) bool {
	switch {
	case s.Status == StatusTrial && s.Trial.EndDate != nil && now.After(*s.Trial.EndDate):
		s.Status = StatusExpired
		s.Trial.IsTrialUser = false
		s.Window.EndDate = cloneTime(s.Trial.EndDate)
		return true
	case s.Status == StatusActive && s.Window.EndDate != nil && !now.Before(*s.Window.EndDate):
		s.Status = StatusExpired
		return true
	}
	return false
}

// UsageOf returns the counter for a feature or custom limit.
func (s *Subscription) UsageOf(key string) int64 {
	return s.Limits.Usage[key]
}

// LimitOf returns the effective limit for key: the catalog feature limit from
// the snapshot, or the custom limit for non-catalog keys. Missing is 0.
func (s *Subscription) LimitOf(key string) int64 {
	if f := catalog.Feature(key); f.Known() {
		return s.Features.Limit(f)
	}
	limit, ok := s.Limits.CustomLimits[key]
	if !ok || limit < catalog.Unlimited {
		return 0
	}
	return limit
}

// ResetUsage zeroes every counter and records the reset time.
func (s *Subscription) ResetUsage(now time.Time) {
	s.Limits.Usage = make(map[string]int64)
	s.Limits.ResetDate = now.UTC()
}

// ClampUsage lowers counters that exceed the current limits, e.g. after a
// downgrade. Counters for unlimited features are left as they are.
func (s *Subscription) ClampUsage() {
	for key, used := range s.Limits.Usage {
		limit := s.LimitOf(key)
		if limit != catalog.Unlimited && used > limit {
			s.Limits.Usage[key] = limit
		}
	}
}

// HasCharge reports whether an invoice was already recorded for the
// idempotency key or gateway transaction.
func (s *Subscription) HasCharge(key, transactionID string) bool {
	return slices.ContainsFunc(s.Billing.Invoices, func(inv Invoice) bool {
		return (key != "" && inv.IdempotencyKey == key) || (transactionID != "" && inv.TransactionID == transactionID)
	})
}

// FindPending returns the index of the pending charge matching the
// idempotency key or transaction id, or -1.
func (s *Subscription) FindPending(key, transactionID string) int {
	return slices.IndexFunc(s.Pending, func(pc PendingCharge) bool {
		return (key != "" && pc.IdempotencyKey == key) || (transactionID != "" && pc.TransactionID == transactionID)
	})
}

// RemovePending drops the pending charge at i.
func (s *Subscription) RemovePending(i int) {
	s.Pending = slices.Delete(s.Pending, i, i+1)
}

// AppendInvoice adds inv to the history. Invoices may not predate the last one.
func (s *Subscription) AppendInvoice(inv Invoice) error {
	if n := len(s.Billing.Invoices); n > 0 && inv.Date.Before(s.Billing.Invoices[n-1].Date) {
		return ErrInvoiceOutOfOrder
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	s.Billing.Invoices = append(s.Billing.Invoices, inv)
	return nil
}

// Touch records a modification at now and recomputes DueAt.
func (s *Subscription) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
	s.DueAt = s.nextDue()
}

func (s *Subscription) nextDue() *time.Time {
	switch s.Status {
	case StatusTrial:
		return cloneTime(s.Trial.EndDate)
	case StatusActive:
		return earliest(s.Window.EndDate, s.Billing.NextBillingDate)
	case StatusExpired:
		if s.Window.AutoRenew {
			return earliest(s.Window.EndDate, s.Billing.NextBillingDate)
		}
	}
	return nil
}

func earliest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return cloneTime(b)
	case b == nil || a.Before(*b):
		return cloneTime(a)
	default:
		return cloneTime(b)
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to t in UTC.
func TimePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
