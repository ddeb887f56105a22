package subscription

import (
	"errors"
	"fmt"
	"time"

	"github.com/trailpost/billing/pkg/catalog"
)

// Error kinds. Every error returned by the engine wraps exactly one of them.
var (
	ErrValidation  = errors.New("validation error")
	ErrConflict    = errors.New("conflict")
	ErrPayment     = errors.New("payment error")
	ErrNotFound    = errors.New("not found")
	ErrEntitlement = errors.New("entitlement error")
	ErrInternal    = errors.New("internal error")
)

var (
	ErrInvalidPlan      = fmt.Errorf("%w: invalid subscription plan", ErrValidation)
	ErrInvalidCycle     = fmt.Errorf("%w: invalid billing cycle", ErrValidation)
	ErrInvalidTrialDays = fmt.Errorf("%w: invalid trial length", ErrValidation)
	ErrInvalidUsage     = fmt.Errorf("%w: usage must be positive", ErrValidation)
	ErrInvalidFeature   = fmt.Errorf("%w: unknown feature", ErrValidation)
	ErrMissingUserID    = fmt.Errorf("%w: user id is required", ErrValidation)
	ErrMissingPayment   = fmt.Errorf("%w: payment method is required", ErrValidation)

	ErrActiveSubscriptionExists = fmt.Errorf("%w: an active paid subscription already exists", ErrConflict)
	ErrTrialAlreadyUsed         = fmt.Errorf("%w: trial has already been used", ErrConflict)
	ErrNotAnUpgrade             = fmt.Errorf("%w: target plan is not above the current plan", ErrConflict)
	ErrNotADowngrade            = fmt.Errorf("%w: target plan is not below the current plan", ErrConflict)
	ErrAlreadyCancelled         = fmt.Errorf("%w: subscription is already cancelled", ErrConflict)
	ErrInvalidTransition        = fmt.Errorf("%w: transition not allowed from the current status", ErrConflict)
	ErrChargeInProgress         = fmt.Errorf("%w: a charge for this subscription is awaiting confirmation", ErrConflict)
	ErrAlreadyExists            = fmt.Errorf("%w: subscription already exists", ErrConflict)
	ErrVersionConflict          = fmt.Errorf("%w: subscription was modified concurrently", ErrConflict)

	ErrSubscriptionNotFound = fmt.Errorf("%w: subscription not found", ErrNotFound)

	ErrSubscriptionInactive = fmt.Errorf("%w: subscription is not active", ErrEntitlement)
	ErrFeatureNotEntitled   = fmt.Errorf("%w: feature not included in plan", ErrEntitlement)
	ErrQuotaExceeded        = fmt.Errorf("%w: usage quota exceeded", ErrEntitlement)

	ErrPaymentDeclined = fmt.Errorf("%w: payment declined", ErrPayment)
	ErrPaymentPending  = fmt.Errorf("%w: payment outcome pending", ErrPayment)
	ErrGatewayFailure  = fmt.Errorf("%w: payment gateway failure", ErrPayment)

	// ErrUsageGuard is returned by Store.IncrementUsage when the conditional
	// update matched nothing: the quota would be exceeded, the plan changed or
	// the subscription is no longer usable.
	ErrUsageGuard        = errors.New("usage increment guard failed")
	ErrInvoiceOutOfOrder = fmt.Errorf("%w: invoice predates the last recorded invoice", ErrInternal)
	ErrUnchanged         = errors.New("subscription unchanged")
)

// Kind classifies an error for callers that map errors to responses.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindConflict    Kind = "conflict"
	KindPayment     Kind = "payment"
	KindNotFound    Kind = "not_found"
	KindEntitlement Kind = "entitlement"
	KindInternal    Kind = "internal"
)

// KindOf returns the kind of err. Errors that wrap no kind are internal.
// Returns an empty Kind for nil.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrPayment):
		return KindPayment
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrEntitlement):
		return KindEntitlement
	default:
		return KindInternal
	}
}

// Internal wraps an unexpected failure so that it classifies as internal.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}

// FeatureNotEntitledError reports a feature the current plan does not grant.
type FeatureNotEntitledError struct {
	Feature string
	Plan    catalog.Plan
	// RecommendedPlan is the lowest plan granting the feature; empty when no
	// plan above the current one does.
	RecommendedPlan catalog.Plan
}

func (e *FeatureNotEntitledError) Error() string {
	if e.RecommendedPlan == "" {
		return fmt.Sprintf("feature %q is not available on the %s plan", e.Feature, e.Plan)
	}
	return fmt.Sprintf("feature %q is not available on the %s plan, upgrade to %s", e.Feature, e.Plan, e.RecommendedPlan)
}

func (e *FeatureNotEntitledError) Unwrap() error {
	return ErrFeatureNotEntitled
}

// QuotaExceededError reports a usage request that would exceed the limit.
type QuotaExceededError struct {
	Feature   string
	Used      int64
	Limit     int64
	Requested int64
	ResetDate time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota for %q exceeded: %d of %d used, %d requested, resets %s",
		e.Feature, e.Used, e.Limit, e.Requested, e.ResetDate.Format(time.DateOnly))
}

func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// Remaining returns how much of the quota is still available.
func (e *QuotaExceededError) Remaining() int64 {
	return max(e.Limit-e.Used, 0)
}

// PaymentError reports a charge that did not complete.
//
// Pending means the outcome is unknown or still processing and will be
// reconciled from a gateway webhook; the caller must not retry with a new
// charge. Retryable means nothing was charged and the same request may be
// sent again later.
type PaymentError struct {
	Reason         string
	Retryable      bool
	Pending        bool
	TransactionID  string
	IdempotencyKey string
	Err            error
}

func (e *PaymentError) Error() string {
	switch {
	case e.Pending:
		return "payment is being processed: " + e.Reason
	case e.Retryable:
		return "payment could not be processed, try again later: " + e.Reason
	default:
		return "payment declined: " + e.Reason
	}
}

func (e *PaymentError) Unwrap() []error {
	errs := make([]error, 0, 2)
	switch {
	case e.Pending:
		errs = append(errs, ErrPaymentPending)
	case e.Retryable:
		errs = append(errs, ErrGatewayFailure)
	default:
		errs = append(errs, ErrPaymentDeclined)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
