package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/trailpost/billing/pkg/catalog"
)

// Gateway charges a customer's payment method.
//
// Declines are not errors: they come back as a ChargeResult with
// OutcomeDeclined. The error return is reserved for transport and protocol
// failures; a timeout (see IsUnknownOutcome) must be treated as an unknown
// outcome, never as a failed charge.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// EventParser verifies and decodes an asynchronous webhook delivery.
type EventParser interface {
	ParseEvent(r *http.Request) (Event, error)
}

// PaymentDetails references a stored payment method at the provider.
type PaymentDetails struct {
	MethodID   string `json:"method_id" bson:"method_id"`
	CustomerID string `json:"customer_id,omitempty" bson:"customer_id,omitempty"`
}

// Valid reports whether a payment method is referenced.
func (p PaymentDetails) Valid() bool {
	return strings.TrimSpace(p.MethodID) != ""
}

// ChargeRequest describes a single charge. IdempotencyKey must be stable
// across retries of the same logical charge.
type ChargeRequest struct {
	UserID         string
	Amount         catalog.Money
	Payment        PaymentDetails
	IdempotencyKey string
	Plan           catalog.Plan
	Cycle          catalog.Cycle
	Description    string
}

// Validate checks the request before it is sent to a provider.
func (r ChargeRequest) Validate() error {
	switch {
	case r.UserID == "":
		return joinInvalid("user id is required")
	case r.IdempotencyKey == "":
		return joinInvalid("idempotency key is required")
	case r.Amount.Amount <= 0:
		return joinInvalid("amount must be positive")
	case r.Amount.Currency == "":
		return joinInvalid("currency is required")
	case !r.Payment.Valid():
		return joinInvalid("payment method is required")
	}
	return nil
}

// Outcome is the provider's answer to a charge.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeDeclined  Outcome = "declined"
	// OutcomePending means the provider accepted the charge but settles it
	// asynchronously; a webhook reports the final result.
	OutcomePending Outcome = "pending"
)

// ChargeResult is the provider's response.
type ChargeResult struct {
	Outcome       Outcome
	TransactionID string
	InvoiceID     string
	Reason        string
}

// Succeeded reports whether the money was captured.
func (r ChargeResult) Succeeded() bool {
	return r.Outcome == OutcomeSucceeded
}

// EventType enumerates the webhook events the engine reconciles.
type EventType string

const (
	EventPaymentSucceeded      EventType = "payment.succeeded"
	EventPaymentFailed         EventType = "payment.failed"
	EventSubscriptionRenewed   EventType = "subscription.renewed"
	EventSubscriptionCancelled EventType = "subscription.cancelled"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventPaymentSucceeded, EventPaymentFailed, EventSubscriptionRenewed, EventSubscriptionCancelled:
		return true
	}
	return false
}

// Event is a provider notification. Providers deliver at least once, so the
// same event may arrive several times.
type Event struct {
	ID             string        `json:"id"`
	Type           EventType     `json:"type"`
	UserID         string        `json:"user_id"`
	TransactionID  string        `json:"transaction_id,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	Amount         catalog.Money `json:"amount"`
	Reason         string        `json:"reason,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// Validate checks that the event carries enough to be reconciled.
func (e Event) Validate() error {
	switch {
	case e.ID == "":
		return joinMalformed("event id is missing")
	case !e.Type.Valid():
		return joinUnsupported(string(e.Type))
	case e.UserID == "":
		return joinMalformed("user id is missing")
	case (e.Type == EventPaymentSucceeded || e.Type == EventPaymentFailed) && e.TransactionID == "" && e.IdempotencyKey == "":
		return joinMalformed("payment event has neither transaction id nor idempotency key")
	}
	return nil
}

// maxEventSize caps webhook payloads read into memory.
const maxEventSize = 1 << 20
