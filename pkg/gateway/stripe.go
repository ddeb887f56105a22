package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/trailpost/billing/pkg/catalog"
)

// StripeConfig holds configuration for the Stripe gateway.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
}

// Metadata keys attached to every PaymentIntent and echoed back by webhooks.
const (
	metaUserID         = "user_id"
	metaIdempotencyKey = "idempotency_key"
	metaPlan           = "plan"
	metaCycle          = "cycle"
)

// StripeGateway charges saved payment methods with off-session PaymentIntents.
type StripeGateway struct {
	sc            *client.API
	webhookSecret string
}

// NewStripeGateway creates a Stripe-backed Gateway.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.Join(ErrMissingConfig, errors.New("stripe secret key is required"))
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.Join(ErrMissingConfig, errors.New("stripe webhook secret is required"))
	}

	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)

	return &StripeGateway{sc: sc, webhookSecret: cfg.WebhookSecret}, nil
}

// Charge creates and confirms a PaymentIntent. Stripe deduplicates retries
// carrying the same idempotency key.
func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if err := req.Validate(); err != nil {
		return ChargeResult{}, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount.Amount),
		Currency:      stripe.String(strings.ToLower(req.Amount.Currency)),
		PaymentMethod: stripe.String(req.Payment.MethodID),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	if req.Payment.CustomerID != "" {
		params.Customer = stripe.String(req.Payment.CustomerID)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata(metaUserID, req.UserID)
	params.AddMetadata(metaIdempotencyKey, req.IdempotencyKey)
	params.AddMetadata(metaPlan, string(req.Plan))
	params.AddMetadata(metaCycle, string(req.Cycle))

	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		return classifyStripeError(err)
	}

	return stripeResult(pi), nil
}

func stripeResult(pi *stripe.PaymentIntent) ChargeResult {
	result := ChargeResult{TransactionID: pi.ID}
	if pi.Invoice != nil {
		result.InvoiceID = pi.Invoice.ID
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		result.Outcome = OutcomeSucceeded
	case stripe.PaymentIntentStatusProcessing:
		result.Outcome = OutcomePending
	default:
		// requires_action, requires_payment_method and canceled all mean
		// the off-session charge did not go through
		result.Outcome = OutcomeDeclined
		result.Reason = string(pi.Status)
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			result.Reason = pi.LastPaymentError.Msg
		}
	}
	return result
}

func classifyStripeError(err error) (ChargeResult, error) {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.Type == stripe.ErrorTypeCard:
			reason := string(se.Code)
			if se.Msg != "" {
				reason = se.Msg
			}
			result := ChargeResult{Outcome: OutcomeDeclined, Reason: reason}
			if se.PaymentIntent != nil {
				result.TransactionID = se.PaymentIntent.ID
			}
			return result, nil
		case se.HTTPStatusCode == http.StatusBadRequest:
			return ChargeResult{}, errors.Join(ErrInvalidRequest, err)
		case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError:
			// Stripe may have processed the request before failing
			return ChargeResult{}, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return ChargeResult{}, fmt.Errorf("stripe: %w", err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return ChargeResult{}, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return ChargeResult{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// ParseEvent verifies the Stripe-Signature header and maps the event.
func (g *StripeGateway) ParseEvent(r *http.Request) (Event, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxEventSize))
	if err != nil {
		return Event{}, errors.Join(ErrFailedToReadEvent, err)
	}

	se, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), g.webhookSecret)
	if err != nil {
		return Event{}, errors.Join(ErrInvalidSignature, err)
	}
	return mapStripeEvent(se)
}

func mapStripeEvent(se stripe.Event) (Event, error) {
	if se.Data == nil {
		return Event{}, joinMalformed("event has no data")
	}

	ev := Event{
		ID:         se.ID,
		OccurredAt: time.Unix(se.Created, 0).UTC(),
	}

	switch string(se.Type) {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(se.Data.Raw, &pi); err != nil {
			return Event{}, errors.Join(ErrMalformedEvent, err)
		}
		ev.Type = EventPaymentSucceeded
		if se.Type == "payment_intent.payment_failed" {
			ev.Type = EventPaymentFailed
			if pi.LastPaymentError != nil {
				ev.Reason = pi.LastPaymentError.Msg
			}
		}
		ev.TransactionID = pi.ID
		ev.UserID = pi.Metadata[metaUserID]
		ev.IdempotencyKey = pi.Metadata[metaIdempotencyKey]
		ev.Amount = catalog.Money{Amount: pi.Amount, Currency: strings.ToUpper(string(pi.Currency))}

	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(se.Data.Raw, &inv); err != nil {
			return Event{}, errors.Join(ErrMalformedEvent, err)
		}
		ev.Type = EventSubscriptionRenewed
		ev.TransactionID = inv.ID
		ev.UserID = inv.Metadata[metaUserID]
		ev.Amount = catalog.Money{Amount: inv.AmountPaid, Currency: strings.ToUpper(string(inv.Currency))}

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(se.Data.Raw, &sub); err != nil {
			return Event{}, errors.Join(ErrMalformedEvent, err)
		}
		ev.Type = EventSubscriptionCancelled
		ev.TransactionID = sub.ID
		ev.UserID = sub.Metadata[metaUserID]

	default:
		return Event{}, joinUnsupported(string(se.Type))
	}

	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}
