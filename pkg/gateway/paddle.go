package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/trailpost/billing/pkg/catalog"
)

// PaddleConfig holds configuration for the Paddle gateway.
// PriceIDs maps "plan:cycle" to a Paddle catalog price, e.g.
// PADDLE_PRICE_IDS="basic:monthly=pri_01h...,basic:yearly=pri_01j...".
type PaddleConfig struct {
	APIKey        string            `env:"PADDLE_API_KEY,required"`
	WebhookSecret string            `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string            `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	PriceIDs      map[string]string `env:"PADDLE_PRICE_IDS" envKeyValSeparator:"="`
}

// PaddleGateway bills through Paddle transactions. Paddle collects payment
// asynchronously, so every accepted charge is pending until a webhook
// reports the result.
type PaddleGateway struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	prices   map[string]string
}

// NewPaddleGateway creates a Paddle-backed Gateway.
func NewPaddleGateway(cfg PaddleConfig) (*PaddleGateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.Join(ErrMissingConfig, errors.New("paddle API key is required"))
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.Join(ErrMissingConfig, errors.New("paddle webhook secret is required"))
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleGateway{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		prices:   cfg.PriceIDs,
	}, nil
}

// PriceKey builds the PriceIDs key for a plan and cycle.
func PriceKey(plan catalog.Plan, cycle catalog.Cycle) string {
	return string(plan) + ":" + string(cycle)
}

// Charge creates a transaction for the plan's catalog price. Paddle computes
// proration itself, so req.Amount is informational here.
func (g *PaddleGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if err := req.Validate(); err != nil {
		return ChargeResult{}, err
	}
	priceID, ok := g.prices[PriceKey(req.Plan, req.Cycle)]
	if !ok {
		return ChargeResult{}, joinInvalid("no paddle price configured for " + PriceKey(req.Plan, req.Cycle))
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  priceID,
		Quantity: 1,
	})

	txReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			metaUserID:         req.UserID,
			metaIdempotencyKey: req.IdempotencyKey,
			metaPlan:           string(req.Plan),
			metaCycle:          string(req.Cycle),
		},
	}
	if req.Payment.CustomerID != "" {
		txReq.CustomerID = paddle.PtrTo(req.Payment.CustomerID)
	}

	tx, err := g.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ChargeResult{}, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return ChargeResult{}, fmt.Errorf("%w: failed to create paddle transaction: %w", ErrUnavailable, err)
	}

	return ChargeResult{Outcome: OutcomePending, TransactionID: tx.ID}, nil
}

type paddleWebhook struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	OccurredAt string `json:"occurred_at"`
	Data       struct {
		ID           string            `json:"id"`
		Status       string            `json:"status"`
		CurrencyCode string            `json:"currency_code"`
		CustomData   map[string]string `json:"custom_data"`
		Details      struct {
			Totals struct {
				GrandTotal string `json:"grand_total"`
			} `json:"totals"`
		} `json:"details"`
	} `json:"data"`
}

// ParseEvent verifies the Paddle-Signature header and maps the event.
func (g *PaddleGateway) ParseEvent(r *http.Request) (Event, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxEventSize))
	if err != nil {
		return Event{}, errors.Join(ErrFailedToReadEvent, err)
	}

	// the verifier consumes the body, so it gets its own request
	vreq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return Event{}, errors.Join(ErrFailedToReadEvent, err)
	}
	vreq.Header.Set("Paddle-Signature", r.Header.Get("Paddle-Signature"))

	valid, err := g.verifier.Verify(vreq)
	if err != nil {
		return Event{}, errors.Join(ErrInvalidSignature, err)
	}
	if !valid {
		return Event{}, ErrInvalidSignature
	}

	return parsePaddleEvent(payload)
}

func parsePaddleEvent(payload []byte) (Event, error) {
	var pw paddleWebhook
	if err := json.Unmarshal(payload, &pw); err != nil {
		return Event{}, errors.Join(ErrMalformedEvent, err)
	}

	ev := Event{
		ID:             pw.EventID,
		UserID:         pw.Data.CustomData[metaUserID],
		IdempotencyKey: pw.Data.CustomData[metaIdempotencyKey],
		TransactionID:  pw.Data.ID,
	}
	if t, err := time.Parse(time.RFC3339, pw.OccurredAt); err == nil {
		ev.OccurredAt = t.UTC()
	}
	if pw.Data.Details.Totals.GrandTotal != "" {
		total, err := strconv.ParseInt(pw.Data.Details.Totals.GrandTotal, 10, 64)
		if err != nil {
			return Event{}, errors.Join(ErrMalformedEvent, err)
		}
		ev.Amount = catalog.Money{Amount: total, Currency: pw.Data.CurrencyCode}
	}

	switch pw.EventType {
	case "transaction.completed", "transaction.paid":
		ev.Type = EventPaymentSucceeded
	case "transaction.payment_failed":
		ev.Type = EventPaymentFailed
		ev.Reason = pw.Data.Status
	case "subscription.canceled":
		ev.Type = EventSubscriptionCancelled
	default:
		return Event{}, joinUnsupported(pw.EventType)
	}

	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}
