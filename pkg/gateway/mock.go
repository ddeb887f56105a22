package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStep scripts the next charge handled by MockGateway.
//
// Err is returned to the caller instead of the result. Combined with an
// Outcome it models a charge that completed at the provider while the caller
// saw a failure, e.g. {Outcome: OutcomeSucceeded, Err: ErrTimeout}.
type MockStep struct {
	Outcome Outcome
	Reason  string
	Err     error
	Delay   time.Duration
}

type mockCharge struct {
	req    ChargeRequest
	result ChargeResult
}

// MockGateway is an in-process Gateway for development and tests. Outcomes
// come from the script first, then from a seeded random source. Charges are
// idempotent by key: repeating a key returns the original result.
type MockGateway struct {
	mu          sync.Mutex
	rng         *rand.Rand
	declineRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
	script      []MockStep
	charges     map[string]mockCharge
	calls       []ChargeRequest
}

// MockOption configures MockGateway.
type MockOption func(*MockGateway)

// WithDeclineRate sets the probability in [0,1] that an unscripted charge is declined.
func WithDeclineRate(rate float64) MockOption {
	return func(m *MockGateway) {
		m.declineRate = min(max(rate, 0), 1)
	}
}

// WithDelay makes unscripted charges take a random time between lo and hi.
func WithDelay(lo, hi time.Duration) MockOption {
	return func(m *MockGateway) {
		if hi < lo {
			lo, hi = hi, lo
		}
		m.minDelay, m.maxDelay = lo, hi
	}
}

// WithSeed makes the random outcomes reproducible.
func WithSeed(seed uint64) MockOption {
	return func(m *MockGateway) {
		m.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithScript queues deterministic outcomes for the next charges.
func WithScript(steps ...MockStep) MockOption {
	return func(m *MockGateway) {
		m.script = append(m.script, steps...)
	}
}

// NewMockGateway creates a mock that approves every charge unless configured otherwise.
func NewMockGateway(opts ...MockOption) *MockGateway {
	m := &MockGateway{
		rng:     rand.New(rand.NewPCG(1, 2)),
		charges: make(map[string]mockCharge),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Script appends steps to the queue.
func (m *MockGateway) Script(steps ...MockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, steps...)
}

// Charge implements Gateway.
func (m *MockGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if err := req.Validate(); err != nil {
		return ChargeResult{}, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	if prev, ok := m.charges[req.IdempotencyKey]; ok {
		m.mu.Unlock()
		if prev.req.Amount != req.Amount || prev.req.Payment.MethodID != req.Payment.MethodID {
			return ChargeResult{}, fmt.Errorf("%w: idempotency key reused with different parameters", ErrInvalidRequest)
		}
		return prev.result, nil
	}
	step := m.nextStep()
	result := ChargeResult{
		Outcome:       step.Outcome,
		TransactionID: "txn_" + uuid.NewString(),
		Reason:        step.Reason,
	}
	if result.Outcome == OutcomeSucceeded {
		result.InvoiceID = "inv_" + uuid.NewString()
	}
	m.charges[req.IdempotencyKey] = mockCharge{req: req, result: result}
	m.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			// the provider keeps processing; the outcome is reported by webhook
			return ChargeResult{}, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		case <-timer.C:
		}
	}

	if step.Err != nil {
		return ChargeResult{}, step.Err
	}
	return result, nil
}

// nextStep must be called with mu held.
func (m *MockGateway) nextStep() MockStep {
	if len(m.script) > 0 {
		step := m.script[0]
		m.script = m.script[1:]
		if step.Outcome == "" {
			step.Outcome = OutcomeSucceeded
		}
		if step.Outcome == OutcomeDeclined && step.Reason == "" {
			step.Reason = "card_declined"
		}
		return step
	}

	step := MockStep{Outcome: OutcomeSucceeded}
	if m.rng.Float64() < m.declineRate {
		step.Outcome = OutcomeDeclined
		step.Reason = "card_declined"
	}
	if m.maxDelay > 0 {
		step.Delay = m.minDelay + time.Duration(m.rng.Int64N(int64(m.maxDelay-m.minDelay)+1))
	}
	return step
}

// Calls returns every charge request received, replays included.
func (m *MockGateway) Calls() []ChargeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChargeRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// EventFor builds the webhook event the provider would send for the charge
// issued under key. Returns false for unknown keys and charges still pending.
func (m *MockGateway) EventFor(key string) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.charges[key]
	if !ok {
		return Event{}, false
	}

	ev := Event{
		ID:             "evt_" + uuid.NewString(),
		UserID:         c.req.UserID,
		TransactionID:  c.result.TransactionID,
		IdempotencyKey: key,
		Amount:         c.req.Amount,
		Reason:         c.result.Reason,
		OccurredAt:     time.Now().UTC(),
	}
	switch c.result.Outcome {
	case OutcomeSucceeded:
		ev.Type = EventPaymentSucceeded
	case OutcomeDeclined:
		ev.Type = EventPaymentFailed
	default:
		return Event{}, false
	}
	return ev, true
}

// Resolve sets the final outcome of a pending charge, as the provider would
// when it finishes processing.
func (m *MockGateway) Resolve(key string, outcome Outcome, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.charges[key]
	if !ok {
		return false
	}
	c.result.Outcome = outcome
	c.result.Reason = reason
	if outcome == OutcomeSucceeded && c.result.InvoiceID == "" {
		c.result.InvoiceID = "inv_" + uuid.NewString()
	}
	m.charges[key] = c
	return true
}

// ParseEvent decodes an unsigned JSON Event. It lets the webhook endpoint run
// against the mock in development.
func (m *MockGateway) ParseEvent(r *http.Request) (Event, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventSize))
	if err != nil {
		return Event{}, errors.Join(ErrFailedToReadEvent, err)
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, errors.Join(ErrMalformedEvent, err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}
