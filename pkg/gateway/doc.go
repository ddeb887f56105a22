// Package gateway defines the payment gateway contract the subscription engine
// is written against, together with its implementations.
//
// A Gateway charges a stored payment method and reports one of three outcomes:
// succeeded, declined or pending. Transport failures are returned as errors;
// ErrTimeout (and context deadline errors) mean the outcome is unknown and
// must be reconciled later from a webhook Event. ErrUnavailable means the
// provider was never reached.
//
// Implementations:
//
//   - MockGateway: in-process, scripted or randomly declining, optionally slow.
//   - StripeGateway: off-session PaymentIntents with idempotency keys.
//   - PaddleGateway: Paddle transactions, always pending until the webhook.
//   - BreakerGateway: wraps any Gateway with a circuit breaker.
//
// Every implementation also satisfies EventParser, which verifies a webhook
// request and maps it to the provider-neutral Event type.
package gateway
