package gateway

import (
	"context"
	"errors"
)

var (
	// ErrTimeout means the charge outcome is unknown: the provider may still
	// complete it and report back through a webhook.
	ErrTimeout = errors.New("payment gateway timed out")
	// ErrUnavailable means the request never reached the provider.
	ErrUnavailable = errors.New("payment gateway unavailable")

	ErrInvalidRequest    = errors.New("invalid charge request")
	ErrMissingConfig     = errors.New("payment gateway is not configured")
	ErrInvalidSignature  = errors.New("webhook signature verification failed")
	ErrMalformedEvent    = errors.New("malformed webhook event")
	ErrUnsupportedEvent  = errors.New("unsupported webhook event type")
	ErrFailedToReadEvent = errors.New("failed to read webhook payload")
)

// IsUnknownOutcome reports whether err leaves the charge outcome undetermined.
func IsUnknownOutcome(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
