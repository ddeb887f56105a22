package gamification

import "errors"

var (
	ErrInvalidConfig     = errors.New("gamification: invalid configuration")
	ErrInvalidAward      = errors.New("gamification: invalid award")
	ErrPermanentFailure  = errors.New("gamification: award rejected")
	ErrTemporaryFailure  = errors.New("gamification: temporary failure")
	ErrDeliveryFailed    = errors.New("gamification: award delivery failed")
	ErrCircuitOpen       = errors.New("gamification: circuit breaker is open")
	ErrTimeout           = errors.New("gamification: request timeout")
	ErrPublishFailed     = errors.New("gamification: failed to publish award")
	ErrPublisherClosed   = errors.New("gamification: publisher is closed")
	ErrSignatureMismatch = errors.New("gamification: signature mismatch")
)
