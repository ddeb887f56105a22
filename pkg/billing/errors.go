package billing

import "errors"

var (
	ErrUnknownCycle     = errors.New("unknown billing cycle")
	ErrCurrencyMismatch = errors.New("current and new amounts use different currencies")
	ErrNegativeAmount   = errors.New("amount must not be negative")
)
