package catalog

import "errors"

var (
	ErrUnknownPlan         = errors.New("unknown subscription plan")
	ErrUnknownCycle        = errors.New("unknown billing cycle")
	ErrUnknownFeature      = errors.New("unknown feature")
	ErrInvalidCatalog      = errors.New("invalid plan catalog")
	ErrInvalidCurrency     = errors.New("invalid currency code")
	ErrCurrencyMismatch    = errors.New("currency mismatch")
	ErrFailedToLoadCatalog = errors.New("failed to load plan catalog")
)
