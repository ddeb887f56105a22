package catalog

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Money represents a monetary amount in the smallest currency unit.
// For example, $10.99 USD is Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64  `json:"amount" bson:"amount" yaml:"amount"`
	Currency string `json:"currency" bson:"currency" yaml:"currency"`
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// Decimal returns the amount in major units, e.g. 9.99 for 999 cents.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -int32(minorUnitScale(m.Currency)))
}

// Add returns the sum of two amounts in the same currency.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s and %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

func (m Money) String() string {
	return m.Decimal().StringFixed(int32(minorUnitScale(m.Currency))) + " " + m.Currency
}

// MoneyFromDecimal converts a major-unit decimal into Money, rounding half
// away from zero to the currency's minor unit.
func MoneyFromDecimal(d decimal.Decimal, cur string) Money {
	scale := minorUnitScale(cur)
	return Money{
		Amount:   d.Round(int32(scale)).Shift(int32(scale)).IntPart(),
		Currency: cur,
	}
}

// minorUnitScale returns the number of decimal digits of the currency's minor
// unit (2 for USD, 0 for JPY). Unknown currencies fall back to 2.
func minorUnitScale(cur string) int {
	unit, err := currency.ParseISO(cur)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}

// ValidateCurrency checks that cur is a known ISO 4217 code.
func ValidateCurrency(cur string) error {
	if _, err := currency.ParseISO(cur); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, cur)
	}
	return nil
}
