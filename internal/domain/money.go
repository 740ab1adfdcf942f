package domain

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits stored in NUMERIC columns.
const AmountScale = 6

// NormalizeCurrency upper-cases and trims an ISO 4217 code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CurrencyFraction returns the number of minor-unit digits for an ISO 4217 code.
func CurrencyFraction(code string) (int, error) {
	c := money.GetCurrency(NormalizeCurrency(code))
	if c == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, code)
	}
	return c.Fraction, nil
}

// ValidateAmount checks that amount is strictly positive and carries no more
// precision than the currency's minor unit.
func ValidateAmount(amount decimal.Decimal, currency string) error {
	fraction, err := CurrencyFraction(currency)
	if err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount.String())
	}
	if !amount.Equal(amount.Truncate(int32(fraction))) {
		return fmt.Errorf("%w: %s has more than %d decimals for %s", ErrInvalidAmount, amount.String(), fraction, currency)
	}
	return nil
}

// ParseAmount parses a decimal string amount and validates it for currency.
func ParseAmount(raw, currency string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if err := ValidateAmount(amount, currency); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// FormatAmount renders an amount with the currency's minor-unit precision.
func FormatAmount(amount decimal.Decimal, currency string) string {
	fraction, err := CurrencyFraction(currency)
	if err != nil {
		fraction = 2
	}
	return fmt.Sprintf("%s %s", amount.StringFixed(int32(fraction)), NormalizeCurrency(currency))
}

// MinAmount returns the smaller of a and b.
func MinAmount(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
