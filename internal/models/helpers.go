package models

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func GenerateGameID() string {
	return fmt.Sprintf("game_%s", uuid.NewString())
}

func GenerateEntryID() string {
	return fmt.Sprintf("entry_%s", uuid.NewString())
}

func GenerateTransactionID() string {
	return fmt.Sprintf("tx_%s", uuid.NewString())
}

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
)

// ParseAmount converts a decimal currency string ("12.50") into cents.
// Fractions of a cent are rejected rather than rounded.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", ErrInvalidInput, s, err)
	}
	cents := d.Mul(hundred)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %q has more than two decimals", ErrInvalidInput, s)
	}
	if !cents.IsPositive() {
		return 0, fmt.Errorf("%w: amount %q must be positive", ErrInvalidInput, s)
	}
	if cents.GreaterThan(maxCents) {
		return 0, fmt.Errorf("%w: amount %q is too large", ErrInvalidInput, s)
	}
	return cents.IntPart(), nil
}

// FormatAmount renders cents as a fixed two-decimal string.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func FormatCurrency(cents int64) string {
	return "$" + FormatAmount(cents)
}
