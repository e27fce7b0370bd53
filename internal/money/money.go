// Package money holds the integer-cents arithmetic shared by sales and reports.
// Amounts are int64 minor units; nothing here touches floating point.
package money

import (
	"errors"
	"math"
	"math/bits"
	"strings"

	"github.com/shopspring/decimal"
)

// BasisPointsDenominator is 100%, expressed in basis points.
const BasisPointsDenominator = 10000

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrAmountOutOfRange = errors.New("amount out of range")
)

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// ToMinorUnits converts a decimal amount to cents, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	// decimal.Round rounds half away from zero.
	return amount.Mul(hundred).Round(0).IntPart()
}

// ParseMinorUnits parses decimal text such as "12.345" into cents.
// Values whose cents do not fit in an int64 return ErrAmountOutOfRange.
func ParseMinorUnits(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	cents := amount.Mul(hundred).Round(0)
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return 0, ErrAmountOutOfRange
	}
	return cents.IntPart(), nil
}

// Format renders cents as a fixed two-decimal string.
func Format(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// Add returns a+b, or ErrAmountOutOfRange when the result would wrap.
func Add(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrAmountOutOfRange
	}
	return sum, nil
}

// Mul returns a*b, or ErrAmountOutOfRange when the result would wrap.
func Mul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, ErrAmountOutOfRange
	}
	return product, nil
}

func Sum(amounts ...int64) (int64, error) {
	total := int64(0)
	for _, amount := range amounts {
		var err error
		if total, err = Add(total, amount); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// LineTax is round(subtotal * rateBps / 10000), half away from zero.
func LineTax(subtotalCents int64, rateBps int64) (int64, error) {
	return MulDivRound(subtotalCents, rateBps, BasisPointsDenominator)
}

// MulDivRound returns round(a*b/d) with ties rounded away from zero.
// The product is formed in 128 bits, so only a quotient outside int64
// is rejected. d must be non-zero.
func MulDivRound(a int64, b int64, d int64) (int64, error) {
	negative := (a < 0) != (b < 0) != (d < 0)
	if a == 0 || b == 0 {
		return 0, nil
	}

	hi, lo := bits.Mul64(abs(a), abs(b))
	ud := abs(d)
	if hi >= ud {
		return 0, ErrAmountOutOfRange
	}
	q, r := bits.Div64(hi, lo, ud)
	if r >= ud-r {
		q++
	}

	switch {
	case negative && q <= 1<<63:
		return -int64(q-1) - 1, nil
	case !negative && q <= math.MaxInt64:
		return int64(q), nil
	}
	return 0, ErrAmountOutOfRange
}

func abs(v int64) uint64 {
	if v < 0 {
		return uint64(^v) + 1
	}
	return uint64(v)
}
