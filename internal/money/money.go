// Package money provides arbitrary-precision decimal helpers for every
// monetary and price field in the system, matching the "decimal purity"
// property: floating-point inputs are converted through a string
// round-trip, never through direct binary-float arithmetic.
package money

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// D is the decimal type used throughout the system.
type D = decimal.Decimal

// Zero is the additive identity.
var Zero = decimal.Zero

// FromFloat64 converts a float64 (as received from upstream JSON) to a
// Decimal by round-tripping through its shortest string representation,
// never through decimal.NewFromFloat's binary reconstruction path.
func FromFloat64(f float64) D {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	d, err := decimal.NewFromString(s)
	if err != nil {
		// strconv.FormatFloat always produces a parseable decimal string;
		// this branch is unreachable for finite inputs.
		return decimal.NewFromFloat(f)
	}
	return d
}

// MustFromString parses a decimal literal, panicking on malformed input.
// Reserved for compiled-in defaults (internal/config) where the string is
// a constant, not user input.
func MustFromString(s string) D {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("money: invalid decimal literal %q: %v", s, err))
	}
	return d
}

// ApplyPercentage returns amt * pct. pct is itself a Decimal to avoid
// reintroducing float64 into the money path. internal/gamestate computes
// partial-sell and sidebet amounts with Mul directly, not through this.
func ApplyPercentage(amt D, pct D) D {
	return amt.Mul(pct)
}

// DecimalFromString parses a user- or config-supplied decimal literal.
func DecimalFromString(s string) (D, error) {
	return decimal.NewFromString(s)
}
