// Package money implements the core's fixed-point arithmetic: plain unsigned
// 64-bit integers for prices (basis points), quantities (base-token smallest
// units), and ticks, with explicit overflow checking on any multiplication
// that can exceed 64 bits.
package money

import (
	"errors"
	"math/bits"
)

// ErrOverflow is returned when a widened multiplication cannot be narrowed
// back to 64 bits without loss.
var ErrOverflow = errors.New("money: arithmetic overflow")

// ErrDivByZero is returned by MulDiv when the divisor is zero.
var ErrDivByZero = errors.New("money: division by zero")

// Price is a quantity of quote currency expressed in basis points
// (1 quote unit = 10_000 bp).
type Price uint64

// Quantity is a count of base-token smallest units.
type Quantity uint64

// Ticks are a price lattice index for a pair; price bucket t covers
// [t*tick_size, (t+1)*tick_size) basis points.
type Ticks uint64

// BasisPointDivisor is the scale used to convert a base quantity times a
// basis-point price into quote-currency units.
const BasisPointDivisor uint64 = 10_000

// MulDivDown computes floor(a*b/c) using a 128-bit intermediate product so
// that a*b never silently wraps, then checks the final narrowing back to
// uint64. Returns ErrDivByZero if c is zero, ErrOverflow if the result does
// not fit in 64 bits.
func MulDivDown(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrDivByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi == 0 {
		return lo / c, nil
	}
	if hi >= c {
		// bits.Div64 panics when the quotient cannot fit in 64 bits; this
		// is exactly that condition, so fail gracefully instead.
		return 0, ErrOverflow
	}
	quo, _ := bits.Div64(hi, lo, c)
	return quo, nil
}

// CheckedMul returns a*b, failing with ErrOverflow instead of wrapping.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// CheckedAdd returns a+b, failing with ErrOverflow instead of wrapping.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// MidpointDown returns the truncating integer average of two prices. This
// biases toward the lower of the two inputs and must never be changed to
// round-to-nearest without updating every caller that depends on it.
func MidpointDown(a, b Price) Price {
	return Price((uint64(a) + uint64(b)) / 2)
}

// QuoteAmount computes floor(qty*price/10_000), the quote-currency cost of
// `qty` base units at `price` basis points.
func QuoteAmount(qty Quantity, price Price) (uint64, error) {
	return MulDivDown(uint64(qty), uint64(price), BasisPointDivisor)
}

// FeeAmount computes floor(amount*feeBps/10_000).
func FeeAmount(amount uint64, feeBps uint64) (uint64, error) {
	return MulDivDown(amount, feeBps, BasisPointDivisor)
}

// Min returns the smaller of two quantities.
func Min(a, b Quantity) Quantity {
	if a < b {
		return a
	}
	return b
}

// TickLowerPrice returns the basis-point lower bound of tick t for a pair
// whose tick_size is tickSize.
func TickLowerPrice(t Ticks, tickSize uint64) (uint64, error) {
	return CheckedMul(uint64(t), tickSize)
}
