// Package validator implements pure, side-effect-free checks on order
// submission inputs and candidate match legality. Nothing here mutates
// state or calls out to other components.
package validator

import (
	"errors"

	"github.com/terminal-bench/tradeengine/internal/orderstore"
	"github.com/terminal-bench/tradeengine/internal/pairs"
	"github.com/terminal-bench/tradeengine/pkg/money"
)

// Submission errors.
var (
	ErrInvalidTickRange    = errors.New("validator: invalid tick range")
	ErrTickRangeExceedsMax = errors.New("validator: tick range exceeds pair maximum")
	ErrPriceOutsideTicks   = errors.New("validator: limit price outside tick range")
	ErrNonPositiveQuantity = errors.New("validator: quantity must be positive")
)

// Match rejections.
var (
	ErrDifferentPair           = errors.New("validator: orders belong to different pairs")
	ErrSameOwner               = errors.New("validator: self-trade")
	ErrPricesDoNotCross        = errors.New("validator: prices do not cross")
	ErrNoTickOverlap           = errors.New("validator: no tick overlap")
	ErrEitherAlreadyFilled     = errors.New("validator: one of the orders is already filled")
	ErrOverlapPriceOutOfBounds = errors.New("validator: execution price outside overlap range")
)

// CheckSubmission validates order-intake parameters against pair policy.
func CheckSubmission(pair pairs.Pair, tickLower, tickUpper, limitPrice, quantity uint64) error {
	if !pair.Active {
		return pairs.ErrPairInactive
	}
	if tickLower >= tickUpper {
		return ErrInvalidTickRange
	}
	if tickUpper-tickLower > pair.MaxTickRange {
		return ErrTickRangeExceedsMax
	}
	if quantity == 0 {
		return ErrNonPositiveQuantity
	}

	lowerBound, err := money.TickLowerPrice(money.Ticks(tickLower), pair.TickSize)
	if err != nil {
		return err
	}
	upperBound, err := money.TickLowerPrice(money.Ticks(tickUpper), pair.TickSize)
	if err != nil {
		return err
	}
	if limitPrice < lowerBound || limitPrice > upperBound {
		return ErrPriceOutsideTicks
	}
	return nil
}

// Overlap describes the tick interval two crossing orders share.
type Overlap struct {
	Low  uint64
	High uint64
}

// CheckMatch validates that buy and sell may legally cross under pair.
// On success it returns the overlap tick interval and the truncating
// midpoint execution price.
func CheckMatch(buy, sell *orderstore.Order, pair pairs.Pair) (Overlap, money.Price, error) {
	if buy.PairID != sell.PairID || buy.PairID != pair.PairID {
		return Overlap{}, 0, ErrDifferentPair
	}
	if buy.Owner == sell.Owner {
		return Overlap{}, 0, ErrSameOwner
	}
	if buy.LimitPrice < sell.LimitPrice {
		return Overlap{}, 0, ErrPricesDoNotCross
	}
	if !buy.IsLive() || !sell.IsLive() {
		return Overlap{}, 0, ErrEitherAlreadyFilled
	}

	low := maxU64(buy.TickLower, sell.TickLower)
	high := minU64(buy.TickUpper, sell.TickUpper)
	if low >= high {
		return Overlap{}, 0, ErrNoTickOverlap
	}

	execPrice := money.MidpointDown(money.Price(buy.LimitPrice), money.Price(sell.LimitPrice))

	lowBound, err := money.TickLowerPrice(money.Ticks(low), tickSizeOf(pair))
	if err != nil {
		return Overlap{}, 0, err
	}
	highBound, err := money.TickLowerPrice(money.Ticks(high), tickSizeOf(pair))
	if err != nil {
		return Overlap{}, 0, err
	}
	// The overlap [low, high) is half-open: highBound is tick high's lower
	// price boundary, which belongs to the tick outside the overlap, so a
	// midpoint exactly at highBound is out of bounds.
	if uint64(execPrice) < lowBound || uint64(execPrice) >= highBound {
		return Overlap{}, 0, ErrOverlapPriceOutOfBounds
	}

	return Overlap{Low: low, High: high}, execPrice, nil
}

func tickSizeOf(pair pairs.Pair) uint64 { return pair.TickSize }

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
