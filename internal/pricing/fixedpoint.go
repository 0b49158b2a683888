package pricing

import (
	"math"
	"math/bits"

	"github.com/shopspring/decimal"

	"github.com/bdpgmbv/rtve/pkg/types"
)

const (
	scaleDigits = 6
	// product of two scaled operands carries 10^12, the divisor that
	// brings a triple product back to scale 10^6
	scaleSquared uint64 = 1_000_000_000_000
	roundingHalf uint64 = scaleSquared / 2
)

// FixedPointStrategy prices EQUITY and FX holdings in int64 arithmetic
// scaled by 10^6, avoiding decimal allocations on the hot path. Any
// operand not exactly representable at that scale, and any computation
// that would overflow the 64-bit lane, is handed to the naive path, so
// results always match it to within one unit in the sixth decimal
// place.
type FixedPointStrategy struct{}

func (FixedPointStrategy) Name() string { return "fixed-point" }

func (FixedPointStrategy) Supports(class types.AssetClass) bool {
	return class == types.AssetClassEquity || class == types.AssetClassFX
}

func (s FixedPointStrategy) MarketValue(quantity decimal.Decimal, tick types.PriceTick, fxRate decimal.Decimal) decimal.Decimal {
	q, qNeg, ok := scaledMagnitude(quantity)
	if !ok {
		return NaiveStrategy{}.MarketValue(quantity, tick, fxRate)
	}
	p, pNeg, ok := scaledMagnitude(tick.Price)
	if !ok {
		return NaiveStrategy{}.MarketValue(quantity, tick, fxRate)
	}
	f, fNeg, ok := scaledMagnitude(fxRate)
	if !ok {
		return NaiveStrategy{}.MarketValue(quantity, tick, fxRate)
	}

	mag, ok := tripleProduct(q, p, f)
	if !ok {
		return NaiveStrategy{}.MarketValue(quantity, tick, fxRate)
	}

	value := int64(mag)
	negative := qNeg != pNeg
	negative = negative != fNeg
	if negative {
		value = -value
	}
	return decimal.New(value, -scaleDigits)
}

// scaledMagnitude converts d to |d|*10^6 as a uint64, reporting the
// sign. ok is false when d has more than six decimal places or does
// not fit the lane.
func scaledMagnitude(d decimal.Decimal) (uint64, bool, bool) {
	shifted := d.Shift(scaleDigits)
	if !shifted.IsInteger() {
		return 0, false, false
	}
	big := shifted.BigInt()
	if !big.IsInt64() {
		return 0, false, false
	}
	n := big.Int64()
	if n == math.MinInt64 {
		return 0, false, false
	}
	if n < 0 {
		return uint64(-n), true, true
	}
	return uint64(n), false, true
}

// tripleProduct computes round(a*b*c / 10^12), i.e. the scaled product
// of three scale-10^6 magnitudes, rounding half away from zero. The
// two smallest operands are multiplied first so the intermediate stays
// in 64 bits as often as possible; ok is false when any stage would
// overflow.
func tripleProduct(a, b, c uint64) (uint64, bool) {
	if a > b {
		a, b = b, a
	}
	if b > c {
		b, c = c, b
	}
	if a > b {
		a, b = b, a
	}

	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, false
	}
	hi, lo = bits.Mul64(lo, c)
	lo, carry := bits.Add64(lo, roundingHalf, 0)
	hi += carry
	if hi >= scaleSquared {
		return 0, false
	}
	quotient, _ := bits.Div64(hi, lo, scaleSquared)
	if quotient > math.MaxInt64 {
		return 0, false
	}
	return quotient, true
}
