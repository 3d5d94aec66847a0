// Package clmath implements the Q64.96 fixed-point tick, price and
// liquidity math of the concentrated-liquidity AMM. All functions are pure
// and use integer arithmetic only; amounts never touch floating point.
package clmath

import (
	"errors"
	"fmt"
	"math/big"
)

// Tick domain of the AMM. Ticks outside this range are a hard error,
// never clamped: downstream minimum-amount checks depend on exact values.
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

var (
	// Q96 is 2^96, the fixed-point one of a sqrt price ratio.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

	// ErrTickOutOfRange is returned for ticks outside [MinTick, MaxTick].
	ErrTickOutOfRange = errors.New("tick out of range")

	// ErrInvalidRange is returned when tickLower >= tickUpper.
	ErrInvalidRange = errors.New("invalid tick range")

	// ErrInvalidSqrtPrice is returned for non-positive sqrt price inputs.
	ErrInvalidSqrtPrice = errors.New("invalid sqrt price")
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// sqrtFactors[i] is sqrt(1/1.0001^(2^i)) in Q128.128, one per bit of the
// tick magnitude. These reproduce the reference AMM bit-for-bit.
var sqrtFactors = mustParseFactors([]string{
	"fffcb933bd6fad37aa2d162d1a594001",
	"fff97272373d413259a46990580e213a",
	"fff2e50f5f656932ef12357cf3c7fdcc",
	"ffe5caca7e10e4e61c3624eaa0941cd0",
	"ffcb9843d60f6159c9db58835c926644",
	"ff973b41fa98c081472e6896dfb254c0",
	"ff2ea16466c96a3843ec78b326b52861",
	"fe5dee046a99a2a811c461f1969c3053",
	"fcbe86c7900a88aedcffc83b479aa3a4",
	"f987a7253ac413176f2b074cf7815e54",
	"f3392b0822b70005940c7a398e4b70f3",
	"e7159475a2c29b7443b29c7fa6e889d9",
	"d097f3bdfd2022b8845ad8f792aa5825",
	"a9f746462d870fdf8a65dc1f90e061e5",
	"70d869a156d2a1b890bb3df62baf32f7",
	"31be135f97d08fd981231505542fcfa6",
	"9aa508b5b7a84e1c677de54f3e99bc9",
	"5d6af8dedb81196699c329225ee604",
	"2216e584f5fa1ea926041bedfe98",
	"48a170391f7dc42444e8fa2",
})

func mustParseFactors(hexes []string) []*big.Int {
	out := make([]*big.Int, len(hexes))
	for i, h := range hexes {
		v, ok := new(big.Int).SetString(h, 16)
		if !ok {
			panic(fmt.Sprintf("bad sqrt factor %q", h))
		}
		out[i] = v
	}
	return out
}

// SqrtPriceAtTick returns sqrt(1.0001^tick) as a Q64.96 ratio.
// Tick 0 returns exactly 2^96.
func SqrtPriceAtTick(tick int32) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: %d", ErrTickOutOfRange, tick)
	}

	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	// Walk the magnitude's bits against the precomputed factors, keeping
	// the running product in Q128.128.
	ratio := new(big.Int).Lsh(big.NewInt(1), 128)
	if absTick&1 != 0 {
		ratio.Set(sqrtFactors[0])
	}
	for i := 1; i < len(sqrtFactors); i++ {
		if absTick&(1<<uint(i)) != 0 {
			ratio.Mul(ratio, sqrtFactors[i])
			ratio.Rsh(ratio, 128)
		}
	}

	// The factors encode negative exponents; positive ticks take the
	// reciprocal.
	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}

	// Normalize Q128.128 -> Q64.96, rounding up on any remainder to match
	// the reference implementation exactly.
	rem := new(big.Int).And(ratio, new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 32), big.NewInt(1)))
	ratio.Rsh(ratio, 32)
	if rem.Sign() != 0 {
		ratio.Add(ratio, big.NewInt(1))
	}
	return ratio, nil
}

// SqrtPricesForRange converts a tick range to its sqrt price bounds,
// validating the range ordering and domain.
func SqrtPricesForRange(tickLower, tickUpper int32) (lower, upper *big.Int, err error) {
	if tickLower >= tickUpper {
		return nil, nil, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, tickLower, tickUpper)
	}
	lower, err = SqrtPriceAtTick(tickLower)
	if err != nil {
		return nil, nil, err
	}
	upper, err = SqrtPriceAtTick(tickUpper)
	if err != nil {
		return nil, nil, err
	}
	return lower, upper, nil
}
