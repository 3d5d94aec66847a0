package clmath

import "math/big"

// liquidityForAmount0 computes the liquidity implied by amount0 over
// [sqrtA, sqrtB]: L = amount0 * (sqrtA*sqrtB / Q96) / (sqrtB - sqrtA).
func liquidityForAmount0(sqrtA, sqrtB, amount0 *big.Int) *big.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	intermediate := new(big.Int).Mul(sqrtA, sqrtB)
	intermediate.Div(intermediate, Q96)
	denom := new(big.Int).Sub(sqrtB, sqrtA)
	if denom.Sign() == 0 {
		return new(big.Int)
	}
	l := new(big.Int).Mul(amount0, intermediate)
	return l.Div(l, denom)
}

// liquidityForAmount1 computes the liquidity implied by amount1 over
// [sqrtA, sqrtB]: L = amount1 * Q96 / (sqrtB - sqrtA).
func liquidityForAmount1(sqrtA, sqrtB, amount1 *big.Int) *big.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	denom := new(big.Int).Sub(sqrtB, sqrtA)
	if denom.Sign() == 0 {
		return new(big.Int)
	}
	l := new(big.Int).Mul(amount1, Q96)
	return l.Div(l, denom)
}

// LiquidityForAmounts returns the maximum liquidity the given token amounts
// can fund over [sqrtLower, sqrtUpper] at the current price. Inside the
// range the binding constraint is the smaller of the two per-token values.
func LiquidityForAmounts(sqrtCurrent, sqrtLower, sqrtUpper, amount0, amount1 *big.Int) (*big.Int, error) {
	if sqrtCurrent == nil || sqrtCurrent.Sign() <= 0 ||
		sqrtLower == nil || sqrtLower.Sign() <= 0 ||
		sqrtUpper == nil || sqrtUpper.Sign() <= 0 {
		return nil, ErrInvalidSqrtPrice
	}
	if sqrtLower.Cmp(sqrtUpper) > 0 {
		sqrtLower, sqrtUpper = sqrtUpper, sqrtLower
	}

	switch {
	case sqrtCurrent.Cmp(sqrtLower) <= 0:
		// Price below range: position is all token0.
		return liquidityForAmount0(sqrtLower, sqrtUpper, amount0), nil
	case sqrtCurrent.Cmp(sqrtUpper) < 0:
		l0 := liquidityForAmount0(sqrtCurrent, sqrtUpper, amount0)
		l1 := liquidityForAmount1(sqrtLower, sqrtCurrent, amount1)
		if l0.Cmp(l1) < 0 {
			return l0, nil
		}
		return l1, nil
	default:
		// Price above range: position is all token1.
		return liquidityForAmount1(sqrtLower, sqrtUpper, amount1), nil
	}
}

// amount0ForLiquidity returns the token0 owed by liquidity over [sqrtA, sqrtB]:
// amount0 = (L << 96) * (sqrtB - sqrtA) / sqrtB / sqrtA.
func amount0ForLiquidity(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	n := new(big.Int).Lsh(liquidity, 96)
	n.Mul(n, new(big.Int).Sub(sqrtB, sqrtA))
	n.Div(n, sqrtB)
	return n.Div(n, sqrtA)
}

// amount1ForLiquidity returns the token1 owed by liquidity over [sqrtA, sqrtB]:
// amount1 = L * (sqrtB - sqrtA) / Q96.
func amount1ForLiquidity(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	n := new(big.Int).Mul(liquidity, new(big.Int).Sub(sqrtB, sqrtA))
	return n.Div(n, Q96)
}

// AmountsForLiquidity is the inverse of LiquidityForAmounts: the token
// amounts a position of the given liquidity holds at the current price.
func AmountsForLiquidity(sqrtCurrent, sqrtLower, sqrtUpper, liquidity *big.Int) (amount0, amount1 *big.Int, err error) {
	if sqrtCurrent == nil || sqrtCurrent.Sign() <= 0 ||
		sqrtLower == nil || sqrtLower.Sign() <= 0 ||
		sqrtUpper == nil || sqrtUpper.Sign() <= 0 {
		return nil, nil, ErrInvalidSqrtPrice
	}
	if sqrtLower.Cmp(sqrtUpper) > 0 {
		sqrtLower, sqrtUpper = sqrtUpper, sqrtLower
	}

	switch {
	case sqrtCurrent.Cmp(sqrtLower) <= 0:
		return amount0ForLiquidity(sqrtLower, sqrtUpper, liquidity), new(big.Int), nil
	case sqrtCurrent.Cmp(sqrtUpper) < 0:
		return amount0ForLiquidity(sqrtCurrent, sqrtUpper, liquidity),
			amount1ForLiquidity(sqrtLower, sqrtCurrent, liquidity), nil
	default:
		return new(big.Int), amount1ForLiquidity(sqrtLower, sqrtUpper, liquidity), nil
	}
}

// OptimalAmounts sizes a new position for a tick range given the available
// wallet balances: liquidity is the bottleneck of the two sides, and the
// returned amounts are exactly what that liquidity consumes. All zero when
// no liquidity is achievable (one side depleted with price outside range on
// that side).
func OptimalAmounts(currentTick, tickLower, tickUpper int32, amount0Available, amount1Available, sqrtCurrent *big.Int) (amount0, amount1, liquidity *big.Int, err error) {
	if currentTick < MinTick || currentTick > MaxTick {
		return nil, nil, nil, ErrTickOutOfRange
	}
	sqrtLower, sqrtUpper, err := SqrtPricesForRange(tickLower, tickUpper)
	if err != nil {
		return nil, nil, nil, err
	}

	liquidity, err = LiquidityForAmounts(sqrtCurrent, sqrtLower, sqrtUpper, amount0Available, amount1Available)
	if err != nil {
		return nil, nil, nil, err
	}
	if liquidity.Sign() == 0 {
		return new(big.Int), new(big.Int), new(big.Int), nil
	}

	amount0, amount1, err = AmountsForLiquidity(sqrtCurrent, sqrtLower, sqrtUpper, liquidity)
	if err != nil {
		return nil, nil, nil, err
	}
	return amount0, amount1, liquidity, nil
}
