package bond

import (
	"context"
	"math/big"
)

// Calculator applies the configured discount to oracle quotes.
type Calculator struct {
	oracle *Oracle
}

func NewCalculator(oracle *Oracle) Calculator {
	return Calculator{oracle: oracle}
}

// Discounted returns gross minus Percentage(gross, discountBps).
func Discounted(gross *big.Int, discountBps uint64) (*big.Int, error) {
	if discountBps > MaxDiscountBps {
		return nil, arithmeticf("discount %d bps exceeds %d", discountBps, MaxDiscountBps)
	}
	g := cloneBigInt(gross)
	return g.Sub(g, Percentage(g, discountBps)), nil
}

// ApproximateReward quotes amount through the oracle and subtracts the
// discount. It does not touch ledger state.
func (c Calculator) ApproximateReward(ctx context.Context, amount *big.Int, discountBps uint64) (*big.Int, error) {
	if c.oracle == nil {
		return nil, errNilOracle
	}
	gross, err := c.oracle.Quote(ctx, amount)
	if err != nil {
		return nil, err
	}
	return Discounted(gross, discountBps)
}
