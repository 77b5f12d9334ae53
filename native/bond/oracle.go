package bond

import (
	"context"
	"math/big"
)

// Reserves are the two pool balances: R0 of the base currency and R1 of the
// reserve asset.
type Reserves struct {
	R0             *big.Int
	R1             *big.Int
	BlockTimestamp uint32
}

// PoolReader reads reserves from the external liquidity pool.
type PoolReader interface {
	GetReserves(ctx context.Context) (Reserves, error)
}

// Oracle derives a spot conversion from pool reserves.
type Oracle struct {
	pool PoolReader
}

func NewOracle(pool PoolReader) *Oracle {
	return &Oracle{pool: pool}
}

// Quote converts amount of base currency into reserve asset at the pool's spot
// rate: amount * R1 * 1e18 / R0 / 1e18. Products are computed in 256-bit words
// and overflow is an error. An empty base reserve is an error rather than a
// zero quote.
func (o *Oracle) Quote(ctx context.Context, amount *big.Int) (*big.Int, error) {
	if o == nil || o.pool == nil {
		return nil, errNilOracle
	}
	reserves, err := o.pool.GetReserves(ctx)
	if err != nil {
		return nil, err
	}
	return QuoteWithReserves(amount, reserves)
}

// QuoteWithReserves applies the spot conversion to already fetched reserves.
func QuoteWithReserves(amount *big.Int, reserves Reserves) (*big.Int, error) {
	in, err := toWord("amount", amount)
	if err != nil {
		return nil, err
	}
	r0, err := toWord("reserve0", reserves.R0)
	if err != nil {
		return nil, err
	}
	r1, err := toWord("reserve1", reserves.R1)
	if err != nil {
		return nil, err
	}
	if r0.IsZero() {
		return nil, arithmeticf("division by zero: pool base reserve is empty")
	}
	scaled, err := mulWord(in, r1)
	if err != nil {
		return nil, err
	}
	scaled, err = mulWord(scaled, priceScale)
	if err != nil {
		return nil, err
	}
	scaled.Div(scaled, r0)
	scaled.Div(scaled, priceScale)
	return scaled.ToBig(), nil
}
