package bond

import (
	"math/big"

	"github.com/holiman/uint256"
)

var (
	basisPoints = big.NewInt(10_000)
	// priceScale is the 18-decimal fixed-point factor used by the oracle.
	priceScale = uint256.NewInt(1_000_000_000_000_000_000)
)

// Percentage returns floor(n*bps/10000). The division truncates toward zero;
// no rounding is applied.
func Percentage(n *big.Int, bps uint64) *big.Int {
	if n == nil || n.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(n, new(big.Int).SetUint64(bps))
	return product.Quo(product, basisPoints)
}

// toWord converts a non-negative big integer into a 256-bit word.
func toWord(name string, v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return nil, arithmeticf("%s missing", name)
	}
	if v.Sign() < 0 {
		return nil, arithmeticf("%s negative", name)
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return nil, arithmeticf("%s exceeds 256 bits", name)
	}
	return word, nil
}

func mulWord(x, y *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, arithmeticf("multiplication overflow")
	}
	return product, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
