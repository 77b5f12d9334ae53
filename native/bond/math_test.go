package bond

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func TestPercentageTruncates(t *testing.T) {
	cases := []struct {
		n    int64
		bps  uint64
		want int64
	}{
		{10_000, 2_500, 2_500},
		{9_999, 2_500, 2_499},
		{1, 9_999, 0},
		{0, 5_000, 0},
		{123, 0, 0},
		{123, 10_000, 123},
	}
	for _, tc := range cases {
		got := Percentage(big.NewInt(tc.n), tc.bps)
		if got.Int64() != tc.want {
			t.Fatalf("Percentage(%d, %d) = %s, want %d", tc.n, tc.bps, got, tc.want)
		}
	}
}

func TestDiscountedRejectsExcessiveDiscount(t *testing.T) {
	if _, err := Discounted(big.NewInt(100), MaxDiscountBps+1); !errors.Is(err, ErrArithmetic) {
		t.Fatalf("expected arithmetic error, got %v", err)
	}
	got, err := Discounted(big.NewInt(100), MaxDiscountBps)
	if err != nil {
		t.Fatalf("full discount: %v", err)
	}
	if got.Sign() != 0 {
		t.Fatalf("full discount should leave nothing, got %s", got)
	}
}

func TestQuoteWithReserves(t *testing.T) {
	reserves := Reserves{R0: big.NewInt(2_000), R1: big.NewInt(1_000)}
	got, err := QuoteWithReserves(big.NewInt(101), reserves)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if got.Int64() != 50 {
		t.Fatalf("expected 50, got %s", got)
	}
}

func TestQuoteEmptyBaseReserve(t *testing.T) {
	_, err := QuoteWithReserves(big.NewInt(1), Reserves{R0: big.NewInt(0), R1: big.NewInt(10)})
	if !errors.Is(err, ErrArithmetic) {
		t.Fatalf("expected arithmetic error, got %v", err)
	}
}

func TestQuoteOverflow(t *testing.T) {
	huge := new(uint256.Int).SetAllOne().ToBig()
	_, err := QuoteWithReserves(huge, Reserves{R0: big.NewInt(1), R1: big.NewInt(2)})
	if !errors.Is(err, ErrArithmetic) {
		t.Fatalf("expected overflow to be an arithmetic error, got %v", err)
	}
	tooWide := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := QuoteWithReserves(tooWide, Reserves{R0: big.NewInt(1), R1: big.NewInt(1)}); !errors.Is(err, ErrArithmetic) {
		t.Fatalf("expected out of range amount to fail, got %v", err)
	}
}

func TestRewardMonotonicInAmountAndDiscount(t *testing.T) {
	reserves := Reserves{R0: big.NewInt(7_919), R1: big.NewInt(104_729)}
	var prev *big.Int
	for amount := int64(1); amount <= 500; amount += 7 {
		gross, err := QuoteWithReserves(big.NewInt(amount), reserves)
		if err != nil {
			t.Fatalf("quote %d: %v", amount, err)
		}
		reward, err := Discounted(gross, 1_500)
		if err != nil {
			t.Fatalf("discount: %v", err)
		}
		if prev != nil && reward.Cmp(prev) < 0 {
			t.Fatalf("reward decreased at amount %d: %s < %s", amount, reward, prev)
		}
		prev = reward
	}
	gross := big.NewInt(1_000_003)
	var last *big.Int
	for bps := uint64(0); bps <= MaxDiscountBps; bps += 250 {
		reward, err := Discounted(gross, bps)
		if err != nil {
			t.Fatalf("discount %d: %v", bps, err)
		}
		if last != nil && reward.Cmp(last) > 0 {
			t.Fatalf("reward increased with discount %d", bps)
		}
		last = reward
	}
}
