package bank

import (
	"context"
	"fmt"
	"math/big"

	"bondvault/crypto"
)

// Token is a handle on one registered asset. It implements bond.Asset.
type Token struct {
	ledger *Ledger
	symbol string
}

func (t *Token) Symbol() string { return t.symbol }

// BalanceOf returns the holder's balance. Unknown holders have zero.
func (t *Token) BalanceOf(_ context.Context, holder crypto.Address) (*big.Int, error) {
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	return t.ledger.loadBigInt(balanceKey(t.symbol, holder))
}

// Transfer moves amount from one holder to another. It either moves the full
// amount or changes nothing.
func (t *Token) Transfer(ctx context.Context, from, to crypto.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from.IsZero() || to.IsZero() {
		return fmt.Errorf("bank: transfer endpoints must be set")
	}
	l := t.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	fromKey := balanceKey(t.symbol, from)
	fromBal, err := l.loadBigInt(fromKey)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, from, fromBal, t.symbol, amount)
	}
	if from == to {
		return nil
	}
	toKey := balanceKey(t.symbol, to)
	toBal, err := l.loadBigInt(toKey)
	if err != nil {
		return err
	}
	if err := l.writeBigInt(fromKey, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := l.writeBigInt(toKey, new(big.Int).Add(toBal, amount)); err != nil {
		// Put the debit back so the sheet stays balanced.
		if restoreErr := l.writeBigInt(fromKey, fromBal); restoreErr != nil {
			return fmt.Errorf("bank: credit failed (%v) and debit restore failed: %w", err, restoreErr)
		}
		return err
	}
	return nil
}

// Mint credits amount to holder and grows the supply. Used for genesis
// allocations and operator funding of custody.
func (t *Token) Mint(holder crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if holder.IsZero() {
		return fmt.Errorf("bank: mint recipient must be set")
	}
	l := t.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey(t.symbol, holder)
	balance, err := l.loadBigInt(key)
	if err != nil {
		return err
	}
	supply, err := l.loadBigInt(supplyKey(t.symbol))
	if err != nil {
		return err
	}
	if err := l.writeBigInt(key, balance.Add(balance, amount)); err != nil {
		return err
	}
	return l.writeBigInt(supplyKey(t.symbol), supply.Add(supply, amount))
}
