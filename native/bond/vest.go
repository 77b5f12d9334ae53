package bond

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"bondvault/core/events"
	"bondvault/crypto"
	nativecommon "bondvault/native/common"
)

// Vest takes amountIn of base currency from depositor and credits a claim on
// the reserve asset, locked for the current vest period. A depositor with an
// existing record has the credit merged into it and the lock restarted.
func (e *Engine) Vest(ctx context.Context, depositor crypto.Address, amountIn *big.Int) (*VestRecord, error) {
	var result *VestRecord
	attrs := []attribute.KeyValue{attribute.String("bond.depositor", depositor.String())}
	err := e.mutate(ctx, "vest", attrs, func(ctx context.Context, tx *txn) error {
		if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
			return ErrPaused
		}
		if depositor.IsZero() {
			return validationf("depositor required")
		}
		if amountIn == nil || amountIn.Sign() <= 0 {
			return validationf("amount must be positive")
		}
		settings, err := e.settingsLocked()
		if err != nil {
			return err
		}
		reward, err := e.calculator.ApproximateReward(ctx, amountIn, settings.DiscountBps)
		if err != nil {
			return err
		}
		if reward.Sign() <= 0 {
			return validationf("deposit of %s quotes to a zero reward", amountIn)
		}

		existing, found, err := e.state.VestRecordGet(depositor)
		if err != nil {
			return err
		}
		merging := found && existing != nil && !existing.Owner.IsZero()
		credit := reward
		if merging && e.merge == MergeRawInput {
			credit = cloneBigInt(amountIn)
		}

		total, err := e.totalLocked()
		if err != nil {
			return err
		}
		holdings, err := e.reserve.BalanceOf(ctx, e.custody)
		if err != nil {
			return err
		}
		uncommitted := new(big.Int).Sub(cloneBigInt(holdings), total)
		if credit.Cmp(uncommitted) > 0 {
			return fmt.Errorf("%w: credit %s exceeds uncommitted %s", ErrInsufficientReserve, credit, uncommitted)
		}

		releaseTime := e.now() + int64(settings.VestPeriod/time.Second)
		record := &VestRecord{Owner: depositor, Balance: cloneBigInt(credit), ReleaseTime: releaseTime}
		if merging {
			record.Balance.Add(record.Balance, cloneBigInt(existing.Balance))
		}
		if err := tx.putRecord(record); err != nil {
			return err
		}
		if err := tx.setTotal(total.Add(total, credit)); err != nil {
			return err
		}
		if err := e.transfer(ctx, e.base, depositor, e.custody, amountIn); err != nil {
			return err
		}
		tx.emit(events.BondDeposit{
			Depositor:   depositor,
			Amount:      cloneBigInt(amountIn),
			Credited:    cloneBigInt(credit),
			ReleaseTime: releaseTime,
		})
		result = record.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Release pays the caller's matured claim in full. Caller must be the
// authenticated identity of the request; the claim is zeroed and the
// aggregate reduced before the transfer, and both are restored if the
// transfer fails.
func (e *Engine) Release(ctx context.Context, caller crypto.Address) (*big.Int, error) {
	var paid *big.Int
	attrs := []attribute.KeyValue{attribute.String("bond.caller", caller.String())}
	err := e.mutate(ctx, "release", attrs, func(ctx context.Context, tx *txn) error {
		if caller.IsZero() {
			return validationf("caller identity required")
		}
		record, found, err := e.state.VestRecordGet(caller)
		if err != nil {
			return err
		}
		if !found || record == nil || record.Owner != caller {
			return validationf("non vested")
		}
		if record.Balance == nil || record.Balance.Sign() <= 0 {
			return validationf("nothing to release")
		}
		if now := e.now(); now < record.ReleaseTime {
			return validationf("locked until %d", record.ReleaseTime)
		}
		payout := cloneBigInt(record.Balance)
		total, err := e.totalLocked()
		if err != nil {
			return err
		}
		if total.Cmp(payout) < 0 {
			return arithmeticf("total eligible %s below claim %s", total, payout)
		}

		settled := record.Clone()
		settled.Balance = big.NewInt(0)
		if err := tx.putRecord(settled); err != nil {
			return err
		}
		if err := tx.setTotal(total.Sub(total, payout)); err != nil {
			return err
		}
		if err := e.transfer(ctx, e.reserve, e.custody, caller, payout); err != nil {
			return err
		}
		tx.emit(events.BondWithdraw{Depositor: caller, Amount: cloneBigInt(payout)})
		paid = payout
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}
