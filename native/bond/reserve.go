package bond

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"bondvault/core/events"
	"bondvault/crypto"
)

// ReserveHoldings returns the reserve asset held in custody.
func (e *Engine) ReserveHoldings(ctx context.Context) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	held, err := e.reserve.BalanceOf(ctx, e.custody)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(held), nil
}

// BaseHoldings returns the base currency held in custody.
func (e *Engine) BaseHoldings(ctx context.Context) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	held, err := e.base.BalanceOf(ctx, e.custody)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(held), nil
}

// Solvency reports how far custody holdings cover outstanding claims.
func (e *Engine) Solvency(ctx context.Context) (Solvency, error) {
	if err := e.ready(); err != nil {
		return Solvency{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	total, err := e.totalLocked()
	if err != nil {
		return Solvency{}, err
	}
	held, err := e.reserve.BalanceOf(ctx, e.custody)
	if err != nil {
		return Solvency{}, err
	}
	holdings := cloneBigInt(held)
	surplus := new(big.Int).Sub(holdings, total)
	return Solvency{
		Holdings:      holdings,
		TotalEligible: total,
		Surplus:       surplus,
		Solvent:       surplus.Sign() >= 0,
	}, nil
}

// Surplus returns reserve holdings not committed to claims. It is negative
// when the custody account is insolvent.
func (e *Engine) Surplus(ctx context.Context) (*big.Int, error) {
	solvency, err := e.Solvency(ctx)
	if err != nil {
		return nil, err
	}
	return solvency.Surplus, nil
}

// WithdrawBaseCurrency pays the owner every unit of base currency in custody.
// Claims are denominated in the reserve asset, so nothing constrains this.
func (e *Engine) WithdrawBaseCurrency(ctx context.Context, caller crypto.Address) (*big.Int, error) {
	var paid *big.Int
	err := e.mutate(ctx, "withdraw_base", ownerAttrs(caller), func(ctx context.Context, tx *txn) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		held, err := e.base.BalanceOf(ctx, e.custody)
		if err != nil {
			return err
		}
		amount := cloneBigInt(held)
		if err := e.payout(ctx, tx, e.base, caller, amount); err != nil {
			return err
		}
		tx.emit(events.BondAdminWithdraw{Kind: "base", Asset: e.base.Symbol(), To: caller, Amount: amount})
		paid = amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("bond: base currency withdrawn", "to", caller.String(), "amount", paid.String())
	return paid, nil
}

// SoftWithdrawReserveAsset pays the owner only the reserve asset not
// committed to claims. Obligations exceeding holdings are reported as an
// arithmetic error instead of being clamped.
func (e *Engine) SoftWithdrawReserveAsset(ctx context.Context, caller crypto.Address) (*big.Int, error) {
	var paid *big.Int
	err := e.mutate(ctx, "soft_withdraw", ownerAttrs(caller), func(ctx context.Context, tx *txn) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		held, err := e.reserve.BalanceOf(ctx, e.custody)
		if err != nil {
			return err
		}
		holdings := cloneBigInt(held)
		if holdings.Sign() <= 0 {
			return validationf("no reserve asset in custody")
		}
		total, err := e.totalLocked()
		if err != nil {
			return err
		}
		if total.Cmp(holdings) > 0 {
			return arithmeticf("obligations %s exceed holdings %s", total, holdings)
		}
		surplus := new(big.Int).Sub(holdings, total)
		if err := e.payout(ctx, tx, e.reserve, caller, surplus); err != nil {
			return err
		}
		tx.emit(events.BondAdminWithdraw{Kind: "soft", Asset: e.reserve.Symbol(), To: caller, Amount: surplus})
		paid = surplus
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("bond: reserve surplus withdrawn", "to", caller.String(), "amount", paid.String())
	return paid, nil
}

// EmergencyWithdrawAll pays the owner all base currency and all reserve
// asset regardless of outstanding claims. Afterwards holdings may not cover
// claims and releases can fail.
func (e *Engine) EmergencyWithdrawAll(ctx context.Context, caller crypto.Address) (base, reserve *big.Int, err error) {
	err = e.mutate(ctx, "emergency_withdraw", ownerAttrs(caller), func(ctx context.Context, tx *txn) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		outstanding, err := e.totalLocked()
		if err != nil {
			return err
		}
		baseHeld, err := e.base.BalanceOf(ctx, e.custody)
		if err != nil {
			return err
		}
		reserveHeld, err := e.reserve.BalanceOf(ctx, e.custody)
		if err != nil {
			return err
		}
		base, reserve = cloneBigInt(baseHeld), cloneBigInt(reserveHeld)
		if err := e.payout(ctx, tx, e.base, caller, base); err != nil {
			return err
		}
		if err := e.payout(ctx, tx, e.reserve, caller, reserve); err != nil {
			return err
		}
		tx.emit(events.BondEmergencyWithdraw{Asset: e.base.Symbol(), To: caller, Amount: base, Outstanding: outstanding})
		tx.emit(events.BondEmergencyWithdraw{Asset: e.reserve.Symbol(), To: caller, Amount: reserve, Outstanding: outstanding})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	e.logger.Warn("bond: emergency withdrawal drained custody",
		"to", caller.String(), "base", base.String(), "reserve", reserve.String())
	return base, reserve, nil
}

// EmergencyWithdrawArbitraryAsset sweeps an asset the ledger does not track
// from custody to the owner.
func (e *Engine) EmergencyWithdrawArbitraryAsset(ctx context.Context, caller crypto.Address, assetID string) (*big.Int, error) {
	var paid *big.Int
	symbol := strings.ToUpper(strings.TrimSpace(assetID))
	attrs := append(ownerAttrs(caller), attribute.String("bond.asset", symbol))
	err := e.mutate(ctx, "emergency_sweep", attrs, func(ctx context.Context, tx *txn) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		if symbol == "" {
			return validationf("asset id required")
		}
		if symbol == strings.ToUpper(e.base.Symbol()) || symbol == strings.ToUpper(e.reserve.Symbol()) {
			return validationf("asset %s is tracked by the ledger; use the dedicated withdrawal", symbol)
		}
		if e.registry == nil {
			return validationf("asset registry not configured")
		}
		asset, err := e.registry.Asset(symbol)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		held, err := asset.BalanceOf(ctx, e.custody)
		if err != nil {
			return err
		}
		amount := cloneBigInt(held)
		if err := e.payout(ctx, tx, asset, caller, amount); err != nil {
			return err
		}
		tx.emit(events.BondEmergencyWithdraw{Asset: symbol, To: caller, Amount: amount})
		paid = amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Warn("bond: arbitrary asset swept", "asset", symbol, "to", caller.String(), "amount", paid.String())
	return paid, nil
}

func ownerAttrs(caller crypto.Address) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("bond.caller", caller.String())}
}
