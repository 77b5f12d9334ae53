package bond

import (
	"context"
	"time"

	"bondvault/core/events"
	"bondvault/crypto"
	nativecommon "bondvault/native/common"
)

// SetBondSettings updates the terms for future deposits. period is in
// seconds. The literal value 1 for either argument leaves that setting
// unchanged.
func (e *Engine) SetBondSettings(ctx context.Context, caller crypto.Address, period, discount uint64) (Settings, error) {
	var update SettingsUpdate
	if period != SettingsSentinel {
		d := time.Duration(period) * time.Second
		update.VestPeriod = &d
	}
	if discount != SettingsSentinel {
		bps := discount
		update.DiscountBps = &bps
	}
	return e.UpdateSettings(ctx, caller, update)
}

// UpdateSettings replaces the non-nil fields of update. Existing claims keep
// the balance and release time fixed when they were written.
func (e *Engine) UpdateSettings(ctx context.Context, caller crypto.Address, update SettingsUpdate) (Settings, error) {
	var applied Settings
	err := e.mutate(ctx, "set_settings", ownerAttrs(caller), func(ctx context.Context, tx *txn) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		current, err := e.settingsLocked()
		if err != nil {
			return err
		}
		next := current
		if update.VestPeriod != nil {
			next.VestPeriod = update.VestPeriod.Truncate(time.Second)
		}
		if update.DiscountBps != nil {
			next.DiscountBps = *update.DiscountBps
		}
		if err := next.Validate(); err != nil {
			return err
		}
		if err := tx.setSettings(current, next); err != nil {
			return err
		}
		tx.emit(events.BondSettingsChanged{PeriodSeconds: next.PeriodSeconds(), DiscountBps: next.DiscountBps})
		applied = next
		return nil
	})
	if err != nil {
		return Settings{}, err
	}
	e.logger.Info("bond: settings updated",
		"period_seconds", applied.PeriodSeconds(), "discount_bps", applied.DiscountBps)
	return applied, nil
}

// TogglePause flips the deposit gate and returns the new state.
func (e *Engine) TogglePause(ctx context.Context, caller crypto.Address) (bool, error) {
	var paused bool
	err := e.mutate(ctx, "toggle_pause", ownerAttrs(caller), func(ctx context.Context, tx *txn) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		controller, ok := e.pauses.(nativecommon.PauseController)
		if !ok || controller == nil {
			return validationf("pause controller not configured")
		}
		previous := controller.IsPaused(ModuleName)
		if err := controller.SetPaused(ModuleName, !previous); err != nil {
			return err
		}
		tx.onRollback(func() error { return controller.SetPaused(ModuleName, previous) })
		paused = !previous
		tx.emit(events.BondPauseToggled{Paused: paused, By: caller})
		return nil
	})
	if err != nil {
		return false, err
	}
	e.metrics.SetPaused(paused)
	e.logger.Info("bond: pause toggled", "paused", paused, "by", caller.String())
	return paused, nil
}
