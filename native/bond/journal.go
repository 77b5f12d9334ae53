package bond

import (
	"errors"
	"fmt"
	"math/big"

	"bondvault/core/events"
	"bondvault/crypto"
)

// txn stages one ledger operation. Writes go straight to state but the first
// write to each item snapshots its prior value so rollback can restore it.
// External effects register compensations, and notifications are held until
// commit.
type txn struct {
	state engineState

	records     map[crypto.Address]*VestRecord
	totalSaved  bool
	total       *big.Int
	settingsSet bool
	settings    Settings

	compensations []func() error
	pending       []events.Event
}

func newTxn(state engineState) *txn {
	return &txn{state: state, records: make(map[crypto.Address]*VestRecord)}
}

func (t *txn) putRecord(record *VestRecord) error {
	if _, seen := t.records[record.Owner]; !seen {
		prior, ok, err := t.state.VestRecordGet(record.Owner)
		if err != nil {
			return err
		}
		if ok {
			t.records[record.Owner] = prior.Clone()
		} else {
			t.records[record.Owner] = nil
		}
	}
	return t.state.VestRecordPut(record.Clone())
}

func (t *txn) setTotal(total *big.Int) error {
	if total.Sign() < 0 {
		return arithmeticf("total eligible would become negative")
	}
	if !t.totalSaved {
		prior, err := t.state.TotalEligible()
		if err != nil {
			return err
		}
		t.total = cloneBigInt(prior)
		t.totalSaved = true
	}
	return t.state.SetTotalEligible(new(big.Int).Set(total))
}

// setSettings stores next; prior is the effective value being replaced,
// which may be the configured default when nothing was stored yet.
func (t *txn) setSettings(prior, next Settings) error {
	if !t.settingsSet {
		t.settings = prior
		t.settingsSet = true
	}
	return t.state.SetBondSettings(next)
}

// onRollback registers an undo step for an external effect that has already
// happened.
func (t *txn) onRollback(fn func() error) {
	t.compensations = append(t.compensations, fn)
}

func (t *txn) emit(evt events.Event) {
	t.pending = append(t.pending, evt)
}

// rollback reverts external effects newest first, then restores every
// snapshotted state item.
func (t *txn) rollback() error {
	var errs []error
	for i := len(t.compensations) - 1; i >= 0; i-- {
		if err := t.compensations[i](); err != nil {
			errs = append(errs, fmt.Errorf("compensate: %w", err))
		}
	}
	for addr, prior := range t.records {
		var err error
		if prior == nil {
			err = t.state.VestRecordDelete(addr)
		} else {
			err = t.state.VestRecordPut(prior)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restore record %s: %w", addr, err))
		}
	}
	if t.totalSaved {
		if err := t.state.SetTotalEligible(t.total); err != nil {
			errs = append(errs, fmt.Errorf("restore total eligible: %w", err))
		}
	}
	if t.settingsSet {
		if err := t.state.SetBondSettings(t.settings); err != nil {
			errs = append(errs, fmt.Errorf("restore settings: %w", err))
		}
	}
	t.pending = nil
	return errors.Join(errs...)
}
