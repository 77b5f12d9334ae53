package events

import (
	"math/big"
	"strconv"
	"strings"

	"bondvault/core/types"
	"bondvault/crypto"
)

const (
	// TypeBondDeposit is emitted when a depositor opens or tops up a claim.
	TypeBondDeposit = "bond.deposit"
	// TypeBondWithdraw is emitted when a matured claim is paid out.
	TypeBondWithdraw = "bond.withdraw"
	// TypeBondSettingsChanged is emitted when deposit terms change.
	TypeBondSettingsChanged = "bond.settings_changed"
	// TypeBondPauseToggled is emitted when the deposit gate flips.
	TypeBondPauseToggled = "bond.pause_toggled"
	// TypeBondAdminWithdraw is emitted for owner withdrawals that respect
	// outstanding claims.
	TypeBondAdminWithdraw = "bond.admin_withdraw"
	// TypeBondEmergencyWithdraw is emitted for break-glass sweeps.
	TypeBondEmergencyWithdraw = "bond.emergency_withdraw"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addressString(addr crypto.Address) string {
	if addr.IsZero() {
		return ""
	}
	return addr.String()
}

// BondDeposit records the base currency a depositor committed and when the
// resulting claim unlocks.
type BondDeposit struct {
	Depositor   crypto.Address
	Amount      *big.Int
	Credited    *big.Int
	ReleaseTime int64
}

func (BondDeposit) EventType() string { return TypeBondDeposit }

func (e BondDeposit) Event() *types.Event {
	return &types.Event{
		Type: TypeBondDeposit,
		Attributes: map[string]string{
			"depositor":   addressString(e.Depositor),
			"amount":      amountString(e.Amount),
			"credited":    amountString(e.Credited),
			"releaseTime": strconv.FormatInt(e.ReleaseTime, 10),
		},
	}
}

// BondWithdraw records a matured claim payout.
type BondWithdraw struct {
	Depositor crypto.Address
	Amount    *big.Int
}

func (BondWithdraw) EventType() string { return TypeBondWithdraw }

func (e BondWithdraw) Event() *types.Event {
	return &types.Event{
		Type: TypeBondWithdraw,
		Attributes: map[string]string{
			"depositor": addressString(e.Depositor),
			"amount":    amountString(e.Amount),
		},
	}
}

// BondSettingsChanged carries the terms applied to future deposits.
type BondSettingsChanged struct {
	PeriodSeconds uint64
	DiscountBps   uint64
}

func (BondSettingsChanged) EventType() string { return TypeBondSettingsChanged }

func (e BondSettingsChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeBondSettingsChanged,
		Attributes: map[string]string{
			"period":   strconv.FormatUint(e.PeriodSeconds, 10),
			"discount": strconv.FormatUint(e.DiscountBps, 10),
		},
	}
}

// BondPauseToggled reports the new pause state.
type BondPauseToggled struct {
	Paused bool
	By     crypto.Address
}

func (BondPauseToggled) EventType() string { return TypeBondPauseToggled }

func (e BondPauseToggled) Event() *types.Event {
	return &types.Event{
		Type: TypeBondPauseToggled,
		Attributes: map[string]string{
			"paused": strconv.FormatBool(e.Paused),
			"by":     addressString(e.By),
		},
	}
}

// BondAdminWithdraw records an owner withdrawal of a single asset.
type BondAdminWithdraw struct {
	Kind   string
	Asset  string
	To     crypto.Address
	Amount *big.Int
}

func (BondAdminWithdraw) EventType() string { return TypeBondAdminWithdraw }

func (e BondAdminWithdraw) Event() *types.Event {
	return &types.Event{
		Type: TypeBondAdminWithdraw,
		Attributes: map[string]string{
			"kind":   strings.TrimSpace(e.Kind),
			"asset":  strings.ToUpper(strings.TrimSpace(e.Asset)),
			"to":     addressString(e.To),
			"amount": amountString(e.Amount),
		},
	}
}

// BondEmergencyWithdraw records a break-glass sweep. Outstanding reports the
// obligations left uncovered by the sweep.
type BondEmergencyWithdraw struct {
	Asset       string
	To          crypto.Address
	Amount      *big.Int
	Outstanding *big.Int
}

func (BondEmergencyWithdraw) EventType() string { return TypeBondEmergencyWithdraw }

func (e BondEmergencyWithdraw) Event() *types.Event {
	return &types.Event{
		Type: TypeBondEmergencyWithdraw,
		Attributes: map[string]string{
			"asset":       strings.ToUpper(strings.TrimSpace(e.Asset)),
			"to":          addressString(e.To),
			"amount":      amountString(e.Amount),
			"outstanding": amountString(e.Outstanding),
		},
	}
}
