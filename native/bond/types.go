package bond

import (
	"context"
	"math/big"
	"strings"
	"time"

	"bondvault/crypto"
)

// ModuleName is the pause-gate key for the bond ledger.
const ModuleName = "bond"

// MaxDiscountBps is the largest discount that keeps rewards non-negative.
const MaxDiscountBps = 10_000

// SettingsSentinel is the literal argument value that SetBondSettings treats
// as "leave unchanged".
const SettingsSentinel = 1

// VestRecord is a depositor's locked claim on the reserve asset.
type VestRecord struct {
	// Owner is the depositor identity. A zero owner marks an unused slot.
	Owner crypto.Address
	// Balance is the outstanding reserve-asset claim after discount.
	Balance *big.Int
	// ReleaseTime is the unix second at which the claim becomes redeemable.
	ReleaseTime int64
}

// Clone returns a deep copy of the record.
func (r *VestRecord) Clone() *VestRecord {
	if r == nil {
		return nil
	}
	clone := &VestRecord{Owner: r.Owner, ReleaseTime: r.ReleaseTime, Balance: big.NewInt(0)}
	if r.Balance != nil {
		clone.Balance.Set(r.Balance)
	}
	return clone
}

// Settings holds the terms applied to deposits made while they are in force.
type Settings struct {
	VestPeriod  time.Duration `toml:"VestPeriod" yaml:"vest_period"`
	DiscountBps uint64        `toml:"DiscountBps" yaml:"discount_bps"`
}

// PeriodSeconds returns the vest period truncated to whole seconds.
func (s Settings) PeriodSeconds() uint64 {
	if s.VestPeriod <= 0 {
		return 0
	}
	return uint64(s.VestPeriod / time.Second)
}

// Validate checks the settings are usable for pricing deposits.
func (s Settings) Validate() error {
	if s.VestPeriod < 0 {
		return validationf("vest period must not be negative")
	}
	if s.DiscountBps > MaxDiscountBps {
		return validationf("discount %d bps exceeds %d", s.DiscountBps, MaxDiscountBps)
	}
	return nil
}

// SettingsUpdate carries optional replacements; nil fields are left as is.
type SettingsUpdate struct {
	VestPeriod  *time.Duration
	DiscountBps *uint64
}

// MergePolicy selects the amount credited when a depositor tops up an
// existing claim.
type MergePolicy string

const (
	// MergeReward credits the discounted reward, the same amount a first
	// deposit would receive.
	MergeReward MergePolicy = "reward"
	// MergeRawInput credits the raw base-currency input on top-ups.
	MergeRawInput MergePolicy = "raw"
)

// ParseMergePolicy normalises a configured policy name. Empty selects
// MergeReward.
func ParseMergePolicy(raw string) (MergePolicy, error) {
	switch MergePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MergeReward:
		return MergeReward, nil
	case MergeRawInput, "raw_input":
		return MergeRawInput, nil
	default:
		return "", validationf("unknown merge policy %q", raw)
	}
}

// Solvency summarises reserve coverage of outstanding claims.
type Solvency struct {
	Holdings      *big.Int
	TotalEligible *big.Int
	// Surplus is Holdings-TotalEligible and may be negative after an
	// emergency sweep.
	Surplus *big.Int
	Solvent bool
}

// Asset is the fungible-asset collaborator: a balance query plus a transfer
// primitive that either moves the full amount or fails.
type Asset interface {
	Symbol() string
	BalanceOf(ctx context.Context, holder crypto.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to crypto.Address, amount *big.Int) error
}

// AssetRegistry resolves assets by symbol for arbitrary-asset sweeps.
type AssetRegistry interface {
	Asset(symbol string) (Asset, error)
}

// Committer makes the persisted writes of one engine step durable together.
// Begin opens the step, Commit applies it, and Rollback discards it.
type Committer interface {
	Begin() error
	Commit() error
	Rollback()
}

type engineState interface {
	VestRecordGet(addr crypto.Address) (*VestRecord, bool, error)
	VestRecordPut(record *VestRecord) error
	VestRecordDelete(addr crypto.Address) error
	VestRecords(fn func(*VestRecord) bool) error
	TotalEligible() (*big.Int, error)
	SetTotalEligible(total *big.Int) error
	BondSettings() (Settings, bool, error)
	SetBondSettings(settings Settings) error
}
