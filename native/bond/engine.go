package bond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bondvault/core/events"
	"bondvault/crypto"
	nativecommon "bondvault/native/common"
	"bondvault/observability"
)

// Config captures the construction-time parameters of the ledger.
type Config struct {
	// Custody is the account holding deposited base currency and the reserve
	// asset backing claims.
	Custody crypto.Address
	// Settings are the initial deposit terms, used until an owner stores
	// new ones.
	Settings    Settings
	MergePolicy MergePolicy
}

// Engine is the bond ledger. Every state-mutating operation runs under a
// single mutex and either commits fully or leaves no trace.
type Engine struct {
	mu sync.Mutex

	state      engineState
	committer  Committer
	calculator Calculator
	base       Asset
	reserve    Asset
	registry   AssetRegistry
	owner      nativecommon.OwnerView
	pauses     nativecommon.PauseView
	emitter    events.Emitter
	nowFn      func() int64
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *observability.BondMetrics

	custody  crypto.Address
	defaults Settings
	merge    MergePolicy
}

// NewEngine validates cfg and returns an engine with a no-op emitter and the
// wall clock. State, assets, the pool reader, and the owner gate must be
// wired before use.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Custody.IsZero() {
		return nil, validationf("custody address required")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	merge, err := ParseMergePolicy(string(cfg.MergePolicy))
	if err != nil {
		return nil, err
	}
	return &Engine{
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
		logger:   slog.Default(),
		tracer:   otel.Tracer("bondvault/bond"),
		metrics:  observability.Bond(),
		custody:  cfg.Custody,
		defaults: cfg.Settings,
		merge:    merge,
	}, nil
}

// SetState configures the persistence backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCommitter groups each step's state writes into one durable commit.
// Without one, writes land as they are made.
func (e *Engine) SetCommitter(c Committer) { e.committer = c }

// SetAssets configures the base currency taken on deposit and the reserve
// asset paid on release.
func (e *Engine) SetAssets(base, reserve Asset) {
	e.base = base
	e.reserve = reserve
}

// SetAssetRegistry configures the lookup used by arbitrary-asset sweeps.
func (e *Engine) SetAssetRegistry(registry AssetRegistry) { e.registry = registry }

// SetPoolReader wires the liquidity pool used for quoting.
func (e *Engine) SetPoolReader(pool PoolReader) {
	e.calculator = NewCalculator(NewOracle(pool))
}

// SetOwnerView configures the access-control gate for owner-only operations.
func (e *Engine) SetOwnerView(owner nativecommon.OwnerView) { e.owner = owner }

// SetPauses configures the pause gate. TogglePause additionally requires the
// view to implement nativecommon.PauseController.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the unix-second clock. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetLogger overrides the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// Custody returns the custody account.
func (e *Engine) Custody() crypto.Address { return e.custody }

// MergePolicy returns the configured top-up rule.
func (e *Engine) MergePolicy() MergePolicy { return e.merge }

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.base == nil || e.reserve == nil {
		return errNilAssets
	}
	return nil
}

// RequireOwner returns ErrAccessDenied unless caller holds the owner role.
func (e *Engine) RequireOwner(caller crypto.Address) error {
	return e.requireOwner(caller)
}

func (e *Engine) requireOwner(caller crypto.Address) error {
	if err := nativecommon.RequireOwner(e.owner, caller); err != nil {
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return nil
}

// mutate runs fn as one atomic ledger step: under the engine lock, with a
// fresh txn that is rolled back on error and whose notifications are emitted
// only after fn succeeds and its writes are committed.
func (e *Engine) mutate(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context, *txn) error) error {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "bond."+op, trace.WithAttributes(attrs...))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ready(); err != nil {
		e.finish(span, op, start, err)
		return err
	}
	if e.committer != nil {
		if err := e.committer.Begin(); err != nil {
			err = fmt.Errorf("bond: begin commit: %w", err)
			e.finish(span, op, start, err)
			return err
		}
	}
	tx := newTxn(e.state)
	err := fn(ctx, tx)
	if err == nil && e.committer != nil {
		if cErr := e.committer.Commit(); cErr != nil {
			err = fmt.Errorf("bond: commit: %w", cErr)
		}
	}
	if err != nil {
		if rbErr := tx.rollback(); rbErr != nil {
			e.logger.Error("bond: rollback incomplete", "operation", op, "error", rbErr)
			err = errors.Join(err, rbErr)
		}
		if e.committer != nil {
			e.committer.Rollback()
		}
		e.finish(span, op, start, err)
		return err
	}
	for _, evt := range tx.pending {
		e.emitter.Emit(evt)
	}
	e.publishTotals(ctx)
	e.finish(span, op, start, nil)
	return nil
}

func (e *Engine) finish(span trace.Span, op string, start time.Time, err error) {
	reason := ErrorReason(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		e.logger.Debug("bond: operation aborted", "operation", op, "reason", reason, "error", err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	e.metrics.Observe(op, time.Since(start), reason)
}

func (e *Engine) publishTotals(ctx context.Context) {
	if total, err := e.state.TotalEligible(); err == nil {
		e.metrics.SetTotalEligible(total)
	}
	if held, err := e.reserve.BalanceOf(ctx, e.custody); err == nil {
		e.metrics.SetHoldings(e.reserve.Symbol(), held)
	}
	if held, err := e.base.BalanceOf(ctx, e.custody); err == nil {
		e.metrics.SetHoldings(e.base.Symbol(), held)
	}
}

func (e *Engine) settingsLocked() (Settings, error) {
	stored, ok, err := e.state.BondSettings()
	if err != nil {
		return Settings{}, err
	}
	if !ok {
		return e.defaults, nil
	}
	return stored, nil
}

func (e *Engine) totalLocked() (*big.Int, error) {
	total, err := e.state.TotalEligible()
	if err != nil {
		return nil, err
	}
	return cloneBigInt(total), nil
}

func (e *Engine) transfer(ctx context.Context, asset Asset, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := asset.Transfer(ctx, from, to, amount); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransferFailed, asset.Symbol(), amount, err)
	}
	return nil
}

// payout moves amount from custody to `to` and registers the reverse move as
// the rollback step.
func (e *Engine) payout(ctx context.Context, tx *txn, asset Asset, to crypto.Address, amount *big.Int) error {
	if err := e.transfer(ctx, asset, e.custody, to, amount); err != nil {
		return err
	}
	moved := cloneBigInt(amount)
	tx.onRollback(func() error {
		return asset.Transfer(context.WithoutCancel(ctx), to, e.custody, moved)
	})
	return nil
}

// --- Reads ---

// Record returns a copy of the claim held by addr.
func (e *Engine) Record(addr crypto.Address) (*VestRecord, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, ok, err := e.state.VestRecordGet(addr)
	if err != nil || !ok {
		return nil, ok, err
	}
	return record.Clone(), true, nil
}

// Records returns copies of every stored claim.
func (e *Engine) Records() ([]*VestRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*VestRecord
	err := e.state.VestRecords(func(record *VestRecord) bool {
		out = append(out, record.Clone())
		return true
	})
	return out, err
}

// TotalEligible returns the aggregate outstanding claims.
func (e *Engine) TotalEligible() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalLocked()
}

// Settings returns the terms applied to the next deposit.
func (e *Engine) Settings() (Settings, error) {
	if e == nil || e.state == nil {
		return Settings{}, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settingsLocked()
}

// Paused reports whether deposits are currently blocked.
func (e *Engine) Paused() bool {
	if e == nil || e.pauses == nil {
		return false
	}
	return e.pauses.IsPaused(ModuleName)
}

// ApproximateReward previews the claim a deposit of amount would receive
// under the current settings. It changes no state.
func (e *Engine) ApproximateReward(ctx context.Context, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	settings, err := e.settingsLocked()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, validationf("amount must be positive")
	}
	return e.calculator.ApproximateReward(ctx, amount, settings.DiscountBps)
}
