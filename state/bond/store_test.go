package bond

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bondvault/core/events"
	"bondvault/crypto"
	"bondvault/native/bank"
	"bondvault/native/bond"
	nativecommon "bondvault/native/common"
	"bondvault/storage"
)

func addr(b byte) crypto.Address {
	var a crypto.Address
	a[19] = b
	return a
}

func TestStoreRecords(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	_, ok, err := store.VestRecordGet(addr(1))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.VestRecordPut(&bond.VestRecord{Owner: addr(1), Balance: big.NewInt(90), ReleaseTime: 100}))
	require.NoError(t, store.VestRecordPut(&bond.VestRecord{Owner: addr(2), Balance: big.NewInt(5), ReleaseTime: 200}))
	require.NoError(t, store.VestRecordPut(&bond.VestRecord{Owner: addr(1), Balance: big.NewInt(0), ReleaseTime: 100}))

	record, ok, err := store.VestRecordGet(addr(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(0), record.Balance.Int64())
	require.Equal(t, int64(100), record.ReleaseTime)

	var owners []crypto.Address
	require.NoError(t, store.VestRecords(func(r *bond.VestRecord) bool {
		owners = append(owners, r.Owner)
		return true
	}))
	require.Equal(t, []crypto.Address{addr(1), addr(2)}, owners)

	require.NoError(t, store.VestRecordDelete(addr(1)))
	owners = owners[:0]
	require.NoError(t, store.VestRecords(func(r *bond.VestRecord) bool {
		owners = append(owners, r.Owner)
		return true
	}))
	require.Equal(t, []crypto.Address{addr(2)}, owners)

	require.Error(t, store.VestRecordPut(&bond.VestRecord{Owner: addr(3), Balance: big.NewInt(-1)}))
}

func TestStoreTotalsSettingsAndPauses(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	total, err := store.TotalEligible()
	require.NoError(t, err)
	require.Zero(t, total.Sign())
	require.NoError(t, store.SetTotalEligible(big.NewInt(1234)))
	total, err = store.TotalEligible()
	require.NoError(t, err)
	require.Equal(t, int64(1234), total.Int64())
	require.Error(t, store.SetTotalEligible(big.NewInt(-1)))

	_, ok, err := store.BondSettings()
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, store.SetBondSettings(bond.Settings{VestPeriod: 90 * time.Second, DiscountBps: 250}))
	settings, ok, err := store.BondSettings()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, bond.Settings{VestPeriod: 90 * time.Second, DiscountBps: 250}, settings)

	require.False(t, store.IsPaused("bond"))
	require.NoError(t, store.SetPaused("Bond", true))
	require.True(t, store.IsPaused("bond"))
	require.NoError(t, store.SetPaused("bond", false))
	require.False(t, store.IsPaused("bond"))
}

// flakyDB wraps a MemDB with switchable read and batch failures.
type flakyDB struct {
	*storage.MemDB
	failGet   bool
	failWrite bool
}

func (d *flakyDB) Get(key []byte) ([]byte, error) {
	if d.failGet {
		return nil, errors.New("read: i/o error")
	}
	return d.MemDB.Get(key)
}

func (d *flakyDB) Write(b *storage.Batch) error {
	if d.failWrite {
		return errors.New("write: disk full")
	}
	return d.MemDB.Write(b)
}

func TestIsPausedFailsClosed(t *testing.T) {
	db := &flakyDB{MemDB: storage.NewMemDB()}
	store := NewStore(db)
	require.False(t, store.IsPaused(bond.ModuleName))
	require.NoError(t, nativecommon.Guard(store, bond.ModuleName))

	db.failGet = true
	require.True(t, store.IsPaused(bond.ModuleName))
	require.ErrorIs(t, nativecommon.Guard(store, bond.ModuleName), nativecommon.ErrModulePaused)
}

type fixedPool struct{ r0, r1 int64 }

func (p fixedPool) GetReserves(context.Context) (bond.Reserves, error) {
	return bond.Reserves{R0: big.NewInt(p.r0), R1: big.NewInt(p.r1)}, nil
}

// The persisted store and bank ledger drive the engine across a restart.
func TestEngineOverPersistentStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bond.ldb")
	custody, owner, user := addr(0xC0), addr(0x01), addr(0xAA)
	now := int64(1_000)

	open := func() (storage.Database, *bond.Engine) {
		db, err := storage.NewLevelDB(path)
		require.NoError(t, err)
		ledger, err := bank.NewLedger(db)
		require.NoError(t, err)
		base, err := ledger.Register("NHB")
		require.NoError(t, err)
		reserve, err := ledger.Register("ZNHB")
		require.NoError(t, err)
		store := NewStore(db)
		engine, err := bond.NewEngine(bond.Config{
			Custody:  custody,
			Settings: bond.Settings{VestPeriod: time.Minute, DiscountBps: 1000},
		})
		require.NoError(t, err)
		engine.SetState(store)
		engine.SetAssets(base, reserve)
		engine.SetAssetRegistry(ledger)
		engine.SetPoolReader(fixedPool{r0: 1, r1: 1})
		engine.SetOwnerView(nativecommon.NewSingleOwner(owner))
		engine.SetPauses(store)
		engine.SetNowFunc(func() int64 { return now })
		return db, engine
	}

	db, engine := open()
	ledger, err := bank.NewLedger(db)
	require.NoError(t, err)
	base, _ := ledger.Token("NHB")
	reserve, _ := ledger.Token("ZNHB")
	require.NoError(t, base.Mint(user, big.NewInt(100)))
	require.NoError(t, reserve.Mint(custody, big.NewInt(500)))

	record, err := engine.Vest(ctx, user, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, int64(90), record.Balance.Int64())
	paused, err := engine.TogglePause(ctx, owner)
	require.NoError(t, err)
	require.True(t, paused)
	db.Close()

	now += 60
	db, engine = open()
	defer db.Close()
	require.True(t, engine.Paused())
	total, err := engine.TotalEligible()
	require.NoError(t, err)
	require.Equal(t, int64(90), total.Int64())

	paid, err := engine.Release(ctx, user)
	require.NoError(t, err)
	require.Equal(t, int64(90), paid.Int64())
	ledger, err = bank.NewLedger(db)
	require.NoError(t, err)
	reserve, _ = ledger.Token("ZNHB")
	bal, err := reserve.BalanceOf(ctx, user)
	require.NoError(t, err)
	require.Equal(t, int64(90), bal.Int64())
}

// A step whose commit fails leaves the backing store exactly as the last
// committed step left it and emits nothing.
func TestEngineCommitFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	custody, owner, user := addr(0xC0), addr(0x01), addr(0xAA)
	backing := &flakyDB{MemDB: storage.NewMemDB()}
	db, err := storage.NewStaged(backing)
	require.NoError(t, err)

	ledger, err := bank.NewLedger(db)
	require.NoError(t, err)
	base, err := ledger.Register("NHB")
	require.NoError(t, err)
	reserve, err := ledger.Register("ZNHB")
	require.NoError(t, err)
	require.NoError(t, base.Mint(user, big.NewInt(100)))
	require.NoError(t, reserve.Mint(custody, big.NewInt(500)))

	engine, err := bond.NewEngine(bond.Config{
		Custody:  custody,
		Settings: bond.Settings{VestPeriod: time.Minute, DiscountBps: 1000},
	})
	require.NoError(t, err)
	recorder := &events.Recorder{}
	engine.SetState(NewStore(db))
	engine.SetCommitter(db)
	engine.SetAssets(base, reserve)
	engine.SetAssetRegistry(ledger)
	engine.SetPoolReader(fixedPool{r0: 1, r1: 1})
	engine.SetOwnerView(nativecommon.NewSingleOwner(owner))
	engine.SetPauses(NewStore(db))
	engine.SetEmitter(recorder)
	engine.SetNowFunc(func() int64 { return 1_000 })

	_, err = engine.Vest(ctx, user, big.NewInt(50))
	require.NoError(t, err)
	emitted := len(recorder.Events())

	backing.failWrite = true
	_, err = engine.Vest(ctx, user, big.NewInt(50))
	require.Error(t, err)
	require.Len(t, recorder.Events(), emitted)

	onDisk := func() (userBase, custodyBase, total, record int64) {
		ledger, err := bank.NewLedger(backing)
		require.NoError(t, err)
		nhb, err := ledger.Token("NHB")
		require.NoError(t, err)
		ub, err := nhb.BalanceOf(ctx, user)
		require.NoError(t, err)
		cb, err := nhb.BalanceOf(ctx, custody)
		require.NoError(t, err)
		store := NewStore(backing)
		tot, err := store.TotalEligible()
		require.NoError(t, err)
		rec, ok, err := store.VestRecordGet(user)
		require.NoError(t, err)
		require.True(t, ok)
		return ub.Int64(), cb.Int64(), tot.Int64(), rec.Balance.Int64()
	}
	userBase, custodyBase, total, record := onDisk()
	require.Equal(t, int64(50), userBase)
	require.Equal(t, int64(50), custodyBase)
	require.Equal(t, int64(45), total)
	require.Equal(t, int64(45), record)

	backing.failWrite = false
	_, err = engine.Vest(ctx, user, big.NewInt(50))
	require.NoError(t, err)
	userBase, custodyBase, total, record = onDisk()
	require.Equal(t, int64(0), userBase)
	require.Equal(t, int64(100), custodyBase)
	require.Equal(t, int64(90), total)
	require.Equal(t, int64(90), record)
}
