package bond

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"bondvault/core/events"
	"bondvault/crypto"
	nativecommon "bondvault/native/common"
)

type mockState struct {
	records  map[crypto.Address]*VestRecord
	total    *big.Int
	settings *Settings
}

func newMockState() *mockState {
	return &mockState{records: make(map[crypto.Address]*VestRecord), total: big.NewInt(0)}
}

func (m *mockState) VestRecordGet(addr crypto.Address) (*VestRecord, bool, error) {
	record, ok := m.records[addr]
	if !ok {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

func (m *mockState) VestRecordPut(record *VestRecord) error {
	m.records[record.Owner] = record.Clone()
	return nil
}

func (m *mockState) VestRecordDelete(addr crypto.Address) error {
	delete(m.records, addr)
	return nil
}

func (m *mockState) VestRecords(fn func(*VestRecord) bool) error {
	keys := make([]crypto.Address, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Hex() < keys[j].Hex() })
	for _, k := range keys {
		if !fn(m.records[k].Clone()) {
			return nil
		}
	}
	return nil
}

func (m *mockState) TotalEligible() (*big.Int, error) { return new(big.Int).Set(m.total), nil }

func (m *mockState) SetTotalEligible(total *big.Int) error {
	m.total = new(big.Int).Set(total)
	return nil
}

func (m *mockState) BondSettings() (Settings, bool, error) {
	if m.settings == nil {
		return Settings{}, false, nil
	}
	return *m.settings, true, nil
}

func (m *mockState) SetBondSettings(settings Settings) error {
	stored := settings
	m.settings = &stored
	return nil
}

func (m *mockState) sumBalances() *big.Int {
	sum := big.NewInt(0)
	for _, record := range m.records {
		sum.Add(sum, record.Balance)
	}
	return sum
}

type mockAsset struct {
	mu       sync.Mutex
	symbol   string
	balances map[crypto.Address]*big.Int
	fail     error
}

func newMockAsset(symbol string) *mockAsset {
	return &mockAsset{symbol: symbol, balances: make(map[crypto.Address]*big.Int)}
}

func (a *mockAsset) Symbol() string { return a.symbol }

func (a *mockAsset) BalanceOf(_ context.Context, holder crypto.Address) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if bal, ok := a.balances[holder]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (a *mockAsset) Transfer(_ context.Context, from, to crypto.Address, amount *big.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	have := a.balances[from]
	if have == nil || have.Cmp(amount) < 0 {
		return fmt.Errorf("%s: insufficient balance", a.symbol)
	}
	a.balances[from] = new(big.Int).Sub(have, amount)
	next := big.NewInt(0)
	if cur := a.balances[to]; cur != nil {
		next.Set(cur)
	}
	a.balances[to] = next.Add(next, amount)
	return nil
}

func (a *mockAsset) credit(holder crypto.Address, amount int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := big.NewInt(amount)
	if cur := a.balances[holder]; cur != nil {
		next.Add(next, cur)
	}
	a.balances[holder] = next
}

func (a *mockAsset) balance(holder crypto.Address) int64 {
	bal, _ := a.BalanceOf(context.Background(), holder)
	return bal.Int64()
}

type mockRegistry map[string]Asset

func (r mockRegistry) Asset(symbol string) (Asset, error) {
	asset, ok := r[strings.ToUpper(symbol)]
	if !ok {
		return nil, errors.New("unknown asset")
	}
	return asset, nil
}

type staticPool struct {
	reserves Reserves
	err      error
}

func (p *staticPool) GetReserves(context.Context) (Reserves, error) {
	return p.reserves, p.err
}

func testAddr(b byte) crypto.Address {
	var addr crypto.Address
	addr[19] = b
	return addr
}

var (
	custodyAddr = testAddr(0xC0)
	ownerAddr   = testAddr(0x01)
	aliceAddr   = testAddr(0xA1)
	bobAddr     = testAddr(0xB2)
)

type harness struct {
	engine   *Engine
	state    *mockState
	base     *mockAsset
	reserve  *mockAsset
	pool     *staticPool
	pauses   *nativecommon.Pauses
	recorder *events.Recorder
	now      int64
}

// newHarness wires an engine with a 1:1 pool, a 10% discount, a one hour
// vest period and 1000 units of reserve asset in custody.
func newHarness(t *testing.T, merge MergePolicy) *harness {
	t.Helper()
	engine, err := NewEngine(Config{
		Custody:     custodyAddr,
		Settings:    Settings{VestPeriod: time.Hour, DiscountBps: 1000},
		MergePolicy: merge,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h := &harness{
		engine:   engine,
		state:    newMockState(),
		base:     newMockAsset("NHB"),
		reserve:  newMockAsset("ZNHB"),
		pool:     &staticPool{reserves: Reserves{R0: big.NewInt(1_000_000), R1: big.NewInt(1_000_000)}},
		pauses:   nativecommon.NewPauses(),
		recorder: &events.Recorder{},
		now:      1_700_000_000,
	}
	engine.SetState(h.state)
	engine.SetAssets(h.base, h.reserve)
	engine.SetPoolReader(h.pool)
	engine.SetOwnerView(nativecommon.NewSingleOwner(ownerAddr))
	engine.SetPauses(h.pauses)
	engine.SetEmitter(h.recorder)
	engine.SetNowFunc(func() int64 { return h.now })
	h.reserve.credit(custodyAddr, 1000)
	return h
}

func (h *harness) assertInvariant(t *testing.T) {
	t.Helper()
	total, err := h.engine.TotalEligible()
	if err != nil {
		t.Fatalf("total eligible: %v", err)
	}
	if sum := h.state.sumBalances(); sum.Cmp(total) != 0 {
		t.Fatalf("sum of balances %s != total eligible %s", sum, total)
	}
}
