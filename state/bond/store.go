package bond

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"bondvault/crypto"
	"bondvault/native/bond"
	"bondvault/storage"
)

var (
	recordPrefix   = []byte("bond/record/")
	recordIndexKey = []byte("bond/records")
	totalKey       = []byte("bond/total-eligible")
	settingsKey    = []byte("bond/settings")
	pausePrefix    = []byte("bond/pause/")
)

func recordKey(addr crypto.Address) []byte {
	buf := make([]byte, len(recordPrefix)+len(addr))
	copy(buf, recordPrefix)
	copy(buf[len(recordPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

func pauseKey(module string) []byte {
	normalized := strings.ToLower(strings.TrimSpace(module))
	buf := make([]byte, len(pausePrefix)+len(normalized))
	copy(buf, pausePrefix)
	copy(buf[len(pausePrefix):], normalized)
	return buf
}

type storedRecord struct {
	Owner       [20]byte
	Balance     *big.Int
	ReleaseTime uint64
}

type storedSettings struct {
	PeriodSeconds uint64
	DiscountBps   uint64
}

// Store persists the bond ledger in a key-value database. It also keeps the
// module pause flags so they survive restarts.
type Store struct {
	mu sync.RWMutex
	db storage.Database
}

func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func (s *Store) VestRecordGet(addr crypto.Address) (*bond.VestRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadRecord(addr)
}

func (s *Store) VestRecordPut(record *bond.VestRecord) error {
	if record == nil {
		return fmt.Errorf("bond store: nil record")
	}
	if record.Owner.IsZero() {
		return fmt.Errorf("bond store: record owner required")
	}
	if record.ReleaseTime < 0 {
		return fmt.Errorf("bond store: negative release time %d", record.ReleaseTime)
	}
	balance := big.NewInt(0)
	if record.Balance != nil {
		if record.Balance.Sign() < 0 {
			return fmt.Errorf("bond store: negative balance")
		}
		balance.Set(record.Balance)
	}
	encoded, err := rlp.EncodeToBytes(&storedRecord{
		Owner:       record.Owner,
		Balance:     balance,
		ReleaseTime: uint64(record.ReleaseTime),
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	if err := s.db.Put(recordKey(record.Owner), encoded); err != nil {
		return err
	}
	for _, existing := range index {
		if existing == record.Owner {
			return nil
		}
	}
	return s.writeIndex(append(index, record.Owner))
}

func (s *Store) VestRecordDelete(addr crypto.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Delete(recordKey(addr)); err != nil {
		return err
	}
	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	for i, existing := range index {
		if existing == addr {
			return s.writeIndex(append(index[:i], index[i+1:]...))
		}
	}
	return nil
}

// VestRecords visits records in insertion order until fn returns false.
func (s *Store) VestRecords(fn func(*bond.VestRecord) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	for _, addr := range index {
		record, ok, err := s.loadRecord(addr)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if !fn(record) {
			return nil
		}
	}
	return nil
}

func (s *Store) TotalEligible() (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := s.db.Get(totalKey)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && len(data) == 0) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	if err := rlp.DecodeBytes(data, total); err != nil {
		return nil, fmt.Errorf("bond store: decode total: %w", err)
	}
	return total, nil
}

func (s *Store) SetTotalEligible(total *big.Int) error {
	if total == nil || total.Sign() < 0 {
		return fmt.Errorf("bond store: total eligible must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(total)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(totalKey, encoded)
}

func (s *Store) BondSettings() (bond.Settings, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := s.db.Get(settingsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return bond.Settings{}, false, nil
	}
	if err != nil {
		return bond.Settings{}, false, err
	}
	var stored storedSettings
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return bond.Settings{}, false, fmt.Errorf("bond store: decode settings: %w", err)
	}
	return bond.Settings{
		VestPeriod:  time.Duration(stored.PeriodSeconds) * time.Second,
		DiscountBps: stored.DiscountBps,
	}, true, nil
}

func (s *Store) SetBondSettings(settings bond.Settings) error {
	encoded, err := rlp.EncodeToBytes(&storedSettings{
		PeriodSeconds: settings.PeriodSeconds(),
		DiscountBps:   settings.DiscountBps,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(settingsKey, encoded)
}

// IsPaused reports the persisted flag for module. A missing flag means
// unpaused; any other read failure reports paused so the gate fails closed.
func (s *Store) IsPaused(module string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := s.db.Get(pauseKey(module))
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	if err != nil {
		return true
	}
	return len(data) > 0 && data[0] == 1
}

func (s *Store) SetPaused(module string, paused bool) error {
	if strings.TrimSpace(module) == "" {
		return fmt.Errorf("bond store: module name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !paused {
		return s.db.Delete(pauseKey(module))
	}
	return s.db.Put(pauseKey(module), []byte{1})
}

func (s *Store) loadRecord(addr crypto.Address) (*bond.VestRecord, bool, error) {
	data, err := s.db.Get(recordKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stored storedRecord
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, false, fmt.Errorf("bond store: decode record: %w", err)
	}
	record := &bond.VestRecord{
		Owner:       crypto.Address(stored.Owner),
		Balance:     big.NewInt(0),
		ReleaseTime: int64(stored.ReleaseTime),
	}
	if stored.Balance != nil {
		record.Balance.Set(stored.Balance)
	}
	return record, true, nil
}

func (s *Store) loadIndex() ([]crypto.Address, error) {
	data, err := s.db.Get(recordIndexKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var raw [][20]byte
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return nil, fmt.Errorf("bond store: decode index: %w", err)
	}
	out := make([]crypto.Address, len(raw))
	for i := range raw {
		out[i] = crypto.Address(raw[i])
	}
	return out, nil
}

func (s *Store) writeIndex(index []crypto.Address) error {
	raw := make([][20]byte, len(index))
	for i := range index {
		raw[i] = index[i]
	}
	encoded, err := rlp.EncodeToBytes(raw)
	if err != nil {
		return err
	}
	return s.db.Put(recordIndexKey, encoded)
}
