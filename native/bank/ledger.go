package bank

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"bondvault/crypto"
	"bondvault/native/bond"
	"bondvault/storage"
)

var (
	ErrUnknownAsset        = errors.New("bank: unknown asset")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
)

var (
	tokenListKey      = []byte("bank/tokens")
	tokenSupplyPrefix = []byte("bank/supply/")
	balancePrefix     = []byte("bank/balance/")
)

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func supplyKey(symbol string) []byte {
	buf := make([]byte, len(tokenSupplyPrefix)+len(symbol))
	copy(buf, tokenSupplyPrefix)
	copy(buf[len(tokenSupplyPrefix):], symbol)
	return buf
}

func balanceKey(symbol string, holder crypto.Address) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(symbol)+1+len(holder))
	buf = append(buf, balancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, '/')
	buf = append(buf, holder[:]...)
	return ethcrypto.Keccak256(buf)
}

// Ledger is a persisted multi-asset balance sheet. It backs both the base
// currency and the reserve asset of the bond ledger, plus any stray tokens
// that may land in custody.
type Ledger struct {
	mu     sync.Mutex
	db     storage.Database
	tokens map[string]struct{}
}

// NewLedger loads the registered token list from db.
func NewLedger(db storage.Database) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("bank: database required")
	}
	l := &Ledger{db: db, tokens: make(map[string]struct{})}
	list, err := l.loadTokenList()
	if err != nil {
		return nil, err
	}
	for _, symbol := range list {
		l.tokens[symbol] = struct{}{}
	}
	return l, nil
}

// Register adds symbol to the token list. Registering twice is a no-op.
func (l *Ledger) Register(symbol string) (*Token, error) {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return nil, fmt.Errorf("bank: token symbol must not be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[normalized]; !ok {
		l.tokens[normalized] = struct{}{}
		if err := l.writeTokenList(); err != nil {
			delete(l.tokens, normalized)
			return nil, err
		}
	}
	return &Token{ledger: l, symbol: normalized}, nil
}

// Asset resolves a registered token. It satisfies bond.AssetRegistry.
func (l *Ledger) Asset(symbol string) (bond.Asset, error) {
	token, err := l.Token(symbol)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// Token resolves a registered token by symbol.
func (l *Ledger) Token(symbol string) (*Token, error) {
	normalized := normalizeSymbol(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[normalized]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAsset, symbol)
	}
	return &Token{ledger: l, symbol: normalized}, nil
}

// Symbols lists the registered tokens in lexical order.
func (l *Ledger) Symbols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.tokens))
	for symbol := range l.tokens {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Supply returns the total amount minted for symbol.
func (l *Ledger) Supply(symbol string) (*big.Int, error) {
	normalized := normalizeSymbol(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[normalized]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAsset, symbol)
	}
	return l.loadBigInt(supplyKey(normalized))
}

func (l *Ledger) loadTokenList() ([]string, error) {
	data, err := l.db.Get(tokenListKey)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && len(data) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []string
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, fmt.Errorf("bank: decode token list: %w", err)
	}
	return list, nil
}

func (l *Ledger) writeTokenList() error {
	list := make([]string, 0, len(l.tokens))
	for symbol := range l.tokens {
		list = append(list, symbol)
	}
	sort.Strings(list)
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return l.db.Put(tokenListKey, encoded)
}

func (l *Ledger) loadBigInt(key []byte) (*big.Int, error) {
	data, err := l.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	value := new(big.Int)
	if len(data) == 0 {
		return value, nil
	}
	if err := rlp.DecodeBytes(data, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (l *Ledger) writeBigInt(key []byte, value *big.Int) error {
	if value.Sign() == 0 {
		return l.db.Delete(key)
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return l.db.Put(key, encoded)
}
