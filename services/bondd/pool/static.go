// Package pool provides the liquidity-pool readers the bond ledger quotes
// against.
package pool

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"bondvault/native/bond"
)

// Static serves operator-configured reserves. Operators can update them at
// runtime through the admin API.
type Static struct {
	mu       sync.RWMutex
	reserves bond.Reserves
	now      func() time.Time
}

// NewStatic validates and stores the initial reserves.
func NewStatic(r0, r1 *big.Int) (*Static, error) {
	s := &Static{now: time.Now}
	if err := s.Set(r0, r1); err != nil {
		return nil, err
	}
	return s, nil
}

// Set replaces both reserves. A zero base reserve is accepted; quoting
// against it fails with an arithmetic error.
func (s *Static) Set(r0, r1 *big.Int) error {
	if r0 == nil || r1 == nil {
		return fmt.Errorf("pool: both reserves required")
	}
	if r0.Sign() < 0 || r1.Sign() < 0 {
		return fmt.Errorf("pool: reserves must not be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserves = bond.Reserves{
		R0:             new(big.Int).Set(r0),
		R1:             new(big.Int).Set(r1),
		BlockTimestamp: uint32(s.now().Unix()),
	}
	return nil
}

func (s *Static) GetReserves(ctx context.Context) (bond.Reserves, error) {
	if err := ctx.Err(); err != nil {
		return bond.Reserves{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bond.Reserves{
		R0:             new(big.Int).Set(s.reserves.R0),
		R1:             new(big.Int).Set(s.reserves.R1),
		BlockTimestamp: s.reserves.BlockTimestamp,
	}, nil
}
