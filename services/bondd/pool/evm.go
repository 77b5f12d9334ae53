package pool

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"bondvault/native/bond"
)

const pairABI = `[{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"_reserve0","type":"uint112"},{"internalType":"uint112","name":"_reserve1","type":"uint112"},{"internalType":"uint32","name":"_blockTimestampLast","type":"uint32"}],"payable":false,"stateMutability":"view","type":"function"}]`

var parsedPairABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(pairABI))
	if err != nil {
		panic(fmt.Sprintf("pool: parse pair abi: %v", err))
	}
	return parsed
}()

// ContractCaller is the subset of the Ethereum RPC used to read the pair.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// EVMConfig describes the on-chain pair.
type EVMConfig struct {
	Pair common.Address
	// BaseIsToken1 swaps the pair's reserves when the base currency is the
	// pair's second token.
	BaseIsToken1 bool
	// MaxAge rejects reserves whose last update is older than this. Zero
	// disables the check.
	MaxAge time.Duration
}

// EVM reads reserves from a UniswapV2-style pair contract.
type EVM struct {
	client ContractCaller
	cfg    EVMConfig
	now    func() time.Time
}

func NewEVM(client ContractCaller, cfg EVMConfig) (*EVM, error) {
	if client == nil {
		return nil, fmt.Errorf("evm client required")
	}
	if (cfg.Pair == common.Address{}) {
		return nil, fmt.Errorf("pair address required")
	}
	return &EVM{client: client, cfg: cfg, now: time.Now}, nil
}

func (e *EVM) GetReserves(ctx context.Context) (bond.Reserves, error) {
	input, err := parsedPairABI.Pack("getReserves")
	if err != nil {
		return bond.Reserves{}, fmt.Errorf("pack getReserves: %w", err)
	}
	pair := e.cfg.Pair
	output, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: input}, nil)
	if err != nil {
		return bond.Reserves{}, fmt.Errorf("call getReserves: %w", err)
	}
	values, err := parsedPairABI.Unpack("getReserves", output)
	if err != nil {
		return bond.Reserves{}, fmt.Errorf("unpack getReserves: %w", err)
	}
	if len(values) != 3 {
		return bond.Reserves{}, fmt.Errorf("getReserves returned %d values", len(values))
	}
	r0, ok0 := values[0].(*big.Int)
	r1, ok1 := values[1].(*big.Int)
	ts, ok2 := values[2].(uint32)
	if !ok0 || !ok1 || !ok2 {
		return bond.Reserves{}, fmt.Errorf("getReserves returned unexpected types")
	}
	if e.cfg.MaxAge > 0 {
		age := e.now().Sub(time.Unix(int64(ts), 0))
		if age > e.cfg.MaxAge {
			return bond.Reserves{}, fmt.Errorf("pool reserves stale: last update %s ago", age.Truncate(time.Second))
		}
	}
	if e.cfg.BaseIsToken1 {
		r0, r1 = r1, r0
	}
	return bond.Reserves{R0: r0, R1: r1, BlockTimestamp: ts}, nil
}
