package bank

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"bondvault/crypto"
	"bondvault/storage"
)

func addr(b byte) crypto.Address {
	var a crypto.Address
	a[0] = b
	return a
}

func TestLedgerMintAndTransfer(t *testing.T) {
	ctx := context.Background()
	ledger, err := NewLedger(storage.NewMemDB())
	require.NoError(t, err)
	token, err := ledger.Register(" nhb ")
	require.NoError(t, err)
	require.Equal(t, "NHB", token.Symbol())

	require.NoError(t, token.Mint(addr(1), big.NewInt(500)))
	require.NoError(t, token.Transfer(ctx, addr(1), addr(2), big.NewInt(200)))

	bal, err := token.BalanceOf(ctx, addr(1))
	require.NoError(t, err)
	require.Equal(t, int64(300), bal.Int64())
	bal, err = token.BalanceOf(ctx, addr(2))
	require.NoError(t, err)
	require.Equal(t, int64(200), bal.Int64())

	supply, err := ledger.Supply("NHB")
	require.NoError(t, err)
	require.Equal(t, int64(500), supply.Int64())
}

func TestTransferIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	ledger, err := NewLedger(storage.NewMemDB())
	require.NoError(t, err)
	token, err := ledger.Register("ZNHB")
	require.NoError(t, err)
	require.NoError(t, token.Mint(addr(1), big.NewInt(10)))

	err = token.Transfer(ctx, addr(1), addr(2), big.NewInt(11))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	bal, _ := token.BalanceOf(ctx, addr(1))
	require.Equal(t, int64(10), bal.Int64())

	require.ErrorIs(t, token.Transfer(ctx, addr(1), addr(2), big.NewInt(0)), ErrInvalidAmount)
}

func TestRegistryResolvesAssets(t *testing.T) {
	ledger, err := NewLedger(storage.NewMemDB())
	require.NoError(t, err)
	_, err = ledger.Register("usdc")
	require.NoError(t, err)

	asset, err := ledger.Asset("USDC")
	require.NoError(t, err)
	require.Equal(t, "USDC", asset.Symbol())

	_, err = ledger.Asset("DOGE")
	require.ErrorIs(t, err, ErrUnknownAsset)
}

func TestLedgerPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.db")
	db, err := storage.NewBoltDB(path)
	require.NoError(t, err)
	ledger, err := NewLedger(db)
	require.NoError(t, err)
	token, err := ledger.Register("NHB")
	require.NoError(t, err)
	_, err = ledger.Register("ZNHB")
	require.NoError(t, err)
	require.NoError(t, token.Mint(addr(7), big.NewInt(42)))
	db.Close()

	db, err = storage.NewBoltDB(path)
	require.NoError(t, err)
	defer db.Close()
	reopened, err := NewLedger(db)
	require.NoError(t, err)
	require.Equal(t, []string{"NHB", "ZNHB"}, reopened.Symbols())
	token, err = reopened.Token("nhb")
	require.NoError(t, err)
	bal, err := token.BalanceOf(context.Background(), addr(7))
	require.NoError(t, err)
	require.Equal(t, int64(42), bal.Int64())
}
