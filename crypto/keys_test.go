package crypto

import (
	"bytes"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	addr := key.PubKey().Address()
	decoded, err := DecodeAddress(addr.String())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != addr {
		t.Fatalf("expected %s, got %s", addr, decoded)
	}
	fromHex, err := ParseAddress(addr.Hex())
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if fromHex != addr {
		t.Fatalf("hex parse mismatch")
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	if _, err := DecodeAddress("nhb1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqnrql8a"); err == nil {
		t.Fatalf("expected error for foreign prefix")
	}
	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("expected error for short hex address")
	}
}

func TestSignAndRecover(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	payload := []byte("POST\n/v1/release\n1700000000\n")
	sig, err := key.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signer, err := RecoverAddress(payload, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if signer != key.PubKey().Address() {
		t.Fatalf("recovered wrong signer")
	}
	other, err := RecoverAddress([]byte("tampered"), sig)
	if err == nil && other == signer {
		t.Fatalf("tampered payload recovered original signer")
	}
}

func TestRecoverRejectsHighS(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	payload := []byte("POST\n/v1/vest\n1700000000\n")
	sig, err := key.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	n := crypto.S256().Params().N
	twin := append([]byte(nil), sig...)
	new(big.Int).Sub(n, new(big.Int).SetBytes(sig[32:64])).FillBytes(twin[32:64])
	twin[64] ^= 1

	pub, err := crypto.SigToPub(crypto.Keccak256(payload), twin)
	if err != nil || crypto.PubkeyToAddress(*pub) != crypto.PubkeyToAddress(*key.PubKey().PublicKey) {
		t.Fatalf("high-S twin should recover the same key without the canonical check")
	}
	if _, err := RecoverAddress(payload, twin); err == nil {
		t.Fatalf("expected high-S signature to be rejected")
	}
	bad := append([]byte(nil), sig...)
	bad[64] = 27
	if _, err := RecoverAddress(payload, bad); err == nil {
		t.Fatalf("expected out-of-range recovery id to be rejected")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	prevN, prevP := scryptN, scryptP
	scryptN, scryptP = keystore.LightScryptN, keystore.LightScryptP
	t.Cleanup(func() { scryptN, scryptP = prevN, prevP })

	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "owner.json")
	if err := SaveToKeystore(path, key, "secret"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(loaded.Bytes(), key.Bytes()) {
		t.Fatalf("loaded key mismatch")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
