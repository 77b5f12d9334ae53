package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part used when rendering addresses.
const AddressPrefix = "bond"

// AddressLength is the byte length of an Address.
const AddressLength = 20

// Address identifies a ledger participant. It is a comparable value so it can
// key maps directly.
type Address [AddressLength]byte

// ZeroAddress is the unset identity.
var ZeroAddress Address

// BytesToAddress copies b into an Address. It fails unless b is exactly 20
// bytes long.
func BytesToAddress(b []byte) (Address, error) {
	var addr Address
	if len(b) != AddressLength {
		return addr, fmt.Errorf("crypto: address must be %d bytes long, got %d", AddressLength, len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == ZeroAddress }

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	return append([]byte(nil), a[:]...)
}

// Hex renders the address as 0x-prefixed hex.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText renders the bech32 form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts bech32 or 0x-hex encodings.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// DecodeAddress parses a bech32 address and checks its prefix.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != AddressPrefix {
		return Address{}, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return BytesToAddress(conv)
}

// ParseAddress accepts either the bech32 form or a 0x-prefixed hex string.
func ParseAddress(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Address{}, errors.New("crypto: empty address")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		decoded, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return Address{}, fmt.Errorf("invalid hex address: %w", err)
		}
		return BytesToAddress(decoded)
	}
	return DecodeAddress(trimmed)
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Sign produces a 65-byte recoverable signature over the Keccak256 hash of
// payload.
func (k *PrivateKey) Sign(payload []byte) ([]byte, error) {
	if k == nil || k.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	return crypto.Sign(crypto.Keccak256(payload), k.PrivateKey)
}

func (k *PublicKey) Address() Address {
	var addr Address
	copy(addr[:], crypto.PubkeyToAddress(*k.PublicKey).Bytes())
	return addr
}

// RecoverAddress returns the address whose key produced sig over payload.
// Only canonical [R || S || V] signatures with a low S value are accepted, so
// each signer and payload pair has exactly one valid encoding.
func RecoverAddress(payload, sig []byte) (Address, error) {
	if len(sig) != crypto.SignatureLength {
		return Address{}, fmt.Errorf("crypto: signature must be %d bytes", crypto.SignatureLength)
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[64], r, s, true) {
		return Address{}, errors.New("crypto: non-canonical signature")
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(payload), sig)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return (&PublicKey{pub}).Address(), nil
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
