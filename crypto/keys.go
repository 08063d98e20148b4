package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"agentvault/core/types"
)

// AddressPrefix is the human-readable part of a bech32 ledger address.
type AddressPrefix string

const (
	// KeyPrefix marks addresses controlled by a signing key (owners, agents,
	// factories, relayers).
	KeyPrefix AddressPrefix = "av"
	// AccountPrefix marks ledger accounts created by a factory.
	AccountPrefix AddressPrefix = "avacct"
)

// ErrUnknownPrefix is returned when a bech32 string carries a prefix the
// ledger does not issue.
var ErrUnknownPrefix = errors.New("crypto: unknown address prefix")

func (p AddressPrefix) known() bool {
	return p == KeyPrefix || p == AccountPrefix
}

// Address is a ledger address paired with the prefix it renders under.
type Address struct {
	prefix AddressPrefix
	raw    types.Address
}

// NewAddress wraps b, which must be exactly 20 bytes.
func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != types.AddressLength {
		return Address{}, fmt.Errorf("crypto: address must be %d bytes, got %d", types.AddressLength, len(b))
	}
	return Address{prefix: prefix, raw: types.BytesToAddress(b)}, nil
}

// FromLedger renders a ledger address under prefix.
func FromLedger(prefix AddressPrefix, addr types.Address) Address {
	return Address{prefix: prefix, raw: addr}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.raw.Bytes(), 8, 5, true)
	if err != nil {
		return ""
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		return ""
	}
	return encoded
}

func (a Address) Bytes() []byte { return a.raw.Bytes() }
func (a Address) Prefix() AddressPrefix { return a.prefix }
func (a Address) Ledger() types.Address { return a.raw }

// DecodeAddress parses a bech32 address issued under one of the ledger
// prefixes.
func DecodeAddress(encoded string) (Address, error) {
	hrp, data, err := bech32.Decode(encoded)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: invalid bech32 string: %w", err)
	}
	prefix := AddressPrefix(hrp)
	if !prefix.known() {
		return Address{}, fmt.Errorf("%w %q", ErrUnknownPrefix, hrp)
	}
	conv, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: convert bits: %w", err)
	}
	return NewAddress(prefix, conv)
}

// PrivateKey is a secp256k1 signing key.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

// PublicKey is the verifying half of a PrivateKey.
type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the 32-byte scalar.
func (k *PrivateKey) Bytes() []byte {
	return ethcrypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address is the key-controlled ledger address of the signer.
func (k *PublicKey) Address() Address {
	return FromLedger(KeyPrefix, types.Address(ethcrypto.PubkeyToAddress(*k.PublicKey)))
}
