package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/text/unicode/norm"
)

// AddressLength is the byte length of an Address.
const AddressLength = 20

// Address identifies every participant of the ledger: platform accounts,
// owners, agents, factories, venues and fee recipients.
type Address [AddressLength]byte

// BytesToAddress copies the trailing 20 bytes of b into an Address.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > len(a) {
		b = b[len(b)-len(a):]
	}
	copy(a[len(a)-len(b):], b)
	return a
}

// ParseAddress decodes a 0x-prefixed hex address.
func ParseAddress(s string) (Address, error) {
	trimmed := strings.TrimSpace(s)
	if !common.IsHexAddress(trimmed) {
		return Address{}, fmt.Errorf("invalid address %q", s)
	}
	return Address(common.HexToAddress(trimmed)), nil
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == Address{} }

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte { return append([]byte(nil), a[:]...) }

// Hex returns the lowercase 0x-prefixed representation.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) String() string { return a.Hex() }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// IntegrationID identifies an external venue registered in the directory.
type IntegrationID uint64

// NormalizeAsset canonicalises an asset symbol: NFKC-folded so full-width or
// compatibility forms collapse onto their ASCII symbol, trimmed and
// upper-cased.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(asset)))
}
