package crypto

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcutil/bech32"

	"agentvault/core/types"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := types.Address{0x01, 0x02, 0x03}
	addr := FromLedger(AccountPrefix, raw)
	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(AccountPrefix)+"1") {
		t.Fatalf("unexpected encoding %s", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Prefix() != AccountPrefix || decoded.Ledger() != raw {
		t.Fatalf("round trip mismatch: %s %x", decoded.Prefix(), decoded.Bytes())
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, err := DecodeAddress("av1notanaddress"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "operator.keystore")
	if err := SaveToKeystore(path, key, "secret"); err != nil {
		t.Fatalf("save: %v", err)
	}
	addr, err := KeystoreAddress(path)
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if addr.Ledger() != key.PubKey().Address().Ledger() {
		t.Fatalf("keystore address mismatch")
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(loaded.Bytes()) != string(key.Bytes()) {
		t.Fatalf("loaded key differs")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	conv, err := bech32.ConvertBits(make([]byte, 20), 8, 5, true)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	foreign, err := bech32.Encode("cosmos", conv)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeAddress(foreign); !errors.Is(err, ErrUnknownPrefix) {
		t.Fatalf("expected unknown prefix, got %v", err)
	}
	if _, err := NewAddress(KeyPrefix, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected short address to be rejected")
	}
}
