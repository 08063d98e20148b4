package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	errNilKey        = errors.New("crypto: nil private key")
	errEmptyKeystore = errors.New("crypto: empty keystore path")
)

// SaveToKeystore encrypts key as a v3 keystore document and atomically
// replaces path with it. Missing parent directories are created 0700.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errNilKey
	}
	if path == "" {
		return errEmptyKeystore
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return err
	}
	doc, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    ethcommon.Address(key.PubKey().Address().Ledger()),
		PrivateKey: key.PrivateKey,
	}, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
	if err != nil {
		return fmt.Errorf("crypto: encrypt key: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFromKeystore decrypts the keystore at path.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errEmptyKeystore
	}
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(doc, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt %s: %w", filepath.Base(path), err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}

// KeystoreAddress reads the address recorded in a keystore file without
// decrypting it.
func KeystoreAddress(path string) (Address, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return Address{}, err
	}
	var header struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(doc, &header); err != nil {
		return Address{}, fmt.Errorf("crypto: parse keystore: %w", err)
	}
	if !ethcommon.IsHexAddress(header.Address) {
		return Address{}, errors.New("crypto: keystore has no address")
	}
	return FromLedger(KeyPrefix, [20]byte(ethcommon.HexToAddress(header.Address))), nil
}
