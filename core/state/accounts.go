package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"agentvault/core/types"
)

// ErrInsufficientBalance is returned when a debit exceeds the stored balance.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

var (
	accountPrefix    = []byte("wallet/account/")
	balancePrefix    = []byte("balance/")
	assetIndexPrefix = []byte("balance/assets/")
)

func accountKey(id types.Address) []byte {
	return append(append([]byte(nil), accountPrefix...), id[:]...)
}

func balanceKey(addr types.Address, asset string) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(addr)+1+len(asset))
	buf = append(buf, balancePrefix...)
	buf = append(buf, addr[:]...)
	buf = append(buf, ':')
	return append(buf, asset...)
}

func assetIndexKey(addr types.Address) []byte {
	return append(append([]byte(nil), assetIndexPrefix...), addr[:]...)
}

// GetAccount loads the account header. The boolean reports whether the
// address is a platform account.
func (m *Manager) GetAccount(id types.Address) (*types.Account, bool, error) {
	account := new(types.Account)
	ok, err := m.KVGet(accountKey(id), account)
	if err != nil || !ok {
		return nil, ok, err
	}
	if account.Seed.Amount == nil {
		account.Seed.Amount = big.NewInt(0)
	}
	return account, true, nil
}

// PutAccount persists the account header.
func (m *Manager) PutAccount(account *types.Account) error {
	if account == nil {
		return fmt.Errorf("nil account")
	}
	if account.ID.IsZero() {
		return fmt.Errorf("account id must not be empty")
	}
	stored := account.Clone()
	if stored.Seed.Amount == nil {
		stored.Seed.Amount = big.NewInt(0)
	}
	return m.KVPut(accountKey(account.ID), stored)
}

// IsAccount reports whether the address belongs to a platform account.
func (m *Manager) IsAccount(id types.Address) (bool, error) {
	return m.KVGet(accountKey(id), nil)
}

// Balance returns the stored balance of asset held by addr.
func (m *Manager) Balance(addr types.Address, asset string) (*big.Int, error) {
	asset = types.NormalizeAsset(asset)
	value := new(big.Int)
	if _, err := m.KVGet(balanceKey(addr, asset), value); err != nil {
		return nil, err
	}
	return value, nil
}

// SetBalance stores an absolute balance for addr.
func (m *Manager) SetBalance(addr types.Address, asset string, amount *big.Int) error {
	asset = types.NormalizeAsset(asset)
	if asset == "" {
		return fmt.Errorf("asset must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("balance must not be negative")
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return fmt.Errorf("balance overflow")
	}
	if amount.Sign() == 0 {
		return m.KVDelete(balanceKey(addr, asset))
	}
	if err := m.KVAppend(assetIndexKey(addr), []byte(asset)); err != nil {
		return err
	}
	return m.KVPut(balanceKey(addr, asset), amount)
}

// Credit adds amount to the balance of addr.
func (m *Manager) Credit(addr types.Address, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("credit amount must not be negative")
	}
	current, err := m.Balance(addr, asset)
	if err != nil {
		return err
	}
	return m.SetBalance(addr, asset, current.Add(current, amount))
}

// Debit subtracts amount from the balance of addr.
func (m *Manager) Debit(addr types.Address, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("debit amount must not be negative")
	}
	current, err := m.Balance(addr, asset)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, addr.Hex(), current, types.NormalizeAsset(asset), amount)
	}
	return m.SetBalance(addr, asset, current.Sub(current, amount))
}

// Move transfers amount of asset between two addresses.
func (m *Manager) Move(from, to types.Address, asset string, amount *big.Int) error {
	if err := m.Debit(from, asset, amount); err != nil {
		return err
	}
	return m.Credit(to, asset, amount)
}

// Assets lists every asset addr has ever held a balance in.
func (m *Manager) Assets(addr types.Address) ([]string, error) {
	list, err := m.KVList(assetIndexKey(addr))
	if err != nil {
		return nil, err
	}
	assets := make([]string, 0, len(list))
	for _, raw := range list {
		assets = append(assets, string(raw))
	}
	return assets, nil
}
