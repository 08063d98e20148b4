package state

import (
	"errors"
	"math/big"
	"testing"

	"agentvault/core/types"
	"agentvault/storage"
)

func TestSetBalanceIndexesAssetsOnce(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	addr := types.Address{0x0A}

	for i := 0; i < 3; i++ {
		if err := m.Credit(addr, "usdc", big.NewInt(10)); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	if err := m.Credit(addr, "AVX", big.NewInt(1)); err != nil {
		t.Fatalf("credit avx: %v", err)
	}
	assets, err := m.Assets(addr)
	if err != nil {
		t.Fatalf("assets: %v", err)
	}
	if len(assets) != 2 || assets[0] != "USDC" || assets[1] != "AVX" {
		t.Fatalf("unexpected asset index %v", assets)
	}
	bal, err := m.Balance(addr, "USDC")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Int64() != 30 {
		t.Fatalf("expected 30, got %s", bal)
	}
}

func TestZeroBalanceIsDeleted(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	addr := types.Address{0x0B}
	if err := m.Credit(addr, "USDC", big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := m.Debit(addr, "USDC", big.NewInt(5)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	bal, err := m.Balance(addr, "USDC")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Sign() != 0 {
		t.Fatalf("expected zero balance, got %s", bal)
	}
	// The asset index keeps the symbol so position scans still visit it.
	assets, err := m.Assets(addr)
	if err != nil || len(assets) != 1 {
		t.Fatalf("asset index: %v %v", assets, err)
	}
}

func TestSetBalanceRejectsInvalidAmounts(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	addr := types.Address{0x0C}
	if err := m.SetBalance(addr, "USDC", big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative balance to be rejected")
	}
	if err := m.SetBalance(addr, " ", big.NewInt(1)); err == nil {
		t.Fatalf("expected empty asset to be rejected")
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if err := m.SetBalance(addr, "USDC", huge); err == nil {
		t.Fatalf("expected 2^256 to overflow")
	}
	if err := m.Credit(addr, "USDC", big.NewInt(-3)); err == nil {
		t.Fatalf("expected negative credit to be rejected")
	}
}

func TestMoveIsAllOrNothing(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	from, to := types.Address{0x01}, types.Address{0x02}
	if err := m.Credit(from, "USDC", big.NewInt(40)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := m.Move(from, to, "USDC", big.NewInt(41))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if bal, _ := m.Balance(to, "USDC"); bal.Sign() != 0 {
		t.Fatalf("recipient credited on failed move: %s", bal)
	}
	if err := m.Move(from, to, "usdc", big.NewInt(40)); err != nil {
		t.Fatalf("move: %v", err)
	}
	if bal, _ := m.Balance(to, "USDC"); bal.Int64() != 40 {
		t.Fatalf("expected 40 at recipient, got %s", bal)
	}
}

func TestIsAccountDistinguishesPlatformAccounts(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	id := types.Address{0xAC}
	if ok, err := m.IsAccount(id); err != nil || ok {
		t.Fatalf("unexpected account before put: %v %v", ok, err)
	}
	if err := m.PutAccount(&types.Account{ID: id, Owner: types.Address{0x01}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ok, err := m.IsAccount(id); err != nil || !ok {
		t.Fatalf("expected account after put: %v %v", ok, err)
	}
	if err := m.PutAccount(&types.Account{}); err == nil {
		t.Fatalf("expected empty id to be rejected")
	}
	account, ok, err := m.GetAccount(id)
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if account.Seed.Amount == nil || account.Seed.Amount.Sign() != 0 {
		t.Fatalf("seed amount should default to zero")
	}
}
