package venues

import (
	"errors"
	"math/big"
	"testing"

	"agentvault/core/state"
	"agentvault/core/types"
	"agentvault/native/directory"
	"agentvault/storage"
)

var account = types.Address{0x01}

func newState() *state.Manager { return state.NewManager(storage.NewMemDB()) }

func TestVaultDonationAppreciatesShares(t *testing.T) {
	st := newState()
	vault := NewVault("USDC", "vUSDC", "", types.Address{0xC1})
	shares, err := vault.Deposit(st, account, directory.Amount{Asset: "USDC", Amount: big.NewInt(10_000)})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares.Amount.Int64() != 10_000 || shares.Asset != "VUSDC" {
		t.Fatalf("unexpected shares %+v", shares)
	}
	if err := vault.Donate(st, big.NewInt(2_000)); err != nil {
		t.Fatalf("donate: %v", err)
	}
	value, err := vault.Underlying(st, shares)
	if err != nil || value[0].Amount.Int64() != 12_000 {
		t.Fatalf("unexpected value %v (err %v)", value, err)
	}
	burned, err := vault.WithdrawUnderlying(st, account, "VUSDC", big.NewInt(10_000))
	if err != nil {
		t.Fatalf("withdraw underlying: %v", err)
	}
	if burned.Int64() != 8_334 {
		t.Fatalf("expected 8334 shares burned (rounded up), got %s", burned)
	}
	rest, _ := vault.Underlying(st, directory.Amount{Asset: "VUSDC", Amount: big.NewInt(10_000 - 8_334)})
	if rest[0].Amount.Int64() != 2_000 {
		t.Fatalf("expected remaining value 2000, got %s", rest[0].Amount)
	}
}

func TestVaultRejectsForeignAsset(t *testing.T) {
	vault := NewVault("USDC", "vUSDC", "", types.Address{0xC1})
	if _, err := vault.Deposit(newState(), account, directory.Amount{Asset: "WETH", Amount: big.NewInt(1)}); !errors.Is(err, errWrongAsset) {
		t.Fatalf("expected wrong asset, got %v", err)
	}
	if _, err := vault.Swap(newState(), account, directory.Amount{}, "X", nil); !errors.Is(err, directory.ErrUnsupported) {
		t.Fatalf("expected unsupported swap, got %v", err)
	}
}

func TestPoolSwapAndLiquidity(t *testing.T) {
	st := newState()
	pool := NewPool("USDC", "WETH", "LP-USDC-WETH", 30, types.Address{0xC2})
	lp, usedA, usedB, err := pool.AddLiquidity(st, account,
		directory.Amount{Asset: "WETH", Amount: big.NewInt(1_000_000)},
		directory.Amount{Asset: "USDC", Amount: big.NewInt(4_000_000)})
	if err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	if usedA.Int64() != 1_000_000 || usedB.Int64() != 4_000_000 {
		t.Fatalf("expected used amounts in caller order, got %s/%s", usedA, usedB)
	}
	if lp.Amount.Int64() != 2_000_000-1_000 {
		t.Fatalf("unexpected lp minted %s", lp.Amount)
	}
	out, err := pool.Swap(st, account, directory.Amount{Asset: "USDC", Amount: big.NewInt(40_000)}, "WETH", big.NewInt(9_000))
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if out.Amount.Cmp(big.NewInt(10_000)) >= 0 || out.Amount.Sign() <= 0 {
		t.Fatalf("unexpected swap output %s", out.Amount)
	}
	if _, err := pool.Swap(st, account, directory.Amount{Asset: "USDC", Amount: big.NewInt(40_000)}, "WETH", big.NewInt(10_000)); !errors.Is(err, errSlippage) {
		t.Fatalf("expected slippage error, got %v", err)
	}
	outs, err := pool.RemoveLiquidity(st, account, lp)
	if err != nil || len(outs) != 2 {
		t.Fatalf("remove liquidity: %v", err)
	}
}

func TestCreditLineAccruesInterest(t *testing.T) {
	st := newState()
	now := uint64(0)
	line := NewCreditLine("USDC", types.Address{0xC3}, nil)
	line.SetNowFunc(func() uint64 { return now })
	if err := line.Fund(st, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := line.Borrow(st, account, directory.Amount{Asset: "USDC", Amount: big.NewInt(100)}); !errors.Is(err, errCreditExceeded) {
		t.Fatalf("expected limit error, got %v", err)
	}
	_ = line.SetLimit(st, account, big.NewInt(600_000))
	if err := line.Borrow(st, account, directory.Amount{Asset: "USDC", Amount: big.NewInt(500_000)}); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	now = ticksPerYear
	debt, err := line.Debt(st, account)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Cmp(big.NewInt(500_000)) <= 0 {
		t.Fatalf("expected interest to accrue, debt %s", debt)
	}
	repaid, err := line.Repay(st, account, directory.Amount{Asset: "USDC", Amount: big.NewInt(10_000_000)})
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.Cmp(debt) != 0 {
		t.Fatalf("expected repay capped at debt %s, got %s", debt, repaid)
	}
	if left, _ := line.Debt(st, account); left.Sign() != 0 {
		t.Fatalf("expected debt cleared, got %s", left)
	}
}
