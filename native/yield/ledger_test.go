package yield

import (
	"math/big"
	"math/rand"
	"testing"

	"agentvault/core/state"
	"agentvault/core/types"
	"agentvault/storage"
)

var acct = types.Address{0x01}

func newLedger() *Ledger {
	return NewLedger(state.NewManager(storage.NewMemDB()))
}

func TestExitConsumesCostBasisProportionally(t *testing.T) {
	l := newLedger()
	if err := l.OnEnter(acct, "vUSDC", big.NewInt(100), big.NewInt(100)); err != nil {
		t.Fatalf("enter: %v", err)
	}
	exit, err := l.OnExit(acct, "VUSDC", big.NewInt(40), big.NewInt(100))
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if exit.CostBasisConsumed.Int64() != 40 || exit.TrackedPortion.Int64() != 40 {
		t.Fatalf("unexpected exit %+v", exit)
	}
	if profit := exit.Profit(big.NewInt(50)); profit.Int64() != 10 {
		t.Fatalf("expected profit 10, got %s", profit)
	}
	if profit := exit.Profit(big.NewInt(30)); profit.Sign() != 0 {
		t.Fatalf("expected losses to floor at zero, got %s", profit)
	}
	pos, _, _ := l.Position(acct, "VUSDC")
	if pos.Shares.Int64() != 60 || pos.CostBasis.Int64() != 60 {
		t.Fatalf("unexpected position %+v", pos)
	}
}

func TestDonatedSharesExitFeeFree(t *testing.T) {
	l := newLedger()
	_ = l.OnEnter(acct, "VUSDC", big.NewInt(10), big.NewInt(10))
	exit, err := l.OnExit(acct, "VUSDC", big.NewInt(2), big.NewInt(12))
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if !exit.FeeFree() {
		t.Fatalf("expected untracked exit to be fee free")
	}
	pos, _, _ := l.Position(acct, "VUSDC")
	if pos.Shares.Int64() != 10 {
		t.Fatalf("tracked shares changed on untracked exit: %s", pos.Shares)
	}

	exit, err = l.OnExit(acct, "VUSDC", big.NewInt(5), big.NewInt(12))
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if exit.TrackedPortion.Int64() != 3 || exit.CostBasisConsumed.Int64() != 3 {
		t.Fatalf("expected 3 tracked shares consumed, got %+v", exit)
	}
}

func TestTransferOutReducesTracking(t *testing.T) {
	l := newLedger()
	_ = l.OnEnter(acct, "VUSDC", big.NewInt(10), big.NewInt(20))
	if _, err := l.OnTransferOut(acct, "VUSDC", big.NewInt(10), big.NewInt(10)); err != nil {
		t.Fatalf("transfer out: %v", err)
	}
	pos, _, _ := l.Position(acct, "VUSDC")
	if !pos.Empty() {
		t.Fatalf("expected empty position, got %+v", pos)
	}
}

func TestConservationAcrossRandomExits(t *testing.T) {
	l := newLedger()
	rng := rand.New(rand.NewSource(11))
	balance := big.NewInt(0)
	totalCost := big.NewInt(0)
	released := big.NewInt(0)
	for i := 0; i < 200; i++ {
		if rng.Intn(2) == 0 || balance.Sign() == 0 {
			shares := big.NewInt(int64(rng.Intn(1000) + 1))
			cost := big.NewInt(int64(rng.Intn(1000) + 1))
			if err := l.OnEnter(acct, "LP", shares, cost); err != nil {
				t.Fatalf("enter: %v", err)
			}
			balance.Add(balance, shares)
			totalCost.Add(totalCost, cost)
			continue
		}
		remove := new(big.Int).Rand(rng, balance)
		remove.Add(remove, big.NewInt(1))
		before, _, _ := l.Position(acct, "LP")
		exit, err := l.OnExit(acct, "LP", remove, balance)
		if err != nil {
			t.Fatalf("exit: %v", err)
		}
		want := new(big.Int).Mul(before.CostBasis, remove)
		want.Quo(want, before.Shares)
		if exit.CostBasisConsumed.Cmp(want) != 0 && remove.Cmp(before.Shares) != 0 {
			t.Fatalf("cost consumed %s, want proportional %s", exit.CostBasisConsumed, want)
		}
		balance.Sub(balance, remove)
		released.Add(released, exit.CostBasisConsumed)
	}
	pos, _, _ := l.Position(acct, "LP")
	sum := new(big.Int).Add(pos.CostBasis, released)
	if sum.Cmp(totalCost) != 0 {
		t.Fatalf("cost basis not conserved: tracked %s + released %s != %s", pos.CostBasis, released, totalCost)
	}
}

func TestTakeAndGiveMoveVerbatim(t *testing.T) {
	l := newLedger()
	dest := types.Address{0x02}
	_ = l.OnEnter(acct, "VUSDC", big.NewInt(7), big.NewInt(9))
	pos, err := l.Take(acct, "VUSDC")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if err := l.Give(dest, "VUSDC", pos); err != nil {
		t.Fatalf("give: %v", err)
	}
	if tracked, _ := l.Tracked(acct, "VUSDC"); tracked {
		t.Fatalf("expected source untracked")
	}
	got, ok, _ := l.Position(dest, "VUSDC")
	if !ok || got.Shares.Int64() != 7 || got.CostBasis.Int64() != 9 {
		t.Fatalf("unexpected destination position %+v", got)
	}
}
