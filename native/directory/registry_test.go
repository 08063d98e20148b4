package directory

import (
	"errors"
	"math/big"
	"testing"

	"agentvault/core/types"
)

func TestUsdConversions(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterAsset("usdc", 6); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.SetPrice("USDC", "1"); err != nil {
		t.Fatalf("price: %v", err)
	}
	value := r.UsdValue("USDC", big.NewInt(2_500_000))
	if FormatUSD(value) != "2.50" {
		t.Fatalf("expected 2.50, got %s", FormatUSD(value))
	}
	amount, ok := r.AssetAmountForUSD("USDC", value)
	if !ok || amount.Int64() != 2_500_000 {
		t.Fatalf("unexpected round trip %v %v", amount, ok)
	}
}

func TestUnpricedAssetIsWorthZero(t *testing.T) {
	r := NewRegistry()
	_ = r.RegisterAsset("WETH", 18)
	if _, ok := r.PriceOf("WETH"); ok {
		t.Fatalf("expected no price")
	}
	if r.UsdValue("WETH", big.NewInt(1)).Sign() != 0 {
		t.Fatalf("expected zero value")
	}
	if _, ok := r.AssetAmountForUSD("WETH", big.NewInt(1)); ok {
		t.Fatalf("expected conversion to report missing price")
	}
	_ = r.SetPrice("WETH", "3000.5")
	r.ClearPrice("weth")
	if _, ok := r.PriceOf("WETH"); ok {
		t.Fatalf("expected price cleared")
	}
}

type stubAdapter struct {
	Unsupported
	tokens []string
}

func (stubAdapter) Custody() types.Address { return types.Address{0xC0} }

func (s stubAdapter) PositionTokens() []string { return s.tokens }

func TestRegisterAdapterIndexesPositions(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterAdapter(1, stubAdapter{tokens: []string{"vusdc"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !r.IsValidIntegration(1) || r.IsValidIntegration(2) {
		t.Fatalf("unexpected integration validity")
	}
	if err := r.RegisterAdapter(1, stubAdapter{}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if id, ok := r.PositionIntegration("VUSDC"); !ok || id != 1 {
		t.Fatalf("expected VUSDC indexed to integration 1")
	}
	if err := r.RegisterAdapter(2, stubAdapter{tokens: []string{"VUSDC"}}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate position token error, got %v", err)
	}
	if _, err := r.AdapterFor(9); !errors.Is(err, ErrUnknownIntegration) {
		t.Fatalf("expected unknown integration, got %v", err)
	}
}
