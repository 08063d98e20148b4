// Package directory is the read-only lookup the ledger consults for asset
// metadata, prices and venue adapters.
package directory

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"agentvault/core/types"
)

var (
	ErrUnknownIntegration = errors.New("directory: unknown integration")
	ErrUnknownAsset       = errors.New("directory: unknown asset")
	ErrDuplicate          = errors.New("directory: already registered")
)

// USDDecimals is the fixed-point precision of every USD value.
const USDDecimals = 18

var usdScale = decimal.New(1, USDDecimals)

// Asset is the registry metadata of one asset. PriceUSD is the 1e18-scaled
// price of one whole token.
type Asset struct {
	Symbol   string
	Decimals uint8
	PriceUSD *big.Int
}

// Registry holds assets, prices and adapters. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	assets    map[string]Asset
	adapters  map[types.IntegrationID]Adapter
	positions map[string]types.IntegrationID
}

// NewRegistry returns an empty directory.
func NewRegistry() *Registry {
	return &Registry{
		assets:    make(map[string]Asset),
		adapters:  make(map[types.IntegrationID]Adapter),
		positions: make(map[string]types.IntegrationID),
	}
}

// RegisterAsset adds or updates asset metadata without touching its price.
func (r *Registry) RegisterAsset(symbol string, decimals uint8) error {
	symbol = types.NormalizeAsset(symbol)
	if symbol == "" {
		return fmt.Errorf("directory: asset symbol required")
	}
	if decimals > 36 {
		return fmt.Errorf("directory: %s decimals %d out of range", symbol, decimals)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	asset := r.assets[symbol]
	asset.Symbol = symbol
	asset.Decimals = decimals
	r.assets[symbol] = asset
	return nil
}

// SetPrice sets the USD price of one whole token from a decimal string.
func (r *Registry) SetPrice(symbol, usd string) error {
	d, err := decimal.NewFromString(usd)
	if err != nil {
		return fmt.Errorf("directory: invalid price %q: %w", usd, err)
	}
	if d.IsNegative() {
		return fmt.Errorf("directory: negative price %q", usd)
	}
	symbol = types.NormalizeAsset(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	asset.PriceUSD = d.Mul(usdScale).BigInt()
	r.assets[symbol] = asset
	return nil
}

// ClearPrice removes the price of symbol, simulating an oracle outage.
func (r *Registry) ClearPrice(symbol string) {
	symbol = types.NormalizeAsset(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	if asset, ok := r.assets[symbol]; ok {
		asset.PriceUSD = nil
		r.assets[symbol] = asset
	}
}

// Asset returns the metadata of symbol.
func (r *Registry) Asset(symbol string) (Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	asset, ok := r.assets[types.NormalizeAsset(symbol)]
	return asset, ok
}

// Assets lists registered symbols in order.
func (r *Registry) Assets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.assets))
	for symbol := range r.assets {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// PriceOf returns the price of one whole token, false when unpriced.
func (r *Registry) PriceOf(symbol string) (*big.Int, bool) {
	asset, ok := r.Asset(symbol)
	if !ok || asset.PriceUSD == nil || asset.PriceUSD.Sign() == 0 {
		return nil, false
	}
	return new(big.Int).Set(asset.PriceUSD), true
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// UsdValue converts amount base units of symbol into USD. Unpriced assets are
// worth zero.
func (r *Registry) UsdValue(symbol string, amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	price, ok := r.PriceOf(symbol)
	if !ok {
		return big.NewInt(0)
	}
	asset, _ := r.Asset(symbol)
	value := new(big.Int).Mul(amount, price)
	return value.Quo(value, pow10(asset.Decimals))
}

// AssetAmountForUSD converts a USD value into base units of symbol. The
// boolean is false when the asset has no price.
func (r *Registry) AssetAmountForUSD(symbol string, usd *big.Int) (*big.Int, bool) {
	price, ok := r.PriceOf(symbol)
	if !ok {
		return nil, false
	}
	if usd == nil || usd.Sign() <= 0 {
		return big.NewInt(0), true
	}
	asset, _ := r.Asset(symbol)
	amount := new(big.Int).Mul(usd, pow10(asset.Decimals))
	return amount.Quo(amount, price), true
}

// FormatUSD renders a 1e18-scaled USD value with two decimals.
func FormatUSD(usd *big.Int) string {
	if usd == nil {
		return "0.00"
	}
	return decimal.NewFromBigInt(usd, -USDDecimals).StringFixed(2)
}

// RegisterAdapter installs the adapter for id and indexes its position
// tokens.
func (r *Registry) RegisterAdapter(id types.IntegrationID, adapter Adapter) error {
	if id == 0 {
		return fmt.Errorf("directory: integration id must be non-zero")
	}
	if adapter == nil {
		return fmt.Errorf("directory: nil adapter")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("%w: integration %d", ErrDuplicate, id)
	}
	for _, token := range adapter.PositionTokens() {
		token = types.NormalizeAsset(token)
		if _, exists := r.positions[token]; exists {
			return fmt.Errorf("%w: position token %s", ErrDuplicate, token)
		}
	}
	r.adapters[id] = adapter
	for _, token := range adapter.PositionTokens() {
		r.positions[types.NormalizeAsset(token)] = id
	}
	return nil
}

// AdapterFor returns the adapter registered for id.
func (r *Registry) AdapterFor(id types.IntegrationID) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownIntegration, id)
	}
	return adapter, nil
}

// IsValidIntegration reports whether id has an adapter.
func (r *Registry) IsValidIntegration(id types.IntegrationID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[id]
	return ok
}

// PositionIntegration returns the integration that issues token.
func (r *Registry) PositionIntegration(token string) (types.IntegrationID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.positions[types.NormalizeAsset(token)]
	return id, ok
}
