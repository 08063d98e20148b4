package directory

import (
	"errors"
	"math/big"

	"agentvault/core/types"
)

// ErrUnsupported is returned by adapters for operations their venue does not
// offer.
var ErrUnsupported = errors.New("directory: operation not supported by venue")

// VenueState is the storage an adapter sees. It is scoped to the enclosing
// ledger transaction so venue bookkeeping rolls back with it.
type VenueState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Amount pairs an asset with a quantity.
type Amount struct {
	Asset  string
	Amount *big.Int
}

// Adapter exposes one external venue. Adapters only compute and record venue
// bookkeeping; the ledger moves tokens between the account and Custody.
type Adapter interface {
	// Custody is the ledger address holding the venue's assets.
	Custody() types.Address
	// PositionTokens lists the share or LP tokens the venue issues.
	PositionTokens() []string

	Deposit(st VenueState, account types.Address, in Amount) (shares Amount, err error)
	Withdraw(st VenueState, account types.Address, shares Amount) (out Amount, err error)
	// WithdrawUnderlying burns enough shares, rounded up, to release exactly
	// underlying and returns the shares burned.
	WithdrawUnderlying(st VenueState, account types.Address, shareToken string, underlying *big.Int) (shares *big.Int, err error)
	Swap(st VenueState, account types.Address, in Amount, assetOut string, minOut *big.Int) (out Amount, err error)
	AddLiquidity(st VenueState, account types.Address, a, b Amount) (lp Amount, usedA, usedB *big.Int, err error)
	RemoveLiquidity(st VenueState, account types.Address, lp Amount) (out []Amount, err error)
	ClaimRewards(st VenueState, account types.Address) (out []Amount, err error)
	Borrow(st VenueState, account types.Address, amount Amount) error
	Repay(st VenueState, account types.Address, amount Amount) (repaid *big.Int, err error)
	// Underlying values shares of a position token in the venue's underlying
	// assets.
	Underlying(st VenueState, shares Amount) ([]Amount, error)
}

// Unsupported implements every Adapter operation as ErrUnsupported. Venues
// embed it and override what they offer.
type Unsupported struct{}

func (Unsupported) PositionTokens() []string { return nil }

func (Unsupported) Deposit(VenueState, types.Address, Amount) (Amount, error) {
	return Amount{}, ErrUnsupported
}

func (Unsupported) Withdraw(VenueState, types.Address, Amount) (Amount, error) {
	return Amount{}, ErrUnsupported
}

func (Unsupported) WithdrawUnderlying(VenueState, types.Address, string, *big.Int) (*big.Int, error) {
	return nil, ErrUnsupported
}

func (Unsupported) Swap(VenueState, types.Address, Amount, string, *big.Int) (Amount, error) {
	return Amount{}, ErrUnsupported
}

func (Unsupported) AddLiquidity(VenueState, types.Address, Amount, Amount) (Amount, *big.Int, *big.Int, error) {
	return Amount{}, nil, nil, ErrUnsupported
}

func (Unsupported) RemoveLiquidity(VenueState, types.Address, Amount) ([]Amount, error) {
	return nil, ErrUnsupported
}

func (Unsupported) ClaimRewards(VenueState, types.Address) ([]Amount, error) {
	return nil, ErrUnsupported
}

func (Unsupported) Borrow(VenueState, types.Address, Amount) error { return ErrUnsupported }

func (Unsupported) Repay(VenueState, types.Address, Amount) (*big.Int, error) {
	return nil, ErrUnsupported
}

func (Unsupported) Underlying(VenueState, Amount) ([]Amount, error) {
	return nil, ErrUnsupported
}
