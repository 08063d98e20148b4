// Package venues provides reference adapters that keep their bookkeeping in
// the ledger's own state: a share vault, a constant-product pool and a credit
// line.
package venues

import (
	"errors"
	"fmt"
	"math/big"

	"agentvault/core/types"
	"agentvault/native/directory"
)

var (
	errZeroAmount     = errors.New("venues: amount must be positive")
	errWrongAsset     = errors.New("venues: asset not handled by venue")
	errInsufficient   = errors.New("venues: insufficient venue liquidity")
	errSlippage       = errors.New("venues: output below minimum")
	errExceedsShares  = errors.New("venues: shares exceed holdings")
	errCreditExceeded = errors.New("venues: credit limit exceeded")
)

type vaultBook struct {
	TotalShares *big.Int
	TotalAssets *big.Int
}

type rewardBook struct {
	Amount *big.Int
}

// Vault issues shares against deposits of a single asset. Shares appreciate
// when the venue accrues or receives donated assets.
type Vault struct {
	directory.Unsupported
	asset       string
	shareToken  string
	rewardAsset string
	custody     types.Address
}

// NewVault returns a vault over asset issuing shareToken. Rewards, if any,
// are paid in rewardAsset.
func NewVault(asset, shareToken, rewardAsset string, custody types.Address) *Vault {
	return &Vault{
		asset:       types.NormalizeAsset(asset),
		shareToken:  types.NormalizeAsset(shareToken),
		rewardAsset: types.NormalizeAsset(rewardAsset),
		custody:     custody,
	}
}

func (v *Vault) Custody() types.Address { return v.custody }

func (v *Vault) PositionTokens() []string { return []string{v.shareToken} }

// Asset returns the underlying asset.
func (v *Vault) Asset() string { return v.asset }

// ShareToken returns the position token symbol.
func (v *Vault) ShareToken() string { return v.shareToken }

func (v *Vault) bookKey() []byte { return []byte("venues/vault/" + v.shareToken) }

func (v *Vault) rewardKey(account types.Address) []byte {
	return append([]byte("venues/vault/rewards/"+v.shareToken+"/"), account[:]...)
}

func (v *Vault) load(st directory.VenueState) (vaultBook, error) {
	var book vaultBook
	if _, err := st.KVGet(v.bookKey(), &book); err != nil {
		return vaultBook{}, err
	}
	book.TotalShares = zeroIfNil(book.TotalShares)
	book.TotalAssets = zeroIfNil(book.TotalAssets)
	return book, nil
}

func (v *Vault) sharesToAssets(book vaultBook, shares *big.Int) *big.Int {
	if book.TotalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	return mulDiv(shares, book.TotalAssets, book.TotalShares)
}

func (v *Vault) Deposit(st directory.VenueState, _ types.Address, in directory.Amount) (directory.Amount, error) {
	if types.NormalizeAsset(in.Asset) != v.asset {
		return directory.Amount{}, fmt.Errorf("%w: %s", errWrongAsset, in.Asset)
	}
	if in.Amount == nil || in.Amount.Sign() <= 0 {
		return directory.Amount{}, errZeroAmount
	}
	book, err := v.load(st)
	if err != nil {
		return directory.Amount{}, err
	}
	shares := new(big.Int).Set(in.Amount)
	if book.TotalShares.Sign() > 0 && book.TotalAssets.Sign() > 0 {
		shares = mulDiv(in.Amount, book.TotalShares, book.TotalAssets)
	}
	if shares.Sign() == 0 {
		return directory.Amount{}, errZeroAmount
	}
	book.TotalShares.Add(book.TotalShares, shares)
	book.TotalAssets.Add(book.TotalAssets, in.Amount)
	if err := st.KVPut(v.bookKey(), book); err != nil {
		return directory.Amount{}, err
	}
	return directory.Amount{Asset: v.shareToken, Amount: shares}, nil
}

func (v *Vault) Withdraw(st directory.VenueState, _ types.Address, shares directory.Amount) (directory.Amount, error) {
	if types.NormalizeAsset(shares.Asset) != v.shareToken {
		return directory.Amount{}, fmt.Errorf("%w: %s", errWrongAsset, shares.Asset)
	}
	if shares.Amount == nil || shares.Amount.Sign() <= 0 {
		return directory.Amount{}, errZeroAmount
	}
	book, err := v.load(st)
	if err != nil {
		return directory.Amount{}, err
	}
	if shares.Amount.Cmp(book.TotalShares) > 0 {
		return directory.Amount{}, errExceedsShares
	}
	out := v.sharesToAssets(book, shares.Amount)
	book.TotalShares.Sub(book.TotalShares, shares.Amount)
	book.TotalAssets.Sub(book.TotalAssets, out)
	if err := st.KVPut(v.bookKey(), book); err != nil {
		return directory.Amount{}, err
	}
	return directory.Amount{Asset: v.asset, Amount: out}, nil
}

func (v *Vault) WithdrawUnderlying(st directory.VenueState, _ types.Address, shareToken string, underlying *big.Int) (*big.Int, error) {
	if types.NormalizeAsset(shareToken) != v.shareToken {
		return nil, fmt.Errorf("%w: %s", errWrongAsset, shareToken)
	}
	if underlying == nil || underlying.Sign() <= 0 {
		return nil, errZeroAmount
	}
	book, err := v.load(st)
	if err != nil {
		return nil, err
	}
	if underlying.Cmp(book.TotalAssets) > 0 {
		return nil, errInsufficient
	}
	shares := mulDivUp(underlying, book.TotalShares, book.TotalAssets)
	if shares.Cmp(book.TotalShares) > 0 {
		shares.Set(book.TotalShares)
	}
	book.TotalShares.Sub(book.TotalShares, shares)
	book.TotalAssets.Sub(book.TotalAssets, underlying)
	if err := st.KVPut(v.bookKey(), book); err != nil {
		return nil, err
	}
	return shares, nil
}

func (v *Vault) Underlying(st directory.VenueState, shares directory.Amount) ([]directory.Amount, error) {
	if types.NormalizeAsset(shares.Asset) != v.shareToken {
		return nil, fmt.Errorf("%w: %s", errWrongAsset, shares.Asset)
	}
	book, err := v.load(st)
	if err != nil {
		return nil, err
	}
	return []directory.Amount{{Asset: v.asset, Amount: v.sharesToAssets(book, zeroIfNil(shares.Amount))}}, nil
}

// Donate grows the vault's assets without issuing shares. The caller credits
// the custody address with the same amount.
func (v *Vault) Donate(st directory.VenueState, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}
	book, err := v.load(st)
	if err != nil {
		return err
	}
	book.TotalAssets.Add(book.TotalAssets, amount)
	return st.KVPut(v.bookKey(), book)
}

// AccrueRewards earmarks amount of the reward asset for account. The caller
// credits the custody address with the same amount.
func (v *Vault) AccrueRewards(st directory.VenueState, account types.Address, amount *big.Int) error {
	if v.rewardAsset == "" {
		return directory.ErrUnsupported
	}
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}
	var book rewardBook
	if _, err := st.KVGet(v.rewardKey(account), &book); err != nil {
		return err
	}
	book.Amount = new(big.Int).Add(zeroIfNil(book.Amount), amount)
	return st.KVPut(v.rewardKey(account), book)
}

func (v *Vault) ClaimRewards(st directory.VenueState, account types.Address) ([]directory.Amount, error) {
	if v.rewardAsset == "" {
		return nil, directory.ErrUnsupported
	}
	var book rewardBook
	if _, err := st.KVGet(v.rewardKey(account), &book); err != nil {
		return nil, err
	}
	amount := zeroIfNil(book.Amount)
	if amount.Sign() == 0 {
		return nil, nil
	}
	if err := st.KVPut(v.rewardKey(account), rewardBook{Amount: big.NewInt(0)}); err != nil {
		return nil, err
	}
	return []directory.Amount{{Asset: v.rewardAsset, Amount: amount}}, nil
}
