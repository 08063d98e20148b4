package venues

import (
	"fmt"
	"math/big"

	"agentvault/core/types"
	"agentvault/native/common"
	"agentvault/native/directory"
)

type creditMarket struct {
	BorrowIndex *big.Int
	ScaledDebt  *big.Int
	Liquidity   *big.Int
	LastAccrual uint64
}

type creditAccount struct {
	ScaledDebt *big.Int
	Limit      *big.Int
}

// CreditLine lends a single asset to accounts up to a per-account limit.
// Debt grows with a utilisation-driven borrow index.
type CreditLine struct {
	directory.Unsupported
	asset   string
	custody types.Address
	model   *InterestModel
	nowFn   func() uint64
}

// NewCreditLine returns a credit line over asset.
func NewCreditLine(asset string, custody types.Address, model *InterestModel) *CreditLine {
	if model == nil {
		model = DefaultInterestModel
	}
	return &CreditLine{
		asset:   types.NormalizeAsset(asset),
		custody: custody,
		model:   model,
		nowFn:   func() uint64 { return 0 },
	}
}

// SetNowFunc overrides the tick source used for interest accrual.
func (c *CreditLine) SetNowFunc(now func() uint64) {
	if now == nil {
		c.nowFn = func() uint64 { return 0 }
		return
	}
	c.nowFn = now
}

func (c *CreditLine) Custody() types.Address { return c.custody }

func (c *CreditLine) marketKey() []byte { return []byte("venues/credit/" + c.asset) }

func (c *CreditLine) accountKey(account types.Address) []byte {
	return append([]byte("venues/credit/"+c.asset+"/"), account[:]...)
}

func (c *CreditLine) loadMarket(st directory.VenueState) (*creditMarket, error) {
	market := new(creditMarket)
	if _, err := st.KVGet(c.marketKey(), market); err != nil {
		return nil, err
	}
	if market.BorrowIndex == nil || market.BorrowIndex.Sign() == 0 {
		market.BorrowIndex = new(big.Int).Set(ray)
	}
	market.ScaledDebt = zeroIfNil(market.ScaledDebt)
	market.Liquidity = zeroIfNil(market.Liquidity)
	return market, nil
}

func (c *CreditLine) loadAccount(st directory.VenueState, account types.Address) (*creditAccount, error) {
	acc := new(creditAccount)
	if _, err := st.KVGet(c.accountKey(account), acc); err != nil {
		return nil, err
	}
	acc.ScaledDebt = zeroIfNil(acc.ScaledDebt)
	acc.Limit = zeroIfNil(acc.Limit)
	return acc, nil
}

func (c *CreditLine) accrue(market *creditMarket) {
	now := c.nowFn()
	if now <= market.LastAccrual {
		return
	}
	delta := now - market.LastAccrual
	market.LastAccrual = now
	debt := rayMul(market.ScaledDebt, market.BorrowIndex)
	supplied := new(big.Int).Add(debt, market.Liquidity)
	rate := c.model.BorrowAPR(debt, supplied)
	market.BorrowIndex = rayMul(market.BorrowIndex, rateFactor(rate, delta))
}

// Fund adds lendable liquidity. The caller credits the custody address with
// the same amount.
func (c *CreditLine) Fund(st directory.VenueState, amount *big.Int) error {
	if !common.Positive(amount) {
		return errZeroAmount
	}
	market, err := c.loadMarket(st)
	if err != nil {
		return err
	}
	c.accrue(market)
	market.Liquidity.Add(market.Liquidity, amount)
	return st.KVPut(c.marketKey(), market)
}

// SetLimit sets the maximum outstanding debt of account.
func (c *CreditLine) SetLimit(st directory.VenueState, account types.Address, limit *big.Int) error {
	acc, err := c.loadAccount(st, account)
	if err != nil {
		return err
	}
	acc.Limit = common.CloneBig(limit)
	return st.KVPut(c.accountKey(account), acc)
}

// Debt returns the current debt of account including accrued interest.
func (c *CreditLine) Debt(st directory.VenueState, account types.Address) (*big.Int, error) {
	market, err := c.loadMarket(st)
	if err != nil {
		return nil, err
	}
	c.accrue(market)
	acc, err := c.loadAccount(st, account)
	if err != nil {
		return nil, err
	}
	return rayMul(acc.ScaledDebt, market.BorrowIndex), nil
}

func (c *CreditLine) Borrow(st directory.VenueState, account types.Address, amount directory.Amount) error {
	if types.NormalizeAsset(amount.Asset) != c.asset {
		return fmt.Errorf("%w: %s", errWrongAsset, amount.Asset)
	}
	if !common.Positive(amount.Amount) {
		return errZeroAmount
	}
	market, err := c.loadMarket(st)
	if err != nil {
		return err
	}
	c.accrue(market)
	acc, err := c.loadAccount(st, account)
	if err != nil {
		return err
	}
	debt := rayMul(acc.ScaledDebt, market.BorrowIndex)
	if new(big.Int).Add(debt, amount.Amount).Cmp(acc.Limit) > 0 {
		return errCreditExceeded
	}
	if amount.Amount.Cmp(market.Liquidity) > 0 {
		return errInsufficient
	}
	scaled := rayDiv(amount.Amount, market.BorrowIndex)
	if scaled.Sign() == 0 {
		scaled.SetInt64(1)
	}
	acc.ScaledDebt.Add(acc.ScaledDebt, scaled)
	market.ScaledDebt.Add(market.ScaledDebt, scaled)
	market.Liquidity.Sub(market.Liquidity, amount.Amount)
	if err := st.KVPut(c.accountKey(account), acc); err != nil {
		return err
	}
	return st.KVPut(c.marketKey(), market)
}

func (c *CreditLine) Repay(st directory.VenueState, account types.Address, amount directory.Amount) (*big.Int, error) {
	if types.NormalizeAsset(amount.Asset) != c.asset {
		return nil, fmt.Errorf("%w: %s", errWrongAsset, amount.Asset)
	}
	if !common.Positive(amount.Amount) {
		return nil, errZeroAmount
	}
	market, err := c.loadMarket(st)
	if err != nil {
		return nil, err
	}
	c.accrue(market)
	acc, err := c.loadAccount(st, account)
	if err != nil {
		return nil, err
	}
	debt := rayMul(acc.ScaledDebt, market.BorrowIndex)
	repaid := minBig(amount.Amount, debt)
	if repaid.Sign() == 0 {
		return big.NewInt(0), nil
	}
	scaled := rayDiv(repaid, market.BorrowIndex)
	if repaid.Cmp(debt) == 0 || scaled.Cmp(acc.ScaledDebt) > 0 {
		scaled = new(big.Int).Set(acc.ScaledDebt)
	}
	acc.ScaledDebt.Sub(acc.ScaledDebt, scaled)
	market.ScaledDebt.Sub(market.ScaledDebt, scaled)
	if market.ScaledDebt.Sign() < 0 {
		market.ScaledDebt.SetInt64(0)
	}
	market.Liquidity.Add(market.Liquidity, repaid)
	if err := st.KVPut(c.accountKey(account), acc); err != nil {
		return nil, err
	}
	if err := st.KVPut(c.marketKey(), market); err != nil {
		return nil, err
	}
	return repaid, nil
}
