package venues

import (
	"fmt"
	"math/big"

	"agentvault/core/types"
	"agentvault/native/common"
	"agentvault/native/directory"
)

type poolBook struct {
	ReserveA *big.Int
	ReserveB *big.Int
	TotalLP  *big.Int
}

// Pool is a two-asset constant-product market issuing an LP token.
type Pool struct {
	directory.Unsupported
	assetA  string
	assetB  string
	lpToken string
	feeBps  uint32
	custody types.Address
}

// NewPool returns a pool between assetA and assetB charging feeBps on swaps.
func NewPool(assetA, assetB, lpToken string, feeBps uint32, custody types.Address) *Pool {
	return &Pool{
		assetA:  types.NormalizeAsset(assetA),
		assetB:  types.NormalizeAsset(assetB),
		lpToken: types.NormalizeAsset(lpToken),
		feeBps:  feeBps,
		custody: custody,
	}
}

func (p *Pool) Custody() types.Address { return p.custody }

func (p *Pool) PositionTokens() []string { return []string{p.lpToken} }

// LPToken returns the position token symbol.
func (p *Pool) LPToken() string { return p.lpToken }

func (p *Pool) bookKey() []byte { return []byte("venues/pool/" + p.lpToken) }

func (p *Pool) load(st directory.VenueState) (poolBook, error) {
	var book poolBook
	if _, err := st.KVGet(p.bookKey(), &book); err != nil {
		return poolBook{}, err
	}
	book.ReserveA = zeroIfNil(book.ReserveA)
	book.ReserveB = zeroIfNil(book.ReserveB)
	book.TotalLP = zeroIfNil(book.TotalLP)
	return book, nil
}

// Reserves returns the current pool reserves.
func (p *Pool) Reserves(st directory.VenueState) (*big.Int, *big.Int, error) {
	book, err := p.load(st)
	if err != nil {
		return nil, nil, err
	}
	return book.ReserveA, book.ReserveB, nil
}

func (p *Pool) orient(a, b directory.Amount) (directory.Amount, directory.Amount, error) {
	assetA, assetB := types.NormalizeAsset(a.Asset), types.NormalizeAsset(b.Asset)
	switch {
	case assetA == p.assetA && assetB == p.assetB:
		return a, b, nil
	case assetA == p.assetB && assetB == p.assetA:
		return b, a, nil
	default:
		return directory.Amount{}, directory.Amount{}, fmt.Errorf("%w: %s/%s", errWrongAsset, a.Asset, b.Asset)
	}
}

func (p *Pool) AddLiquidity(st directory.VenueState, _ types.Address, a, b directory.Amount) (directory.Amount, *big.Int, *big.Int, error) {
	flipped := types.NormalizeAsset(a.Asset) == p.assetB
	a, b, err := p.orient(a, b)
	if err != nil {
		return directory.Amount{}, nil, nil, err
	}
	if !common.Positive(a.Amount) || !common.Positive(b.Amount) {
		return directory.Amount{}, nil, nil, errZeroAmount
	}
	book, err := p.load(st)
	if err != nil {
		return directory.Amount{}, nil, nil, err
	}
	usedA, usedB := new(big.Int).Set(a.Amount), new(big.Int).Set(b.Amount)
	var minted *big.Int
	if book.TotalLP.Sign() == 0 {
		minted = new(big.Int).Sqrt(new(big.Int).Mul(usedA, usedB))
		if minted.Cmp(minLiquidity) <= 0 {
			return directory.Amount{}, nil, nil, errZeroAmount
		}
		book.TotalLP.Add(book.TotalLP, minLiquidity)
		minted.Sub(minted, minLiquidity)
	} else {
		optimalB := mulDiv(usedA, book.ReserveB, book.ReserveA)
		if optimalB.Cmp(usedB) <= 0 {
			usedB = optimalB
		} else {
			usedA = mulDiv(usedB, book.ReserveA, book.ReserveB)
		}
		minted = minBig(mulDiv(usedA, book.TotalLP, book.ReserveA), mulDiv(usedB, book.TotalLP, book.ReserveB))
		if minted.Sign() == 0 {
			return directory.Amount{}, nil, nil, errZeroAmount
		}
	}
	book.ReserveA.Add(book.ReserveA, usedA)
	book.ReserveB.Add(book.ReserveB, usedB)
	book.TotalLP.Add(book.TotalLP, minted)
	if err := st.KVPut(p.bookKey(), book); err != nil {
		return directory.Amount{}, nil, nil, err
	}
	if flipped {
		usedA, usedB = usedB, usedA
	}
	return directory.Amount{Asset: p.lpToken, Amount: minted}, usedA, usedB, nil
}

func (p *Pool) RemoveLiquidity(st directory.VenueState, _ types.Address, lp directory.Amount) ([]directory.Amount, error) {
	if types.NormalizeAsset(lp.Asset) != p.lpToken {
		return nil, fmt.Errorf("%w: %s", errWrongAsset, lp.Asset)
	}
	if !common.Positive(lp.Amount) {
		return nil, errZeroAmount
	}
	book, err := p.load(st)
	if err != nil {
		return nil, err
	}
	if lp.Amount.Cmp(book.TotalLP) >= 0 {
		return nil, errExceedsShares
	}
	outA := mulDiv(lp.Amount, book.ReserveA, book.TotalLP)
	outB := mulDiv(lp.Amount, book.ReserveB, book.TotalLP)
	book.ReserveA.Sub(book.ReserveA, outA)
	book.ReserveB.Sub(book.ReserveB, outB)
	book.TotalLP.Sub(book.TotalLP, lp.Amount)
	if err := st.KVPut(p.bookKey(), book); err != nil {
		return nil, err
	}
	return []directory.Amount{{Asset: p.assetA, Amount: outA}, {Asset: p.assetB, Amount: outB}}, nil
}

func (p *Pool) Swap(st directory.VenueState, _ types.Address, in directory.Amount, assetOut string, minOut *big.Int) (directory.Amount, error) {
	assetIn := types.NormalizeAsset(in.Asset)
	assetOut = types.NormalizeAsset(assetOut)
	if !common.Positive(in.Amount) {
		return directory.Amount{}, errZeroAmount
	}
	book, err := p.load(st)
	if err != nil {
		return directory.Amount{}, err
	}
	var reserveIn, reserveOut *big.Int
	switch {
	case assetIn == p.assetA && assetOut == p.assetB:
		reserveIn, reserveOut = book.ReserveA, book.ReserveB
	case assetIn == p.assetB && assetOut == p.assetA:
		reserveIn, reserveOut = book.ReserveB, book.ReserveA
	default:
		return directory.Amount{}, fmt.Errorf("%w: %s->%s", errWrongAsset, assetIn, assetOut)
	}
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return directory.Amount{}, errInsufficient
	}
	effective := new(big.Int).Sub(in.Amount, common.ApplyBps(in.Amount, p.feeBps))
	out := mulDiv(effective, reserveOut, new(big.Int).Add(reserveIn, effective))
	if out.Sign() == 0 || out.Cmp(reserveOut) >= 0 {
		return directory.Amount{}, errInsufficient
	}
	if minOut != nil && out.Cmp(minOut) < 0 {
		return directory.Amount{}, fmt.Errorf("%w: got %s, want %s", errSlippage, out, minOut)
	}
	reserveIn.Add(reserveIn, in.Amount)
	reserveOut.Sub(reserveOut, out)
	if err := st.KVPut(p.bookKey(), book); err != nil {
		return directory.Amount{}, err
	}
	return directory.Amount{Asset: assetOut, Amount: out}, nil
}

func (p *Pool) Underlying(st directory.VenueState, lp directory.Amount) ([]directory.Amount, error) {
	if types.NormalizeAsset(lp.Asset) != p.lpToken {
		return nil, fmt.Errorf("%w: %s", errWrongAsset, lp.Asset)
	}
	book, err := p.load(st)
	if err != nil {
		return nil, err
	}
	shares := zeroIfNil(lp.Amount)
	return []directory.Amount{
		{Asset: p.assetA, Amount: mulDiv(shares, book.ReserveA, book.TotalLP)},
		{Asset: p.assetB, Amount: mulDiv(shares, book.ReserveB, book.TotalLP)},
	}, nil
}
