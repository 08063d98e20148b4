// Package yield tracks cost basis of yield-bearing position tokens so fees
// apply to realized profit only.
package yield

import (
	"errors"
	"math/big"

	"agentvault/core/types"
	"agentvault/native/common"
)

var errNilState = errors.New("yield: state not configured")

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVList(key []byte) ([][]byte, error)
}

var (
	positionPrefix = []byte("yield/position/")
	tokenIndex     = []byte("yield/tokens/")
)

// Position is the tracked share count and cost basis, in underlying units,
// of one position token held by one account.
type Position struct {
	Shares    *big.Int
	CostBasis *big.Int
}

func (p Position) normalized() Position {
	return Position{Shares: common.CloneBig(p.Shares), CostBasis: common.CloneBig(p.CostBasis)}
}

// Empty reports whether nothing is tracked.
func (p Position) Empty() bool {
	return !common.Positive(p.Shares) && !common.Positive(p.CostBasis)
}

// Exit describes how a share removal touched the tracked position.
type Exit struct {
	// Removed is the number of shares removed.
	Removed *big.Int
	// TrackedPortion is the part of Removed drawn from tracked shares.
	TrackedPortion *big.Int
	// CostBasisConsumed is the cost basis released with TrackedPortion.
	CostBasisConsumed *big.Int
}

// FeeFree reports whether the removal came entirely from untracked shares.
func (e Exit) FeeFree() bool { return !common.Positive(e.TrackedPortion) }

// Profit returns the fee base of an exit that yielded received underlying:
// the tracked share of the proceeds minus the cost basis consumed, floored
// at zero.
func (e Exit) Profit(received *big.Int) *big.Int {
	if e.FeeFree() || !common.Positive(received) || !common.Positive(e.Removed) {
		return big.NewInt(0)
	}
	portion := common.MulDiv(received, e.TrackedPortion, e.Removed)
	profit := portion.Sub(portion, e.CostBasisConsumed)
	if profit.Sign() < 0 {
		return big.NewInt(0)
	}
	return profit
}

// Ledger persists yield positions.
type Ledger struct {
	state ledgerState
}

// NewLedger binds the ledger to state.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

func positionKey(account types.Address, token string) []byte {
	key := append(append([]byte(nil), positionPrefix...), account[:]...)
	return append(key, token...)
}

func indexKey(account types.Address) []byte {
	return append(append([]byte(nil), tokenIndex...), account[:]...)
}

// Position loads the tracked position of token.
func (l *Ledger) Position(account types.Address, token string) (Position, bool, error) {
	if l == nil || l.state == nil {
		return Position{}, false, errNilState
	}
	var pos Position
	ok, err := l.state.KVGet(positionKey(account, types.NormalizeAsset(token)), &pos)
	if err != nil {
		return Position{}, false, err
	}
	return pos.normalized(), ok, nil
}

// Tracked reports whether token has ever been tracked for the account.
func (l *Ledger) Tracked(account types.Address, token string) (bool, error) {
	tokens, err := l.Tokens(account)
	if err != nil {
		return false, err
	}
	token = types.NormalizeAsset(token)
	for _, t := range tokens {
		if t == token {
			return true, nil
		}
	}
	return false, nil
}

// Tokens lists the position tokens tracked for the account.
func (l *Ledger) Tokens(account types.Address) ([]string, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	list, err := l.state.KVList(indexKey(account))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	for _, raw := range list {
		out = append(out, string(raw))
	}
	return out, nil
}

func (l *Ledger) put(account types.Address, token string, pos Position) error {
	if err := l.state.KVAppend(indexKey(account), []byte(token)); err != nil {
		return err
	}
	return l.state.KVPut(positionKey(account, token), pos.normalized())
}

// OnEnter records shares received for underlying deposited.
func (l *Ledger) OnEnter(account types.Address, token string, shares, underlying *big.Int) error {
	token = types.NormalizeAsset(token)
	pos, _, err := l.Position(account, token)
	if err != nil {
		return err
	}
	if common.Positive(shares) {
		pos.Shares.Add(pos.Shares, shares)
	}
	if common.Positive(underlying) {
		pos.CostBasis.Add(pos.CostBasis, underlying)
	}
	return l.put(account, token, pos)
}

// OnExit records removal of shares through an adapter. balance is the
// account's actual share balance before the removal.
func (l *Ledger) OnExit(account types.Address, token string, shares, balance *big.Int) (Exit, error) {
	token = types.NormalizeAsset(token)
	exit := Exit{Removed: common.CloneBig(shares), TrackedPortion: big.NewInt(0), CostBasisConsumed: big.NewInt(0)}
	pos, ok, err := l.Position(account, token)
	if err != nil || !ok || !common.Positive(shares) {
		return exit, err
	}
	untracked := new(big.Int).Sub(common.CloneBig(balance), pos.Shares)
	if untracked.Sign() < 0 {
		untracked.SetInt64(0)
	}
	if shares.Cmp(untracked) <= 0 || pos.Shares.Sign() == 0 {
		return exit, nil
	}
	portion := new(big.Int).Sub(shares, untracked)
	if portion.Cmp(pos.Shares) > 0 {
		portion.Set(pos.Shares)
	}
	cost := common.MulDiv(pos.CostBasis, portion, pos.Shares)
	if cost.Cmp(pos.CostBasis) > 0 {
		cost.Set(pos.CostBasis)
	}
	pos.Shares.Sub(pos.Shares, portion)
	pos.CostBasis.Sub(pos.CostBasis, cost)
	if pos.Shares.Sign() == 0 {
		pos.CostBasis.SetInt64(0)
	}
	exit.TrackedPortion = portion
	exit.CostBasisConsumed = cost
	return exit, l.put(account, token, pos)
}

// OnTransferOut applies the exit rule to a raw transfer of position tokens
// so tracked cost basis cannot be moved around the fee checks.
func (l *Ledger) OnTransferOut(account types.Address, token string, amount, balance *big.Int) (Exit, error) {
	return l.OnExit(account, token, amount, balance)
}

// Take removes the tracked position from account and returns it. Used by
// migration.
func (l *Ledger) Take(account types.Address, token string) (Position, error) {
	token = types.NormalizeAsset(token)
	pos, ok, err := l.Position(account, token)
	if err != nil || !ok {
		return Position{Shares: big.NewInt(0), CostBasis: big.NewInt(0)}, err
	}
	if err := l.state.KVDelete(positionKey(account, token)); err != nil {
		return Position{}, err
	}
	if err := l.state.KVRemove(indexKey(account), []byte(token)); err != nil {
		return Position{}, err
	}
	return pos, nil
}

// Give adds pos to the tracked position of account.
func (l *Ledger) Give(account types.Address, token string, pos Position) error {
	return l.OnEnter(account, token, pos.Shares, pos.CostBasis)
}
