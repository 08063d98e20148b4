package wallet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"agentvault/core/events"
	"agentvault/core/types"
	"agentvault/native/common"
	"agentvault/native/directory"
	"agentvault/native/permissions"
)

var (
	ErrInvalidOwner  = common.NewKind(common.ErrInvalidConfiguration, "wallet: owner address required")
	ErrAccountExists = common.NewKind(common.ErrInvalidConfiguration, "wallet: account already exists")
)

// AccountSpec describes a new account.
type AccountSpec struct {
	Owner types.Address
	// Agent, when set, is installed as the first agent with AgentConfig.
	Agent       types.Address
	AgentConfig permissions.Config
	Ambassador  types.Address
	SeedAsset   string
	SeedAmount  *big.Int
}

func deriveAccountID(factory, owner types.Address, nonce uint64) types.Address {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	hash := ethcrypto.Keccak256([]byte("agentvault/account"), factory[:], owner[:], n[:])
	return types.BytesToAddress(hash[12:])
}

// CreateAccount opens a new account on behalf of a registered factory. Seed
// funds are moved out of the factory's own balance.
func (e *Engine) CreateAccount(factory types.Address, spec AccountSpec) (*types.Account, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if spec.Owner.IsZero() {
		return nil, ErrInvalidOwner
	}
	var created *types.Account
	err := e.run(func(tx *txn) error {
		if _, ok := e.factories[factory]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownFactory, factory)
		}
		s := store{st: tx.st}
		nonce, err := s.nextNonce(factory)
		if err != nil {
			return err
		}
		id := deriveAccountID(factory, spec.Owner, nonce)
		exists, err := tx.st.IsAccount(id)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrAccountExists, id)
		}
		account := &types.Account{
			ID:         id,
			Owner:      spec.Owner,
			Factory:    factory,
			Ambassador: spec.Ambassador,
			CreatedAt:  tx.now,
		}
		if common.Positive(spec.SeedAmount) {
			asset := types.NormalizeAsset(spec.SeedAsset)
			if asset == "" {
				return fmt.Errorf("%w: seed asset required", ErrInvalidOperation)
			}
			balance, err := tx.st.Balance(factory, asset)
			if err != nil {
				return err
			}
			if balance.Cmp(spec.SeedAmount) < 0 {
				return fmt.Errorf("%w: factory holds %s %s", ErrInsufficient, balance, asset)
			}
			if err := tx.st.Move(factory, id, asset, spec.SeedAmount); err != nil {
				return err
			}
			account.Seed = types.SeedGrant{Asset: asset, Amount: new(big.Int).Set(spec.SeedAmount)}
		}
		if err := tx.st.PutAccount(account); err != nil {
			return err
		}
		if !spec.Agent.IsZero() {
			if err := e.installAgent(tx, account, spec.Agent, spec.AgentConfig); err != nil {
				return err
			}
		}
		tx.buf.Emit(events.AccountCreated{
			Account:    id,
			Owner:      spec.Owner,
			Factory:    factory,
			Agent:      spec.Agent,
			Ambassador: spec.Ambassador,
			SeedAsset:  account.Seed.Asset,
			SeedAmount: account.Seed.Amount,
			CreatedAt:  tx.now,
		})
		created = account
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("wallet: account created",
		slog.String("account", created.ID.Hex()),
		slog.String("owner", created.Owner.Hex()),
		slog.String("factory", factory.Hex()))
	return created, nil
}

// seedAsset reports whether asset counts towards the seed grant.
func (e *Engine) seedAsset(account *types.Account, asset string) bool {
	asset = types.NormalizeAsset(asset)
	seed := account.Seed.Asset
	if asset == seed {
		return true
	}
	return seed == e.cfg.NativeAsset && asset == e.cfg.WrappedAsset
}

// positionHoldings lists the venue position tokens held by the account in
// deterministic order.
func (e *Engine) positionHoldings(tx *txn, account types.Address) ([]string, error) {
	assets, err := tx.st.Assets(account)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, asset := range assets {
		if _, ok := e.directory.PositionIntegration(asset); ok {
			out = append(out, asset)
		}
	}
	sort.Strings(out)
	return out, nil
}

// seedValue values everything the account holds in the seed asset: idle
// balance plus the seed-asset share of every venue position.
func (e *Engine) seedValue(tx *txn, account *types.Account) (*big.Int, error) {
	total := big.NewInt(0)
	if account.Seed.Asset == "" {
		return total, nil
	}
	balance, err := tx.st.Balance(account.ID, account.Seed.Asset)
	if err != nil {
		return nil, err
	}
	total.Add(total, balance)
	if account.Seed.Asset == e.cfg.NativeAsset && e.cfg.WrappedAsset != "" {
		wrapped, err := tx.st.Balance(account.ID, e.cfg.WrappedAsset)
		if err != nil {
			return nil, err
		}
		total.Add(total, wrapped)
	}
	tokens, err := e.positionHoldings(tx, account.ID)
	if err != nil {
		return nil, err
	}
	for _, token := range tokens {
		held, err := tx.st.Balance(account.ID, token)
		if err != nil {
			return nil, err
		}
		parts, err := e.underlying(tx, token, held)
		if err != nil {
			return nil, err
		}
		for _, part := range parts {
			if types.NormalizeAsset(part.Asset) == account.Seed.Asset {
				total.Add(total, part.Amount)
			}
		}
	}
	return total, nil
}

func (e *Engine) underlying(tx *txn, token string, amount *big.Int) ([]directory.Amount, error) {
	id, ok := e.directory.PositionIntegration(token)
	if !ok || !common.Positive(amount) {
		return nil, nil
	}
	adapter, err := e.directory.AdapterFor(id)
	if err != nil {
		return nil, err
	}
	return adapter.Underlying(tx.st, directory.Amount{Asset: token, Amount: amount})
}

// RecoverSeedFunds returns the seed grant, plus the configured clawback
// buffer, to the granting factory. The amount is capped at what the account
// holds in the seed asset; idle balance is used first and venue positions are
// unwound fee free for the remainder. Whatever exceeds the recovered amount
// stays in the account.
func (e *Engine) RecoverSeedFunds(factory, accountID types.Address) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	var recovered *big.Int
	err := e.run(func(tx *txn) error {
		account, err := e.load(tx, accountID)
		if err != nil {
			return err
		}
		if account.Factory != factory {
			return ErrNotFactory
		}
		if !account.Seed.Active() {
			return ErrSeedAlreadyClosed
		}
		seed := account.Seed
		target := new(big.Int).Add(seed.Amount, common.ApplyBps(seed.Amount, e.cfg.ClawbackBufferBps))
		value, err := e.seedValue(tx, account)
		if err != nil {
			return err
		}
		amount := target
		if value.Cmp(amount) < 0 {
			amount = value
		}
		idle, err := tx.st.Balance(account.ID, seed.Asset)
		if err != nil {
			return err
		}
		if idle.Cmp(amount) < 0 {
			if err := e.unwind(tx, account, new(big.Int).Sub(amount, idle)); err != nil {
				return err
			}
			if idle, err = tx.st.Balance(account.ID, seed.Asset); err != nil {
				return err
			}
			if idle.Cmp(amount) < 0 {
				amount = idle
			}
		}
		if common.Positive(amount) {
			if err := tx.st.Move(account.ID, factory, seed.Asset, amount); err != nil {
				return err
			}
		}
		account.Seed.Recovered = true
		if err := tx.st.PutAccount(account); err != nil {
			return err
		}
		tx.buf.Emit(events.SeedFundsRecovered{Account: account.ID, Factory: factory, Asset: seed.Asset, Amount: amount})
		recovered = amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("wallet: seed funds recovered",
		slog.String("account", accountID.Hex()),
		slog.String("amount", recovered.String()))
	return recovered, nil
}

// unwind withdraws shortfall of the seed asset out of venue positions that
// support exact-underlying withdrawals.
func (e *Engine) unwind(tx *txn, account *types.Account, shortfall *big.Int) error {
	tokens, err := e.positionHoldings(tx, account.ID)
	if err != nil {
		return err
	}
	for _, token := range tokens {
		if shortfall.Sign() <= 0 {
			return nil
		}
		held, err := tx.st.Balance(account.ID, token)
		if err != nil {
			return err
		}
		parts, err := e.underlying(tx, token, held)
		if err != nil {
			return err
		}
		if len(parts) != 1 || types.NormalizeAsset(parts[0].Asset) != account.Seed.Asset || !common.Positive(parts[0].Amount) {
			continue
		}
		want := new(big.Int).Set(shortfall)
		if parts[0].Amount.Cmp(want) < 0 {
			want.Set(parts[0].Amount)
		}
		id, _ := e.directory.PositionIntegration(token)
		adapter, err := e.directory.AdapterFor(id)
		if err != nil {
			return err
		}
		burned, err := adapter.WithdrawUnderlying(tx.st, account.ID, token, want)
		if errors.Is(err, directory.ErrUnsupported) {
			continue
		}
		if err != nil {
			return err
		}
		if burned.Cmp(held) > 0 {
			return fmt.Errorf("%w: unwinding %s needs %s shares, holds %s", ErrInsufficient, token, burned, held)
		}
		if err := tx.st.Debit(account.ID, token, burned); err != nil {
			return err
		}
		if err := tx.st.Move(adapter.Custody(), account.ID, account.Seed.Asset, want); err != nil {
			return err
		}
		if _, err := tx.yield.OnExit(account.ID, token, burned, held); err != nil {
			return err
		}
		shortfall.Sub(shortfall, want)
	}
	return nil
}
