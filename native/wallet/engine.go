// Package wallet implements the execution core of the ledger: account
// creation, the per-operation pipeline, batches, transfers and the delayed
// governance of ownership and whitelists.
package wallet

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"agentvault/core/clock"
	"agentvault/core/events"
	"agentvault/core/state"
	"agentvault/core/types"
	"agentvault/native/billing"
	"agentvault/native/common"
	"agentvault/native/directory"
	"agentvault/native/permissions"
	"agentvault/native/signing"
	"agentvault/native/yield"
	"agentvault/observability/metrics"
)

// ModuleName is the pause key guarding every state-changing entry point.
const ModuleName = "wallet"

var (
	errNilState = errors.New("wallet: state not configured")

	ErrAccountNotFound   = common.NewKind(common.ErrPermissionDenied, "wallet: account not found")
	ErrAccountFrozen     = common.NewKind(common.ErrPermissionDenied, "wallet: account migrated out")
	ErrNotOwner          = common.NewKind(common.ErrPermissionDenied, "wallet: caller is not the owner")
	ErrNotFactory        = common.NewKind(common.ErrPermissionDenied, "wallet: caller is not the granting factory")
	ErrUnknownFactory    = common.NewKind(common.ErrPermissionDenied, "wallet: factory not registered")
	ErrInsufficient      = common.NewKind(common.ErrInsufficientFunds, "wallet: insufficient balance")
	ErrReserveBreached   = common.NewKind(common.ErrInsufficientFunds, "wallet: balance would fall below reserve")
	ErrSeedFundsLocked   = common.NewKind(common.ErrInsufficientFunds, "wallet: seed funds not yet recovered")
	ErrRecipientDenied   = common.NewKind(common.ErrRecipientNotAllowed, "wallet: recipient not allowed")
	ErrInvalidAmount     = common.NewKind(common.ErrInvalidConfiguration, "wallet: amount must be positive")
	ErrInvalidOperation  = common.NewKind(common.ErrInvalidConfiguration, "wallet: malformed operation")
	ErrUnknownVenue      = common.NewKind(common.ErrInvalidConfiguration, "wallet: integration not registered")
	ErrBatchTooLarge     = common.NewKind(common.ErrInvalidConfiguration, "wallet: batch exceeds maximum size")
	ErrEmptyBatch        = common.NewKind(common.ErrInvalidConfiguration, "wallet: batch is empty")
	ErrSlippage          = common.NewKind(common.ErrInsufficientFunds, "wallet: output below minimum")
	ErrSeedAlreadyClosed = common.NewKind(common.ErrPermissionDenied, "wallet: seed grant already recovered")
)

// Directory is the read-only collaborator resolving venues and prices.
type Directory interface {
	billing.Pricer
	UsdValue(asset string, amount *big.Int) *big.Int
	AdapterFor(id types.IntegrationID) (directory.Adapter, error)
	IsValidIntegration(id types.IntegrationID) bool
	PositionIntegration(token string) (types.IntegrationID, bool)
}

// Config captures the static parameters of the execution core.
type Config struct {
	NativeAsset  string
	WrappedAsset string
	// Delay is the number of ticks between initiating and confirming an
	// ownership or whitelist change, bounded by MinDelay and MaxDelay.
	Delay        uint64
	MinDelay     uint64
	MaxDelay     uint64
	MaxBatchSize int
	// ClawbackBufferBps is added on top of the seed amount when a factory
	// recovers its grant.
	ClawbackBufferBps uint32
	Domain            signing.Domain
	Limits            billing.Limits
	Factories         []types.Address
}

// DefaultConfig returns the parameters used by tests and fresh deployments.
func DefaultConfig() Config {
	return Config{
		NativeAsset:  "AVX",
		WrappedAsset: "WAVX",
		Delay:        100,
		MinDelay:     1,
		MaxDelay:     1_000_000,
		MaxBatchSize: 15,
		Domain:       signing.Domain{Name: "AgentVault", Network: "local"},
		Limits:       billing.DefaultLimits(),
	}
}

// Engine serialises every state transition of the ledger. Each entry point
// runs inside its own state overlay; a failure anywhere discards the overlay
// and the buffered events so no partial effect is ever visible.
type Engine struct {
	mu sync.Mutex

	root      *state.Manager
	directory Directory
	clock     clock.Clock
	cfg       Config
	factories map[types.Address]struct{}
	wrap      types.Address

	emitter events.Emitter
	pauses  common.PauseView
	logger  *slog.Logger
	metrics *metrics.LedgerMetrics
}

// NewEngine wires the execution core over the root state manager.
func NewEngine(manager *state.Manager, dir Directory, clk clock.Clock, cfg Config) *Engine {
	e := &Engine{
		root:      manager,
		directory: dir,
		clock:     clk,
		cfg:       cfg,
		factories: make(map[types.Address]struct{}),
		wrap:      custodyAddress("wallet/wrap/" + types.NormalizeAsset(cfg.WrappedAsset)),
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		metrics:   metrics.Ledger(),
	}
	e.cfg.NativeAsset = types.NormalizeAsset(cfg.NativeAsset)
	e.cfg.WrappedAsset = types.NormalizeAsset(cfg.WrappedAsset)
	if e.cfg.MaxBatchSize <= 0 {
		e.cfg.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	for _, factory := range cfg.Factories {
		e.factories[factory] = struct{}{}
	}
	return e
}

// SetEmitter routes committed events to emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetPauses installs the pause table consulted by every entry point.
func (e *Engine) SetPauses(p common.PauseView) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauses = p
}

// SetLogger overrides the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = logger
}

// Config returns the normalised configuration.
func (e *Engine) Config() Config { return e.cfg }

// WrapCustody is the address holding native funds locked by wrapping.
func (e *Engine) WrapCustody() types.Address { return e.wrap }

// SetDelay updates the pending-change delay. It reports false and leaves the
// delay untouched when delay falls outside [MinDelay, MaxDelay]. Changes
// already pending keep their confirmation tick.
func (e *Engine) SetDelay(delay uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if delay < e.cfg.MinDelay || (e.cfg.MaxDelay != 0 && delay > e.cfg.MaxDelay) {
		return false
	}
	e.cfg.Delay = delay
	return true
}

// RegisterFactory allows factory to create accounts.
func (e *Engine) RegisterFactory(factory types.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.factories[factory] = struct{}{}
}

type tick uint64

func (t tick) Now() uint64 { return uint64(t) }

// txn bundles the per-call views over a single state overlay.
type txn struct {
	st      *state.Manager
	buf     *events.Buffer
	now     uint64
	grants  *permissions.Store
	auth    *permissions.Authorizer
	billing *billing.Engine
	yield   *yield.Ledger
	legs    []events.FeeLeg
}

func (e *Engine) newTxn(st *state.Manager) *txn {
	now := e.clock.Now()
	grants := permissions.NewStore(st)
	auth := permissions.NewAuthorizer(grants, signing.NewVerifier(st), tick(now))
	auth.SetLogger(e.logger)
	return &txn{
		st:      st,
		buf:     &events.Buffer{},
		now:     now,
		grants:  grants,
		auth:    auth,
		billing: billing.NewEngine(st, e.cfg.Limits, e.directory),
		yield:   yield.NewLedger(st),
	}
}

// run executes fn in a fresh overlay and commits it only when fn succeeds.
func (e *Engine) run(fn func(tx *txn) error) error {
	if e == nil || e.root == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.root.Begin()
	defer st.Discard()
	tx := e.newTxn(st)
	if err := fn(tx); err != nil {
		return err
	}
	if err := st.Commit(); err != nil {
		return fmt.Errorf("wallet: commit: %w", err)
	}
	tx.buf.Flush(e.emitter)
	return nil
}

// view runs a read-only function against committed state.
func (e *Engine) view(fn func(tx *txn) error) error {
	if e == nil || e.root == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.root.Begin()
	defer st.Discard()
	return fn(e.newTxn(st))
}

func (e *Engine) guard() error {
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		e.metrics.ObserveFailure("paused")
		return err
	}
	return nil
}

// load returns the account header, rejecting unknown and migrated accounts.
func (e *Engine) load(tx *txn, id types.Address) (*types.Account, error) {
	account, ok, err := tx.st.GetAccount(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if account.Frozen() {
		return nil, fmt.Errorf("%w: %s", ErrAccountFrozen, id)
	}
	return account, nil
}

func (e *Engine) ownerOnly(account *types.Account, caller types.Address) error {
	if caller != account.Owner {
		e.logger.Debug("wallet: owner-only call rejected",
			slog.String("account", account.ID.Hex()),
			slog.String("caller", caller.Hex()))
		return ErrNotOwner
	}
	return nil
}

// chargeSubscriptions runs the subscription step of the pipeline and
// persists the updated account header.
func (e *Engine) chargeSubscriptions(tx *txn, account *types.Account, agent types.Address) error {
	paid, err := tx.billing.ChargeSubscriptions(account, agent, tx.now)
	if err != nil {
		e.metrics.ObserveFailure("subscription")
		return err
	}
	if err := tx.st.PutAccount(account); err != nil {
		return err
	}
	for _, evt := range paid {
		tx.buf.Emit(evt)
		e.metrics.ObserveSubscription(evt.Scope, evt.Trial)
		for _, leg := range evt.Legs {
			e.metrics.ObserveFeeLeg(leg.Role, leg.Asset)
		}
	}
	return nil
}

// Account returns the stored header of id.
func (e *Engine) Account(id types.Address) (*types.Account, bool, error) {
	var (
		account *types.Account
		ok      bool
	)
	err := e.view(func(tx *txn) error {
		var err error
		account, ok, err = tx.st.GetAccount(id)
		return err
	})
	return account, ok, err
}

// Balance returns the ledger balance of addr in asset.
func (e *Engine) Balance(addr types.Address, asset string) (*big.Int, error) {
	var balance *big.Int
	err := e.view(func(tx *txn) error {
		var err error
		balance, err = tx.st.Balance(addr, asset)
		return err
	})
	return balance, err
}

// Grant returns the agent grant of (account, agent).
func (e *Engine) Grant(account, agent types.Address) (*permissions.Grant, bool, error) {
	var (
		grant *permissions.Grant
		ok    bool
	)
	err := e.view(func(tx *txn) error {
		var err error
		grant, ok, err = tx.grants.Get(account, agent)
		return err
	})
	return grant, ok, err
}

// Position returns the tracked yield position of (account, token).
func (e *Engine) Position(account types.Address, token string) (yield.Position, error) {
	var pos yield.Position
	err := e.view(func(tx *txn) error {
		var err error
		pos, _, err = tx.yield.Position(account, token)
		return err
	})
	return pos, err
}

// WithPolicy runs fn against the billing policy store inside a committed
// transaction. Operators use it to configure fee sheets and subscriptions.
func (e *Engine) WithPolicy(fn func(p *billing.PolicyStore) error) error {
	return e.run(func(tx *txn) error {
		return fn(tx.billing.Policy())
	})
}

// Mint credits amount of asset to addr outside of any account pipeline. It
// funds factories, venue custody and fee recipients.
func (e *Engine) Mint(addr types.Address, asset string, amount *big.Int) error {
	if !common.Positive(amount) {
		return ErrInvalidAmount
	}
	return e.run(func(tx *txn) error {
		return tx.st.Credit(addr, asset, amount)
	})
}

// WithVenueState runs fn against the venue bookkeeping inside a committed
// transaction. Operators use it to fund credit lines or record donations.
func (e *Engine) WithVenueState(fn func(st directory.VenueState, ledger *state.Manager) error) error {
	return e.run(func(tx *txn) error {
		return fn(tx.st, tx.st)
	})
}
