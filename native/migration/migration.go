// Package migration moves an account's external-facing state to a successor
// account owned by the same identity. A migration is terminal for the source.
package migration

import (
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/google/uuid"

	"agentvault/core/events"
	"agentvault/core/types"
	"agentvault/native/common"
	"agentvault/native/yield"
)

var (
	ErrAlreadyMigrated     = common.NewKind(common.ErrMigrationPrecondition, "migration: source already migrated")
	ErrSourceNotFound      = common.NewKind(common.ErrMigrationPrecondition, "migration: source is not a platform account")
	ErrDestinationNotFound = common.NewKind(common.ErrMigrationPrecondition, "migration: destination is not a platform account")
	ErrDestinationFrozen   = common.NewKind(common.ErrMigrationPrecondition, "migration: destination has migrated out")
	ErrSameAccount         = common.NewKind(common.ErrMigrationPrecondition, "migration: source and destination are identical")
	ErrOwnerMismatch       = common.NewKind(common.ErrMigrationPrecondition, "migration: destination owned by a different identity")
	ErrOwnershipPending    = common.NewKind(common.ErrMigrationPrecondition, "migration: ownership change pending")
	ErrSeedOutstanding     = common.NewKind(common.ErrMigrationPrecondition, "migration: seed funds not recovered")
	ErrEntryNotListed      = common.NewKind(common.ErrMigrationPrecondition, "migration: whitelist entry not confirmed on source")
	ErrNotOwner            = common.NewKind(common.ErrPermissionDenied, "migration: caller is not the owner")
)

// Ledger is the account and balance storage a migration mutates.
type Ledger interface {
	GetAccount(id types.Address) (*types.Account, bool, error)
	PutAccount(account *types.Account) error
	Balance(addr types.Address, asset string) (*big.Int, error)
	Move(from, to types.Address, asset string, amount *big.Int) error
}

// Governance exposes the delayed-change state of accounts.
type Governance interface {
	HasPendingOwnership(account types.Address) (bool, error)
	Whitelisted(account, recipient types.Address) (bool, error)
	AddWhitelist(account, recipient types.Address) error
}

// Request names what moves with the account. The native asset always moves.
type Request struct {
	Source      types.Address
	Destination types.Address
	Assets      []string
	Whitelist   []types.Address
}

// Moved records one asset transferred by a migration.
type Moved struct {
	Asset  string
	Amount *big.Int
	// Position is set when tracked cost basis moved with the balance.
	Position *yield.Position
}

// Receipt summarises a completed migration.
type Receipt struct {
	ID          string
	Source      types.Address
	Destination types.Address
	Owner       types.Address
	At          uint64
	Moved       []Moved
	Whitelist   []types.Address
}

// Engine applies migrations. It holds no state of its own; the caller runs
// it inside a single atomic transaction spanning both accounts.
type Engine struct {
	ledger      Ledger
	governance  Governance
	yield       *yield.Ledger
	nativeAsset string
	logger      *slog.Logger
}

// NewEngine wires a migration engine.
func NewEngine(ledger Ledger, governance Governance, positions *yield.Ledger, nativeAsset string) *Engine {
	return &Engine{
		ledger:      ledger,
		governance:  governance,
		yield:       positions,
		nativeAsset: types.NormalizeAsset(nativeAsset),
		logger:      slog.Default(),
	}
}

// SetLogger overrides the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

func (e *Engine) preconditions(caller types.Address, req Request) (*types.Account, *types.Account, error) {
	if req.Source == req.Destination {
		return nil, nil, ErrSameAccount
	}
	source, ok, err := e.ledger.GetAccount(req.Source)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrSourceNotFound
	}
	if source.MigratedOut {
		return nil, nil, ErrAlreadyMigrated
	}
	if caller != source.Owner {
		return nil, nil, ErrNotOwner
	}
	dest, ok, err := e.ledger.GetAccount(req.Destination)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrDestinationNotFound
	}
	if dest.MigratedOut {
		return nil, nil, ErrDestinationFrozen
	}
	if dest.Owner != source.Owner {
		return nil, nil, ErrOwnerMismatch
	}
	for _, id := range []types.Address{source.ID, dest.ID} {
		pending, err := e.governance.HasPendingOwnership(id)
		if err != nil {
			return nil, nil, err
		}
		if pending {
			return nil, nil, fmt.Errorf("%w: %s", ErrOwnershipPending, id)
		}
	}
	if source.Seed.Active() {
		return nil, nil, ErrSeedOutstanding
	}
	return source, dest, nil
}

func (e *Engine) assets(req Request) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(asset string) {
		asset = types.NormalizeAsset(asset)
		if asset == "" {
			return
		}
		if _, ok := seen[asset]; ok {
			return
		}
		seen[asset] = struct{}{}
		out = append(out, asset)
	}
	add(e.nativeAsset)
	for _, asset := range req.Assets {
		add(asset)
	}
	return out
}

// Migrate moves the native balance and every listed asset's full balance to
// the destination, carrying tracked yield positions verbatim, merges the
// listed whitelist entries and freezes the source.
func (e *Engine) Migrate(caller types.Address, req Request, now uint64) (Receipt, error) {
	source, dest, err := e.preconditions(caller, req)
	if err != nil {
		return Receipt{}, err
	}
	receipt := Receipt{
		ID:          uuid.NewString(),
		Source:      source.ID,
		Destination: dest.ID,
		Owner:       source.Owner,
		At:          now,
	}
	for _, asset := range e.assets(req) {
		balance, err := e.ledger.Balance(source.ID, asset)
		if err != nil {
			return Receipt{}, err
		}
		moved := Moved{Asset: asset, Amount: balance}
		if balance.Sign() > 0 {
			if err := e.ledger.Move(source.ID, dest.ID, asset, balance); err != nil {
				return Receipt{}, err
			}
		}
		tracked, err := e.yield.Tracked(source.ID, asset)
		if err != nil {
			return Receipt{}, err
		}
		if tracked {
			pos, err := e.yield.Take(source.ID, asset)
			if err != nil {
				return Receipt{}, err
			}
			if err := e.yield.Give(dest.ID, asset, pos); err != nil {
				return Receipt{}, err
			}
			moved.Position = &pos
		}
		if balance.Sign() > 0 || moved.Position != nil {
			receipt.Moved = append(receipt.Moved, moved)
		}
	}
	entries := append([]types.Address(nil), req.Whitelist...)
	sort.Slice(entries, func(i, j int) bool { return string(entries[i][:]) < string(entries[j][:]) })
	for i, entry := range entries {
		if i > 0 && entry == entries[i-1] {
			continue
		}
		listed, err := e.governance.Whitelisted(source.ID, entry)
		if err != nil {
			return Receipt{}, err
		}
		if !listed {
			return Receipt{}, fmt.Errorf("%w: %s", ErrEntryNotListed, entry)
		}
		if entry == dest.ID {
			continue
		}
		if err := e.governance.AddWhitelist(dest.ID, entry); err != nil {
			return Receipt{}, err
		}
		receipt.Whitelist = append(receipt.Whitelist, entry)
	}
	source.MigratedOut = true
	dest.MigratedIn = true
	if err := e.ledger.PutAccount(source); err != nil {
		return Receipt{}, err
	}
	if err := e.ledger.PutAccount(dest); err != nil {
		return Receipt{}, err
	}
	e.logger.Info("migration: account migrated",
		slog.String("receipt", receipt.ID),
		slog.String("source", source.ID.Hex()),
		slog.String("destination", dest.ID.Hex()),
		slog.Int("assets", len(receipt.Moved)))
	return receipt, nil
}

// Event returns the audit event of a receipt.
func (r Receipt) Event() events.AccountMigrated {
	positions := 0
	for _, m := range r.Moved {
		if m.Position != nil {
			positions++
		}
	}
	return events.AccountMigrated{
		ReceiptID:       r.ID,
		Source:          r.Source,
		Destination:     r.Destination,
		Owner:           r.Owner,
		AssetsMoved:     len(r.Moved),
		PositionsMoved:  positions,
		WhitelistMerged: len(r.Whitelist),
	}
}
