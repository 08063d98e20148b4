package types

import "math/big"

// Subscription captures the clock state of a protocol or agent subscription.
// PaidThrough == 0 means no term has started yet.
type Subscription struct {
	InstalledAt uint64
	PaidThrough uint64
}

// SeedGrant records the funds a factory granted to a new account. The funds
// may be deployed into yield positions but cannot leave the account until the
// factory has recovered them.
type SeedGrant struct {
	Asset     string
	Amount    *big.Int
	Recovered bool
}

// Active reports whether the grant still restricts outflows.
func (g SeedGrant) Active() bool {
	return g.Asset != "" && !g.Recovered && g.Amount != nil && g.Amount.Sign() > 0
}

// Account is the persisted header of a platform account. Balances, reserves,
// whitelist entries, agent grants and yield positions live under their own
// keys so that each can be updated independently.
type Account struct {
	ID          Address
	Owner       Address
	Factory     Address
	Ambassador  Address
	CreatedAt   uint64
	Protocol    Subscription
	Seed        SeedGrant
	MigratedOut bool
	MigratedIn  bool
}

// Clone returns a deep copy so callers can mutate without aliasing stored
// big.Int values.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Seed.Amount != nil {
		clone.Seed.Amount = new(big.Int).Set(a.Seed.Amount)
	}
	return &clone
}

// Frozen reports whether the account has migrated out and no longer accepts
// state-changing operations.
func (a *Account) Frozen() bool { return a != nil && a.MigratedOut }
