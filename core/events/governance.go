package events

import (
	"agentvault/core/types"
)

const (
	TypeOwnershipChangeInitiated = "wallet.ownership.initiated"
	TypeOwnershipChangeConfirmed = "wallet.ownership.confirmed"
	TypeOwnershipChangeCancelled = "wallet.ownership.cancelled"
	TypeWhitelistPending         = "wallet.whitelist.pending"
	TypeWhitelistConfirmed       = "wallet.whitelist.confirmed"
	TypeWhitelistCancelled       = "wallet.whitelist.cancelled"
	TypeWhitelistRemoved         = "wallet.whitelist.removed"
)

// PendingChange covers every delayed mutation lifecycle event: ownership
// transfers and whitelist entries.
type PendingChange struct {
	Type         string
	Account      types.Address
	Actor        types.Address
	Target       types.Address
	InitiatedAt  uint64
	ConfirmBlock uint64
}

func (e PendingChange) EventType() string { return e.Type }

func (e PendingChange) Event() *types.Event {
	attrs := map[string]string{}
	putAddress(attrs, "account", e.Account)
	putAddress(attrs, "actor", e.Actor)
	putAddress(attrs, "target", e.Target)
	if e.InitiatedAt > 0 {
		attrs["initiatedAt"] = formatUint(e.InitiatedAt)
	}
	if e.ConfirmBlock > 0 {
		attrs["confirmBlock"] = formatUint(e.ConfirmBlock)
	}
	return &types.Event{Type: e.Type, Attributes: attrs}
}
