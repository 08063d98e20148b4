package events

import (
	"math/big"
	"strconv"

	"agentvault/core/types"
)

const (
	TypeAccountCreated     = "wallet.account.created"
	TypeReserveUpdated     = "wallet.reserve.updated"
	TypeSeedFundsRecovered = "wallet.seed.recovered"
	TypeModulePaused       = "wallet.module.paused"
)

// AccountCreated is emitted by the factory once a new account is persisted.
type AccountCreated struct {
	Account    types.Address
	Owner      types.Address
	Factory    types.Address
	Agent      types.Address
	Ambassador types.Address
	SeedAsset  string
	SeedAmount *big.Int
	CreatedAt  uint64
}

func (AccountCreated) EventType() string { return TypeAccountCreated }

func (e AccountCreated) Event() *types.Event {
	attrs := map[string]string{}
	putAddress(attrs, "account", e.Account)
	putAddress(attrs, "owner", e.Owner)
	putAddress(attrs, "factory", e.Factory)
	putAddress(attrs, "agent", e.Agent)
	putAddress(attrs, "ambassador", e.Ambassador)
	if asset := normalizeAsset(e.SeedAsset); asset != "" {
		attrs["seedAsset"] = asset
		attrs["seedAmount"] = formatAmount(e.SeedAmount)
	}
	attrs["createdAt"] = formatUint(e.CreatedAt)
	return &types.Event{Type: TypeAccountCreated, Attributes: attrs}
}

// ReserveUpdated records a change to the per-asset reserve floor.
type ReserveUpdated struct {
	Account types.Address
	Asset   string
	Amount  *big.Int
}

func (ReserveUpdated) EventType() string { return TypeReserveUpdated }

func (e ReserveUpdated) Event() *types.Event {
	attrs := map[string]string{"asset": normalizeAsset(e.Asset), "amount": formatAmount(e.Amount)}
	putAddress(attrs, "account", e.Account)
	return &types.Event{Type: TypeReserveUpdated, Attributes: attrs}
}

// SeedFundsRecovered is emitted when a factory claws back its seed grant.
type SeedFundsRecovered struct {
	Account types.Address
	Factory types.Address
	Asset   string
	Amount  *big.Int
}

func (SeedFundsRecovered) EventType() string { return TypeSeedFundsRecovered }

func (e SeedFundsRecovered) Event() *types.Event {
	attrs := map[string]string{"asset": normalizeAsset(e.Asset), "amount": formatAmount(e.Amount)}
	putAddress(attrs, "account", e.Account)
	putAddress(attrs, "factory", e.Factory)
	return &types.Event{Type: TypeSeedFundsRecovered, Attributes: attrs}
}

// ModulePaused records operator pause toggles.
type ModulePaused struct {
	Module string
	Paused bool
}

func (ModulePaused) EventType() string { return TypeModulePaused }

func (e ModulePaused) Event() *types.Event {
	return &types.Event{Type: TypeModulePaused, Attributes: map[string]string{
		"module": e.Module,
		"paused": strconv.FormatBool(e.Paused),
	}}
}
