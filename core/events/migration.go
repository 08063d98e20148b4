package events

import (
	"strconv"

	"agentvault/core/types"
)

const TypeAccountMigrated = "wallet.account.migrated"

// AccountMigrated is emitted once the source account's state has moved to the
// destination.
type AccountMigrated struct {
	ReceiptID       string
	Source          types.Address
	Destination     types.Address
	Owner           types.Address
	AssetsMoved     int
	PositionsMoved  int
	WhitelistMerged int
}

func (AccountMigrated) EventType() string { return TypeAccountMigrated }

func (e AccountMigrated) Event() *types.Event {
	attrs := map[string]string{
		"receiptId": e.ReceiptID,
		"assets":    strconv.Itoa(e.AssetsMoved),
		"positions": strconv.Itoa(e.PositionsMoved),
		"whitelist": strconv.Itoa(e.WhitelistMerged),
	}
	putAddress(attrs, "source", e.Source)
	putAddress(attrs, "destination", e.Destination)
	putAddress(attrs, "owner", e.Owner)
	return &types.Event{Type: TypeAccountMigrated, Attributes: attrs}
}
