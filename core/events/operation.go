package events

import (
	"math/big"
	"strconv"

	"agentvault/core/types"
)

const (
	TypeOperationExecuted = "wallet.operation.executed"
	TypeTransfer          = "wallet.transfer"
)

// OperationExecuted summarises one dispatched instruction.
type OperationExecuted struct {
	Account     types.Address
	Caller      types.Address
	Kind        string
	Integration types.IntegrationID
	Signed      bool
	AssetIn     string
	AmountIn    *big.Int
	AssetOut    string
	AmountOut   *big.Int
	USDValue    *big.Int
}

func (OperationExecuted) EventType() string { return TypeOperationExecuted }

func (e OperationExecuted) Event() *types.Event {
	attrs := map[string]string{
		"kind":   e.Kind,
		"signed": strconv.FormatBool(e.Signed),
	}
	putAddress(attrs, "account", e.Account)
	putAddress(attrs, "caller", e.Caller)
	if e.Integration != 0 {
		attrs["integration"] = formatUint(uint64(e.Integration))
	}
	if asset := normalizeAsset(e.AssetIn); asset != "" {
		attrs["assetIn"] = asset
		attrs["amountIn"] = formatAmount(e.AmountIn)
	}
	if asset := normalizeAsset(e.AssetOut); asset != "" {
		attrs["assetOut"] = asset
		attrs["amountOut"] = formatAmount(e.AmountOut)
	}
	putAmount(attrs, "usd", e.USDValue)
	return &types.Event{Type: TypeOperationExecuted, Attributes: attrs}
}

// Transfer records a balance movement out of a platform account.
type Transfer struct {
	Account   types.Address
	Recipient types.Address
	Asset     string
	Amount    *big.Int
	Fee       *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{"asset": normalizeAsset(e.Asset), "amount": formatAmount(e.Amount)}
	putAddress(attrs, "account", e.Account)
	putAddress(attrs, "recipient", e.Recipient)
	putAmount(attrs, "fee", e.Fee)
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}
