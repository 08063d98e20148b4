package wallet

import (
	"math/big"

	"agentvault/core/events"
	"agentvault/core/types"
	"agentvault/native/directory"
	"agentvault/native/permissions"
)

// Operation is one instruction the execution core can dispatch. The set of
// implementations is closed; dispatch switches over them exhaustively.
type Operation interface {
	Kind() permissions.OperationKind
	request() permissions.Request
}

// Deposit places Amount of Asset into a yield venue.
type Deposit struct {
	Integration types.IntegrationID `json:"integration"`
	Asset       string              `json:"asset"`
	Amount      *big.Int            `json:"amount"`
}

// Withdraw redeems Shares of a position token.
type Withdraw struct {
	Integration types.IntegrationID `json:"integration"`
	ShareToken  string              `json:"shareToken"`
	Shares      *big.Int            `json:"shares"`
}

// Rebalance redeems Shares from one venue and deposits the proceeds into
// another venue over the same underlying asset.
type Rebalance struct {
	From       types.IntegrationID `json:"from"`
	ShareToken string              `json:"shareToken"`
	Shares     *big.Int            `json:"shares"`
	To         types.IntegrationID `json:"to"`
}

// Transfer moves Amount of Asset to Recipient.
type Transfer struct {
	Recipient types.Address `json:"recipient"`
	Asset     string        `json:"asset"`
	Amount    *big.Int      `json:"amount"`
}

// SwapHop is one leg of a swap route.
type SwapHop struct {
	Integration types.IntegrationID `json:"integration"`
	AssetOut    string              `json:"assetOut"`
}

// Swap routes AmountIn of AssetIn through one or more hops.
type Swap struct {
	AssetIn  string    `json:"assetIn"`
	AmountIn *big.Int  `json:"amountIn"`
	Route    []SwapHop `json:"route"`
	MinOut   *big.Int  `json:"minOut"`
}

// Convert wraps the native asset or, with Unwrap set, unwraps it.
type Convert struct {
	Unwrap bool     `json:"unwrap"`
	Amount *big.Int `json:"amount"`
}

// AddLiquidity supplies a pair of assets to a pool.
type AddLiquidity struct {
	Integration types.IntegrationID `json:"integration"`
	AssetA      string              `json:"assetA"`
	AmountA     *big.Int            `json:"amountA"`
	AssetB      string              `json:"assetB"`
	AmountB     *big.Int            `json:"amountB"`
}

// RemoveLiquidity burns LP tokens for the underlying pair.
type RemoveLiquidity struct {
	Integration types.IntegrationID `json:"integration"`
	LPToken     string              `json:"lpToken"`
	Liquidity   *big.Int            `json:"liquidity"`
}

// ClaimRewards collects accrued venue rewards.
type ClaimRewards struct {
	Integration types.IntegrationID `json:"integration"`
}

// Borrow draws Amount of Asset from a credit venue.
type Borrow struct {
	Integration types.IntegrationID `json:"integration"`
	Asset       string              `json:"asset"`
	Amount      *big.Int            `json:"amount"`
}

// Repay returns up to Amount of Asset to a credit venue.
type Repay struct {
	Integration types.IntegrationID `json:"integration"`
	Asset       string              `json:"asset"`
	Amount      *big.Int            `json:"amount"`
}

func (Deposit) Kind() permissions.OperationKind         { return permissions.KindDeposit }
func (Withdraw) Kind() permissions.OperationKind        { return permissions.KindWithdraw }
func (Rebalance) Kind() permissions.OperationKind       { return permissions.KindRebalance }
func (Transfer) Kind() permissions.OperationKind        { return permissions.KindTransfer }
func (Swap) Kind() permissions.OperationKind            { return permissions.KindSwap }
func (Convert) Kind() permissions.OperationKind         { return permissions.KindConversion }
func (AddLiquidity) Kind() permissions.OperationKind    { return permissions.KindAddLiquidity }
func (RemoveLiquidity) Kind() permissions.OperationKind { return permissions.KindRemoveLiquidity }
func (ClaimRewards) Kind() permissions.OperationKind    { return permissions.KindClaimRewards }
func (Borrow) Kind() permissions.OperationKind          { return permissions.KindBorrow }
func (Repay) Kind() permissions.OperationKind           { return permissions.KindRepay }

func req(kind permissions.OperationKind, assets []string, ids ...types.IntegrationID) permissions.Request {
	return permissions.Request{Kind: kind, Assets: assets, Integrations: ids}
}

func (o Deposit) request() permissions.Request {
	return req(o.Kind(), []string{o.Asset}, o.Integration)
}

func (o Withdraw) request() permissions.Request {
	return req(o.Kind(), []string{o.ShareToken}, o.Integration)
}

func (o Rebalance) request() permissions.Request {
	return req(o.Kind(), []string{o.ShareToken}, o.From, o.To)
}

func (o Transfer) request() permissions.Request {
	return req(o.Kind(), []string{o.Asset})
}

func (o Swap) request() permissions.Request {
	assets := []string{o.AssetIn}
	ids := make([]types.IntegrationID, 0, len(o.Route))
	for _, hop := range o.Route {
		assets = append(assets, hop.AssetOut)
		ids = append(ids, hop.Integration)
	}
	return req(o.Kind(), assets, ids...)
}

func (o Convert) request() permissions.Request {
	return req(o.Kind(), nil)
}

func (o AddLiquidity) request() permissions.Request {
	return req(o.Kind(), []string{o.AssetA, o.AssetB}, o.Integration)
}

func (o RemoveLiquidity) request() permissions.Request {
	return req(o.Kind(), []string{o.LPToken}, o.Integration)
}

func (o ClaimRewards) request() permissions.Request {
	return req(o.Kind(), nil, o.Integration)
}

func (o Borrow) request() permissions.Request {
	return req(o.Kind(), []string{o.Asset}, o.Integration)
}

func (o Repay) request() permissions.Request {
	return req(o.Kind(), []string{o.Asset}, o.Integration)
}

// Result reports the realized effect of one operation.
type Result struct {
	Kind permissions.OperationKind
	// Sent lists amounts that left the account, net of fees.
	Sent []directory.Amount
	// Received lists amounts credited to the account, net of fees.
	Received []directory.Amount
	// USDValue is the value the fee computation was based on.
	USDValue *big.Int
	Fees     []events.FeeLeg
}

// BatchResult aggregates the results of a batch.
type BatchResult struct {
	BatchID string
	Results []Result
	Fees    []events.FeeLeg
}
