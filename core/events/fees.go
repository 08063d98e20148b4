package events

import (
	"math/big"
	"sort"
	"strconv"

	"agentvault/core/types"
)

const (
	// TypeFeesPaid marks a single operation whose fee legs were routed.
	TypeFeesPaid = "billing.fees.paid"
	// TypeBatchFeesPaid aggregates every fee leg of a batch into one record.
	TypeBatchFeesPaid = "billing.fees.batch_paid"
	// TypeSubscriptionPaid marks a subscription trial start or payment.
	TypeSubscriptionPaid = "billing.subscription.paid"
)

// FeeLeg is one routed portion of a fee.
type FeeLeg struct {
	Role      string
	Asset     string
	Amount    *big.Int
	Recipient types.Address
}

// FeesPaid records the outcome of a transaction fee evaluation.
type FeesPaid struct {
	Account  types.Address
	Agent    types.Address
	Kind     string
	Asset    string
	Gross    *big.Int
	USDValue *big.Int
	Legs     []FeeLeg
}

// EventType satisfies the events.Event interface.
func (FeesPaid) EventType() string { return TypeFeesPaid }

// Event converts the structured payload into a broadcastable event.
func (e FeesPaid) Event() *types.Event {
	attrs := map[string]string{"kind": e.Kind}
	putAddress(attrs, "account", e.Account)
	putAddress(attrs, "agent", e.Agent)
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	attrs["gross"] = formatAmount(e.Gross)
	putAmount(attrs, "usd", e.USDValue)
	putLegs(attrs, e.Legs)
	return &types.Event{Type: TypeFeesPaid, Attributes: attrs}
}

// BatchFeesPaid is emitted once per batch with the per-recipient, per-asset
// sum of every instruction's fee legs.
type BatchFeesPaid struct {
	Account      types.Address
	Agent        types.Address
	BatchID      string
	Instructions int
	Legs         []FeeLeg
}

func (BatchFeesPaid) EventType() string { return TypeBatchFeesPaid }

func (e BatchFeesPaid) Event() *types.Event {
	attrs := map[string]string{
		"batchId":      e.BatchID,
		"instructions": strconv.Itoa(e.Instructions),
	}
	putAddress(attrs, "account", e.Account)
	putAddress(attrs, "agent", e.Agent)
	putLegs(attrs, e.Legs)
	return &types.Event{Type: TypeBatchFeesPaid, Attributes: attrs}
}

// SubscriptionPaid captures a subscription touch that started a trial or
// collected a payment.
type SubscriptionPaid struct {
	Account     types.Address
	Agent       types.Address
	Scope       string
	Trial       bool
	PaidThrough uint64
	Asset       string
	USDValue    *big.Int
	Legs        []FeeLeg
}

func (SubscriptionPaid) EventType() string { return TypeSubscriptionPaid }

func (e SubscriptionPaid) Event() *types.Event {
	attrs := map[string]string{
		"scope":       e.Scope,
		"trial":       strconv.FormatBool(e.Trial),
		"paidThrough": formatUint(e.PaidThrough),
	}
	putAddress(attrs, "account", e.Account)
	putAddress(attrs, "agent", e.Agent)
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	putAmount(attrs, "usd", e.USDValue)
	putLegs(attrs, e.Legs)
	return &types.Event{Type: TypeSubscriptionPaid, Attributes: attrs}
}

// SumLegs merges legs that share a role, asset and recipient. The result is
// sorted for deterministic event payloads.
func SumLegs(legs []FeeLeg) []FeeLeg {
	type key struct {
		role      string
		asset     string
		recipient types.Address
	}
	totals := make(map[key]*big.Int)
	order := make([]key, 0)
	for _, leg := range legs {
		if leg.Amount == nil || leg.Amount.Sign() == 0 {
			continue
		}
		k := key{role: leg.Role, asset: normalizeAsset(leg.Asset), recipient: leg.Recipient}
		if existing, ok := totals[k]; ok {
			existing.Add(existing, leg.Amount)
			continue
		}
		totals[k] = new(big.Int).Set(leg.Amount)
		order = append(order, k)
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].role != order[j].role {
			return order[i].role < order[j].role
		}
		if order[i].asset != order[j].asset {
			return order[i].asset < order[j].asset
		}
		return order[i].recipient.Hex() < order[j].recipient.Hex()
	})
	out := make([]FeeLeg, 0, len(order))
	for _, k := range order {
		out = append(out, FeeLeg{Role: k.role, Asset: k.asset, Amount: totals[k], Recipient: k.recipient})
	}
	return out
}

func putLegs(attrs map[string]string, legs []FeeLeg) {
	for i, leg := range legs {
		prefix := "leg" + strconv.Itoa(i) + "."
		attrs[prefix+"role"] = leg.Role
		attrs[prefix+"asset"] = normalizeAsset(leg.Asset)
		attrs[prefix+"amount"] = formatAmount(leg.Amount)
		putAddress(attrs, prefix+"recipient", leg.Recipient)
	}
}
