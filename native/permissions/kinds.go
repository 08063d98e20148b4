package permissions

import (
	"fmt"
	"strings"
)

// OperationKind identifies one of the state-changing operation families an
// agent may be allowed to perform.
type OperationKind uint8

const (
	KindDeposit OperationKind = iota
	KindWithdraw
	KindRebalance
	KindTransfer
	KindSwap
	KindConversion
	KindAddLiquidity
	KindRemoveLiquidity
	KindClaimRewards
	KindBorrow
	KindRepay

	kindCount
)

var kindNames = [...]string{
	KindDeposit:         "deposit",
	KindWithdraw:        "withdraw",
	KindRebalance:       "rebalance",
	KindTransfer:        "transfer",
	KindSwap:            "swap",
	KindConversion:      "conversion",
	KindAddLiquidity:    "add_liquidity",
	KindRemoveLiquidity: "remove_liquidity",
	KindClaimRewards:    "claim_rewards",
	KindBorrow:          "borrow",
	KindRepay:           "repay",
}

// AllKinds lists every operation kind in bit order.
func AllKinds() []OperationKind {
	out := make([]OperationKind, 0, kindCount)
	for k := OperationKind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Valid reports whether k is a known kind.
func (k OperationKind) Valid() bool { return k < kindCount }

func (k OperationKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// ParseKind resolves a kind from its snake_case name. Dashes and case are
// ignored.
func ParseKind(name string) (OperationKind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for k := OperationKind(0); k < kindCount; k++ {
		if kindNames[k] == normalized {
			return k, nil
		}
	}
	return 0, fmt.Errorf("permissions: unknown operation kind %q", name)
}

// KindSet is the 11-bit allow-list of operation kinds.
type KindSet uint16

// FullKindSet allows every operation kind.
const FullKindSet KindSet = 1<<kindCount - 1

// NewKindSet builds a set from the supplied kinds, ignoring unknown ones.
func NewKindSet(kinds ...OperationKind) KindSet {
	var set KindSet
	for _, k := range kinds {
		if k.Valid() {
			set |= 1 << k
		}
	}
	return set
}

// Has reports whether k is in the set.
func (s KindSet) Has(k OperationKind) bool {
	return k.Valid() && s&(1<<k) != 0
}

// Kinds expands the set in bit order.
func (s KindSet) Kinds() []OperationKind {
	var out []OperationKind
	for k := OperationKind(0); k < kindCount; k++ {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}
