package events

import (
	"math/big"
	"strconv"
	"strings"

	"agentvault/core/types"
)

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func putAddress(attrs map[string]string, key string, addr types.Address) {
	if !addr.IsZero() {
		attrs[key] = addr.Hex()
	}
}

func putAmount(attrs map[string]string, key string, v *big.Int) {
	if v != nil && v.Sign() != 0 {
		attrs[key] = v.String()
	}
}
