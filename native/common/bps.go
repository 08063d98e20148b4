package common

import "math/big"

// BpsDenominator is the fixed-point base for every percentage in the ledger.
const BpsDenominator = 10_000

var bpsDenominator = big.NewInt(BpsDenominator)

// ApplyBps returns amount*bps/10_000 rounded down. Nil or non-positive inputs
// yield zero.
func ApplyBps(amount *big.Int, bps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(bps)))
	return out.Quo(out, bpsDenominator)
}

// MulDiv returns a*b/c rounded down. A zero divisor yields zero.
func MulDiv(a, b, c *big.Int) *big.Int {
	if a == nil || b == nil || c == nil || c.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}

// CloneBig copies v, mapping nil to zero.
func CloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Positive reports whether v is strictly greater than zero.
func Positive(v *big.Int) bool { return v != nil && v.Sign() > 0 }
