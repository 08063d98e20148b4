package venues

import "math/big"

const ticksPerYear = 31_536_000

var (
	ray     = mustBigInt("1000000000000000000000000000") // 1e27 precision
	halfRay = new(big.Int).Rsh(ray, 1)
	// minLiquidity is locked forever on a pool's first deposit.
	minLiquidity = big.NewInt(1_000)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	product.Quo(product, ray)
	return product
}

func rayDiv(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, ray)
	numerator.Add(numerator, new(big.Int).Rsh(b, 1))
	numerator.Quo(numerator, b)
	return numerator
}

func ratToRay(r *big.Rat) *big.Int {
	if r == nil {
		return new(big.Int).Set(ray)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(ray))
	result := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if result.Sign() == 0 {
		return new(big.Int).Set(ray)
	}
	return result
}

// rateFactor is the ray-scaled growth factor of rate applied over delta
// ticks.
func rateFactor(rate *big.Rat, delta uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || delta == 0 {
		return new(big.Int).Set(ray)
	}
	perTick := new(big.Rat).Set(rate)
	perTick.Quo(perTick, new(big.Rat).SetUint64(ticksPerYear))
	perTick.Mul(perTick, new(big.Rat).SetUint64(delta))
	return ratToRay(new(big.Rat).Add(big.NewRat(1, 1), perTick))
}

func mulDiv(a, b, c *big.Int) *big.Int {
	if a == nil || b == nil || c == nil || c.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}

func mulDivUp(a, b, c *big.Int) *big.Int {
	if a == nil || b == nil || c == nil || c.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	out.Add(out, new(big.Int).Sub(c, big.NewInt(1)))
	return out.Quo(out, c)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
