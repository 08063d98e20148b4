package venues

import "math/big"

// InterestModel shapes the credit line borrow rate around a utilisation
// kink.
type InterestModel struct {
	// BaseRate is the borrow APR at zero utilisation.
	BaseRate *big.Rat
	Slope1   *big.Rat
	// Slope2 applies to utilisation beyond Kink.
	Slope2 *big.Rat
	Kink   *big.Rat
}

// NewInterestModel constructs an interest model from decimals, e.g. a 2%
// base rate is 0.02.
func NewInterestModel(baseRate, slope1, slope2, kink float64) *InterestModel {
	model := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.Kink.SetFloat64(kink)
	return model
}

// Utilisation computes borrowed / supplied, zero when nothing is supplied.
func (m *InterestModel) Utilisation(borrowed, supplied *big.Int) *big.Rat {
	if borrowed == nil || borrowed.Sign() == 0 || supplied == nil || supplied.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(borrowed, supplied)
}

// BorrowAPR derives the borrow APR at the current utilisation.
func (m *InterestModel) BorrowAPR(borrowed, supplied *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	utilisation := m.Utilisation(borrowed, supplied)
	if utilisation.Sign() == 0 {
		return rate
	}
	kink := cloneRat(m.Kink)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), utilisation))
	}
	rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope1), kink))
	excess := new(big.Rat).Sub(utilisation, kink)
	return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope2), excess))
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultInterestModel is a kinked curve with a modest base rate.
var DefaultInterestModel = NewInterestModel(0.02, 0.15, 0.6, 0.8)
