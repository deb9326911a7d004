package execution

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var (
	one       = decimal.NewFromInt(1)
	hundred   = decimal.NewFromInt(100)
	bpsScale  = decimal.NewFromInt(10_000)
	minPrice  = decimal.RequireFromString("0.01")
	maxPrice  = decimal.RequireFromString("0.99")
	halfDepth = decimal.RequireFromString("0.5")
)

// CalculateFee returns the taker fee as a fraction of notional:
// p * (1 - p) * bps / 10000. It peaks at p = 0.5 and is zero at 0 and 1.
func CalculateFee(price decimal.Decimal, bps int) decimal.Decimal {
	if bps <= 0 || !price.IsPositive() || price.GreaterThanOrEqual(one) {
		return decimal.Zero
	}
	return price.Mul(one.Sub(price)).Mul(decimal.NewFromInt(int64(bps))).Div(bpsScale)
}

// ClampPrice bounds an outcome price to the tradable range [0.01, 0.99].
func ClampPrice(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(minPrice) {
		return minPrice
	}
	if p.GreaterThan(maxPrice) {
		return maxPrice
	}
	return p
}

// DelayImpactModel estimates how far the price moved between an observed
// trade and our copy of it.
type DelayImpactModel struct {
	BaseCoefficient float64 // percent per sqrt(second)
	MaxImpactPct    float64
	BaselineSpread  float64 // spread at which volatility factor is 1
}

// DefaultDelayImpactModel returns the calibrated defaults.
func DefaultDelayImpactModel() *DelayImpactModel {
	return &DelayImpactModel{BaseCoefficient: 0.8, MaxImpactPct: 10, BaselineSpread: 0.02}
}

// DelayImpact is one model evaluation.
type DelayImpact struct {
	Pct          float64
	Base         float64
	Liquidity    float64
	Volatility   float64
	DelaySeconds float64
}

// Impact evaluates the model. Unknown depth or spread (zero) leaves the
// matching factor at 1.
func (m *DelayImpactModel) Impact(delay time.Duration, orderSize, depthAtBest, spread decimal.Decimal) DelayImpact {
	if m == nil || delay <= 0 {
		return DelayImpact{Liquidity: 1, Volatility: 1}
	}

	out := DelayImpact{
		DelaySeconds: delay.Seconds(),
		Liquidity:    1,
		Volatility:   1,
	}
	out.Base = math.Sqrt(out.DelaySeconds) * m.BaseCoefficient

	if depthAtBest.IsPositive() {
		ratio, _ := orderSize.Div(depthAtBest.Mul(halfDepth)).Float64()
		out.Liquidity = clamp(ratio, 0.5, 2)
	}
	if spread.IsPositive() && m.BaselineSpread > 0 {
		s, _ := spread.Float64()
		out.Volatility = clamp(s/m.BaselineSpread, 0.5, 2)
	}

	out.Pct = math.Min(out.Base*out.Liquidity*out.Volatility, m.MaxImpactPct)
	return out
}

// Apply moves price against the taker by pct percent and clamps it.
func (d DelayImpact) Apply(price decimal.Decimal, buy bool) decimal.Decimal {
	if d.Pct <= 0 {
		return price
	}
	move := decimal.NewFromFloat(d.Pct).Div(hundred)
	if buy {
		return ClampPrice(price.Mul(one.Add(move)))
	}
	return ClampPrice(price.Mul(one.Sub(move)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
