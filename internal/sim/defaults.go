package sim

import "math"

// Default policy for fields a decision or brand may leave empty. Every
// fallback the engine applies is resolved through one of these helpers.
const (
	FallbackPrice              = 900
	DefaultAnnualCompensation  = 30_000
	DefaultTotalInvestment     = 5_000_000
	defaultChannel             = ChannelRetail
	untargetedBrandFitPenalty  = 0.6
	spilloverTargetingStrength = 0.3
)

// safe replaces NaN and ±Inf with 0.
func safe(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	v = safe(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

// MaxMoney bounds every currency amount the engine produces.
const MaxMoney int64 = 1 << 53

// money rounds a finite amount to whole currency units, saturating at
// ±MaxMoney.
func money(v float64) int64 {
	v = math.Round(safe(v))
	if v > float64(MaxMoney) {
		return MaxMoney
	}
	if v < -float64(MaxMoney) {
		return -MaxMoney
	}
	return int64(v)
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// boundedAmount clamps a decision amount to [0, MaxMoney].
func boundedAmount(v int64) int64 {
	return min(nonNegative(v), MaxMoney)
}

// ResolvePrice returns the brand's own price, then the team default, then
// FallbackPrice.
func ResolvePrice(p Pricing, brandID string) float64 {
	if v, ok := p.ByBrand[brandID]; ok && v > 0 {
		return float64(v)
	}
	if p.Default > 0 {
		return float64(p.Default)
	}
	return FallbackPrice
}

// ResolveCompensation returns the annual per-head compensation, defaulting
// when headcount is positive and no compensation was given.
func ResolveCompensation(sf SalesForce) float64 {
	if sf.Headcount <= 0 {
		return 0
	}
	if sf.Compensation > 0 {
		return float64(sf.Compensation)
	}
	return DefaultAnnualCompensation
}

func ResolveChannel(d Distribution) ChannelType {
	switch d.Channel {
	case ChannelShowroom, ChannelRetail, ChannelOnline:
		return d.Channel
	}
	return defaultChannel
}

// ResolveTotalInvestment is the wealth-creation denominator.
func ResolveTotalInvestment(t Team) float64 {
	if t.TotalInvestment > 0 {
		return float64(t.TotalInvestment)
	}
	return DefaultTotalInvestment
}

func resolveUnitCost(b Brand) float64 {
	if b.UnitCost > 0 {
		return float64(b.UnitCost)
	}
	return float64(UnitCost(b.Components))
}

func regionsOrDefault(rs []Region) []Region {
	if len(rs) == 0 {
		return AllRegions
	}
	out := make([]Region, 0, len(rs))
	seen := make(map[Region]bool, len(rs))
	for _, r := range AllRegions {
		for _, want := range rs {
			if want == r && !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}
