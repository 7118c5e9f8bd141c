package sim

import "math"

const (
	defaultBrandSatisfaction = 0.3
	defaultPriceSatisfaction = 0.5
	noRevenueAdSatisfaction  = 0.3
	targetMargin             = 0.30
	targetInvestmentPercent  = 5
	maxWealthCreation        = 1.5
)

// Satisfy derives satisfaction sub-scores for a team from its targeted
// brands and round financials.
func Satisfy(brands []ScoredBrand, segments []Segment, d Decision, r RoundResult) Satisfaction {
	bySegment := make(map[string]Segment, len(segments))
	for _, s := range segments {
		bySegment[s.Name] = s
	}

	var fitSum, priceSum float64
	targeted := 0
	for _, sb := range brands {
		seg, ok := bySegment[sb.Brand.TargetSegment]
		if !ok {
			continue
		}
		targeted++
		fitSum += FitScore(sb.Benefits, seg.Weights)
		priceSum += PriceAttractiveness(ResolvePrice(d.Pricing, sb.Brand.ID), seg)
	}

	s := Satisfaction{
		Brand: defaultBrandSatisfaction,
		Price: defaultPriceSatisfaction,
		Ad:    adSatisfaction(r),
	}
	if targeted > 0 {
		s.Brand = math.Min(1, fitSum/float64(targeted)*2)
		s.Price = clamp01(priceSum / float64(targeted))
	}
	s.Overall = clamp01(0.4*s.Brand + 0.2*s.Ad + 0.4*s.Price)
	return s
}

func adSatisfaction(r RoundResult) float64 {
	if r.Revenue <= 0 {
		return noRevenueAdSatisfaction
	}
	ratio := safe(float64(r.AdvertisingExpense+r.InternetExpense) / float64(r.Revenue))
	switch {
	case ratio >= 0.10 && ratio <= 0.20:
		return 0.9
	case ratio >= 0.05 && ratio <= 0.30:
		return 0.7
	default:
		return 0.4
	}
}

// Score computes the balanced scorecard. Financial performance may go
// negative on losses, bounded at -1.
func Score(t Team, r RoundResult, sat Satisfaction) Scorecard {
	var sc Scorecard

	if r.Revenue > 0 {
		margin := float64(r.OperatingProfit) / float64(r.Revenue)
		sc.FinancialPerformance = clamp(margin/targetMargin, -1, 1)
		pct := float64(r.RDExpense+r.DistributionExpense) / float64(r.Revenue) * 100
		sc.InvestmentInFuture = clamp(pct/targetInvestmentPercent, 0, 1)
	}
	sc.MarketPerformance = clamp01(0.7*r.MarketSharePrimary + 0.3*r.MarketShareSecondary)
	sc.MarketingEffectiveness = sat.Overall

	invested := ResolveTotalInvestment(t)
	sc.CreationOfWealth = clamp((float64(t.CumulativeProfit+r.NetIncome)+invested)/invested, 0, maxWealthCreation)

	sc.Balanced = clamp(
		sc.FinancialPerformance*30+
			sc.MarketPerformance*25+
			sc.MarketingEffectiveness*20+
			sc.InvestmentInFuture*10+
			sc.CreationOfWealth*15,
		0, 100)
	return sc
}

// marketShares returns the best share among segments the team targets and
// the best among the rest.
func marketShares(brands []ScoredBrand, segments []Segment, s teamSales) (primary, secondary float64) {
	targets := make(map[string]bool, len(brands))
	for _, sb := range brands {
		if sb.Brand.TargetSegment != "" {
			targets[sb.Brand.TargetSegment] = true
		}
	}
	for _, seg := range segments {
		total := s.segmentDemand[seg.Name]
		if total <= 0 {
			continue
		}
		share := clamp01(float64(s.bySegment[seg.Name]) / float64(total))
		if targets[seg.Name] {
			primary = math.Max(primary, share)
		} else {
			secondary = math.Max(secondary, share)
		}
	}
	return primary, secondary
}
