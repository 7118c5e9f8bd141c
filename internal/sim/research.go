package sim

// research reshapes a resolved round into the competitor-visible summary.
func research(round int, comps []competitor, segments []Segment, cells []Cell, results map[string]RoundResult) MarketResearch {
	mr := MarketResearch{
		Round:            round,
		SegmentDemands:   make(map[string]map[Region]int64, len(segments)),
		CompetitorPrices: make(map[string]CompetitorPriceTable, len(comps)),
		BrandJudgments:   make(map[string]BrandJudgment, len(comps)),
		AdJudgments:      make(map[string]float64, len(comps)),
		Trends:           MarketTrends{Round: round},
	}

	for _, seg := range segments {
		mr.SegmentDemands[seg.Name] = map[Region]int64{}
	}
	for _, cell := range cells {
		mr.SegmentDemands[cell.Segment][cell.Region] += cell.TotalDemand
		mr.Trends.TotalIndustryDemand += cell.TotalDemand
	}

	var revenue, units int64
	for _, c := range comps {
		r := results[c.team.ID]
		revenue += r.Revenue
		units += r.UnitsSold

		table := CompetitorPriceTable{
			TeamName: c.team.Name,
			Brands:   make([]BrandPrice, 0, len(c.brands)),
			Default:  c.decision.Pricing.Default,
		}
		for _, sb := range c.brands {
			table.Brands = append(table.Brands, BrandPrice{
				BrandID:       sb.Brand.ID,
				BrandName:     sb.Brand.Name,
				TargetSegment: sb.Brand.TargetSegment,
				Price:         int64(ResolvePrice(c.decision.Pricing, sb.Brand.ID)),
			})
		}
		mr.CompetitorPrices[c.team.ID] = table
		mr.BrandJudgments[c.team.ID] = BrandJudgment{
			TeamName:            c.team.Name,
			BrandSatisfaction:   r.Satisfaction.Brand,
			OverallSatisfaction: r.Satisfaction.Overall,
		}
		mr.AdJudgments[c.team.ID] = r.Satisfaction.Ad
	}

	mr.Trends.AveragePrice = safe(float64(revenue) / float64(max(1, units)))
	if len(segments) > 0 {
		var growth float64
		for _, seg := range segments {
			growth += safe(seg.GrowthRate)
		}
		mr.Trends.GrowthRate = growth / float64(len(segments))
	}
	return mr
}
