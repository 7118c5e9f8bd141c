package sim

// ScoredBrand pairs a brand with its benefit scores.
type ScoredBrand struct {
	Brand    Brand
	Benefits Benefits
}

// Fit is a team's best brand for a segment.
type Fit struct {
	Brand    Brand
	Score    float64
	Targeted bool
}

func ScoreBrands(brands []Brand) []ScoredBrand {
	out := make([]ScoredBrand, len(brands))
	for i, b := range brands {
		out[i] = ScoredBrand{Brand: b, Benefits: ScoreBrand(b)}
	}
	return out
}

// FitScore is the weighted dot product of benefits against a segment's
// preference weights.
func FitScore(b Benefits, w Weights) float64 {
	return safe(b.Performance*clamp01(w.Performance) +
		b.Durability*clamp01(w.Durability) +
		b.Style*clamp01(w.Style) +
		b.Comfort*clamp01(w.Comfort) +
		b.Lightweight*clamp01(w.Lightweight) +
		b.Customization*clamp01(w.Customization))
}

// ResolveFit picks the best-fitting brand for seg. Brands targeting seg are
// preferred; otherwise every brand competes at a penalty. Returns nil when
// brands is empty. Ties keep the first brand.
func ResolveFit(seg Segment, brands []ScoredBrand) *Fit {
	if len(brands) == 0 {
		return nil
	}
	var best *Fit
	for _, sb := range brands {
		if sb.Brand.TargetSegment != seg.Name {
			continue
		}
		score := FitScore(sb.Benefits, seg.Weights)
		if best == nil || score > best.Score {
			best = &Fit{Brand: sb.Brand, Score: score, Targeted: true}
		}
	}
	if best != nil {
		return best
	}
	for _, sb := range brands {
		score := FitScore(sb.Benefits, seg.Weights) * untargetedBrandFitPenalty
		if best == nil || score > best.Score {
			best = &Fit{Brand: sb.Brand, Score: score}
		}
	}
	return best
}

func hasTargetingBrand(seg Segment, brands []ScoredBrand) bool {
	for _, sb := range brands {
		if sb.Brand.TargetSegment == seg.Name {
			return true
		}
	}
	return false
}
