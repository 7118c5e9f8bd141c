package sim

import "math"

const (
	priceFloorFactor    = 0.7
	priceCeilFactor     = 1.5
	priceSteepness      = 3
	outOfBandPrice      = 0.1
	valuePricingBonus   = 1.1
	adSaturationSpend   = 500_000
	adTargetBonus       = 1.3
	adFloor             = 0.15
	factorCap           = 1.2
	noSalesForce        = 0.1
	salesSaturation     = 10
	outletSaturation    = 20
	internetRegionSplit = 3
)

// Reach-equivalent spend per internet marketing unit.
const (
	webPageReach     = 200
	seoReach         = 150
	paidSearchReach  = 300
	socialMediaReach = 250
)

// PriceAttractiveness scores price against seg's band.
func PriceAttractiveness(price float64, seg Segment) float64 {
	price = safe(price)
	if price < seg.MinPrice*priceFloorFactor || price > seg.MaxPrice*priceCeilFactor {
		return outOfBandPrice
	}
	mid := (seg.MinPrice + seg.MaxPrice) / 2
	if mid <= 0 {
		return outOfBandPrice
	}
	deviation := math.Abs(price-mid) / mid
	attr := math.Max(outOfBandPrice, 1-deviation*clamp01(seg.Weights.PriceSensitivity)*priceSteepness)
	if price < mid && price >= seg.MinPrice {
		return math.Min(1, attr*valuePricingBonus)
	}
	return math.Min(1, safe(attr))
}

// InternetReach is the reach-equivalent internet spend credited to each
// region.
func InternetReach(im InternetMarketing) float64 {
	total := float64(nonNegative(im.WebPages))*webPageReach +
		float64(nonNegative(im.SEO))*seoReach +
		float64(nonNegative(im.PaidSearch))*paidSearchReach +
		float64(nonNegative(im.SocialMedia))*socialMediaReach
	return total / internetRegionSplit
}

// AdReach scores a team's advertising in region for seg.
func AdReach(d Decision, region Region, seg Segment) float64 {
	ad := d.Advertising[region]
	total := float64(nonNegative(ad.Spend)) + InternetReach(d.Internet)
	reach := math.Min(1, math.Sqrt(total/adSaturationSpend))
	if ad.TargetSegment != "" && ad.TargetSegment == seg.Name {
		reach *= adTargetBonus
	}
	return clamp(reach, adFloor, factorCap)
}

// SalesEffectiveness scores a team's sales force in region.
func SalesEffectiveness(d Decision, region Region) float64 {
	sf := d.SalesForce[region]
	if sf.Headcount <= 0 {
		return noSalesForce
	}
	coverage := math.Min(1, math.Sqrt(float64(sf.Headcount)/salesSaturation))
	quality := 0.7 + ResolveCompensation(sf)/60_000*0.2 + float64(nonNegative(sf.Training))/10_000*0.1
	return clamp(coverage*quality, 0, factorCap)
}

func channelMultiplier(c ChannelType) float64 {
	switch c {
	case ChannelShowroom:
		return 1.3
	case ChannelOnline:
		return 0.9
	default:
		return 1.0
	}
}

// DistributionCoverage scores a team's outlets in region. Zero outlets
// yields exactly 0.
func DistributionCoverage(d Decision, region Region) float64 {
	dist := d.Distribution[region]
	if dist.Outlets <= 0 {
		return 0
	}
	coverage := math.Min(1, math.Sqrt(float64(dist.Outlets)/outletSaturation))
	return clamp(coverage*channelMultiplier(ResolveChannel(dist)), 0, factorCap)
}

// TargetingStrength gates a team's participation in a cell.
func TargetingStrength(d Decision, region Region, targets bool) float64 {
	if d.Distribution[region].Outlets <= 0 {
		return 0
	}
	if targets {
		return 1
	}
	return spilloverTargetingStrength
}
