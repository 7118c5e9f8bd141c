package sim

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func workerSegment() Segment {
	return Segment{
		Name:       "Worker",
		Potential:  map[Region]int64{RegionLatam: 3000, RegionEurope: 5000, RegionApac: 4000},
		GrowthRate: 0.05,
		MinPrice:   600,
		MaxPrice:   1000,
		Weights: Weights{
			PriceSensitivity: 0.25,
			Performance:      0.10,
			Durability:       0.25,
			Style:            0.05,
			Comfort:          0.25,
			Lightweight:      0.05,
			Customization:    0.05,
		},
	}
}

func youthSegment() Segment {
	return Segment{
		Name:       "Youth",
		Potential:  map[Region]int64{RegionLatam: 5000, RegionEurope: 4000, RegionApac: 6000},
		GrowthRate: 0.10,
		MinPrice:   500,
		MaxPrice:   900,
		Weights: Weights{
			PriceSensitivity: 0.30,
			Performance:      0.05,
			Durability:       0.10,
			Style:            0.30,
			Comfort:          0.10,
			Lightweight:      0.05,
			Customization:    0.10,
		},
	}
}

func testBrand(id, target string) Brand {
	return Derive(Brand{
		ID:            id,
		Name:          "Brand " + id,
		TargetSegment: target,
		Components: Components{
			Frame: 3, Wheels: 3, Drivetrain: 3, Brakes: 3,
			Suspension: 3, Seat: 3, Handlebars: 3, Electronics: 0,
		},
	})
}

func launchDecision(brandID string, outlets int64) Decision {
	return Decision{
		Pricing: Pricing{ByBrand: map[string]int64{brandID: 800}},
		Advertising: map[Region]AdSpend{
			RegionLatam: {Spend: 300_000, TargetSegment: "Worker"},
		},
		Distribution: map[Region]Distribution{
			RegionLatam: {Outlets: outlets, Channel: ChannelRetail},
		},
	}
}

func TestPriceAttractiveness(t *testing.T) {
	seg := workerSegment()
	tests := []struct {
		name  string
		price float64
		want  float64
	}{
		{name: "above ceiling", price: 2000, want: 0.1},
		{name: "below floor", price: 400, want: 0.1},
		{name: "midpoint", price: 800, want: 1},
		{name: "value priced", price: 700, want: 0.90625 * 1.1},
		{name: "premium", price: 900, want: 0.90625},
	}
	for _, tc := range tests {
		got := PriceAttractiveness(tc.price, seg)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: got %f want %f", tc.name, got, tc.want)
		}
	}
}

func TestFactorBounds(t *testing.T) {
	seg := workerSegment()
	d := Decision{
		Advertising:  map[Region]AdSpend{RegionLatam: {Spend: 50_000_000, TargetSegment: "Worker"}},
		SalesForce:   map[Region]SalesForce{RegionLatam: {Headcount: 500, Compensation: 500_000, Training: 1_000_000}},
		Distribution: map[Region]Distribution{RegionLatam: {Outlets: 1000, Channel: ChannelShowroom}},
	}
	if got := AdReach(d, RegionLatam, seg); got != factorCap {
		t.Fatalf("ad reach not capped: %f", got)
	}
	if got := AdReach(Decision{}, RegionLatam, seg); got != adFloor {
		t.Fatalf("ad reach floor: got %f", got)
	}
	if got := SalesEffectiveness(d, RegionLatam); got != factorCap {
		t.Fatalf("sales not capped: %f", got)
	}
	if got := SalesEffectiveness(Decision{}, RegionLatam); got != noSalesForce {
		t.Fatalf("empty sales force: got %f", got)
	}
	if got := DistributionCoverage(d, RegionLatam); got != factorCap {
		t.Fatalf("distribution not capped: %f", got)
	}
	if got := DistributionCoverage(Decision{}, RegionLatam); got != 0 {
		t.Fatalf("zero outlets must gate to 0, got %f", got)
	}
}

func TestResolveFit(t *testing.T) {
	seg := workerSegment()
	if ResolveFit(seg, nil) != nil {
		t.Fatalf("expected nil fit without brands")
	}

	untargeted := ScoreBrands([]Brand{testBrand("a", "Youth")})
	fit := ResolveFit(seg, untargeted)
	want := FitScore(untargeted[0].Benefits, seg.Weights) * untargetedBrandFitPenalty
	if fit == nil || fit.Targeted || math.Abs(fit.Score-want) > 1e-12 {
		t.Fatalf("untargeted fit = %+v, want score %f", fit, want)
	}

	both := ScoreBrands([]Brand{testBrand("a", "Youth"), testBrand("b", "Worker"), testBrand("c", "Worker")})
	fit = ResolveFit(seg, both)
	if fit == nil || !fit.Targeted || fit.Brand.ID != "b" {
		t.Fatalf("expected first targeted brand b, got %+v", fit)
	}
}

func TestBrandDerivedValues(t *testing.T) {
	b := Derive(Brand{Components: Components{Frame: 9, Wheels: 4, Drivetrain: -2, Electronics: 0}})
	if b.Components.Frame != 5 || b.Components.Drivetrain != 0 {
		t.Fatalf("components not clamped: %+v", b.Components)
	}
	if b.UnitCost != 150+40*9 {
		t.Fatalf("unit cost = %d", b.UnitCost)
	}
	if b.OverallQuality != 4.5 {
		t.Fatalf("overall quality = %f", b.OverallQuality)
	}
	if got := OverallQuality(Components{}); got != 0 {
		t.Fatalf("all-zero quality = %f", got)
	}
	s := ScoreBrand(testBrand("a", ""))
	if math.Abs(s.Performance-0.6) > 1e-12 {
		t.Fatalf("performance = %f", s.Performance)
	}
}

func TestResolveRoundInvalidRound(t *testing.T) {
	_, err := ResolveRound(RoundInput{Round: 0}, Options{})
	if !errors.Is(err, ErrInvalidRound) {
		t.Fatalf("expected ErrInvalidRound, got %v", err)
	}
}

func TestSingleTeamLaunch(t *testing.T) {
	team := Team{ID: "t1", Name: "Alpha", Cash: 5_000_000, Brands: []Brand{testBrand("b1", "Worker")}}
	out, err := ResolveRound(RoundInput{
		Round:     1,
		Teams:     []Team{team},
		Segments:  []Segment{workerSegment()},
		Decisions: map[string]Decision{"t1": launchDecision("b1", 10)},
	}, Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	r := out.Results["t1"]
	if r.UnitsSold <= 0 || r.Revenue <= 0 {
		t.Fatalf("expected demand and revenue, got units=%d revenue=%d", r.UnitsSold, r.Revenue)
	}
	if r.Scorecard.Balanced <= 0 || r.Scorecard.Balanced >= 100 {
		t.Fatalf("balanced scorecard out of (0,100): %f", r.Scorecard.Balanced)
	}
	if r.MarketSharePrimary != 1 {
		t.Fatalf("sole seller share = %f", r.MarketSharePrimary)
	}
	if r.DistributionExpense != 500_000 || r.AdvertisingExpense != 300_000 {
		t.Fatalf("unexpected expenses: dist=%d ad=%d", r.DistributionExpense, r.AdvertisingExpense)
	}
}

func TestDistributionAdvantageWinsShare(t *testing.T) {
	teams := []Team{
		{ID: "a", Name: "A", Cash: 5_000_000, Brands: []Brand{testBrand("ba", "Worker")}},
		{ID: "b", Name: "B", Cash: 5_000_000, Brands: []Brand{testBrand("bb", "Worker")}},
	}
	var cells []Cell
	_, err := ResolveRound(RoundInput{
		Round:    2,
		Teams:    teams,
		Segments: []Segment{workerSegment()},
		Decisions: map[string]Decision{
			"a": launchDecision("ba", 20),
			"b": launchDecision("bb", 10),
		},
		Regions: []Region{RegionLatam},
	}, Options{Tracer: func(c Cell) { cells = append(cells, c) }})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(cells) != 1 {
		t.Fatalf("expected one traced cell, got %d", len(cells))
	}
	if share := cells[0].Entries[0].Share; share <= 0.5 {
		t.Fatalf("team with double distribution got share %f", share)
	}
}

func TestEmptyDecisionLeavesCashUnchanged(t *testing.T) {
	team := Team{ID: "idle", Name: "Idle", Cash: 4_200_000, Brands: []Brand{testBrand("b1", "Worker")}}
	out, err := ResolveRound(RoundInput{
		Round:    3,
		Teams:    []Team{team},
		Segments: []Segment{workerSegment()},
	}, Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	r := out.Results["idle"]
	if r.UnitsSold != 0 || r.Revenue != 0 || r.TotalExpenses != 0 {
		t.Fatalf("idle team produced activity: %+v", r)
	}
	if r.EndingCash != r.BeginningCash || r.EndingCash != team.Cash {
		t.Fatalf("ending cash %d, beginning %d", r.EndingCash, r.BeginningCash)
	}
}

func TestGrowthRaisesPotential(t *testing.T) {
	seg := workerSegment()
	r1 := float64(AdjustedPotential(seg, RegionEurope, 1)) / Seasonality[0]
	r5 := float64(AdjustedPotential(seg, RegionEurope, 5)) / Seasonality[4]
	if r5 <= r1 {
		t.Fatalf("round 5 potential %f not above round 1 %f", r5, r1)
	}
	if got := AdjustedPotential(seg, RegionEurope, 1); got != 5000 {
		t.Fatalf("round 1 potential = %d", got)
	}
	if got := AdjustedPotential(seg, RegionEurope, 5); got != 7800 {
		t.Fatalf("round 5 potential = %d", got)
	}
}

func TestNoDistributionMeansNoDemand(t *testing.T) {
	d := launchDecision("b1", 0)
	d.Advertising[RegionEurope] = AdSpend{Spend: 2_000_000, TargetSegment: "Worker"}
	d.SalesForce = map[Region]SalesForce{RegionEurope: {Headcount: 20}}
	out, err := ResolveRound(RoundInput{
		Round:     1,
		Teams:     []Team{{ID: "t", Name: "T", Cash: 1_000_000, Brands: []Brand{testBrand("b1", "Worker")}}},
		Segments:  []Segment{workerSegment(), youthSegment()},
		Decisions: map[string]Decision{"t": d},
	}, Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := out.Results["t"].UnitsSold; got != 0 {
		t.Fatalf("expected no demand without outlets, got %d", got)
	}
}

func competitiveInput() RoundInput {
	teams := []Team{
		{ID: "a", Name: "A", Cash: 5_000_000, Brands: []Brand{testBrand("a1", "Worker"), testBrand("a2", "Youth")}},
		{ID: "b", Name: "B", Cash: 5_000_000, Brands: []Brand{testBrand("b1", "Youth")}},
		{ID: "c", Name: "C", Cash: 5_000_000},
		{ID: "d", Name: "D", Cash: 0, Brands: []Brand{testBrand("d1", "")}},
	}
	a := launchDecision("a1", 15)
	a.Distribution[RegionApac] = Distribution{Outlets: 5, Channel: ChannelOnline}
	a.Internet = InternetMarketing{WebPages: 4, SocialMedia: 10}
	b := launchDecision("b1", 8)
	b.Pricing.Default = 650
	b.SalesForce = map[Region]SalesForce{RegionLatam: {Headcount: 6, Compensation: 42_000, Training: 5_000}}
	b.RDBudget = 250_000
	b.Dividend = 100_000
	d := Decision{
		Distribution: map[Region]Distribution{RegionEurope: {Outlets: 40, Channel: ChannelShowroom}},
		Advertising:  map[Region]AdSpend{RegionEurope: {Spend: 3_000_000}},
	}
	return RoundInput{
		Round:     4,
		Teams:     teams,
		Segments:  []Segment{workerSegment(), youthSegment()},
		Decisions: map[string]Decision{"a": a, "b": b, "d": d},
	}
}

func TestSharesAreBounded(t *testing.T) {
	var cells []Cell
	_, err := ResolveRound(competitiveInput(), Options{Tracer: func(c Cell) { cells = append(cells, c) }})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(cells) != 2*len(AllRegions) {
		t.Fatalf("expected %d cells, got %d", 2*len(AllRegions), len(cells))
	}
	for _, c := range cells {
		var sum float64
		for _, e := range c.Entries {
			if math.IsNaN(e.Share) {
				t.Fatalf("NaN share in %s/%s", c.Segment, c.Region)
			}
			if c.TotalPull == 0 && e.Demand != 0 {
				t.Fatalf("demand without pull in %s/%s", c.Segment, c.Region)
			}
			sum += e.Share
		}
		if sum > 1+1e-9 {
			t.Fatalf("shares in %s/%s sum to %f", c.Segment, c.Region, sum)
		}
	}
}

func TestCashIdentityWithoutClamp(t *testing.T) {
	out, err := ResolveRound(competitiveInput(), Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for id, r := range out.Results {
		if r.EndingCash != r.BeginningCash+r.NetIncome-r.Dividend {
			t.Fatalf("team %s cash identity broken: %+v", id, r)
		}
	}
	if got := out.Results["d"].EndingCash; got >= 0 {
		t.Fatalf("expected negative cash for overspending team, got %d", got)
	}
}

func TestResolveRoundIsDeterministic(t *testing.T) {
	first, err := ResolveRound(competitiveInput(), Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := ResolveRound(competitiveInput(), Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Fatalf("outputs differ for identical input")
	}
}

func TestMarketResearch(t *testing.T) {
	out, err := ResolveRound(competitiveInput(), Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	mr := out.MarketResearch
	if mr.Round != 4 || len(mr.CompetitorPrices) != 4 {
		t.Fatalf("unexpected research header: round=%d teams=%d", mr.Round, len(mr.CompetitorPrices))
	}
	var total int64
	for _, byRegion := range mr.SegmentDemands {
		for _, v := range byRegion {
			total += v
		}
	}
	if total != mr.Trends.TotalIndustryDemand {
		t.Fatalf("industry demand %d != segment sum %d", mr.Trends.TotalIndustryDemand, total)
	}
	if math.Abs(mr.Trends.GrowthRate-0.075) > 1e-12 {
		t.Fatalf("growth rate = %f", mr.Trends.GrowthRate)
	}
	prices := mr.CompetitorPrices["b"]
	if len(prices.Brands) != 1 || prices.Brands[0].Price != 800 || prices.Default != 650 {
		t.Fatalf("team b prices = %+v", prices)
	}
}

func TestSpilloverGate(t *testing.T) {
	in := competitiveInput()
	var cells []Cell
	if _, err := ResolveRound(in, Options{Tracer: func(c Cell) { cells = append(cells, c) }}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	d1 := ScoreBrand(in.Teams[3].Brands[0])
	segments := map[string]Segment{"Worker": workerSegment(), "Youth": youthSegment()}
	checked := 0
	for _, c := range cells {
		for _, e := range c.Entries {
			if e.TeamID != "d" {
				continue
			}
			if c.Region != RegionEurope {
				if e.Targeting != 0 || e.Fit != nil {
					t.Fatalf("d has no outlets in %s but got targeting %v", c.Region, e.Targeting)
				}
				continue
			}
			if e.Targeting != spilloverTargetingStrength {
				t.Fatalf("%s/%s targeting = %v want %v", c.Segment, c.Region, e.Targeting, spilloverTargetingStrength)
			}
			if e.Fit == nil || e.Fit.Targeted {
				t.Fatalf("%s/%s expected untargeted fit, got %+v", c.Segment, c.Region, e.Fit)
			}
			want := FitScore(d1, segments[c.Segment].Weights) * untargetedBrandFitPenalty
			if math.Abs(e.Fit.Score-want) > 1e-12 {
				t.Fatalf("%s/%s fit = %v want %v", c.Segment, c.Region, e.Fit.Score, want)
			}
			checked++
		}
	}
	if checked != 2 {
		t.Fatalf("checked %d europe cells for d, want 2", checked)
	}
}

func TestSatisfactionDefaultsWithoutTargetedBrands(t *testing.T) {
	out, err := ResolveRound(competitiveInput(), Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, id := range []string{"c", "d"} {
		s := out.Results[id].Satisfaction
		if s.Brand != defaultBrandSatisfaction || s.Price != defaultPriceSatisfaction {
			t.Fatalf("team %s satisfaction = %+v", id, s)
		}
	}

	s := Satisfy(ScoreBrands([]Brand{testBrand("x", "")}), []Segment{workerSegment()}, Decision{}, RoundResult{})
	if s.Brand != 0.3 || s.Price != 0.5 || s.Ad != noRevenueAdSatisfaction {
		t.Fatalf("satisfaction = %+v", s)
	}
}
