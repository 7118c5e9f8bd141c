package sim

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Seasonality is indexed by (round-1) mod 8.
var Seasonality = [8]float64{1.0, 1.2, 0.8, 1.1, 1.3, 0.9, 1.15, 1.25}

const (
	maxCreationRatio    = 1.5
	creationPullPerTeam = 0.3
)

// Cell is the allocation of one (segment, region) pair.
type Cell struct {
	Segment           string      `json:"segment"`
	Region            Region      `json:"region"`
	AdjustedPotential int64       `json:"adjusted_potential"`
	TotalPull         float64     `json:"total_pull"`
	CreationRatio     float64     `json:"creation_ratio"`
	TotalDemand       int64       `json:"total_demand"`
	Entries           []CellEntry `json:"entries"`
}

// CellEntry is one team's position in a cell. Teams gated out by
// targeting strength carry zero pull and no fit.
type CellEntry struct {
	TeamID          string  `json:"team_id"`
	Targeting       float64 `json:"targeting"`
	Fit             *Fit    `json:"fit,omitempty"`
	Price           float64 `json:"price"`
	PriceAttraction float64 `json:"price_attraction"`
	AdReach         float64 `json:"ad_reach"`
	Sales           float64 `json:"sales"`
	Distribution    float64 `json:"distribution"`
	Pull            float64 `json:"pull"`
	Share           float64 `json:"share"`
	Demand          int64   `json:"demand"`
}

// competitor is the per-team input the allocator reads.
type competitor struct {
	team     Team
	decision Decision
	brands   []ScoredBrand
}

// AdjustedPotential applies growth and seasonality to a segment's regional
// baseline.
func AdjustedPotential(seg Segment, region Region, round int) int64 {
	base := float64(nonNegative(seg.Potential[region]))
	growth := 1 + safe(seg.GrowthRate)*float64(round-1)
	season := Seasonality[(round-1)%len(Seasonality)]
	return money(base * growth * season)
}

// allocate computes every (segment, region) cell. Cells are independent so
// they are evaluated concurrently into fixed slots; the returned order is
// segments outer, regions inner.
func allocate(round int, comps []competitor, segments []Segment, regions []Region) ([]Cell, error) {
	cells := make([]Cell, len(segments)*len(regions))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for si := range segments {
		for ri := range regions {
			idx := si*len(regions) + ri
			seg, region := segments[si], regions[ri]
			g.Go(func() error {
				cells[idx] = allocateCell(round, comps, seg, region)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cells, nil
}

func allocateCell(round int, comps []competitor, seg Segment, region Region) Cell {
	cell := Cell{
		Segment:           seg.Name,
		Region:            region,
		AdjustedPotential: AdjustedPotential(seg, region, round),
		Entries:           make([]CellEntry, len(comps)),
	}

	for i, c := range comps {
		e := CellEntry{TeamID: c.team.ID}
		e.Targeting = TargetingStrength(c.decision, region, hasTargetingBrand(seg, c.brands))
		if e.Targeting > 0 {
			e.Fit = ResolveFit(seg, c.brands)
		}
		if e.Fit != nil {
			e.Price = ResolvePrice(c.decision.Pricing, e.Fit.Brand.ID)
			e.PriceAttraction = PriceAttractiveness(e.Price, seg)
			e.AdReach = AdReach(c.decision, region, seg)
			e.Sales = SalesEffectiveness(c.decision, region)
			e.Distribution = DistributionCoverage(c.decision, region)
			e.Pull = safe(e.Targeting * e.Fit.Score * e.PriceAttraction * e.AdReach * e.Sales * e.Distribution)
		}
		cell.TotalPull += e.Pull
		cell.Entries[i] = e
	}

	cell.CreationRatio = math.Min(maxCreationRatio, safe(cell.TotalPull/math.Max(1, float64(len(comps))*creationPullPerTeam)))
	cell.TotalDemand = money(float64(cell.AdjustedPotential) * cell.CreationRatio)

	if cell.TotalPull <= 0 {
		return cell
	}
	for i := range cell.Entries {
		e := &cell.Entries[i]
		e.Share = safe(e.Pull / cell.TotalPull)
		e.Demand = money(float64(cell.TotalDemand) * e.Share)
	}
	return cell
}
