package sim

import "fmt"

// Tracer observes each allocated cell. It is called from a single goroutine
// in segment-then-region order after allocation finishes.
type Tracer func(Cell)

type Options struct {
	Tracer Tracer
}

// ResolveRound turns one round's teams, segments and decisions into results
// and market research. It performs no I/O and returns identical output for
// identical input. A team without a decision is resolved with the zero
// Decision.
func ResolveRound(in RoundInput, opts Options) (RoundOutput, error) {
	if in.Round < 1 {
		return RoundOutput{}, fmt.Errorf("resolve round %d: %w", in.Round, ErrInvalidRound)
	}

	comps := make([]competitor, len(in.Teams))
	for i, t := range in.Teams {
		brands := make([]Brand, len(t.Brands))
		for j, b := range t.Brands {
			b.Components = b.Components.Clamp()
			brands[j] = b
		}
		comps[i] = competitor{
			team:     t,
			decision: in.Decisions[t.ID],
			brands:   ScoreBrands(brands),
		}
	}

	regions := regionsOrDefault(in.Regions)
	cells, err := allocate(in.Round, comps, in.Segments, regions)
	if err != nil {
		return RoundOutput{}, fmt.Errorf("allocate demand: %w", err)
	}
	if opts.Tracer != nil {
		for _, cell := range cells {
			opts.Tracer(cell)
		}
	}

	results := make(map[string]RoundResult, len(comps))
	for i, c := range comps {
		sales := collectSales(i, cells)
		r := RoundResult{TeamID: c.team.ID, Round: in.Round}
		statement(&r, c.team, c.decision, sales)
		r.MarketSharePrimary, r.MarketShareSecondary = marketShares(c.brands, in.Segments, sales)
		r.Satisfaction = Satisfy(c.brands, in.Segments, c.decision, r)
		r.Scorecard = Score(c.team, r, r.Satisfaction)
		results[c.team.ID] = r
	}

	return RoundOutput{
		Results:        results,
		MarketResearch: research(in.Round, comps, in.Segments, cells, results),
	}, nil
}
