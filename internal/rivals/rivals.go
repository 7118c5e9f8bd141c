// Package rivals generates decisions and starter brands for automated
// competitors. Output is a pure function of its parameters.
package rivals

import (
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"

	"marketsim/internal/sim"
)

type Personality struct {
	Name      string
	AdMult    float64
	PriceMult float64
	RDMult    float64
	SFMult    float64
}

var Personalities = []Personality{
	{Name: "conservative", AdMult: 0.7, PriceMult: 1.05, RDMult: 0.6, SFMult: 0.8},
	{Name: "aggressive", AdMult: 1.2, PriceMult: 0.92, RDMult: 1.1, SFMult: 1.1},
	{Name: "balanced", AdMult: 0.9, PriceMult: 1.0, RDMult: 0.85, SFMult: 0.95},
}

// PersonalityFor assigns personalities round-robin by rival index.
func PersonalityFor(index int) Personality {
	if index < 0 {
		index = -index
	}
	return Personalities[index%len(Personalities)]
}

type Params struct {
	GameID    string
	TeamIndex int
	Round     int
	Team      sim.Team
	Segments  []sim.Segment
	Regions   []sim.Region
}

const (
	cashShare          = 0.35
	salesHeadCost      = 35_000
	fallbackIdealPrice = 1000
)

func newRand(gameID string, teamIndex, round int) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(gameID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.Itoa(teamIndex)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.Itoa(round)))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

func roundScale(round int) float64 {
	return 0.6 + float64(round)/8*0.3
}

// Decisions builds one round's decision for a rival team.
func Decisions(p Params) sim.Decision {
	rng := newRand(p.GameID, p.TeamIndex, p.Round)
	pers := PersonalityFor(p.TeamIndex)
	scale := roundScale(p.Round)
	budget := math.Max(0, float64(p.Team.Cash)*cashShare*scale)

	regions := p.Regions
	if len(regions) == 0 {
		regions = sim.AllRegions
	}

	d := sim.Decision{Pricing: sim.Pricing{ByBrand: map[string]int64{}}}
	for _, b := range p.Team.Brands {
		ideal := idealPrice(p.Segments, b.TargetSegment)
		variation := (rng.Float64() - 0.5) * 0.15 * ideal
		d.Pricing.ByBrand[b.ID] = int64(math.Round(ideal*pers.PriceMult + variation))
	}
	if len(p.Team.Brands) == 0 {
		d.Pricing.Default = sim.FallbackPrice
	}
	if budget <= 0 {
		return d
	}

	adTarget := ""
	if len(p.Segments) > 0 {
		adTarget = p.Segments[0].Name
	}
	if len(p.Team.Brands) > 0 && p.Team.Brands[0].TargetSegment != "" {
		adTarget = p.Team.Brands[0].TargetSegment
	}

	adBudget := budget * 0.25 * pers.AdMult
	sfBudget := budget * 0.2 * pers.SFMult
	n := float64(len(regions))
	d.Advertising = make(map[sim.Region]sim.AdSpend, len(regions))
	d.SalesForce = make(map[sim.Region]sim.SalesForce, len(regions))
	d.Distribution = make(map[sim.Region]sim.Distribution, len(regions))
	for _, r := range regions {
		d.Advertising[r] = sim.AdSpend{
			Spend:         int64(math.Round(adBudget / n)),
			TargetSegment: adTarget,
		}

		heads := int64(math.Max(1, math.Round(sfBudget/n/salesHeadCost)))
		d.SalesForce[r] = sim.SalesForce{
			Headcount:    heads,
			Compensation: 30_000 + int64(math.Round(float64(p.Round)*1500)),
			Training:     int64(math.Round(float64(heads) * 2000 * scale)),
		}

		channel := sim.ChannelRetail
		if p.Round >= 5 {
			channel = sim.ChannelShowroom
		}
		d.Distribution[r] = sim.Distribution{
			Outlets: int64(math.Max(1, math.Round(3+float64(p.Round)*0.8*pers.SFMult))),
			Channel: channel,
		}
	}

	inet := budget * 0.08
	d.Internet = sim.InternetMarketing{
		WebPages:    units(inet*0.25, 5000),
		SEO:         units(inet*0.25, 3000),
		PaidSearch:  units(inet*0.25, 8000),
		SocialMedia: units(inet*0.25, 6000),
	}
	d.RDBudget = int64(math.Round(budget * 0.15 * pers.RDMult))
	if p.Round >= 6 {
		d.Dividend = int64(math.Round(budget * 0.05))
	}
	return d
}

func units(spend, cost float64) int64 {
	return int64(math.Max(1, math.Round(spend/cost)))
}

func idealPrice(segments []sim.Segment, name string) float64 {
	for _, s := range segments {
		if s.Name == name {
			return (s.MinPrice + s.MaxPrice) / 2
		}
	}
	return fallbackIdealPrice
}

var brandNames = [][2]string{
	{"Nova X1", "Nova Lite"},
	{"Zenith Pro", "Zenith Core"},
	{"Pulse Max", "Pulse Go"},
}

// StarterBrand returns the opening brand for the rival at teamIndex,
// targeting one of segments round-robin. ID is left for the caller.
func StarterBrand(gameID string, teamIndex int, segments []string) sim.Brand {
	rng := newRand(gameID, teamIndex, 0)
	target := ""
	if len(segments) > 0 {
		target = segments[teamIndex%len(segments)]
	}
	roll := func(base int) int { return base + rng.Intn(3) }
	b := sim.Brand{
		Name:          brandNames[teamIndex%len(brandNames)][0],
		TargetSegment: target,
		Components: sim.Components{
			Frame:       roll(4),
			Wheels:      roll(4),
			Drivetrain:  roll(4),
			Brakes:      roll(4),
			Suspension:  roll(3),
			Seat:        roll(4),
			Handlebars:  roll(4),
			Electronics: roll(2),
		},
	}
	return sim.Derive(b)
}
