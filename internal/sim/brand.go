package sim

// Benefits are a brand's normalized benefit scores, each in [0,1].
type Benefits struct {
	Performance   float64 `json:"performance"`
	Durability    float64 `json:"durability"`
	Style         float64 `json:"style"`
	Comfort       float64 `json:"comfort"`
	Lightweight   float64 `json:"lightweight"`
	Customization float64 `json:"customization"`
}

const (
	maxComponentRating  = 5
	baseUnitCost        = 150
	unitCostPerRating   = 40
	customizationRDGate = 500_000
)

// Clamp forces every rating into [0,5].
func (c Components) Clamp() Components {
	return Components{
		Frame:       clampRating(c.Frame),
		Wheels:      clampRating(c.Wheels),
		Drivetrain:  clampRating(c.Drivetrain),
		Brakes:      clampRating(c.Brakes),
		Suspension:  clampRating(c.Suspension),
		Seat:        clampRating(c.Seat),
		Handlebars:  clampRating(c.Handlebars),
		Electronics: clampRating(c.Electronics),
	}
}

func (c Components) values() [8]int {
	return [8]int{c.Frame, c.Wheels, c.Drivetrain, c.Brakes, c.Suspension, c.Seat, c.Handlebars, c.Electronics}
}

func clampRating(v int) int {
	if v < 0 {
		return 0
	}
	if v > maxComponentRating {
		return maxComponentRating
	}
	return v
}

// ScoreBrand maps a brand's component ratings to benefit scores.
func ScoreBrand(b Brand) Benefits {
	c := b.Components.Clamp()
	electronics := 0.0
	if c.Electronics > 0 {
		electronics = 1
	}
	customBase := 0.1
	if b.RDInvestment > customizationRDGate {
		customBase = 0.3
	}

	out := Benefits{
		Performance:   (float64(c.Drivetrain)*0.4 + float64(c.Frame)*0.3 + float64(c.Wheels)*0.3) / maxComponentRating,
		Durability:    (float64(c.Frame)*0.4 + float64(c.Brakes)*0.3 + float64(c.Wheels)*0.3) / maxComponentRating,
		Style:         (float64(c.Frame)*0.3 + float64(c.Handlebars)*0.3 + float64(c.Seat)*0.2 + electronics*0.2) / maxComponentRating,
		Comfort:       (float64(c.Seat)*0.4 + float64(c.Suspension)*0.3 + float64(c.Handlebars)*0.3) / maxComponentRating,
		Lightweight:   (float64(c.Frame)*0.5 + float64(c.Wheels)*0.3 + float64(c.Drivetrain)*0.2) / maxComponentRating,
		Customization: (float64(c.Electronics)*0.3 + customBase) / maxComponentRating,
	}
	out.Performance = clamp01(out.Performance)
	out.Durability = clamp01(out.Durability)
	out.Style = clamp01(out.Style)
	out.Comfort = clamp01(out.Comfort)
	out.Lightweight = clamp01(out.Lightweight)
	out.Customization = clamp01(out.Customization)
	return out
}

// UnitCost grows linearly with the summed component ratings.
func UnitCost(c Components) int64 {
	total := 0
	for _, v := range c.Clamp().values() {
		total += v
	}
	return int64(baseUnitCost + unitCostPerRating*total)
}

// OverallQuality is the mean of the non-zero component ratings, 0 when every
// rating is zero.
func OverallQuality(c Components) float64 {
	sum, n := 0, 0
	for _, v := range c.Clamp().values() {
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// Derive returns b with clamped components and recomputed quality and cost.
func Derive(b Brand) Brand {
	b.Components = b.Components.Clamp()
	b.OverallQuality = OverallQuality(b.Components)
	b.UnitCost = UnitCost(b.Components)
	return b
}
