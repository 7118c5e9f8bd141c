package scenario

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"marketsim/internal/sim"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	ErrUnknownScenario = errors.New("unknown scenario")
	ErrInvalidCatalog  = errors.New("invalid scenario catalog")
)

type Scenario struct {
	ID           string       `yaml:"id" json:"id"`
	Name         string       `yaml:"name" json:"name"`
	Description  string       `yaml:"description" json:"description"`
	Regions      []sim.Region `yaml:"regions" json:"regions"`
	Segments     []string     `yaml:"segments" json:"segments"`
	StartingCash int64        `yaml:"starting_cash" json:"starting_cash"`
	MaxTeams     int          `yaml:"max_teams" json:"max_teams"`
	MaxBrands    int          `yaml:"max_brands" json:"max_brands"`
	Rounds       int          `yaml:"rounds" json:"rounds"`
}

type segmentDoc struct {
	Name       string           `yaml:"name"`
	Potential  map[string]int64 `yaml:"potential"`
	GrowthRate float64          `yaml:"growth_rate"`
	MinPrice   float64          `yaml:"min_price"`
	MaxPrice   float64          `yaml:"max_price"`
	Weights    struct {
		PriceSensitivity float64 `yaml:"price_sensitivity"`
		Performance      float64 `yaml:"performance"`
		Durability       float64 `yaml:"durability"`
		Style            float64 `yaml:"style"`
		Comfort          float64 `yaml:"comfort"`
		Lightweight      float64 `yaml:"lightweight"`
		Customization    float64 `yaml:"customization"`
	} `yaml:"weights"`
}

type catalogDoc struct {
	Segments  []segmentDoc `yaml:"segments"`
	Scenarios []Scenario   `yaml:"scenarios"`
}

// Catalog is an immutable set of scenarios and the segments they draw from.
type Catalog struct {
	scenarios []Scenario
	segments  []sim.Segment
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded scenario catalog: %v", err))
	}
	return c
}

func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func Parse(raw []byte) (*Catalog, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("scenarios yaml: %w", err)
	}

	c := &Catalog{}
	names := make(map[string]bool, len(doc.Segments))
	for _, s := range doc.Segments {
		if s.Name == "" || names[s.Name] {
			return nil, fmt.Errorf("%w: segment name %q missing or duplicated", ErrInvalidCatalog, s.Name)
		}
		if s.MinPrice <= 0 || s.MaxPrice < s.MinPrice {
			return nil, fmt.Errorf("%w: segment %s price band %v..%v", ErrInvalidCatalog, s.Name, s.MinPrice, s.MaxPrice)
		}
		names[s.Name] = true
		seg := sim.Segment{
			Name:       s.Name,
			Potential:  make(map[sim.Region]int64, len(s.Potential)),
			GrowthRate: s.GrowthRate,
			MinPrice:   s.MinPrice,
			MaxPrice:   s.MaxPrice,
			Weights: sim.Weights{
				PriceSensitivity: s.Weights.PriceSensitivity,
				Performance:      s.Weights.Performance,
				Durability:       s.Weights.Durability,
				Style:            s.Weights.Style,
				Comfort:          s.Weights.Comfort,
				Lightweight:      s.Weights.Lightweight,
				Customization:    s.Weights.Customization,
			},
		}
		for region, v := range s.Potential {
			r := sim.Region(region)
			if !r.Valid() {
				return nil, fmt.Errorf("%w: segment %s unknown region %q", ErrInvalidCatalog, s.Name, region)
			}
			seg.Potential[r] = v
		}
		c.segments = append(c.segments, seg)
	}

	ids := make(map[string]bool, len(doc.Scenarios))
	for _, sc := range doc.Scenarios {
		if sc.ID == "" || ids[sc.ID] {
			return nil, fmt.Errorf("%w: scenario id %q missing or duplicated", ErrInvalidCatalog, sc.ID)
		}
		ids[sc.ID] = true
		for _, r := range sc.Regions {
			if !r.Valid() {
				return nil, fmt.Errorf("%w: scenario %s unknown region %q", ErrInvalidCatalog, sc.ID, r)
			}
		}
		for _, name := range sc.Segments {
			if !names[name] {
				return nil, fmt.Errorf("%w: scenario %s unknown segment %q", ErrInvalidCatalog, sc.ID, name)
			}
		}
		if sc.Rounds < 1 || sc.MaxTeams < 1 || sc.MaxBrands < 1 || sc.StartingCash <= 0 {
			return nil, fmt.Errorf("%w: scenario %s limits", ErrInvalidCatalog, sc.ID)
		}
		c.scenarios = append(c.scenarios, sc)
	}
	return c, nil
}

// Scenarios lists scenarios in catalog order.
func (c *Catalog) Scenarios() []Scenario {
	return append([]Scenario(nil), c.scenarios...)
}

func (c *Catalog) Scenario(id string) (Scenario, error) {
	for _, sc := range c.scenarios {
		if sc.ID == id {
			return sc, nil
		}
	}
	return Scenario{}, fmt.Errorf("%w: %s", ErrUnknownScenario, id)
}

// SegmentsFor returns copies of the scenario's segments in the order the
// scenario lists them.
func (c *Catalog) SegmentsFor(id string) ([]sim.Segment, error) {
	sc, err := c.Scenario(id)
	if err != nil {
		return nil, err
	}
	out := make([]sim.Segment, 0, len(sc.Segments))
	for _, name := range sc.Segments {
		for _, seg := range c.segments {
			if seg.Name != name {
				continue
			}
			cp := seg
			cp.Potential = make(map[sim.Region]int64, len(seg.Potential))
			for r, v := range seg.Potential {
				cp.Potential[r] = v
			}
			out = append(out, cp)
		}
	}
	return out, nil
}
