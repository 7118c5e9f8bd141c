package decision

import (
	"errors"
	"testing"

	"marketsim/internal/sim"
)

func TestParseCanonicalDecision(t *testing.T) {
	raw := []byte(`{
	  "pricing": {"by_brand": {"b1": 850}, "default": 800},
	  "advertising": {"latam": {"spend": 200000, "target_segment": "Worker"}},
	  "internet": {"web_pages": 3, "seo": 2},
	  "sales_force": {"europe": {"headcount": 8, "compensation": 36000, "training": 4000}},
	  "distribution": {"latam": {"outlets": 12, "channel": "showroom"}},
	  "rd_budget": 150000,
	  "dividend": 0
	}`)
	d, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Pricing.ByBrand["b1"] != 850 || d.Pricing.Default != 800 {
		t.Fatalf("pricing = %+v", d.Pricing)
	}
	if ad := d.Advertising[sim.RegionLatam]; ad.Spend != 200_000 || ad.TargetSegment != "Worker" {
		t.Fatalf("advertising = %+v", ad)
	}
	if d.Distribution[sim.RegionLatam].Channel != sim.ChannelShowroom {
		t.Fatalf("distribution = %+v", d.Distribution)
	}
	if d.SalesForce[sim.RegionEurope].Headcount != 8 || d.RDBudget != 150_000 {
		t.Fatalf("decision = %+v", d)
	}
}

func TestParseEmptyDecision(t *testing.T) {
	for _, raw := range []string{"", "{}", "  "} {
		d, err := Parse([]byte(raw))
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if len(d.Advertising) != 0 || d.RDBudget != 0 {
			t.Fatalf("expected zero decision for %q, got %+v", raw, d)
		}
	}
}

func TestParseRejectsMalformedShapes(t *testing.T) {
	bad := []string{
		`{"advertising": {"latam": 300000}}`,
		`{"advertising": {"mars": {"spend": 1}}}`,
		`{"sales_force": {"latam": {"headcount": -1}}}`,
		`{"distribution": {"apac": {"outlets": 4, "channel": "kiosk"}}}`,
		`{"pricing": {"Brand Name": 900}}`,
		`{"marketing": {}}`,
		`[1,2]`,
		`{"rd_budget": 10.5}`,
	}
	for _, raw := range bad {
		if _, err := Parse([]byte(raw)); !errors.Is(err, ErrInvalidDecision) {
			t.Fatalf("expected ErrInvalidDecision for %s, got %v", raw, err)
		}
	}
}

func TestEncodeParsesBack(t *testing.T) {
	d := sim.Decision{
		Pricing:      sim.Pricing{Default: 700},
		Distribution: map[sim.Region]sim.Distribution{sim.RegionApac: {Outlets: 3}},
	}
	raw, err := Encode(d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Parse(raw); err != nil {
		t.Fatalf("canonical encoding rejected: %v (%s)", err, raw)
	}
}

func TestCheck(t *testing.T) {
	heavy := sim.Decision{
		Advertising: map[sim.Region]sim.AdSpend{sim.RegionLatam: {Spend: 600_000}},
		Dividend:    400_000,
	}
	issues := Check(heavy, 1_000_000)
	if len(issues) != 2 || Blocking(issues) {
		t.Fatalf("expected two warnings, got %+v", issues)
	}

	over := sim.Decision{
		Distribution: map[sim.Region]sim.Distribution{sim.RegionEurope: {Outlets: 30, Channel: sim.ChannelRetail}},
	}
	issues, err := Enforce(over, 1_000_000)
	if !errors.Is(err, ErrOverBudget) || !Blocking(issues) {
		t.Fatalf("expected ErrOverBudget, got issues=%+v err=%v", issues, err)
	}

	if issues := Check(sim.Decision{}, 0); len(issues) != 0 {
		t.Fatalf("empty decision flagged: %+v", issues)
	}
}

func TestOversizedAmounts(t *testing.T) {
	oversized := []string{
		`{"distribution": {"latam": {"outlets": 200000000000000, "channel": "showroom"}}}`,
		`{"sales_force": {"europe": {"headcount": 10001}}}`,
		`{"internet": {"paid_search": 50000}}`,
		`{"advertising": {"apac": {"spend": 1000000000001}}}`,
		`{"rd_budget": 9223372036854775807}`,
	}
	for _, raw := range oversized {
		if _, err := Parse([]byte(raw)); !errors.Is(err, ErrInvalidDecision) {
			t.Fatalf("expected %s to be rejected, got %v", raw, err)
		}
	}

	// Decisions built in code skip the schema; the budget guard must still hold.
	d := sim.Decision{
		Distribution: map[sim.Region]sim.Distribution{
			sim.RegionLatam: {Outlets: 200_000_000_000_000, Channel: sim.ChannelShowroom},
		},
		Dividend: 1<<63 - 1,
	}
	if c := Committed(d); c <= 0 {
		t.Fatalf("committed = %d, want positive", c)
	}
	if _, err := Enforce(d, 1_000_000); !errors.Is(err, ErrOverBudget) {
		t.Fatalf("expected ErrOverBudget, got %v", err)
	}
}
