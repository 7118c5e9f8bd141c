// Package decision validates raw decision payloads at the boundary and
// turns them into the canonical sim.Decision.
package decision

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"marketsim/internal/sim"
)

//go:embed decision.schema.json
var schemaSource string

var (
	ErrInvalidDecision = errors.New("invalid decision")
	ErrOverBudget      = errors.New("decision exceeds available cash")
)

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
)

func compiled() *jsonschema.Schema {
	schemaOnce.Do(func() {
		schema = jsonschema.MustCompileString("decision.schema.json", schemaSource)
	})
	return schema
}

// Validate checks an already-decoded JSON document against the decision
// schema.
func Validate(doc any) error {
	if err := compiled().Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	return nil
}

// Parse validates raw against the schema and decodes it. Absent sections
// decode to their zero value.
func Parse(raw []byte) (sim.Decision, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return sim.Decision{}, nil
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return sim.Decision{}, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	if err := Validate(doc); err != nil {
		return sim.Decision{}, err
	}

	var d sim.Decision
	strict := json.NewDecoder(bytes.NewReader(raw))
	strict.DisallowUnknownFields()
	if err := strict.Decode(&d); err != nil {
		return sim.Decision{}, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	return d, nil
}

// Encode renders d in the canonical wire form accepted by Parse.
func Encode(d sim.Decision) ([]byte, error) {
	return json.Marshal(d)
}

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Issue struct {
	Field    string   `json:"field"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Committed is the cash a decision commits this round: every operating
// expense line except admin, plus the dividend.
func Committed(d sim.Decision) int64 {
	return sim.DecisionExpenses(d).Total() + min(max(0, d.Dividend), sim.MaxMoney)
}

// Check flags decisions that are out of proportion with the team's cash.
func Check(d sim.Decision, cash int64) []Issue {
	var issues []Issue
	exp := sim.DecisionExpenses(d)
	c := float64(cash)

	if marketing := exp.Advertising + exp.Internet; marketing > 0 && float64(marketing) > c*0.5 {
		issues = append(issues, Issue{
			Field:    "advertising",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("marketing spend %d is more than half of cash %d", marketing, cash),
		})
	}
	if d.Dividend > 0 && float64(d.Dividend) > c*0.3 {
		issues = append(issues, Issue{
			Field:    "dividend",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("dividend %d is more than 30%% of cash %d", d.Dividend, cash),
		})
	}
	if total := Committed(d); total > 0 && float64(total) > c*1.2 {
		issues = append(issues, Issue{
			Field:    "total",
			Severity: SeverityError,
			Message:  fmt.Sprintf("committed spend %d exceeds 120%% of cash %d", total, cash),
		})
	}
	return issues
}

// Blocking reports whether any issue must stop submission.
func Blocking(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Enforce runs Check and converts blocking issues into ErrOverBudget.
func Enforce(d sim.Decision, cash int64) ([]Issue, error) {
	issues := Check(d, cash)
	if Blocking(issues) {
		return issues, fmt.Errorf("%w: %s", ErrOverBudget, issues[len(issues)-1].Message)
	}
	return issues, nil
}
