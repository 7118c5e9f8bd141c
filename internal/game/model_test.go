package game

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	valid := []string{"Acme Labs", "Team 7", "  Nova Runners  "}
	for _, s := range valid {
		if err := ValidateName(s); err != nil {
			t.Fatalf("expected name %q to be valid: %v", s, err)
		}
	}

	invalid := []string{"", "   ", "admin empire", strings.Repeat("x", maxNameLength+1)}
	for _, s := range invalid {
		err := ValidateName(s)
		if !errors.Is(err, ErrInvalidName) {
			t.Fatalf("expected name %q to fail with ErrInvalidName, got %v", s, err)
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode("  ab3xyz "); got != "AB3XYZ" {
		t.Fatalf("got %q", got)
	}
}

func TestGenerateJoinCode(t *testing.T) {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	for i := 0; i < 50; i++ {
		code, err := generateJoinCode()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(code) != joinCodeLength {
			t.Fatalf("code %q has length %d", code, len(code))
		}
		for _, r := range code {
			if !strings.ContainsRune(letters, r) {
				t.Fatalf("code %q contains %q", code, r)
			}
		}
	}
}

func TestTrailingAverage(t *testing.T) {
	tests := []struct {
		xs   []float64
		n    int
		want float64
	}{
		{xs: nil, n: 4, want: 0},
		{xs: []float64{10}, n: 4, want: 10},
		{xs: []float64{10, 20, 30}, n: 4, want: 20},
		{xs: []float64{100, 10, 20, 30, 40}, n: 4, want: 25},
		{xs: []float64{1, 2}, n: 0, want: 0},
	}
	for _, tc := range tests {
		got := trailingAverage(tc.xs, tc.n)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("trailingAverage(%v, %d) = %v want %v", tc.xs, tc.n, got, tc.want)
		}
	}
}
