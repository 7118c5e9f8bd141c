package sim

import (
	"math"
	"testing"
)

func TestAdSatisfactionBands(t *testing.T) {
	tests := []struct {
		revenue, ad, internet int64
		want                  float64
	}{
		{revenue: 0, ad: 100, want: noRevenueAdSatisfaction},
		{revenue: 1_000_000, ad: 120_000, internet: 30_000, want: 0.9},
		{revenue: 1_000_000, ad: 60_000, want: 0.7},
		{revenue: 1_000_000, ad: 280_000, want: 0.7},
		{revenue: 1_000_000, ad: 10_000, want: 0.4},
		{revenue: 1_000_000, ad: 900_000, want: 0.4},
	}
	for _, tc := range tests {
		got := adSatisfaction(RoundResult{Revenue: tc.revenue, AdvertisingExpense: tc.ad, InternetExpense: tc.internet})
		if got != tc.want {
			t.Fatalf("revenue=%d ad=%d internet=%d got %f want %f", tc.revenue, tc.ad, tc.internet, got, tc.want)
		}
	}
}

func TestScoreComponents(t *testing.T) {
	r := RoundResult{
		Revenue:              1_000_000,
		OperatingProfit:      300_000,
		NetIncome:            225_000,
		RDExpense:            30_000,
		DistributionExpense:  20_000,
		MarketSharePrimary:   0.5,
		MarketShareSecondary: 0.2,
	}
	sc := Score(Team{}, r, Satisfaction{Overall: 0.5})
	if math.Abs(sc.FinancialPerformance-1) > 1e-9 {
		t.Fatalf("financial = %f", sc.FinancialPerformance)
	}
	if math.Abs(sc.MarketPerformance-0.41) > 1e-9 {
		t.Fatalf("market = %f", sc.MarketPerformance)
	}
	if math.Abs(sc.InvestmentInFuture-1) > 1e-9 {
		t.Fatalf("investment = %f", sc.InvestmentInFuture)
	}
	if math.Abs(sc.CreationOfWealth-1.045) > 1e-9 {
		t.Fatalf("wealth = %f", sc.CreationOfWealth)
	}
	want := 30 + 0.41*25 + 0.5*20 + 10 + 1.045*15
	if math.Abs(sc.Balanced-want) > 1e-9 {
		t.Fatalf("balanced = %f want %f", sc.Balanced, want)
	}
}

func TestScoreClampsToRange(t *testing.T) {
	loss := RoundResult{Revenue: 1000, OperatingProfit: -10_000_000, NetIncome: -7_500_000}
	sc := Score(Team{TotalInvestment: 1_000_000}, loss, Satisfaction{})
	if sc.FinancialPerformance != -1 {
		t.Fatalf("financial floor = %f", sc.FinancialPerformance)
	}
	if sc.CreationOfWealth != 0 || sc.Balanced != 0 {
		t.Fatalf("expected clamped zero score, got %+v", sc)
	}

	rich := Team{CumulativeProfit: 50_000_000, TotalInvestment: 1_000_000}
	sc = Score(rich, RoundResult{}, Satisfaction{})
	if sc.CreationOfWealth != maxWealthCreation {
		t.Fatalf("wealth cap = %f", sc.CreationOfWealth)
	}
}
