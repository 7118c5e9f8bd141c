package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	cl "marketsim/internal/cli"
	"marketsim/internal/decision"
	"marketsim/internal/game"
	"marketsim/internal/scenario"
	"marketsim/internal/sim"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("6")).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func box(title string, lines ...string) {
	body := titleStyle.Render(title)
	if len(lines) > 0 {
		body += "\n" + strings.Join(lines, "\n")
	}
	fmt.Println(boxStyle.Render(body))
}

func renderScenarios(list []scenario.Scenario) {
	accent.Println("\n== SCENARIOS ==")
	if len(list) == 0 {
		printInfo("No scenarios defined.")
		return
	}
	for _, s := range list {
		regions := make([]string, 0, len(s.Regions))
		for _, r := range s.Regions {
			regions = append(regions, string(r))
		}
		box(fmt.Sprintf("%s (%s)", s.Name, s.ID),
			truncate(s.Description, 72),
			fmt.Sprintf("Regions:  %s", strings.Join(regions, ", ")),
			fmt.Sprintf("Segments: %s", strings.Join(s.Segments, ", ")),
			fmt.Sprintf("Cash %s  Teams %d  Brands %d  Rounds %d", money(s.StartingCash), s.MaxTeams, s.MaxBrands, s.Rounds),
		)
	}
}

func renderGame(g game.Game, m cl.Membership) {
	lines := []string{
		fmt.Sprintf("Scenario: %s", g.ScenarioID),
		fmt.Sprintf("Status:   %s", g.Status),
		fmt.Sprintf("Round:    %d of %d", min(g.CurrentRound, g.MaxRounds), g.MaxRounds),
		fmt.Sprintf("Code:     %s", g.Code),
	}
	if m.TeamName != "" {
		lines = append(lines, fmt.Sprintf("Team:     %s", m.TeamName))
	}
	if g.RoundDeadline != nil {
		lines = append(lines, fmt.Sprintf("Deadline: %s", g.RoundDeadline.Local().Format("2006-01-02 15:04")))
	}
	box(g.Name, lines...)
}

func renderBrands(brands []game.Brand) {
	if len(brands) == 0 {
		printInfo("No brands yet.")
		return
	}
	fmt.Printf("%-20s %-12s %8s %10s %12s %-7s\n", "NAME", "SEGMENT", "QUALITY", "UNIT COST", "R&D", "ACTIVE")
	for _, b := range brands {
		active := "yes"
		if !b.Active {
			active = "no"
		}
		fmt.Printf("%-20s %-12s %8.2f %10s %12s %-7s\n",
			truncate(b.Name, 20),
			truncate(b.TargetSegment, 12),
			b.OverallQuality,
			money(b.UnitCost),
			money(b.RDInvestment),
			active,
		)
	}
}

func renderIssues(issues []decision.Issue) {
	for _, is := range issues {
		msg := fmt.Sprintf("%s: %s", is.Field, is.Message)
		if is.Severity == decision.SeverityError {
			printError(msg)
		} else {
			printWarn(msg)
		}
	}
}

func renderStatement(r sim.RoundResult) {
	line := func(label string, v int64) string {
		return fmt.Sprintf("%-22s %14s", label, money(v))
	}
	box(fmt.Sprintf("Round %d", r.Round),
		fmt.Sprintf("%-22s %14s", "Units sold", comma(r.UnitsSold)),
		fmt.Sprintf("%-22s %14s", "Demand", comma(r.TotalDemand)),
		fmt.Sprintf("%-22s %13.1f%%", "Share (primary)", r.MarketSharePrimary*100),
		"",
		line("Revenue", r.Revenue),
		line("Cost of goods", r.CostOfGoods),
		line("Gross profit", r.GrossProfit),
		line("Advertising", r.AdvertisingExpense),
		line("Sales force", r.SalesForceExpense),
		line("Distribution", r.DistributionExpense),
		line("Internet", r.InternetExpense),
		line("R&D", r.RDExpense),
		line("Admin", r.AdminExpense),
		fmt.Sprintf("%-22s %s", "Net income", colorizeMoney(r.NetIncome)),
		line("Dividend", r.Dividend),
		line("Ending cash", r.EndingCash),
		"",
		fmt.Sprintf("%-22s %14.1f", "Balanced scorecard", r.Scorecard.Balanced),
		fmt.Sprintf("%-22s %14.2f", "Overall satisfaction", r.Satisfaction.Overall),
	)
}

func renderLeaderboard(rows []game.LeaderboardRow, teamID string) {
	accent.Println("\n== LEADERBOARD ==")
	if len(rows) == 0 {
		printInfo("No teams yet.")
		return
	}
	fmt.Printf("%-5s %-24s %-6s %8s %8s %14s %16s\n", "RANK", "TEAM", "KIND", "SCORE", "LAST", "CASH", "PROFIT")
	for _, r := range rows {
		name := truncate(r.TeamName, 24)
		if r.TeamID == teamID {
			name = accent.Sprintf("%-24s", name)
		} else {
			name = fmt.Sprintf("%-24s", name)
		}
		fmt.Printf("%-5d %s %-6s %8.1f %8.1f %14s %16s\n",
			r.Rank,
			name,
			r.Kind,
			r.Score,
			r.LastScore,
			money(r.Cash),
			colorizeMoney(r.CumulativeProfit),
		)
	}
	fmt.Println()
}

func renderResearch(mr sim.MarketResearch) {
	accent.Printf("\n== MARKET RESEARCH (Round %d) ==\n", mr.Round)
	t := mr.Trends
	fmt.Printf("Industry demand %s units, average price %s, growth %+.1f%%\n\n",
		comma(t.TotalIndustryDemand), money(int64(t.AveragePrice)), t.GrowthRate*100)

	accent.Println("Demand by segment")
	for _, seg := range sortedKeys(mr.SegmentDemands) {
		parts := make([]string, 0, len(sim.AllRegions))
		for _, r := range sim.AllRegions {
			if n, ok := mr.SegmentDemands[seg][r]; ok {
				parts = append(parts, fmt.Sprintf("%s %s", r, comma(n)))
			}
		}
		fmt.Printf("  %-12s %s\n", seg, strings.Join(parts, "  "))
	}

	fmt.Println()
	accent.Println("Competitor prices")
	for _, id := range sortedKeys(mr.CompetitorPrices) {
		table := mr.CompetitorPrices[id]
		fmt.Printf("  %s\n", table.TeamName)
		for _, b := range table.Brands {
			fmt.Printf("    %-20s %-12s %10s\n", truncate(b.BrandName, 20), truncate(b.TargetSegment, 12), money(b.Price))
		}
	}

	fmt.Println()
	accent.Println("Customer judgments")
	fmt.Printf("  %-24s %8s %8s %8s\n", "TEAM", "BRAND", "OVERALL", "ADS")
	for _, id := range sortedKeys(mr.BrandJudgments) {
		j := mr.BrandJudgments[id]
		fmt.Printf("  %-24s %8.2f %8.2f %8.2f\n", truncate(j.TeamName, 24), j.BrandSatisfaction, j.OverallSatisfaction, mr.AdJudgments[id])
	}
	fmt.Println()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func colorizeMoney(v int64) string {
	text := fmt.Sprintf("%14s", money(v))
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func money(v int64) string {
	if v < 0 {
		return "-$" + comma(-v)
	}
	return "$" + comma(v)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
