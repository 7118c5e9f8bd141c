package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"marketsim/internal/archive"
	cl "marketsim/internal/cli"
	"marketsim/internal/game"
	"marketsim/internal/sim"
)

// backend is the part of a game that the shared play commands need. Local
// games run the service in process; remote games go through the API.
type backend interface {
	Game(ctx context.Context, gameID string) (game.Game, error)
	CreateBrand(ctx context.Context, in game.CreateBrandInput) (game.Brand, error)
	ListBrands(ctx context.Context, teamID string, all bool) ([]game.Brand, error)
	SubmitDecision(ctx context.Context, teamID string, raw json.RawMessage, final bool) (game.DecisionRecord, error)
	Advance(ctx context.Context, gameID string, force bool) (game.RoundSummary, error)
	Leaderboard(ctx context.Context, gameID string) ([]game.LeaderboardRow, error)
	TeamResults(ctx context.Context, teamID string) ([]sim.RoundResult, error)
	Research(ctx context.Context, gameID string, round int) (sim.MarketResearch, error)
	Export(ctx context.Context, gameID string) (game.Archive, error)
}

// errQueued marks a decision kept locally until the API is reachable.
var errQueued = errors.New("decision queued")

// opener connects to a backend and resolves the caller's membership.
type opener func() (backend, cl.Membership, func(), error)

func playCommands(open opener) []*cobra.Command {
	return []*cobra.Command{
		newStatusCmd(open),
		newBrandCmd(open),
		newDecideCmd(open),
		newAdvanceCmd(open),
		newResultsCmd(open),
		newLeaderboardCmd(open),
		newResearchCmd(open),
		newExportCmd(open),
	}
}

func newStatusCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current game",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, m, done, err := open()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			g, err := b.Game(ctx, m.GameID)
			if err != nil {
				return err
			}
			renderGame(g, m)
			return nil
		},
	}
}

func newBrandCmd(open opener) *cobra.Command {
	brand := &cobra.Command{
		Use:   "brand",
		Short: "Design and list brands",
	}

	var (
		target string
		rd     int64
		comps  sim.Components
	)
	add := &cobra.Command{
		Use:   "add [name]",
		Short: "Design a new brand",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := argOrPrompt(args, 0, "Brand name")
			if err != nil {
				return err
			}
			b, m, done, err := open()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := b.CreateBrand(ctx, game.CreateBrandInput{
				TeamID:        m.TeamID,
				Name:          name,
				TargetSegment: target,
				Components:    comps,
				RDInvestment:  rd,
			})
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Brand %s created.", out.Name))
			renderBrands([]game.Brand{out})
			return nil
		},
	}
	add.Flags().StringVar(&target, "target", "", "target segment")
	add.Flags().Int64Var(&rd, "rd", 0, "R&D investment")
	add.Flags().IntVar(&comps.Frame, "frame", 3, "frame rating 0-5")
	add.Flags().IntVar(&comps.Wheels, "wheels", 3, "wheels rating 0-5")
	add.Flags().IntVar(&comps.Drivetrain, "drivetrain", 3, "drivetrain rating 0-5")
	add.Flags().IntVar(&comps.Brakes, "brakes", 3, "brakes rating 0-5")
	add.Flags().IntVar(&comps.Suspension, "suspension", 3, "suspension rating 0-5")
	add.Flags().IntVar(&comps.Seat, "seat", 3, "seat rating 0-5")
	add.Flags().IntVar(&comps.Handlebars, "handlebars", 3, "handlebars rating 0-5")
	add.Flags().IntVar(&comps.Electronics, "electronics", 0, "electronics rating 0-5")

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List your brands",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, m, done, err := open()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := b.ListBrands(ctx, m.TeamID, all)
			if err != nil {
				return err
			}
			renderBrands(out)
			return nil
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include retired brands")

	brand.AddCommand(add, list)
	return brand
}

func newDecideCmd(open opener) *cobra.Command {
	var draft bool
	cmd := &cobra.Command{
		Use:     "decide <file|->",
		Aliases: []string{"submit"},
		Short:   "Submit this round's decision from a JSON file",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readDecision(args[0])
			if err != nil {
				return err
			}
			b, m, done, err := open()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			rec, err := b.SubmitDecision(ctx, m.TeamID, raw, !draft)
			if errors.Is(err, errQueued) {
				printWarn(err.Error())
				printInfo("Run `msim remote sync` once the API is reachable.")
				return nil
			}
			if err != nil {
				return err
			}
			renderIssues(rec.Issues)
			if rec.Status == game.DecisionSubmitted {
				printSuccess(fmt.Sprintf("Round %d decision submitted.", rec.Round))
			} else {
				printInfo(fmt.Sprintf("Round %d draft saved.", rec.Round))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&draft, "draft", false, "save without marking the team ready")
	return cmd
}

func readDecision(path string) (json.RawMessage, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%s is not valid JSON", path)
	}
	return raw, nil
}

func newAdvanceCmd(open opener) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Resolve the current round",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, m, done, err := open()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			summary, err := b.Advance(ctx, m.GameID, force)
			if err != nil {
				return err
			}
			for _, r := range summary.Results {
				if r.TeamID == m.TeamID {
					renderStatement(r)
				}
			}
			if summary.Finished {
				printSuccess(fmt.Sprintf("Round %d resolved. The game is over.", summary.Round))
			} else {
				printSuccess(fmt.Sprintf("Round %d resolved.", summary.Round))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "resolve even if teams have not submitted")
	return cmd
}

func newResultsCmd(open opener) *cobra.Command {
	var round int
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Show your team's statements and scorecards",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, m, done, err := open()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			results, err := b.TeamResults(ctx, m.TeamID)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				printInfo("No rounds resolved yet.")
				return nil
			}
			for _, r := range results {
				if round == 0 || r.Round == round {
					renderStatement(r)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&round, "round", 0, "only this round")
	return cmd
}

func newLeaderboardCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank teams by cumulative scorecard",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, m, done, err := open()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			rows, err := b.Leaderboard(ctx, m.GameID)
			if err != nil {
				return err
			}
			renderLeaderboard(rows, m.TeamID)
			return nil
		},
	}
}

func newResearchCmd(open opener) *cobra.Command {
	var round int
	cmd := &cobra.Command{
		Use:   "research",
		Short: "Show market research for a resolved round",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, m, done, err := open()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			if round == 0 {
				g, err := b.Game(ctx, m.GameID)
				if err != nil {
					return err
				}
				round = lastResolvedRound(g)
				if round == 0 {
					printInfo("No rounds resolved yet.")
					return nil
				}
			}
			mr, err := b.Research(ctx, m.GameID, round)
			if err != nil {
				return err
			}
			renderResearch(mr)
			return nil
		},
	}
	cmd.Flags().IntVar(&round, "round", 0, "round (defaults to the latest resolved)")
	return cmd
}

func lastResolvedRound(g game.Game) int {
	if g.Finished() {
		return g.CurrentRound
	}
	return g.CurrentRound - 1
}

func newExportCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Write the game's compressed archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, m, done, err := open()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			a, err := b.Export(ctx, m.GameID)
			if err != nil {
				return err
			}
			path := strings.TrimSpace(args[0])
			if err := archive.WriteFile(path, a); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Exported %d rounds to %s.", len(a.Research), path))
			return nil
		},
	}
}
