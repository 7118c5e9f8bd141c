package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	cl "marketsim/internal/cli"
	"marketsim/internal/config"
	"marketsim/internal/game"
	"marketsim/internal/scenario"
	"marketsim/internal/sim"
	"marketsim/internal/store"
)

// localBackend runs the game service in process against a SQLite file.
type localBackend struct {
	svc *game.Service
}

func openLocalService(path string) (*game.Service, func(), error) {
	st, err := store.OpenSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	svc := game.NewService(st, scenario.Default(), logger)
	// Local rounds advance only when the player asks.
	svc.SetRoundDuration(0)
	return svc, func() { _ = st.Close() }, nil
}

func (b localBackend) Game(ctx context.Context, gameID string) (game.Game, error) {
	return b.svc.Game(ctx, gameID)
}

func (b localBackend) CreateBrand(ctx context.Context, in game.CreateBrandInput) (game.Brand, error) {
	return b.svc.CreateBrand(ctx, in)
}

func (b localBackend) ListBrands(ctx context.Context, teamID string, all bool) ([]game.Brand, error) {
	return b.svc.ListBrands(ctx, teamID, all)
}

func (b localBackend) SubmitDecision(ctx context.Context, teamID string, raw json.RawMessage, final bool) (game.DecisionRecord, error) {
	return b.svc.SubmitDecision(ctx, game.SubmitDecisionInput{TeamID: teamID, Payload: raw, Final: final})
}

func (b localBackend) Advance(ctx context.Context, gameID string, force bool) (game.RoundSummary, error) {
	return b.svc.AdvanceRound(ctx, gameID, force)
}

func (b localBackend) Leaderboard(ctx context.Context, gameID string) ([]game.LeaderboardRow, error) {
	return b.svc.Leaderboard(ctx, gameID)
}

func (b localBackend) TeamResults(ctx context.Context, teamID string) ([]sim.RoundResult, error) {
	return b.svc.TeamResults(ctx, teamID)
}

func (b localBackend) Research(ctx context.Context, gameID string, round int) (sim.MarketResearch, error) {
	return b.svc.MarketResearch(ctx, gameID, round)
}

func (b localBackend) Export(ctx context.Context, gameID string) (game.Archive, error) {
	return b.svc.Export(ctx, gameID)
}

func newLocalCmd(cfg *config.CLIConfig) *cobra.Command {
	local := &cobra.Command{
		Use:   "local",
		Short: "Play a single-machine game against rivals",
	}

	open := func() (backend, cl.Membership, func(), error) {
		sess, err := cl.LoadSession()
		if err != nil {
			return nil, cl.Membership{}, nil, err
		}
		m, err := sess.LocalMembership()
		if err != nil {
			return nil, cl.Membership{}, nil, err
		}
		svc, done, err := openLocalService(cfg.LocalDB)
		if err != nil {
			return nil, cl.Membership{}, nil, err
		}
		return localBackend{svc: svc}, m, done, nil
	}

	local.AddCommand(newLocalNewCmd(cfg))
	local.AddCommand(playCommands(open)...)
	return local
}

func newLocalNewCmd(cfg *config.CLIConfig) *cobra.Command {
	var (
		name       string
		scenarioID string
		rivals     int
		teamName   string
	)
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a new local game",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if teamName == "" {
				if teamName, err = promptRequired("Team name"); err != nil {
					return err
				}
			}
			svc, done, err := openLocalService(cfg.LocalDB)
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			g, err := svc.CreateGame(ctx, game.CreateGameInput{
				Name:       name,
				ScenarioID: scenarioID,
				Rivals:     rivals,
			})
			if err != nil {
				return err
			}
			team, err := svc.JoinGame(ctx, game.JoinGameInput{Code: g.Code, TeamName: teamName})
			if err != nil {
				return err
			}
			m := cl.Membership{GameID: g.ID, TeamID: team.ID, TeamName: team.Name, Code: g.Code}
			if err := saveMembership(true, m); err != nil {
				return err
			}
			renderGame(g, m)
			printSuccess(fmt.Sprintf("Game started with %d rivals. Design a brand with `msim local brand add`.", rivals))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "Local Game", "game name")
	cmd.Flags().StringVar(&scenarioID, "scenario", "local-launch", "scenario id")
	cmd.Flags().IntVar(&rivals, "rivals", 3, "number of computer rivals")
	cmd.Flags().StringVar(&teamName, "team", "", "your team name")
	return cmd
}
