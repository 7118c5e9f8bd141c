package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cl "marketsim/internal/cli"
	"marketsim/internal/config"
	"marketsim/internal/game"
	"marketsim/internal/sim"
	"marketsim/internal/syncq"
)

// remoteBackend plays through the HTTP API.
type remoteBackend struct {
	c     *cl.Client
	queue *syncq.Queue
}

// unreachable reports whether err came from the transport rather than an
// API response.
func unreachable(err error) bool {
	var apiErr *cl.APIError
	return err != nil && !errors.As(err, &apiErr) && !errors.Is(err, context.Canceled)
}

func outbox() (*syncq.Queue, error) {
	dir, err := cl.BaseDir()
	if err != nil {
		return nil, err
	}
	return syncq.New(dir), nil
}

func (b remoteBackend) Game(ctx context.Context, gameID string) (game.Game, error) {
	return b.c.Game(ctx, gameID)
}

func (b remoteBackend) CreateBrand(ctx context.Context, in game.CreateBrandInput) (game.Brand, error) {
	return b.c.CreateBrand(ctx, in.TeamID, in.Name, in.TargetSegment, in.Components, in.RDInvestment, uuid.NewString())
}

func (b remoteBackend) ListBrands(ctx context.Context, teamID string, all bool) ([]game.Brand, error) {
	return b.c.ListBrands(ctx, teamID, all)
}

func (b remoteBackend) SubmitDecision(ctx context.Context, teamID string, raw json.RawMessage, final bool) (game.DecisionRecord, error) {
	key := uuid.NewString()
	rec, err := b.c.SubmitDecision(ctx, teamID, 0, final, raw, key)
	if !unreachable(err) {
		return rec, err
	}
	qerr := b.queue.Push(syncq.Command{
		TeamID:         teamID,
		Final:          final,
		Decision:       raw,
		IdempotencyKey: key,
		QueuedAt:       time.Now().UTC(),
	})
	if qerr != nil {
		return rec, errors.Join(err, qerr)
	}
	return rec, fmt.Errorf("%w: %v", errQueued, err)
}

func (b remoteBackend) Advance(ctx context.Context, gameID string, force bool) (game.RoundSummary, error) {
	return b.c.Advance(ctx, gameID, force)
}

func (b remoteBackend) Leaderboard(ctx context.Context, gameID string) ([]game.LeaderboardRow, error) {
	return b.c.Leaderboard(ctx, gameID)
}

func (b remoteBackend) TeamResults(ctx context.Context, teamID string) ([]sim.RoundResult, error) {
	return b.c.TeamResults(ctx, teamID)
}

func (b remoteBackend) Research(ctx context.Context, gameID string, round int) (sim.MarketResearch, error) {
	return b.c.Research(ctx, gameID, round)
}

func (b remoteBackend) Export(ctx context.Context, gameID string) (game.Archive, error) {
	return b.c.Export(ctx, gameID)
}

func newRemoteCmd(cfg *config.CLIConfig) *cobra.Command {
	remote := &cobra.Command{
		Use:   "remote",
		Short: "Play a shared game hosted by msim-api",
	}

	client := func() *cl.Client {
		return cl.NewClient(cfg.APIBaseURL, cfg.APIToken)
	}
	open := func() (backend, cl.Membership, func(), error) {
		sess, err := cl.LoadSession()
		if err != nil {
			return nil, cl.Membership{}, nil, err
		}
		m, err := sess.RemoteMembership()
		if err != nil {
			return nil, cl.Membership{}, nil, err
		}
		q, err := outbox()
		if err != nil {
			return nil, cl.Membership{}, nil, err
		}
		return remoteBackend{c: client(), queue: q}, m, func() {}, nil
	}

	var (
		scenarioID string
		rivals     int
	)
	create := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a shared game and print its join code",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := argOrPrompt(args, 0, "Game name")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			g, err := client().CreateGame(ctx, name, scenarioID, rivals)
			if err != nil {
				return err
			}
			renderGame(g, cl.Membership{})
			printSuccess(fmt.Sprintf("Share join code %s with the other teams.", g.Code))
			return nil
		},
	}
	create.Flags().StringVar(&scenarioID, "scenario", "local-launch", "scenario id")
	create.Flags().IntVar(&rivals, "rivals", 0, "number of computer rivals")

	join := &cobra.Command{
		Use:   "join [code] [team]",
		Short: "Join a shared game with a join code",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := argOrPrompt(args, 0, "Join code")
			if err != nil {
				return err
			}
			teamName, err := argOrPrompt(args, 1, "Team name")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			c := client()
			team, err := c.JoinGame(ctx, game.NormalizeCode(code), teamName, uuid.NewString())
			if err != nil {
				return err
			}
			m := cl.Membership{GameID: team.GameID, TeamID: team.ID, TeamName: team.Name, Code: game.NormalizeCode(code)}
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			sess.APIBaseURL = cfg.APIBaseURL
			sess.Remote = &m
			if err := cl.SaveSession(sess); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Joined as %s (seat %d).", team.Name, team.Seat))
			return nil
		},
	}

	leave := &cobra.Command{
		Use:   "leave",
		Short: "Forget the joined remote game",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			sess.Remote = nil
			if err := cl.SaveSession(sess); err != nil {
				return err
			}
			printInfo("Remote membership cleared.")
			return nil
		},
	}

	flush := &cobra.Command{
		Use:   "sync",
		Short: "Send decisions queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := outbox()
			if err != nil {
				return err
			}
			c := client()
			sent, err := q.Drain(func(qc syncq.Command) (bool, error) {
				ctx, cancel := withTimeout(cmd)
				defer cancel()
				_, err := c.SubmitDecision(ctx, qc.TeamID, qc.Round, qc.Final, qc.Decision, qc.IdempotencyKey)
				if err != nil && !unreachable(err) {
					printWarn(fmt.Sprintf("Dropped queued decision: %v", err))
				}
				return unreachable(err), err
			})
			if err != nil {
				return fmt.Errorf("sync stopped after %d decisions: %w", sent, err)
			}
			printSuccess(fmt.Sprintf("Sent %d queued decisions.", sent))
			return nil
		},
	}

	remote.AddCommand(create, join, leave, flush)
	remote.AddCommand(playCommands(open)...)
	return remote
}
