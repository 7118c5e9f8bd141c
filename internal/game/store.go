package game

import (
	"context"
	"time"

	"marketsim/internal/sim"
)

// Store persists games between rounds. Lookups return the package's
// not-found sentinels; CommitRound returns ErrRoundConflict when the game
// has already moved past the commit's round.
type Store interface {
	CreateGame(ctx context.Context, g Game) error
	Game(ctx context.Context, id string) (Game, error)
	GameByCode(ctx context.Context, code string) (Game, error)
	ListGames(ctx context.Context) ([]Game, error)
	// ListDueGames returns active games whose deadline is at or before now.
	ListDueGames(ctx context.Context, now time.Time) ([]Game, error)

	// CreateTeam returns ErrDuplicateTeam on a name clash and ErrGameFull
	// when the seat is already taken.
	CreateTeam(ctx context.Context, t Team) error
	Team(ctx context.Context, id string) (Team, error)
	ListTeams(ctx context.Context, gameID string) ([]Team, error)

	CreateBrand(ctx context.Context, b Brand) error
	UpdateBrand(ctx context.Context, b Brand) error
	Brand(ctx context.Context, id string) (Brand, error)
	ListBrands(ctx context.Context, teamID string, includeInactive bool) ([]Brand, error)

	// SaveDecision upserts the team's decision for the round and sets the
	// team's submitted flag from its status.
	SaveDecision(ctx context.Context, d DecisionRecord) error
	Decision(ctx context.Context, teamID string, round int) (DecisionRecord, error)
	ListDecisions(ctx context.Context, gameID string, round int) ([]DecisionRecord, error)

	ClaimIdempotency(ctx context.Context, scope, key, action string) error

	CommitRound(ctx context.Context, c RoundCommit) error
	TeamResults(ctx context.Context, teamID string) ([]sim.RoundResult, error)
	GameResults(ctx context.Context, gameID string) ([]sim.RoundResult, error)
	MarketResearch(ctx context.Context, gameID string, round int) (sim.MarketResearch, error)
}
