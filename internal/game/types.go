package game

import (
	"encoding/json"
	"time"

	"marketsim/internal/decision"
	"marketsim/internal/sim"
)

type Game struct {
	ID           string        `json:"id"`
	Code         string        `json:"code"`
	Name         string        `json:"name"`
	ScenarioID   string        `json:"scenario_id"`
	Status       string        `json:"status"`
	CurrentRound int           `json:"current_round"`
	MaxRounds    int           `json:"max_rounds"`
	MaxTeams     int           `json:"max_teams"`
	MaxBrands    int           `json:"max_brands"`
	StartingCash int64         `json:"starting_cash"`
	Regions      []sim.Region  `json:"regions"`
	Segments     []sim.Segment `json:"segments"`
	// RoundDuration is zero when rounds only advance on demand.
	RoundDuration time.Duration `json:"round_duration"`
	RoundDeadline *time.Time    `json:"round_deadline,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

func (g Game) Finished() bool { return g.Status == StatusFinished }

func (g Game) segmentNamed(name string) bool {
	for _, s := range g.Segments {
		if s.Name == name {
			return true
		}
	}
	return false
}

type Team struct {
	ID               string    `json:"id"`
	GameID           string    `json:"game_id"`
	Name             string    `json:"name"`
	Kind             string    `json:"kind"`
	Seat             int       `json:"seat"`
	Cash             int64     `json:"cash"`
	CumulativeProfit int64     `json:"cumulative_profit"`
	TotalInvestment  int64     `json:"total_investment"`
	Submitted        bool      `json:"submitted"`
	CreatedAt        time.Time `json:"created_at"`
}

type Brand struct {
	sim.Brand
	TeamID    string    `json:"team_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DecisionRecord struct {
	GameID    string           `json:"game_id"`
	TeamID    string           `json:"team_id"`
	Round     int              `json:"round"`
	Status    string           `json:"status"`
	Decision  sim.Decision     `json:"decision"`
	Issues    []decision.Issue `json:"issues,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// TeamUpdate is the running state written back after a round.
type TeamUpdate struct {
	TeamID           string
	Cash             int64
	CumulativeProfit int64
	TotalInvestment  int64
}

// RoundCommit is everything persisted when a round resolves. Stores apply
// it atomically and only while the game is still on Round.
type RoundCommit struct {
	GameID         string
	Round          int
	Results        []sim.RoundResult
	Research       sim.MarketResearch
	Teams          []TeamUpdate
	RivalDecisions []DecisionRecord
	NextRound      int
	Status         string
	Deadline       *time.Time
}

type CreateGameInput struct {
	Name       string
	ScenarioID string
	Rivals     int
	// RoundDuration overrides the service default; zero keeps it.
	RoundDuration time.Duration
}

type JoinGameInput struct {
	Code           string
	TeamName       string
	IdempotencyKey string
}

type CreateBrandInput struct {
	TeamID         string
	Name           string
	TargetSegment  string
	Components     sim.Components
	RDInvestment   int64
	IdempotencyKey string
}

// UpdateBrandInput changes only the fields that are set.
type UpdateBrandInput struct {
	TeamID        string
	BrandID       string
	Name          *string
	TargetSegment *string
	Components    *sim.Components
	RDInvestment  *int64
}

type SubmitDecisionInput struct {
	TeamID string
	// Round defaults to the game's current round when zero.
	Round          int
	Payload        json.RawMessage
	Final          bool
	IdempotencyKey string
}

type RoundSummary struct {
	GameID   string            `json:"game_id"`
	Round    int               `json:"round"`
	Finished bool              `json:"finished"`
	Forced   bool              `json:"forced"`
	Results  []sim.RoundResult `json:"results"`
}

type LeaderboardRow struct {
	Rank             int     `json:"rank"`
	TeamID           string  `json:"team_id"`
	TeamName         string  `json:"team_name"`
	Kind             string  `json:"kind"`
	Score            float64 `json:"score"`
	LastScore        float64 `json:"last_score"`
	RoundsPlayed     int     `json:"rounds_played"`
	Cash             int64   `json:"cash"`
	CumulativeProfit int64   `json:"cumulative_profit"`
}

// RoundEvent is published after each resolved round.
type RoundEvent struct {
	GameID      string           `json:"game_id"`
	Round       int              `json:"round"`
	Finished    bool             `json:"finished"`
	Forced      bool             `json:"forced"`
	Leaderboard []LeaderboardRow `json:"leaderboard"`
	At          time.Time        `json:"at"`
}

type Notifier interface {
	Publish(RoundEvent)
}

// Archive is a complete export of one game's history.
type Archive struct {
	Version    int                  `json:"version"`
	ExportedAt time.Time            `json:"exported_at"`
	Game       Game                 `json:"game"`
	Teams      []Team               `json:"teams"`
	Brands     []Brand              `json:"brands"`
	Decisions  []DecisionRecord     `json:"decisions"`
	Results    []sim.RoundResult    `json:"results"`
	Research   []sim.MarketResearch `json:"research"`
}
