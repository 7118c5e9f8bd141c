package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"marketsim/internal/game"
	"marketsim/internal/sim"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "msim.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedGame(t *testing.T, s *SQLite) (game.Game, game.Team) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	deadline := now.Add(time.Hour)
	g := game.Game{
		ID:            "g1",
		Code:          "ABC234",
		Name:          "League",
		ScenarioID:    "local-launch",
		Status:        game.StatusActive,
		CurrentRound:  1,
		MaxRounds:     8,
		MaxTeams:      4,
		MaxBrands:     3,
		StartingCash:  5_000_000,
		Regions:       []sim.Region{sim.RegionLatam},
		Segments:      []sim.Segment{{Name: "Worker", MinPrice: 600, MaxPrice: 1000}},
		RoundDuration: time.Hour,
		RoundDeadline: &deadline,
		CreatedAt:     now,
	}
	if err := s.CreateGame(ctx, g); err != nil {
		t.Fatalf("create game: %v", err)
	}
	team := game.Team{ID: "t1", GameID: g.ID, Name: "Alpha", Kind: game.KindHuman, Cash: 5_000_000, CreatedAt: now}
	if err := s.CreateTeam(ctx, team); err != nil {
		t.Fatalf("create team: %v", err)
	}
	return g, team
}

func TestSQLiteGameRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	g, _ := seedGame(t, s)

	got, err := s.GameByCode(ctx, g.Code)
	if err != nil {
		t.Fatalf("game by code: %v", err)
	}
	if got.ID != g.ID || got.RoundDuration != time.Hour || len(got.Segments) != 1 || got.Segments[0].Name != "Worker" {
		t.Fatalf("unexpected game: %+v", got)
	}
	if got.RoundDeadline == nil || !got.RoundDeadline.Equal(*g.RoundDeadline) {
		t.Fatalf("deadline = %v want %v", got.RoundDeadline, g.RoundDeadline)
	}
	if _, err := s.Game(ctx, "missing"); !errors.Is(err, game.ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}

	due, err := s.ListDueGames(ctx, g.RoundDeadline.Add(time.Second))
	if err != nil {
		t.Fatalf("due games: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("got %d due games want 1", len(due))
	}
	due, err = s.ListDueGames(ctx, g.CreatedAt)
	if err != nil {
		t.Fatalf("due games: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("got %d due games before deadline", len(due))
	}
}

func TestSQLiteTeamConstraints(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	g, team := seedGame(t, s)

	dupName := game.Team{ID: "t2", GameID: g.ID, Name: team.Name, Kind: game.KindHuman, Seat: 1, CreatedAt: time.Now()}
	if err := s.CreateTeam(ctx, dupName); !errors.Is(err, game.ErrDuplicateTeam) {
		t.Fatalf("expected ErrDuplicateTeam, got %v", err)
	}
	dupSeat := game.Team{ID: "t3", GameID: g.ID, Name: "Beta", Kind: game.KindHuman, Seat: team.Seat, CreatedAt: time.Now()}
	if err := s.CreateTeam(ctx, dupSeat); !errors.Is(err, game.ErrGameFull) {
		t.Fatalf("expected ErrGameFull, got %v", err)
	}
}

func TestSQLiteIdempotency(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	if err := s.ClaimIdempotency(ctx, "t1", "k1", "create_brand"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.ClaimIdempotency(ctx, "t1", "k1", "create_brand"); !errors.Is(err, game.ErrDuplicateIdempotency) {
		t.Fatalf("expected ErrDuplicateIdempotency, got %v", err)
	}
	if err := s.ClaimIdempotency(ctx, "t2", "k1", "create_brand"); err != nil {
		t.Fatalf("other scope: %v", err)
	}
	if err := s.ClaimIdempotency(ctx, "t1", "  ", "create_brand"); err == nil {
		t.Fatalf("expected blank key to fail")
	}
}

func TestSQLiteDecisionsAndBrands(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	g, team := seedGame(t, s)
	now := time.Now().UTC()

	b := game.Brand{
		Brand:     sim.Derive(sim.Brand{ID: "b1", Name: "Ridge", TargetSegment: "Worker", Components: sim.Components{Frame: 3}}),
		TeamID:    team.ID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateBrand(ctx, b); err != nil {
		t.Fatalf("create brand: %v", err)
	}
	b.Active = false
	if err := s.UpdateBrand(ctx, b); err != nil {
		t.Fatalf("update brand: %v", err)
	}
	active, err := s.ListBrands(ctx, team.ID, false)
	if err != nil {
		t.Fatalf("list brands: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("inactive brand listed: %+v", active)
	}
	all, err := s.ListBrands(ctx, team.ID, true)
	if err != nil {
		t.Fatalf("list all brands: %v", err)
	}
	if len(all) != 1 || all[0].UnitCost != b.UnitCost || all[0].Active {
		t.Fatalf("unexpected brands: %+v", all)
	}

	rec := game.DecisionRecord{
		GameID:    g.ID,
		TeamID:    team.ID,
		Round:     1,
		Status:    game.DecisionSubmitted,
		Decision:  sim.Decision{RDBudget: 1000, Pricing: sim.Pricing{Default: 800}},
		UpdatedAt: now,
	}
	if err := s.SaveDecision(ctx, rec); err != nil {
		t.Fatalf("save decision: %v", err)
	}
	got, err := s.Team(ctx, team.ID)
	if err != nil {
		t.Fatalf("team: %v", err)
	}
	if !got.Submitted {
		t.Fatalf("expected submitted flag")
	}
	rec.Status = game.DecisionDraft
	rec.Decision.RDBudget = 2000
	if err := s.SaveDecision(ctx, rec); err != nil {
		t.Fatalf("resave decision: %v", err)
	}
	stored, err := s.Decision(ctx, team.ID, 1)
	if err != nil {
		t.Fatalf("decision: %v", err)
	}
	if stored.Status != game.DecisionDraft || stored.Decision.RDBudget != 2000 || stored.Decision.Pricing.Default != 800 {
		t.Fatalf("unexpected decision: %+v", stored)
	}
	if _, err := s.Decision(ctx, team.ID, 2); !errors.Is(err, game.ErrDecisionNotFound) {
		t.Fatalf("expected ErrDecisionNotFound, got %v", err)
	}
}

func TestSQLiteCommitRoundIsAtMostOnce(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	g, team := seedGame(t, s)

	commit := game.RoundCommit{
		GameID:    g.ID,
		Round:     1,
		Results:   []sim.RoundResult{{TeamID: team.ID, Round: 1, NetIncome: 1200, EndingCash: 5_001_200}},
		Research:  sim.MarketResearch{Round: 1},
		Teams:     []game.TeamUpdate{{TeamID: team.ID, Cash: 5_001_200, CumulativeProfit: 1200, TotalInvestment: 5_000_000}},
		NextRound: 2,
		Status:    game.StatusActive,
	}
	if err := s.CommitRound(ctx, commit); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.CommitRound(ctx, commit); !errors.Is(err, game.ErrRoundConflict) {
		t.Fatalf("expected ErrRoundConflict on replay, got %v", err)
	}

	got, err := s.Game(ctx, g.ID)
	if err != nil {
		t.Fatalf("game: %v", err)
	}
	if got.CurrentRound != 2 || got.RoundDeadline != nil {
		t.Fatalf("unexpected game after commit: %+v", got)
	}
	updated, err := s.Team(ctx, team.ID)
	if err != nil {
		t.Fatalf("team: %v", err)
	}
	if updated.Cash != 5_001_200 || updated.CumulativeProfit != 1200 {
		t.Fatalf("unexpected team: %+v", updated)
	}
	results, err := s.GameResults(ctx, g.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 1 || results[0].NetIncome != 1200 {
		t.Fatalf("unexpected results: %+v", results)
	}
	if _, err := s.MarketResearch(ctx, g.ID, 1); err != nil {
		t.Fatalf("research: %v", err)
	}
	if _, err := s.MarketResearch(ctx, g.ID, 2); !errors.Is(err, game.ErrRoundNotFound) {
		t.Fatalf("expected ErrRoundNotFound, got %v", err)
	}
}
