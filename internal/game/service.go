package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketsim/internal/decision"
	"marketsim/internal/rivals"
	"marketsim/internal/scenario"
	"marketsim/internal/sim"
)

const archiveVersion = 1

type Service struct {
	store         Store
	catalog       *scenario.Catalog
	log           *slog.Logger
	notifier      Notifier
	roundDuration time.Duration
	now           func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(store Store, catalog *scenario.Catalog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = scenario.Default()
	}
	return &Service{
		store:   store,
		catalog: catalog,
		log:     logger,
		now:     time.Now,
		locks:   map[string]*sync.Mutex{},
	}
}

// SetNotifier registers the receiver of round events.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetRoundDuration sets the default time teams get per round. Zero disables
// deadlines.
func (s *Service) SetRoundDuration(d time.Duration) { s.roundDuration = d }

func (s *Service) Scenarios() []scenario.Scenario { return s.catalog.Scenarios() }

// gameLock serializes round advancement per game within this process.
func (s *Service) gameLock(gameID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[gameID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[gameID] = l
	}
	return l
}

func (s *Service) deadline(d time.Duration) *time.Time {
	if d <= 0 {
		return nil
	}
	t := s.now().UTC().Add(d)
	return &t
}

func (s *Service) CreateGame(ctx context.Context, in CreateGameInput) (Game, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := ValidateName(in.Name); err != nil {
		return Game{}, err
	}
	sc, err := s.catalog.Scenario(strings.TrimSpace(in.ScenarioID))
	if err != nil {
		return Game{}, err
	}
	segments, err := s.catalog.SegmentsFor(sc.ID)
	if err != nil {
		return Game{}, err
	}
	if in.Rivals < 0 || in.Rivals >= sc.MaxTeams {
		return Game{}, fmt.Errorf("%w: rivals must be between 0 and %d", ErrGameFull, sc.MaxTeams-1)
	}
	code, err := generateJoinCode()
	if err != nil {
		return Game{}, err
	}
	duration := s.roundDuration
	if in.RoundDuration > 0 {
		duration = in.RoundDuration
	}

	g := Game{
		ID:            uuid.NewString(),
		Code:          code,
		Name:          in.Name,
		ScenarioID:    sc.ID,
		Status:        StatusActive,
		CurrentRound:  1,
		MaxRounds:     sc.Rounds,
		MaxTeams:      sc.MaxTeams,
		MaxBrands:     sc.MaxBrands,
		StartingCash:  sc.StartingCash,
		Regions:       sc.Regions,
		Segments:      segments,
		RoundDuration: duration,
		RoundDeadline: s.deadline(duration),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.CreateGame(ctx, g); err != nil {
		return Game{}, fmt.Errorf("create game: %w", err)
	}
	s.log.Info("game created", "game_id", g.ID, "scenario", g.ScenarioID, "code", g.Code)

	if in.Rivals > 0 {
		if _, err := s.AddRivals(ctx, g.ID, in.Rivals); err != nil {
			return Game{}, err
		}
	}
	return g, nil
}

func (s *Service) Game(ctx context.Context, gameID string) (Game, error) {
	return s.store.Game(ctx, gameID)
}

func (s *Service) ListGames(ctx context.Context) ([]Game, error) {
	return s.store.ListGames(ctx)
}

func (s *Service) Teams(ctx context.Context, gameID string) ([]Team, error) {
	if _, err := s.store.Game(ctx, gameID); err != nil {
		return nil, err
	}
	return s.store.ListTeams(ctx, gameID)
}

func (s *Service) Team(ctx context.Context, teamID string) (Team, error) {
	return s.store.Team(ctx, teamID)
}

func (s *Service) JoinGame(ctx context.Context, in JoinGameInput) (Team, error) {
	in.TeamName = strings.TrimSpace(in.TeamName)
	if err := ValidateName(in.TeamName); err != nil {
		return Team{}, err
	}
	g, err := s.store.GameByCode(ctx, NormalizeCode(in.Code))
	if err != nil {
		return Team{}, err
	}
	if in.IdempotencyKey != "" {
		if err := s.store.ClaimIdempotency(ctx, g.ID, in.IdempotencyKey, "join_game"); err != nil {
			return Team{}, err
		}
	}
	return s.addTeam(ctx, g, in.TeamName, KindHuman)
}

func (s *Service) addTeam(ctx context.Context, g Game, name, kind string) (Team, error) {
	if g.Finished() {
		return Team{}, ErrGameFinished
	}
	if g.CurrentRound > 1 {
		return Team{}, fmt.Errorf("%w: game already started", ErrGameFull)
	}
	teams, err := s.store.ListTeams(ctx, g.ID)
	if err != nil {
		return Team{}, err
	}
	if len(teams) >= g.MaxTeams {
		return Team{}, ErrGameFull
	}
	t := Team{
		ID:              uuid.NewString(),
		GameID:          g.ID,
		Name:            name,
		Kind:            kind,
		Seat:            len(teams),
		Cash:            g.StartingCash,
		TotalInvestment: g.StartingCash,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.CreateTeam(ctx, t); err != nil {
		return Team{}, err
	}
	s.log.Info("team joined", "game_id", g.ID, "team_id", t.ID, "kind", kind)
	return t, nil
}

// AddRivals seats n automated competitors, each with a starter brand.
func (s *Service) AddRivals(ctx context.Context, gameID string, n int) ([]Team, error) {
	g, err := s.store.Game(ctx, gameID)
	if err != nil {
		return nil, err
	}
	segmentNames := make([]string, len(g.Segments))
	for i, seg := range g.Segments {
		segmentNames[i] = seg.Name
	}

	teams, err := s.store.ListTeams(ctx, gameID)
	if err != nil {
		return nil, err
	}
	rivalCount := 0
	for _, t := range teams {
		if t.Kind == KindRival {
			rivalCount++
		}
	}

	out := make([]Team, 0, n)
	for i := 0; i < n; i++ {
		idx := rivalCount + i
		t, err := s.addTeam(ctx, g, fmt.Sprintf("Rival %d", idx+1), KindRival)
		if err != nil {
			return out, err
		}
		starter := rivals.StarterBrand(g.ID, idx, segmentNames)
		now := s.now().UTC()
		starter.ID = uuid.NewString()
		b := Brand{Brand: starter, TeamID: t.ID, Active: true, CreatedAt: now, UpdatedAt: now}
		if err := s.store.CreateBrand(ctx, b); err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Service) CreateBrand(ctx context.Context, in CreateBrandInput) (Brand, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.TargetSegment = strings.TrimSpace(in.TargetSegment)
	if err := ValidateName(in.Name); err != nil {
		return Brand{}, err
	}
	t, g, err := s.teamGame(ctx, in.TeamID)
	if err != nil {
		return Brand{}, err
	}
	if g.Finished() {
		return Brand{}, ErrGameFinished
	}
	if in.TargetSegment != "" && !g.segmentNamed(in.TargetSegment) {
		return Brand{}, fmt.Errorf("%w: %s", ErrUnknownSegment, in.TargetSegment)
	}
	active, err := s.store.ListBrands(ctx, t.ID, false)
	if err != nil {
		return Brand{}, err
	}
	if len(active) >= g.MaxBrands {
		return Brand{}, fmt.Errorf("%w (%d)", ErrBrandLimit, g.MaxBrands)
	}
	if nameTaken(active, in.Name, "") {
		return Brand{}, ErrDuplicateBrand
	}
	if in.IdempotencyKey != "" {
		if err := s.store.ClaimIdempotency(ctx, t.ID, in.IdempotencyKey, "create_brand"); err != nil {
			return Brand{}, err
		}
	}

	now := s.now().UTC()
	b := Brand{
		Brand: sim.Derive(sim.Brand{
			ID:            uuid.NewString(),
			Name:          in.Name,
			TargetSegment: in.TargetSegment,
			Components:    in.Components,
			RDInvestment:  max(0, in.RDInvestment),
		}),
		TeamID:    t.ID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateBrand(ctx, b); err != nil {
		return Brand{}, err
	}
	return b, nil
}

func (s *Service) UpdateBrand(ctx context.Context, in UpdateBrandInput) (Brand, error) {
	b, g, err := s.ownedBrand(ctx, in.TeamID, in.BrandID)
	if err != nil {
		return Brand{}, err
	}
	if !b.Active {
		return Brand{}, ErrBrandNotFound
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if err := ValidateName(name); err != nil {
			return Brand{}, err
		}
		active, err := s.store.ListBrands(ctx, b.TeamID, false)
		if err != nil {
			return Brand{}, err
		}
		if nameTaken(active, name, b.ID) {
			return Brand{}, ErrDuplicateBrand
		}
		b.Name = name
	}
	if in.TargetSegment != nil {
		target := strings.TrimSpace(*in.TargetSegment)
		if target != "" && !g.segmentNamed(target) {
			return Brand{}, fmt.Errorf("%w: %s", ErrUnknownSegment, target)
		}
		b.TargetSegment = target
	}
	if in.Components != nil {
		b.Components = *in.Components
	}
	if in.RDInvestment != nil {
		b.RDInvestment = max(0, *in.RDInvestment)
	}
	b.Brand = sim.Derive(b.Brand)
	b.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateBrand(ctx, b); err != nil {
		return Brand{}, err
	}
	return b, nil
}

// DeactivateBrand retires a brand. Its history stays intact.
func (s *Service) DeactivateBrand(ctx context.Context, teamID, brandID string) error {
	b, _, err := s.ownedBrand(ctx, teamID, brandID)
	if err != nil {
		return err
	}
	if !b.Active {
		return nil
	}
	b.Active = false
	b.UpdatedAt = s.now().UTC()
	return s.store.UpdateBrand(ctx, b)
}

func (s *Service) ListBrands(ctx context.Context, teamID string, includeInactive bool) ([]Brand, error) {
	if _, err := s.store.Team(ctx, teamID); err != nil {
		return nil, err
	}
	return s.store.ListBrands(ctx, teamID, includeInactive)
}

func (s *Service) teamGame(ctx context.Context, teamID string) (Team, Game, error) {
	t, err := s.store.Team(ctx, teamID)
	if err != nil {
		return Team{}, Game{}, err
	}
	g, err := s.store.Game(ctx, t.GameID)
	if err != nil {
		return Team{}, Game{}, err
	}
	return t, g, nil
}

func (s *Service) ownedBrand(ctx context.Context, teamID, brandID string) (Brand, Game, error) {
	b, err := s.store.Brand(ctx, brandID)
	if err != nil {
		return Brand{}, Game{}, err
	}
	if b.TeamID != teamID {
		return Brand{}, Game{}, ErrUnauthorized
	}
	_, g, err := s.teamGame(ctx, teamID)
	if err != nil {
		return Brand{}, Game{}, err
	}
	return b, g, nil
}

func nameTaken(brands []Brand, name, exceptID string) bool {
	for _, b := range brands {
		if b.ID != exceptID && strings.EqualFold(b.Name, name) {
			return true
		}
	}
	return false
}

// SubmitDecision stores a team's decision for the current round. Drafts may
// be overwritten until a final submission marks the team as ready; after
// that the round's decision is locked.
func (s *Service) SubmitDecision(ctx context.Context, in SubmitDecisionInput) (DecisionRecord, error) {
	t, g, err := s.teamGame(ctx, in.TeamID)
	if err != nil {
		return DecisionRecord{}, err
	}
	if g.Finished() {
		return DecisionRecord{}, ErrGameFinished
	}
	round := in.Round
	if round == 0 {
		round = g.CurrentRound
	}
	if round != g.CurrentRound {
		return DecisionRecord{}, fmt.Errorf("%w: game is on round %d", ErrRoundConflict, g.CurrentRound)
	}

	d, err := decision.Parse(in.Payload)
	if err != nil {
		return DecisionRecord{}, err
	}
	prev, err := s.store.Decision(ctx, t.ID, round)
	switch {
	case err == nil && prev.Status == DecisionSubmitted:
		return DecisionRecord{}, fmt.Errorf("%w: round %d", ErrAlreadySubmitted, round)
	case err != nil && !errors.Is(err, ErrDecisionNotFound):
		return DecisionRecord{}, err
	}

	// Drafts keep blocking issues for the team to fix; only a final
	// submission is refused.
	issues := decision.Check(d, t.Cash)
	if in.Final {
		if issues, err = decision.Enforce(d, t.Cash); err != nil {
			return DecisionRecord{}, err
		}
	}
	if in.IdempotencyKey != "" {
		if err := s.store.ClaimIdempotency(ctx, t.ID, in.IdempotencyKey, "submit_decision"); err != nil {
			return DecisionRecord{}, err
		}
	}

	rec := DecisionRecord{
		GameID:    g.ID,
		TeamID:    t.ID,
		Round:     round,
		Status:    DecisionDraft,
		Decision:  d,
		Issues:    issues,
		UpdatedAt: s.now().UTC(),
	}
	if in.Final {
		rec.Status = DecisionSubmitted
	}
	if err := s.store.SaveDecision(ctx, rec); err != nil {
		return DecisionRecord{}, err
	}
	return rec, nil
}

func (s *Service) Decision(ctx context.Context, teamID string, round int) (DecisionRecord, error) {
	return s.store.Decision(ctx, teamID, round)
}

// AdvanceRound resolves the game's current round. Unless force is set every
// human team must have submitted. A round resolves at most once; a losing
// concurrent caller gets ErrRoundConflict.
func (s *Service) AdvanceRound(ctx context.Context, gameID string, force bool) (RoundSummary, error) {
	lock := s.gameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	g, err := s.store.Game(ctx, gameID)
	if err != nil {
		return RoundSummary{}, err
	}
	if g.Finished() {
		return RoundSummary{}, ErrGameFinished
	}
	round := g.CurrentRound

	teams, err := s.store.ListTeams(ctx, gameID)
	if err != nil {
		return RoundSummary{}, err
	}
	records, err := s.store.ListDecisions(ctx, gameID, round)
	if err != nil {
		return RoundSummary{}, err
	}
	saved := make(map[string]DecisionRecord, len(records))
	for _, rec := range records {
		saved[rec.TeamID] = rec
	}

	if !force {
		waiting := 0
		for _, t := range teams {
			if t.Kind == KindHuman && saved[t.ID].Status != DecisionSubmitted {
				waiting++
			}
		}
		if waiting > 0 {
			return RoundSummary{}, fmt.Errorf("%w: %d team(s) pending", ErrNotAllSubmitted, waiting)
		}
	}

	in := sim.RoundInput{
		Round:     round,
		Teams:     make([]sim.Team, 0, len(teams)),
		Segments:  g.Segments,
		Decisions: make(map[string]sim.Decision, len(teams)),
		Regions:   g.Regions,
	}
	var rivalDecisions []DecisionRecord
	rivalIndex := 0
	for _, t := range teams {
		brands, err := s.store.ListBrands(ctx, t.ID, false)
		if err != nil {
			return RoundSummary{}, err
		}
		st := sim.Team{
			ID:               t.ID,
			Name:             t.Name,
			Brands:           make([]sim.Brand, len(brands)),
			Cash:             t.Cash,
			CumulativeProfit: t.CumulativeProfit,
			TotalInvestment:  t.TotalInvestment,
		}
		for i, b := range brands {
			st.Brands[i] = b.Brand
		}
		in.Teams = append(in.Teams, st)

		if t.Kind == KindRival {
			d := rivals.Decisions(rivals.Params{
				GameID:    g.ID,
				TeamIndex: rivalIndex,
				Round:     round,
				Team:      st,
				Segments:  g.Segments,
				Regions:   g.Regions,
			})
			rivalIndex++
			in.Decisions[t.ID] = d
			rivalDecisions = append(rivalDecisions, DecisionRecord{
				GameID:    g.ID,
				TeamID:    t.ID,
				Round:     round,
				Status:    DecisionSubmitted,
				Decision:  d,
				UpdatedAt: s.now().UTC(),
			})
			continue
		}
		if rec, ok := saved[t.ID]; ok {
			in.Decisions[t.ID] = rec.Decision
		}
	}

	out, err := sim.ResolveRound(in, sim.Options{})
	if err != nil {
		return RoundSummary{}, fmt.Errorf("resolve round %d: %w", round, err)
	}

	commit := RoundCommit{
		GameID:         g.ID,
		Round:          round,
		Results:        make([]sim.RoundResult, 0, len(teams)),
		Research:       out.MarketResearch,
		Teams:          make([]TeamUpdate, 0, len(teams)),
		RivalDecisions: rivalDecisions,
		NextRound:      round + 1,
		Status:         StatusActive,
	}
	for _, t := range teams {
		r := out.Results[t.ID]
		commit.Results = append(commit.Results, r)
		commit.Teams = append(commit.Teams, TeamUpdate{
			TeamID:           t.ID,
			Cash:             r.EndingCash,
			CumulativeProfit: t.CumulativeProfit + r.NetIncome,
			TotalInvestment:  t.TotalInvestment + r.Investment,
		})
	}
	if round >= g.MaxRounds {
		commit.Status = StatusFinished
		commit.NextRound = round
	} else {
		commit.Deadline = s.deadline(g.RoundDuration)
	}

	if err := s.store.CommitRound(ctx, commit); err != nil {
		return RoundSummary{}, err
	}

	summary := RoundSummary{
		GameID:   g.ID,
		Round:    round,
		Finished: commit.Status == StatusFinished,
		Forced:   force,
		Results:  commit.Results,
	}
	s.log.Info("round resolved", "game_id", g.ID, "round", round, "forced", force, "finished", summary.Finished)
	s.publish(ctx, summary)
	return summary, nil
}

func (s *Service) publish(ctx context.Context, summary RoundSummary) {
	if s.notifier == nil {
		return
	}
	board, err := s.Leaderboard(ctx, summary.GameID)
	if err != nil {
		s.log.Warn("leaderboard for round event failed", "game_id", summary.GameID, "err", err)
	}
	s.notifier.Publish(RoundEvent{
		GameID:      summary.GameID,
		Round:       summary.Round,
		Finished:    summary.Finished,
		Forced:      summary.Forced,
		Leaderboard: board,
		At:          s.now().UTC(),
	})
}

// AdvanceOverdue force-advances every active game whose deadline has
// passed and reports how many rounds were resolved.
func (s *Service) AdvanceOverdue(ctx context.Context, now time.Time) (int, error) {
	games, err := s.store.ListDueGames(ctx, now)
	if err != nil {
		return 0, err
	}
	advanced := 0
	var errs []error
	for _, g := range games {
		_, err := s.AdvanceRound(ctx, g.ID, true)
		switch {
		case err == nil:
			advanced++
		case errors.Is(err, ErrRoundConflict), errors.Is(err, ErrGameFinished):
			s.log.Info("overdue game already advanced", "game_id", g.ID)
		default:
			s.log.Error("advance overdue game failed", "game_id", g.ID, "err", err)
			errs = append(errs, fmt.Errorf("game %s: %w", g.ID, err))
		}
	}
	return advanced, errors.Join(errs...)
}

func (s *Service) TeamResults(ctx context.Context, teamID string) ([]sim.RoundResult, error) {
	if _, err := s.store.Team(ctx, teamID); err != nil {
		return nil, err
	}
	return s.store.TeamResults(ctx, teamID)
}

// RoundResults returns every team's result for one resolved round.
func (s *Service) RoundResults(ctx context.Context, gameID string, round int) ([]sim.RoundResult, error) {
	g, err := s.store.Game(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !roundResolved(g, round) {
		return nil, ErrRoundNotFound
	}
	all, err := s.store.GameResults(ctx, gameID)
	if err != nil {
		return nil, err
	}
	out := make([]sim.RoundResult, 0, len(all))
	for _, r := range all {
		if r.Round == round {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Service) MarketResearch(ctx context.Context, gameID string, round int) (sim.MarketResearch, error) {
	g, err := s.store.Game(ctx, gameID)
	if err != nil {
		return sim.MarketResearch{}, err
	}
	if !roundResolved(g, round) {
		return sim.MarketResearch{}, ErrRoundNotFound
	}
	return s.store.MarketResearch(ctx, gameID, round)
}

func roundResolved(g Game, round int) bool {
	if round < 1 {
		return false
	}
	if g.Finished() {
		return round <= g.CurrentRound
	}
	return round < g.CurrentRound
}

// Leaderboard ranks teams by their trailing-window average scorecard.
func (s *Service) Leaderboard(ctx context.Context, gameID string) ([]LeaderboardRow, error) {
	teams, err := s.Teams(ctx, gameID)
	if err != nil {
		return nil, err
	}
	results, err := s.store.GameResults(ctx, gameID)
	if err != nil {
		return nil, err
	}
	scores := make(map[string][]float64, len(teams))
	for _, r := range results {
		scores[r.TeamID] = append(scores[r.TeamID], r.Scorecard.Balanced)
	}

	rows := make([]LeaderboardRow, 0, len(teams))
	for _, t := range teams {
		history := scores[t.ID]
		row := LeaderboardRow{
			TeamID:           t.ID,
			TeamName:         t.Name,
			Kind:             t.Kind,
			Score:            trailingAverage(history, LeaderboardWindow),
			RoundsPlayed:     len(history),
			Cash:             t.Cash,
			CumulativeProfit: t.CumulativeProfit,
		}
		if len(history) > 0 {
			row.LastScore = history[len(history)-1]
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].TeamName < rows[j].TeamName
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

// Export gathers a game's full history.
func (s *Service) Export(ctx context.Context, gameID string) (Archive, error) {
	g, err := s.store.Game(ctx, gameID)
	if err != nil {
		return Archive{}, err
	}
	teams, err := s.store.ListTeams(ctx, gameID)
	if err != nil {
		return Archive{}, err
	}
	a := Archive{
		Version:    archiveVersion,
		ExportedAt: s.now().UTC(),
		Game:       g,
		Teams:      teams,
	}
	for _, t := range teams {
		brands, err := s.store.ListBrands(ctx, t.ID, true)
		if err != nil {
			return Archive{}, err
		}
		a.Brands = append(a.Brands, brands...)
	}
	for round := 1; roundResolved(g, round) || round == g.CurrentRound; round++ {
		decisions, err := s.store.ListDecisions(ctx, gameID, round)
		if err != nil {
			return Archive{}, err
		}
		a.Decisions = append(a.Decisions, decisions...)
		if !roundResolved(g, round) {
			break
		}
		mr, err := s.store.MarketResearch(ctx, gameID, round)
		if err != nil {
			return Archive{}, err
		}
		a.Research = append(a.Research, mr)
	}
	if a.Results, err = s.store.GameResults(ctx, gameID); err != nil {
		return Archive{}, err
	}
	return a, nil
}
