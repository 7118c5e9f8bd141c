package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketsim/internal/db"
	"marketsim/internal/game"
	"marketsim/internal/sim"
)

var ErrTxConflict = errors.New("transaction conflict, retry")

// Postgres stores games in the msim schema.
type Postgres struct {
	db *pgxpool.Pool
}

var _ game.Store = (*Postgres)(nil)

var postgresSchema = []string{
	`CREATE SCHEMA IF NOT EXISTS msim`,
	`CREATE TABLE IF NOT EXISTS msim.games (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		scenario_id TEXT NOT NULL,
		status TEXT NOT NULL,
		current_round INTEGER NOT NULL,
		max_rounds INTEGER NOT NULL,
		max_teams INTEGER NOT NULL,
		max_brands INTEGER NOT NULL,
		starting_cash BIGINT NOT NULL,
		regions JSONB NOT NULL,
		segments JSONB NOT NULL,
		round_seconds BIGINT NOT NULL DEFAULT 0,
		round_deadline TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS games_due ON msim.games (round_deadline) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS msim.teams (
		id TEXT PRIMARY KEY,
		game_id TEXT NOT NULL REFERENCES msim.games(id),
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		seat INTEGER NOT NULL,
		cash BIGINT NOT NULL,
		cumulative_profit BIGINT NOT NULL DEFAULT 0,
		total_investment BIGINT NOT NULL DEFAULT 0,
		submitted BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT teams_game_seat UNIQUE (game_id, seat),
		CONSTRAINT teams_game_name UNIQUE (game_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS msim.brands (
		id TEXT PRIMARY KEY,
		team_id TEXT NOT NULL REFERENCES msim.teams(id),
		body JSONB NOT NULL,
		active BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS brands_team ON msim.brands (team_id)`,
	`CREATE TABLE IF NOT EXISTS msim.decisions (
		game_id TEXT NOT NULL,
		team_id TEXT NOT NULL REFERENCES msim.teams(id),
		round INTEGER NOT NULL,
		status TEXT NOT NULL,
		body JSONB NOT NULL,
		issues JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (team_id, round)
	)`,
	`CREATE INDEX IF NOT EXISTS decisions_game_round ON msim.decisions (game_id, round)`,
	`CREATE TABLE IF NOT EXISTS msim.results (
		game_id TEXT NOT NULL,
		team_id TEXT NOT NULL REFERENCES msim.teams(id),
		round INTEGER NOT NULL,
		body JSONB NOT NULL,
		PRIMARY KEY (team_id, round)
	)`,
	`CREATE INDEX IF NOT EXISTS results_game ON msim.results (game_id, round)`,
	`CREATE TABLE IF NOT EXISTS msim.research (
		game_id TEXT NOT NULL REFERENCES msim.games(id),
		round INTEGER NOT NULL,
		body JSONB NOT NULL,
		PRIMARY KEY (game_id, round)
	)`,
	`CREATE TABLE IF NOT EXISTS msim.idempotency_keys (
		scope TEXT NOT NULL,
		key TEXT NOT NULL,
		action TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (scope, key)
	)`,
}

// NewPostgres migrates the schema and returns a store on pool.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	if err := db.Migrate(ctx, pool, postgresSchema); err != nil {
		return nil, err
	}
	return &Postgres{db: pool}, nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func pgConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName
	}
	return ""
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// serializable runs fn in a serializable transaction, retrying on
// serialization failures with backoff.
func (p *Postgres) serializable(ctx context.Context, fn func(pgx.Tx) error) error {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			return ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

const pgGameColumns = `id, code, name, scenario_id, status, current_round, max_rounds, max_teams,
	max_brands, starting_cash, regions, segments, round_seconds, round_deadline, created_at`

func scanPGGame(row pgx.Row) (game.Game, error) {
	var g game.Game
	var regions, segments []byte
	var seconds int64
	err := row.Scan(&g.ID, &g.Code, &g.Name, &g.ScenarioID, &g.Status, &g.CurrentRound, &g.MaxRounds,
		&g.MaxTeams, &g.MaxBrands, &g.StartingCash, &regions, &segments, &seconds, &g.RoundDeadline, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return g, game.ErrGameNotFound
		}
		return g, err
	}
	if err := decodeJSON(regions, &g.Regions); err != nil {
		return g, err
	}
	if err := decodeJSON(segments, &g.Segments); err != nil {
		return g, err
	}
	g.RoundDuration = time.Duration(seconds) * time.Second
	return g, nil
}

func (p *Postgres) CreateGame(ctx context.Context, g game.Game) error {
	regions, err := encodeJSON(g.Regions)
	if err != nil {
		return err
	}
	segments, err := encodeJSON(g.Segments)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO msim.games (`+pgGameColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, g.ID, g.Code, g.Name, g.ScenarioID, g.Status, g.CurrentRound, g.MaxRounds, g.MaxTeams,
		g.MaxBrands, g.StartingCash, regions, segments, int64(g.RoundDuration/time.Second),
		g.RoundDeadline, g.CreatedAt)
	return err
}

func (p *Postgres) Game(ctx context.Context, id string) (game.Game, error) {
	return scanPGGame(p.db.QueryRow(ctx, `SELECT `+pgGameColumns+` FROM msim.games WHERE id = $1`, id))
}

func (p *Postgres) GameByCode(ctx context.Context, code string) (game.Game, error) {
	return scanPGGame(p.db.QueryRow(ctx, `SELECT `+pgGameColumns+` FROM msim.games WHERE code = $1`, code))
}

func (p *Postgres) ListGames(ctx context.Context) ([]game.Game, error) {
	return p.queryGames(ctx, `SELECT `+pgGameColumns+` FROM msim.games ORDER BY created_at, id`)
}

func (p *Postgres) ListDueGames(ctx context.Context, now time.Time) ([]game.Game, error) {
	return p.queryGames(ctx, `
		SELECT `+pgGameColumns+`
		FROM msim.games
		WHERE status = $1 AND round_deadline IS NOT NULL AND round_deadline <= $2
		ORDER BY round_deadline, id
	`, game.StatusActive, now)
}

func (p *Postgres) queryGames(ctx context.Context, query string, args ...any) ([]game.Game, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []game.Game
	for rows.Next() {
		g, err := scanPGGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

const pgTeamColumns = `id, game_id, name, kind, seat, cash, cumulative_profit, total_investment, submitted, created_at`

func scanPGTeam(row pgx.Row) (game.Team, error) {
	var t game.Team
	err := row.Scan(&t.ID, &t.GameID, &t.Name, &t.Kind, &t.Seat, &t.Cash, &t.CumulativeProfit,
		&t.TotalInvestment, &t.Submitted, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, game.ErrTeamNotFound
	}
	return t, err
}

func (p *Postgres) CreateTeam(ctx context.Context, t game.Team) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO msim.teams (`+pgTeamColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.GameID, t.Name, t.Kind, t.Seat, t.Cash, t.CumulativeProfit, t.TotalInvestment,
		t.Submitted, t.CreatedAt)
	switch pgConstraint(err) {
	case "teams_game_name":
		return game.ErrDuplicateTeam
	case "teams_game_seat":
		return game.ErrGameFull
	}
	return err
}

func (p *Postgres) Team(ctx context.Context, id string) (game.Team, error) {
	return scanPGTeam(p.db.QueryRow(ctx, `SELECT `+pgTeamColumns+` FROM msim.teams WHERE id = $1`, id))
}

func (p *Postgres) ListTeams(ctx context.Context, gameID string) ([]game.Team, error) {
	rows, err := p.db.Query(ctx, `SELECT `+pgTeamColumns+` FROM msim.teams WHERE game_id = $1 ORDER BY seat`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []game.Team
	for rows.Next() {
		t, err := scanPGTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanPGBrand(row pgx.Row) (game.Brand, error) {
	var b game.Brand
	var body []byte
	if err := row.Scan(&b.TeamID, &body, &b.Active, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return b, game.ErrBrandNotFound
		}
		return b, err
	}
	return b, decodeJSON(body, &b.Brand)
}

func (p *Postgres) CreateBrand(ctx context.Context, b game.Brand) error {
	body, err := encodeJSON(b.Brand)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO msim.brands (id, team_id, body, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, b.ID, b.TeamID, body, b.Active, b.CreatedAt, b.UpdatedAt)
	return err
}

func (p *Postgres) UpdateBrand(ctx context.Context, b game.Brand) error {
	body, err := encodeJSON(b.Brand)
	if err != nil {
		return err
	}
	cmd, err := p.db.Exec(ctx, `
		UPDATE msim.brands SET body = $1, active = $2, updated_at = $3 WHERE id = $4
	`, body, b.Active, b.UpdatedAt, b.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return game.ErrBrandNotFound
	}
	return nil
}

func (p *Postgres) Brand(ctx context.Context, id string) (game.Brand, error) {
	return scanPGBrand(p.db.QueryRow(ctx, `
		SELECT team_id, body, active, created_at, updated_at FROM msim.brands WHERE id = $1
	`, id))
}

func (p *Postgres) ListBrands(ctx context.Context, teamID string, includeInactive bool) ([]game.Brand, error) {
	rows, err := p.db.Query(ctx, `
		SELECT team_id, body, active, created_at, updated_at
		FROM msim.brands
		WHERE team_id = $1 AND (active OR $2)
		ORDER BY created_at, id
	`, teamID, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []game.Brand
	for rows.Next() {
		b, err := scanPGBrand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func upsertPGDecision(ctx context.Context, tx pgx.Tx, d game.DecisionRecord) error {
	body, err := encodeJSON(d.Decision)
	if err != nil {
		return err
	}
	issues, err := encodeJSON(d.Issues)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO msim.decisions (game_id, team_id, round, status, body, issues, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (team_id, round) DO UPDATE SET
			status = EXCLUDED.status,
			body = EXCLUDED.body,
			issues = EXCLUDED.issues,
			updated_at = EXCLUDED.updated_at
	`, d.GameID, d.TeamID, d.Round, d.Status, body, issues, d.UpdatedAt)
	return err
}

func (p *Postgres) SaveDecision(ctx context.Context, d game.DecisionRecord) error {
	return p.serializable(ctx, func(tx pgx.Tx) error {
		if err := upsertPGDecision(ctx, tx, d); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE msim.teams SET submitted = $1 WHERE id = $2`,
			d.Status == game.DecisionSubmitted, d.TeamID)
		return err
	})
}

func scanPGDecision(row pgx.Row) (game.DecisionRecord, error) {
	var d game.DecisionRecord
	var body, issues []byte
	if err := row.Scan(&d.GameID, &d.TeamID, &d.Round, &d.Status, &body, &issues, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return d, game.ErrDecisionNotFound
		}
		return d, err
	}
	if err := decodeJSON(body, &d.Decision); err != nil {
		return d, err
	}
	return d, decodeJSON(issues, &d.Issues)
}

func (p *Postgres) Decision(ctx context.Context, teamID string, round int) (game.DecisionRecord, error) {
	return scanPGDecision(p.db.QueryRow(ctx, `
		SELECT game_id, team_id, round, status, body, issues, updated_at
		FROM msim.decisions WHERE team_id = $1 AND round = $2
	`, teamID, round))
}

func (p *Postgres) ListDecisions(ctx context.Context, gameID string, round int) ([]game.DecisionRecord, error) {
	rows, err := p.db.Query(ctx, `
		SELECT d.game_id, d.team_id, d.round, d.status, d.body, d.issues, d.updated_at
		FROM msim.decisions d JOIN msim.teams t ON t.id = d.team_id
		WHERE d.game_id = $1 AND d.round = $2
		ORDER BY t.seat
	`, gameID, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []game.DecisionRecord
	for rows.Next() {
		d, err := scanPGDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) ClaimIdempotency(ctx context.Context, scope, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("idempotency key is required")
	}
	cmd, err := p.db.Exec(ctx, `
		INSERT INTO msim.idempotency_keys (scope, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (scope, key) DO NOTHING
	`, scope, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return game.ErrDuplicateIdempotency
	}
	return nil
}

func (p *Postgres) CommitRound(ctx context.Context, c game.RoundCommit) error {
	research, err := encodeJSON(c.Research)
	if err != nil {
		return err
	}
	return p.serializable(ctx, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, `
			UPDATE msim.games SET current_round = $1, status = $2, round_deadline = $3
			WHERE id = $4 AND current_round = $5 AND status = $6
		`, c.NextRound, c.Status, c.Deadline, c.GameID, c.Round, game.StatusActive)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return game.ErrRoundConflict
		}

		batch := &pgx.Batch{}
		for _, r := range c.Results {
			body, err := encodeJSON(r)
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO msim.results (game_id, team_id, round, body) VALUES ($1, $2, $3, $4)`,
				c.GameID, r.TeamID, r.Round, body)
		}
		batch.Queue(`INSERT INTO msim.research (game_id, round, body) VALUES ($1, $2, $3)`,
			c.GameID, c.Round, research)
		for _, t := range c.Teams {
			batch.Queue(`
				UPDATE msim.teams
				SET cash = $1, cumulative_profit = $2, total_investment = $3, submitted = false
				WHERE id = $4
			`, t.Cash, t.CumulativeProfit, t.TotalInvestment, t.TeamID)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if pgConstraint(err) != "" {
				return game.ErrRoundConflict
			}
			return err
		}
		for _, d := range c.RivalDecisions {
			if err := upsertPGDecision(ctx, tx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) queryResults(ctx context.Context, query string, args ...any) ([]sim.RoundResult, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sim.RoundResult
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r sim.RoundResult
		if err := decodeJSON(body, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) TeamResults(ctx context.Context, teamID string) ([]sim.RoundResult, error) {
	return p.queryResults(ctx, `SELECT body FROM msim.results WHERE team_id = $1 ORDER BY round`, teamID)
}

func (p *Postgres) GameResults(ctx context.Context, gameID string) ([]sim.RoundResult, error) {
	return p.queryResults(ctx, `
		SELECT r.body
		FROM msim.results r JOIN msim.teams t ON t.id = r.team_id
		WHERE r.game_id = $1
		ORDER BY r.round, t.seat
	`, gameID)
}

func (p *Postgres) MarketResearch(ctx context.Context, gameID string, round int) (sim.MarketResearch, error) {
	var mr sim.MarketResearch
	var body []byte
	err := p.db.QueryRow(ctx, `SELECT body FROM msim.research WHERE game_id = $1 AND round = $2`, gameID, round).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mr, game.ErrRoundNotFound
		}
		return mr, err
	}
	return mr, decodeJSON(body, &mr)
}
