package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"marketsim/internal/game"
	"marketsim/internal/sim"
)

// SQLite is a single-file store for local games and tests.
type SQLite struct {
	db *sql.DB
}

var _ game.Store = (*SQLite)(nil)

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSQLitePragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func initSQLitePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			scenario_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_round INTEGER NOT NULL,
			max_rounds INTEGER NOT NULL,
			max_teams INTEGER NOT NULL,
			max_brands INTEGER NOT NULL,
			starting_cash INTEGER NOT NULL,
			regions TEXT NOT NULL,
			segments TEXT NOT NULL,
			round_seconds INTEGER NOT NULL DEFAULT 0,
			round_deadline INTEGER,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS teams (
			id TEXT PRIMARY KEY,
			game_id TEXT NOT NULL REFERENCES games(id),
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			seat INTEGER NOT NULL,
			cash INTEGER NOT NULL,
			cumulative_profit INTEGER NOT NULL DEFAULT 0,
			total_investment INTEGER NOT NULL DEFAULT 0,
			submitted INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			UNIQUE (game_id, seat),
			UNIQUE (game_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS brands (
			id TEXT PRIMARY KEY,
			team_id TEXT NOT NULL REFERENCES teams(id),
			body TEXT NOT NULL,
			active INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS brands_team ON brands(team_id);`,
		`CREATE TABLE IF NOT EXISTS decisions (
			game_id TEXT NOT NULL,
			team_id TEXT NOT NULL REFERENCES teams(id),
			round INTEGER NOT NULL,
			status TEXT NOT NULL,
			body TEXT NOT NULL,
			issues TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (team_id, round)
		);`,
		`CREATE INDEX IF NOT EXISTS decisions_game_round ON decisions(game_id, round);`,
		`CREATE TABLE IF NOT EXISTS results (
			game_id TEXT NOT NULL,
			team_id TEXT NOT NULL REFERENCES teams(id),
			round INTEGER NOT NULL,
			body TEXT NOT NULL,
			PRIMARY KEY (team_id, round)
		);`,
		`CREATE INDEX IF NOT EXISTS results_game ON results(game_id, round);`,
		`CREATE TABLE IF NOT EXISTS research (
			game_id TEXT NOT NULL REFERENCES games(id),
			round INTEGER NOT NULL,
			body TEXT NOT NULL,
			PRIMARY KEY (game_id, round)
		);`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			scope TEXT NOT NULL,
			key TEXT NOT NULL,
			action TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (scope, key)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error, columns string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, columns)
}

const sqliteGameColumns = `id, code, name, scenario_id, status, current_round, max_rounds, max_teams,
	max_brands, starting_cash, regions, segments, round_seconds, round_deadline, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteGame(row rowScanner) (game.Game, error) {
	var g game.Game
	var regions, segments []byte
	var seconds, created int64
	var deadline sql.NullInt64
	err := row.Scan(&g.ID, &g.Code, &g.Name, &g.ScenarioID, &g.Status, &g.CurrentRound, &g.MaxRounds,
		&g.MaxTeams, &g.MaxBrands, &g.StartingCash, &regions, &segments, &seconds, &deadline, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	if deadline.Valid {
		t := fromMilli(deadline.Int64)
		g.RoundDeadline = &t
	}
	g.CreatedAt = fromMilli(created)
	return g, nil
}

func nullMilli(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: unixMilli(*t), Valid: true}
}

func (s *SQLite) CreateGame(ctx context.Context, g game.Game) error {
	regions, err := encodeJSON(g.Regions)
	if err != nil {
		return err
	}
	segments, err := encodeJSON(g.Segments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO games (`+sqliteGameColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.Code, g.Name, g.ScenarioID, g.Status, g.CurrentRound, g.MaxRounds, g.MaxTeams,
		g.MaxBrands, g.StartingCash, regions, segments, int64(g.RoundDuration/time.Second),
		nullMilli(g.RoundDeadline), unixMilli(g.CreatedAt))
	return err
}

func (s *SQLite) Game(ctx context.Context, id string) (game.Game, error) {
	return scanSQLiteGame(s.db.QueryRowContext(ctx, `SELECT `+sqliteGameColumns+` FROM games WHERE id = ?`, id))
}

func (s *SQLite) GameByCode(ctx context.Context, code string) (game.Game, error) {
	return scanSQLiteGame(s.db.QueryRowContext(ctx, `SELECT `+sqliteGameColumns+` FROM games WHERE code = ?`, code))
}

func (s *SQLite) ListGames(ctx context.Context) ([]game.Game, error) {
	return s.queryGames(ctx, `SELECT `+sqliteGameColumns+` FROM games ORDER BY created_at, id`)
}

func (s *SQLite) ListDueGames(ctx context.Context, now time.Time) ([]game.Game, error) {
	return s.queryGames(ctx, `
		SELECT `+sqliteGameColumns+`
		FROM games
		WHERE status = ? AND round_deadline IS NOT NULL AND round_deadline <= ?
		ORDER BY round_deadline, id
	`, game.StatusActive, unixMilli(now))
}

func (s *SQLite) queryGames(ctx context.Context, query string, args ...any) ([]game.Game, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []game.Game
	for rows.Next() {
		g, err := scanSQLiteGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

const sqliteTeamColumns = `id, game_id, name, kind, seat, cash, cumulative_profit, total_investment, submitted, created_at`

func scanSQLiteTeam(row rowScanner) (game.Team, error) {
	var t game.Team
	var created int64
	err := row.Scan(&t.ID, &t.GameID, &t.Name, &t.Kind, &t.Seat, &t.Cash, &t.CumulativeProfit,
		&t.TotalInvestment, &t.Submitted, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, game.ErrTeamNotFound
		}
		return t, err
	}
	t.CreatedAt = fromMilli(created)
	return t, nil
}

func (s *SQLite) CreateTeam(ctx context.Context, t game.Team) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO teams (`+sqliteTeamColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.GameID, t.Name, t.Kind, t.Seat, t.Cash, t.CumulativeProfit, t.TotalInvestment,
		t.Submitted, unixMilli(t.CreatedAt))
	switch {
	case isUniqueViolation(err, "teams.name"):
		return game.ErrDuplicateTeam
	case isUniqueViolation(err, "teams.seat"):
		return game.ErrGameFull
	}
	return err
}

func (s *SQLite) Team(ctx context.Context, id string) (game.Team, error) {
	return scanSQLiteTeam(s.db.QueryRowContext(ctx, `SELECT `+sqliteTeamColumns+` FROM teams WHERE id = ?`, id))
}

func (s *SQLite) ListTeams(ctx context.Context, gameID string) ([]game.Team, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteTeamColumns+` FROM teams WHERE game_id = ? ORDER BY seat`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []game.Team
	for rows.Next() {
		t, err := scanSQLiteTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanSQLiteBrand(row rowScanner) (game.Brand, error) {
	var b game.Brand
	var body []byte
	var created, updated int64
	if err := row.Scan(&b.TeamID, &body, &b.Active, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, game.ErrBrandNotFound
		}
		return b, err
	}
	if err := decodeJSON(body, &b.Brand); err != nil {
		return b, err
	}
	b.CreatedAt = fromMilli(created)
	b.UpdatedAt = fromMilli(updated)
	return b, nil
}

func (s *SQLite) CreateBrand(ctx context.Context, b game.Brand) error {
	body, err := encodeJSON(b.Brand)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO brands (id, team_id, body, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.TeamID, body, b.Active, unixMilli(b.CreatedAt), unixMilli(b.UpdatedAt))
	return err
}

func (s *SQLite) UpdateBrand(ctx context.Context, b game.Brand) error {
	body, err := encodeJSON(b.Brand)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE brands SET body = ?, active = ?, updated_at = ? WHERE id = ?
	`, body, b.Active, unixMilli(b.UpdatedAt), b.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return game.ErrBrandNotFound
	}
	return nil
}

func (s *SQLite) Brand(ctx context.Context, id string) (game.Brand, error) {
	return scanSQLiteBrand(s.db.QueryRowContext(ctx, `
		SELECT team_id, body, active, created_at, updated_at FROM brands WHERE id = ?
	`, id))
}

func (s *SQLite) ListBrands(ctx context.Context, teamID string, includeInactive bool) ([]game.Brand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT team_id, body, active, created_at, updated_at
		FROM brands
		WHERE team_id = ? AND (active = 1 OR ?)
		ORDER BY created_at, id
	`, teamID, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []game.Brand
	for rows.Next() {
		b, err := scanSQLiteBrand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func upsertSQLiteDecision(ctx context.Context, tx *sql.Tx, d game.DecisionRecord) error {
	body, err := encodeJSON(d.Decision)
	if err != nil {
		return err
	}
	issues, err := encodeJSON(d.Issues)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO decisions (game_id, team_id, round, status, body, issues, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (team_id, round) DO UPDATE SET
			status = excluded.status,
			body = excluded.body,
			issues = excluded.issues,
			updated_at = excluded.updated_at
	`, d.GameID, d.TeamID, d.Round, d.Status, body, issues, unixMilli(d.UpdatedAt))
	return err
}

func (s *SQLite) SaveDecision(ctx context.Context, d game.DecisionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertSQLiteDecision(ctx, tx, d); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE teams SET submitted = ? WHERE id = ?`,
		d.Status == game.DecisionSubmitted, d.TeamID); err != nil {
		return err
	}
	return tx.Commit()
}

func scanSQLiteDecision(row rowScanner) (game.DecisionRecord, error) {
	var d game.DecisionRecord
	var body, issues []byte
	var updated int64
	if err := row.Scan(&d.GameID, &d.TeamID, &d.Round, &d.Status, &body, &issues, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, game.ErrDecisionNotFound
		}
		return d, err
	}
	if err := decodeJSON(body, &d.Decision); err != nil {
		return d, err
	}
	if err := decodeJSON(issues, &d.Issues); err != nil {
		return d, err
	}
	d.UpdatedAt = fromMilli(updated)
	return d, nil
}

func (s *SQLite) Decision(ctx context.Context, teamID string, round int) (game.DecisionRecord, error) {
	return scanSQLiteDecision(s.db.QueryRowContext(ctx, `
		SELECT game_id, team_id, round, status, body, issues, updated_at
		FROM decisions WHERE team_id = ? AND round = ?
	`, teamID, round))
}

func (s *SQLite) ListDecisions(ctx context.Context, gameID string, round int) ([]game.DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.game_id, d.team_id, d.round, d.status, d.body, d.issues, d.updated_at
		FROM decisions d JOIN teams t ON t.id = d.team_id
		WHERE d.game_id = ? AND d.round = ?
		ORDER BY t.seat
	`, gameID, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []game.DecisionRecord
	for rows.Next() {
		d, err := scanSQLiteDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLite) ClaimIdempotency(ctx context.Context, scope, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("idempotency key is required")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (scope, key, action, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (scope, key) DO NOTHING
	`, scope, key, action, unixMilli(time.Now()))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return game.ErrDuplicateIdempotency
	}
	return nil
}

func (s *SQLite) CommitRound(ctx context.Context, c game.RoundCommit) error {
	research, err := encodeJSON(c.Research)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE games SET current_round = ?, status = ?, round_deadline = ?
		WHERE id = ? AND current_round = ? AND status = ?
	`, c.NextRound, c.Status, nullMilli(c.Deadline), c.GameID, c.Round, game.StatusActive)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return game.ErrRoundConflict
	}

	for _, r := range c.Results {
		body, err := encodeJSON(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO results (game_id, team_id, round, body) VALUES (?, ?, ?, ?)
		`, c.GameID, r.TeamID, r.Round, body); err != nil {
			if isUniqueViolation(err, "results.") {
				return game.ErrRoundConflict
			}
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO research (game_id, round, body) VALUES (?, ?, ?)
	`, c.GameID, c.Round, research); err != nil {
		return err
	}
	for _, d := range c.RivalDecisions {
		if err := upsertSQLiteDecision(ctx, tx, d); err != nil {
			return err
		}
	}
	for _, t := range c.Teams {
		if _, err := tx.ExecContext(ctx, `
			UPDATE teams
			SET cash = ?, cumulative_profit = ?, total_investment = ?, submitted = 0
			WHERE id = ?
		`, t.Cash, t.CumulativeProfit, t.TotalInvestment, t.TeamID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) queryResults(ctx context.Context, query string, args ...any) ([]sim.RoundResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLite) TeamResults(ctx context.Context, teamID string) ([]sim.RoundResult, error) {
	return s.queryResults(ctx, `SELECT body FROM results WHERE team_id = ? ORDER BY round`, teamID)
}

func (s *SQLite) GameResults(ctx context.Context, gameID string) ([]sim.RoundResult, error) {
	return s.queryResults(ctx, `
		SELECT r.body
		FROM results r JOIN teams t ON t.id = r.team_id
		WHERE r.game_id = ?
		ORDER BY r.round, t.seat
	`, gameID)
}

func (s *SQLite) MarketResearch(ctx context.Context, gameID string, round int) (sim.MarketResearch, error) {
	var mr sim.MarketResearch
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM research WHERE game_id = ? AND round = ?`, gameID, round).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mr, game.ErrRoundNotFound
		}
		return mr, err
	}
	return mr, decodeJSON(body, &mr)
}
