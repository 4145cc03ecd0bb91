package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"mafia-ratings/server/rating"
	"mafia-ratings/server/recorder"
)

// SQLite is a single-file store for local leagues and development.
type SQLite struct {
	sqlDB *sql.DB
	sqlQueries
}

// OpenSQLite opens (or creates) the database file and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path)
	if path == ":memory:" {
		dsn = path
	}
	sqlDB, err := sql.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	ddl, err := schema.ReadFile("schema_sqlite.sql")
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if _, err := sqlDB.Exec(string(ddl)); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLite{sqlDB: sqlDB, sqlQueries: sqlQueries{sqlDB}}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLite) Ping(ctx context.Context) error { return s.sqlDB.PingContext(ctx) }

func (s *SQLite) InTx(ctx context.Context, fn func(recorder.Store) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(sqlQueries{tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Rebuild replaces all ratings and history in one transaction.
func (s *SQLite) Rebuild(ctx context.Context, ratings map[string]rating.Distribution, games []recorder.GameRecord) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM match_history`, `DELETE FROM player_ratings`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	q := sqlQueries{tx}
	for name, d := range ratings {
		if err := q.SetRating(ctx, name, d); err != nil {
			return err
		}
	}
	for _, g := range sortedGames(games) {
		if err := q.AppendEntries(ctx, g.GameID, g.Entries); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlQueries struct{ q sqlQuerier }

func (s sqlQueries) GetRating(ctx context.Context, name string) (rating.Distribution, error) {
	def := rating.Default()
	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO player_ratings(name, mu, sigma) VALUES (?, ?, ?) ON CONFLICT (name) DO NOTHING`,
		name, def.Mean, def.Uncertainty); err != nil {
		return rating.Distribution{}, err
	}
	var d rating.Distribution
	err := s.q.QueryRowContext(ctx, `SELECT mu, sigma FROM player_ratings WHERE name = ?`, name).
		Scan(&d.Mean, &d.Uncertainty)
	return d, err
}

func (s sqlQueries) SetRating(ctx context.Context, name string, d rating.Distribution) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO player_ratings(name, mu, sigma) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE
		  SET mu = excluded.mu,
		      sigma = excluded.sigma,
		      updated_at = strftime('%s', 'now')
	`, name, d.Mean, d.Uncertainty)
	return err
}

func (s sqlQueries) Players(ctx context.Context) ([]rating.Player, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT name, mu, sigma FROM player_ratings ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []rating.Player{}
	for rows.Next() {
		var p rating.Player
		if err := rows.Scan(&p.Name, &p.Rating.Mean, &p.Rating.Uncertainty); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s sqlQueries) MaxGameID(ctx context.Context) (int, bool, error) {
	var id sql.NullInt64
	err := s.q.QueryRowContext(ctx, `SELECT MAX(game_id) FROM match_history`).Scan(&id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, false, err
	}
	if !id.Valid {
		return 0, false, nil
	}
	return int(id.Int64), true, nil
}

func (s sqlQueries) AppendEntries(ctx context.Context, gameID int, entries []recorder.Entry) error {
	for i, e := range entries {
		c := colsFor(e)
		if _, err := s.q.ExecContext(ctx, `
			INSERT INTO match_history(
				game_id, seq, position, player, alignment, result, rate_change,
				old_mu, new_mu, old_sigma, new_sigma, old_rating, new_rating, exclude
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, gameID, i, e.Position, e.Player, string(e.Alignment), string(e.Result), e.RateChange,
			c.OldMu, c.NewMu, c.OldSigma, c.NewSigma, c.OldRating, c.NewRating, e.Exclude); err != nil {
			return err
		}
	}
	return nil
}

func (s sqlQueries) LatestGameEntries(ctx context.Context) ([]recorder.Entry, error) {
	return s.entries(ctx, `
		SELECT `+historyCols+`
		  FROM match_history
		 WHERE game_id = (SELECT MAX(game_id) FROM match_history)
		 ORDER BY seq`)
}

func (s sqlQueries) DeleteGame(ctx context.Context, gameID int) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM match_history WHERE game_id = ?`, gameID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("game %d not found", gameID)
	}
	return nil
}

func (s sqlQueries) Entries(ctx context.Context) ([]recorder.Entry, error) {
	return s.entries(ctx, `SELECT `+historyCols+` FROM match_history ORDER BY game_id DESC, seq`)
}

func (s sqlQueries) PlayerEntries(ctx context.Context, name string) ([]recorder.Entry, error) {
	return s.entries(ctx, `
		SELECT `+historyCols+`
		  FROM match_history
		 WHERE player = ?
		 ORDER BY game_id DESC, seq`, name)
}

func (s sqlQueries) entries(ctx context.Context, query string, args ...any) ([]recorder.Entry, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []recorder.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
