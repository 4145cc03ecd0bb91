package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mafia-ratings/server/rating"
	"mafia-ratings/server/recorder"
)

//go:embed schema.sql schema_sqlite.sql
var schema embed.FS

// DB is the Postgres-backed store.
type DB struct {
	*pgxpool.Pool
	pgQueries
}

func Open(dsn string) (*DB, error) {
	p, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	return &DB{Pool: p, pgQueries: pgQueries{p}}, nil
}

func (db *DB) Close(ctx context.Context)      { db.Pool.Close() }
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

func Migrate(ctx context.Context, db *DB) error {
	sqlBytes, err := schema.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, string(sqlBytes))
	return err
}

// InTx runs fn against a store bound to one serializable transaction.
func (db *DB) InTx(ctx context.Context, fn func(recorder.Store) error) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // safe if already committed

	if err := fn(pgQueries{tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Rebuild replaces all ratings and history in one transaction.
func (db *DB) Rebuild(ctx context.Context, ratings map[string]rating.Distribution, games []recorder.GameRecord) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE match_history, player_ratings`); err != nil {
		return err
	}
	q := pgQueries{tx}
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
	return tx.Commit(ctx)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type pgQueries struct{ q querier }

/* -----------------------------
   Ratings
------------------------------*/

// GetRating ensures a player_ratings row exists and fetches it.
func (s pgQueries) GetRating(ctx context.Context, name string) (rating.Distribution, error) {
	def := rating.Default()
	if _, err := s.q.Exec(ctx, `
		INSERT INTO player_ratings(name, mu, sigma) VALUES ($1,$2,$3)
		ON CONFLICT (name) DO NOTHING
	`, name, def.Mean, def.Uncertainty); err != nil {
		return rating.Distribution{}, err
	}
	var d rating.Distribution
	err := s.q.QueryRow(ctx, `SELECT mu, sigma FROM player_ratings WHERE name = $1`, name).
		Scan(&d.Mean, &d.Uncertainty)
	return d, err
}

func (s pgQueries) SetRating(ctx context.Context, name string, d rating.Distribution) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO player_ratings(name, mu, sigma) VALUES ($1,$2,$3)
		ON CONFLICT (name) DO UPDATE
		  SET mu = EXCLUDED.mu,
		      sigma = EXCLUDED.sigma,
		      updated_at = now()
	`, name, d.Mean, d.Uncertainty)
	return err
}

// Players lists every rated player by name.
func (s pgQueries) Players(ctx context.Context) ([]rating.Player, error) {
	rows, err := s.q.Query(ctx, `SELECT name, mu, sigma FROM player_ratings ORDER BY name`)
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

/* -----------------------------
   Match history
------------------------------*/

func (s pgQueries) MaxGameID(ctx context.Context) (int, bool, error) {
	var id *int
	if err := s.q.QueryRow(ctx, `SELECT MAX(game_id) FROM match_history`).Scan(&id); err != nil {
		return 0, false, err
	}
	if id == nil {
		return 0, false, nil
	}
	return *id, true, nil
}

func (s pgQueries) AppendEntries(ctx context.Context, gameID int, entries []recorder.Entry) error {
	batch := &pgx.Batch{}
	for i, e := range entries {
		c := colsFor(e)
		batch.Queue(`
			INSERT INTO match_history(
				game_id, seq, position, player, alignment, result, rate_change,
				old_mu, new_mu, old_sigma, new_sigma, old_rating, new_rating, exclude
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`, gameID, i, e.Position, e.Player, string(e.Alignment), string(e.Result), e.RateChange,
			c.OldMu, c.NewMu, c.OldSigma, c.NewSigma, c.OldRating, c.NewRating, e.Exclude)
	}
	br := s.q.SendBatch(ctx, batch)
	for range entries {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}

func (s pgQueries) LatestGameEntries(ctx context.Context) ([]recorder.Entry, error) {
	return s.entries(ctx, `
		SELECT `+historyCols+`
		  FROM match_history
		 WHERE game_id = (SELECT MAX(game_id) FROM match_history)
		 ORDER BY seq
	`)
}

func (s pgQueries) DeleteGame(ctx context.Context, gameID int) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM match_history WHERE game_id = $1`, gameID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("game %d not found", gameID)
	}
	return nil
}

// Entries returns the whole log, newest game first, seats in order.
func (s pgQueries) Entries(ctx context.Context) ([]recorder.Entry, error) {
	return s.entries(ctx, `SELECT `+historyCols+` FROM match_history ORDER BY game_id DESC, seq`)
}

func (s pgQueries) PlayerEntries(ctx context.Context, name string) ([]recorder.Entry, error) {
	return s.entries(ctx, `
		SELECT `+historyCols+`
		  FROM match_history
		 WHERE player = $1
		 ORDER BY game_id DESC, seq
	`, name)
}

func (s pgQueries) entries(ctx context.Context, sql string, args ...any) ([]recorder.Entry, error) {
	rows, err := s.q.Query(ctx, sql, args...)
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
