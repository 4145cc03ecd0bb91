package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"mafia-ratings/server/cache"
	"mafia-ratings/server/rating"
	"mafia-ratings/server/recorder"
	"mafia-ratings/server/stats"
)

// Store is what the HTTP layer needs from a storage backend.
type Store interface {
	recorder.Store
	stats.Source
}

type API struct {
	mu    sync.Mutex // one record/undo at a time
	store Store
	rec   *recorder.Recorder
	eras  rating.Eras
	cache *cache.RedisCache
}

func NewAPI(s Store, cfg recorder.Config, c *cache.RedisCache) *API {
	eras := cfg.Eras
	if len(eras) == 0 {
		eras = rating.Eras{rating.DefaultEra()}
	}
	return &API{store: s, rec: recorder.New(s, cfg), eras: eras, cache: c}
}

func Router(api *API, origins []string, timeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Single-endpoint protocol used by the league's web client.
	r.Post("/", api.dispatch)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", api.health)
		r.Get("/players", api.handle(func(ctx context.Context) (any, error) { return api.getPlayers(ctx) }))
		r.Get("/players/{name}/history", func(w http.ResponseWriter, r *http.Request) {
			res, err := api.getPlayerHistory(r.Context(), chi.URLParam(r, "name"))
			respond(w, res, err)
		})
		r.Get("/stats", api.handle(func(ctx context.Context) (any, error) { return api.getStats(ctx) }))
		r.Get("/games/last", api.handle(func(ctx context.Context) (any, error) { return api.getLastGame(ctx) }))
		r.Delete("/games/last", api.handle(func(ctx context.Context) (any, error) { return api.undoLastGame(ctx) }))
		r.Post("/games", api.handleBody(func(ctx context.Context, req *actionRequest) (any, error) { return api.recordGame(ctx, req) }))
		r.Post("/predict", api.predict)
	})
	return r
}

/* -----------------------------
   Action protocol
------------------------------*/

type actionRequest struct {
	Action      string                `json:"action"`
	Assignments []recorder.Assignment `json:"assignments"`
	Winner      string                `json:"winner"`
	Night0Kills []string              `json:"night0_kills"`
	PlayerName  string                `json:"player_name"`
}

var errBadRequest = errors.New("bad request")

func (a *API) dispatch(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeBody(w, r, &req); err != nil {
		respond(w, nil, err)
		return
	}
	ctx := r.Context()
	var (
		res any
		err error
	)
	switch req.Action {
	case "getPlayers":
		res, err = a.getPlayers(ctx)
	case "getLastGame":
		res, err = a.getLastGame(ctx)
	case "recordGame":
		res, err = a.recordGame(ctx, &req)
	case "undoLastGame":
		res, err = a.undoLastGame(ctx)
	case "getStats":
		res, err = a.getStats(ctx)
	case "getPlayerHistory":
		res, err = a.getPlayerHistory(ctx, req.PlayerName)
	default:
		err = fmt.Errorf("%w: Unknown action: %s", errBadRequest, req.Action)
	}
	respond(w, res, err)
}

func (a *API) handle(fn func(context.Context) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := fn(r.Context())
		respond(w, res, err)
	}
}

func (a *API) handleBody(fn func(context.Context, *actionRequest) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req actionRequest
		if err := decodeBody(w, r, &req); err != nil {
			respond(w, nil, err)
			return
		}
		res, err := fn(r.Context(), &req)
		respond(w, res, err)
	}
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			log.Printf("health: store ping failed: %v", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, map[string]any{"ok": false})
			return
		}
	}
	writeJSON(w, map[string]any{"ok": true})
}

/* -----------------------------
   Reads
------------------------------*/

func (a *API) getPlayers(ctx context.Context) (map[string]any, error) {
	players, err := cached(ctx, a.cache, cache.PlayersKey, func(ctx context.Context) ([]stats.PlayerView, error) {
		return stats.Players(ctx, a.store)
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"players": players}, nil
}

func (a *API) getLastGame(ctx context.Context) (map[string]any, error) {
	g, err := cached(ctx, a.cache, cache.LastGameKey, func(ctx context.Context) (*stats.GameView, error) {
		return stats.LastGame(ctx, a.store)
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"game": g}, nil
}

func (a *API) getStats(ctx context.Context) (*stats.Report, error) {
	return cached(ctx, a.cache, cache.StatsKey, func(ctx context.Context) (*stats.Report, error) {
		return stats.Build(ctx, a.store)
	})
}

func (a *API) getPlayerHistory(ctx context.Context, name string) (*stats.PlayerHistory, error) {
	return stats.History(ctx, a.store, name)
}

// cached serves key from the cache when present and fills it otherwise.
// Cache failures only cost a store read.
func cached[T any](ctx context.Context, c *cache.RedisCache, key string, load func(context.Context) (T, error)) (T, error) {
	var v T
	hit, err := c.Read(ctx, key, &v)
	if err != nil {
		log.Printf("cache read %s failed: %v", key, err)
	} else if hit {
		return v, nil
	}
	v, err = load(ctx)
	if err != nil {
		return v, err
	}
	if err := c.Write(ctx, key, v); err != nil {
		log.Printf("cache write %s failed: %v", key, err)
	}
	return v, nil
}

/* -----------------------------
   Writes
------------------------------*/

type recordView struct {
	GameID              int               `json:"game_id"`
	Winner              recorder.Faction  `json:"winner"`
	Players             []stats.EntryView `json:"players"`
	Excluded            recorder.Excluded `json:"excluded"`
	MafiaWinProbability float64           `json:"mafia_win_probability"`
	Skipped             bool              `json:"skipped,omitempty"`
}

func (a *API) recordGame(ctx context.Context, req *actionRequest) (*recordView, error) {
	winner, err := recorder.ParseFaction(req.Winner)
	if err != nil {
		return nil, fmt.Errorf("winner: %w", err)
	}
	assignments := append([]recorder.Assignment(nil), req.Assignments...)
	if len(req.Night0Kills) > 0 {
		killed := map[string]bool{}
		for _, n := range req.Night0Kills {
			killed[strings.TrimSpace(n)] = true
		}
		for i := range assignments {
			if killed[strings.TrimSpace(assignments[i].Name)] {
				assignments[i].IsNightZero = true
			}
		}
	}

	a.mu.Lock()
	res, err := a.rec.RecordGame(ctx, assignments, winner)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !res.Skipped {
		a.invalidate(ctx)
		log.Printf("recorded game %d (%s wins, %d seats)", res.GameID, res.Winner, len(res.Players))
	}
	return &recordView{
		GameID:              res.GameID,
		Winner:              res.Winner,
		Players:             stats.ViewsOf(res.Players),
		Excluded:            res.Excluded,
		MafiaWinProbability: res.MafiaWinProbability,
		Skipped:             res.Skipped,
	}, nil
}

func (a *API) undoLastGame(ctx context.Context) (*recorder.UndoResult, error) {
	a.mu.Lock()
	res, err := a.rec.UndoLastGame(ctx)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	a.invalidate(ctx)
	log.Printf("undid game %d (%d players restored)", res.GameID, len(res.Restored))
	return res, nil
}

func (a *API) invalidate(ctx context.Context) {
	if err := a.cache.Invalidate(ctx); err != nil {
		log.Printf("cache invalidate failed: %v", err)
	}
}

/* -----------------------------
   Prediction
------------------------------*/

type predictRequest struct {
	Mafia []string `json:"mafia"`
	Town  []string `json:"town"`
}

// predict reports the chance that Mafia beats Town under current ratings.
// Unknown players count at the default rating and are not created.
func (a *API) predict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := decodeBody(w, r, &req); err != nil {
		respond(w, nil, err)
		return
	}
	players, err := a.store.Players(r.Context())
	if err != nil {
		respond(w, nil, err)
		return
	}
	known := make(map[string]rating.Distribution, len(players))
	for _, p := range players {
		known[p.Name] = p.Rating
	}
	roster := func(names []string) []rating.Player {
		out := make([]rating.Player, len(names))
		for i, n := range names {
			n = strings.TrimSpace(n)
			d, ok := known[n]
			if !ok {
				d = rating.Default()
			}
			out[i] = rating.Player{Name: n, Rating: d}
		}
		return out
	}

	era := a.eras[len(a.eras)-1]
	m, err := rating.Normalize(roster(req.Mafia), roster(req.Town), era)
	if err != nil {
		respond(w, nil, err)
		return
	}
	p := era.Env.MafiaWinProbability(m)
	writeJSON(w, map[string]any{
		"era":                   era.Name,
		"mafia_win_probability": p,
		"town_win_probability":  1 - p,
	})
}

/* -----------------------------
   Helpers
------------------------------*/

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, recorder.ErrInvalidInput),
		errors.Is(err, recorder.ErrInvalidTeamComposition):
		return http.StatusBadRequest
	case errors.Is(err, recorder.ErrNoGameToUndo):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		status := statusFor(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			log.Printf("request failed: %v", err)
			msg = "internal error"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		writeJSON(w, map[string]string{"error": msg})
		return
	}
	writeJSON(w, v)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
