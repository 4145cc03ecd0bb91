package recorder

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"mafia-ratings/server/rating"
)

// DefaultFirstGameID is the id given to the first game of an empty log.
const DefaultFirstGameID = 1

type Config struct {
	Eras          rating.Eras
	FirstGameID   int
	ExcludePolicy ExcludePolicy
}

// Recorder runs rating transactions against a Store. It holds no lock: at
// most one RecordGame/UndoLastGame may be in flight per store, and callers
// must serialize them.
type Recorder struct {
	store       Store
	eras        rating.Eras
	firstGameID int
	policy      ExcludePolicy
}

func New(s Store, cfg Config) *Recorder {
	r := &Recorder{store: s, eras: cfg.Eras, firstGameID: cfg.FirstGameID, policy: cfg.ExcludePolicy}
	if len(r.eras) == 0 {
		r.eras = rating.Eras{rating.DefaultEra()}
	}
	if r.firstGameID <= 0 {
		r.firstGameID = DefaultFirstGameID
	}
	if r.policy == "" {
		r.policy = ExcludeIgnore
	}
	return r
}

// RecordGame rates one finished game and appends it to the log. Input is
// fully validated before the store is touched.
func (r *Recorder) RecordGame(ctx context.Context, assignments []Assignment, winner Faction) (*GameResult, error) {
	if winner != Mafia && winner != Town {
		return nil, fmt.Errorf("%w: winner must be %q or %q, got %q", ErrInvalidInput, Mafia, Town, winner)
	}
	p, err := planGame(assignments)
	if err != nil {
		return nil, err
	}
	if p.vetoed && r.policy == ExcludeVeto {
		log.Printf("game skipped: exclude flag set (%d seats)", len(p.seats))
		return &GameResult{Winner: winner, Players: p.unratedEntries(0, winner), Excluded: p.excluded(), Skipped: true}, nil
	}

	var res *GameResult
	err = r.atomically(ctx, func(s Store) error {
		gameID, err := r.nextGameID(ctx, s)
		if err != nil {
			return err
		}
		current := make(map[string]rating.Distribution, len(p.mafia)+len(p.town))
		for _, name := range append(append([]string{}, p.mafia...), p.town...) {
			d, err := s.GetRating(ctx, name)
			if err != nil {
				return fmt.Errorf("get rating %q: %w", name, err)
			}
			current[name] = d
		}

		entries, updated, prob, err := p.score(gameID, r.eras.ForGame(gameID), current, winner)
		if err != nil {
			return err
		}

		for _, name := range append(append([]string{}, p.mafia...), p.town...) {
			if err := s.SetRating(ctx, name, updated[name]); err != nil {
				return fmt.Errorf("set rating %q: %w", name, err)
			}
		}
		if err := s.AppendEntries(ctx, gameID, entries); err != nil {
			return fmt.Errorf("append game %d: %w", gameID, err)
		}
		res = &GameResult{
			GameID:              gameID,
			Winner:              winner,
			Players:             entries,
			Excluded:            p.excluded(),
			MafiaWinProbability: prob,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// UndoLastGame restores the pre-game distributions of the newest game's rated
// players and removes the game from the log.
func (r *Recorder) UndoLastGame(ctx context.Context) (*UndoResult, error) {
	var res *UndoResult
	err := r.atomically(ctx, func(s Store) error {
		entries, err := s.LatestGameEntries(ctx)
		if err != nil {
			return fmt.Errorf("latest game: %w", err)
		}
		if len(entries) == 0 {
			return ErrNoGameToUndo
		}
		gameID := entries[0].GameID
		restored := []string{}
		for _, e := range entries {
			if !e.Rated() {
				continue
			}
			if err := s.SetRating(ctx, e.Player, e.Before()); err != nil {
				return fmt.Errorf("restore %q: %w", e.Player, err)
			}
			restored = append(restored, e.Player)
		}
		if err := s.DeleteGame(ctx, gameID); err != nil {
			return fmt.Errorf("delete game %d: %w", gameID, err)
		}
		res = &UndoResult{GameID: gameID, Restored: restored}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Recorder) atomically(ctx context.Context, fn func(Store) error) error {
	if tx, ok := r.store.(TxStore); ok {
		return tx.InTx(ctx, fn)
	}
	return fn(r.store)
}

func (r *Recorder) nextGameID(ctx context.Context, s Store) (int, error) {
	maxID, ok, err := s.MaxGameID(ctx)
	if err != nil {
		return 0, fmt.Errorf("max game id: %w", err)
	}
	if !ok {
		return r.firstGameID, nil
	}
	return maxID + 1, nil
}

// --- per-game planning and scoring, shared by RecordGame and Replay ---

type plan struct {
	seats  []Assignment // position order
	mafia  []string
	town   []string
	vetoed bool
}

func planGame(assignments []Assignment) (*plan, error) {
	if len(assignments) == 0 {
		return nil, fmt.Errorf("%w: no assignments", ErrInvalidInput)
	}
	p := &plan{seats: make([]Assignment, len(assignments))}
	copy(p.seats, assignments)
	sort.SliceStable(p.seats, func(i, j int) bool { return p.seats[i].Position < p.seats[j].Position })

	rated := make(map[string]struct{}, len(p.seats))
	for i := range p.seats {
		a := &p.seats[i]
		a.Name = strings.TrimSpace(a.Name)
		if a.Name == "" {
			return nil, fmt.Errorf("%w: seat %d has no player name", ErrInvalidInput, a.Position)
		}
		role, err := ParseFaction(string(a.Role))
		if err != nil {
			return nil, fmt.Errorf("seat %d (%s): %w", a.Position, a.Name, err)
		}
		a.Role = role
		if a.Exclude {
			p.vetoed = true
		}
		if !a.rated() {
			continue
		}
		if _, dup := rated[a.Name]; dup {
			return nil, fmt.Errorf("%w: player %q seated twice", ErrInvalidInput, a.Name)
		}
		rated[a.Name] = struct{}{}
		if role == Mafia {
			p.mafia = append(p.mafia, a.Name)
		} else {
			p.town = append(p.town, a.Name)
		}
	}
	if len(p.mafia) == 0 {
		return nil, fmt.Errorf("%w: no rated mafia players", ErrInvalidTeamComposition)
	}
	if len(p.town) == 0 {
		return nil, fmt.Errorf("%w: no rated town players", ErrInvalidTeamComposition)
	}
	return p, nil
}

func (p *plan) excluded() Excluded {
	ex := Excluded{Ghosts: []string{}, NightZero: []string{}}
	for _, a := range p.seats {
		switch {
		case a.IsGhost:
			ex.Ghosts = append(ex.Ghosts, a.Name)
		case a.IsNightZero:
			ex.NightZero = append(ex.NightZero, a.Name)
		}
	}
	return ex
}

func unratedResult(a Assignment) Result {
	if a.IsGhost {
		return Ghost
	}
	return NightZero
}

// unratedEntries lists every seat without rating data (used for vetoed games).
func (p *plan) unratedEntries(gameID int, winner Faction) []Entry {
	out := make([]Entry, 0, len(p.seats))
	for _, a := range p.seats {
		e := Entry{GameID: gameID, Position: a.Position, Player: a.Name, Alignment: a.Role, Exclude: a.Exclude}
		e.Result = seatResult(a, winner)
		out = append(out, e)
	}
	return out
}

func seatResult(a Assignment, winner Faction) Result {
	switch {
	case !a.rated():
		return unratedResult(a)
	case a.Role == winner:
		return Win
	}
	return Loss
}

// score rates the game from the given current distributions and builds the
// log rows in seat order. It does not touch any store.
func (p *plan) score(gameID int, era rating.Era, current map[string]rating.Distribution, winner Faction) ([]Entry, map[string]rating.Distribution, float64, error) {
	roster := func(names []string) []rating.Player {
		out := make([]rating.Player, len(names))
		for i, n := range names {
			out[i] = rating.Player{Name: n, Rating: current[n]}
		}
		return out
	}
	m, err := rating.Normalize(roster(p.mafia), roster(p.town), era)
	if err != nil {
		return nil, nil, 0, err
	}
	prob := era.Env.MafiaWinProbability(m)
	updated, err := era.Env.Rate(m, winner == Mafia)
	if err != nil {
		return nil, nil, 0, err
	}

	entries := make([]Entry, 0, len(p.seats))
	for _, a := range p.seats {
		e := Entry{GameID: gameID, Position: a.Position, Player: a.Name, Alignment: a.Role, Exclude: a.Exclude}
		e.Result = seatResult(a, winner)
		if !a.rated() {
			entries = append(entries, e)
			continue
		}
		before, after := current[a.Name], updated[a.Name]
		e.OldMean, e.OldUncertainty = before.Mean, before.Uncertainty
		e.NewMean, e.NewUncertainty = after.Mean, after.Uncertainty
		e.OldRating, e.NewRating = rating.DisplayRating(before), rating.DisplayRating(after)
		e.RateChange = e.NewRating - e.OldRating
		entries = append(entries, e)
	}
	return entries, updated, prob, nil
}
