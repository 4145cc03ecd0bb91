package recorder

import (
	"fmt"
	"sort"

	"mafia-ratings/server/rating"
)

// ReplayResult is the state rebuilt from scratch by Replay.
type ReplayResult struct {
	Ratings map[string]rating.Distribution
	Games   []GameRecord // every game; vetoed ones carry unrated rows
	Skipped []int        // game ids vetoed by an exclude flag
}

// Replay re-derives every rating from the default prior by rating games in
// id order, each under the era in force for its id. Unlike RecordGame it
// never reads or writes a store; persist the result with a Rebuilder.
// Vetoed games stay in Games without rating columns so a rebuild keeps
// their log rows.
// Only Alignment, Result and Exclude of the input entries are used.
func Replay(games []GameRecord, eras rating.Eras, policy ExcludePolicy) (*ReplayResult, error) {
	if len(eras) == 0 {
		eras = rating.Eras{rating.DefaultEra()}
	}
	ordered := append([]GameRecord(nil), games...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].GameID < ordered[j].GameID })

	res := &ReplayResult{Ratings: map[string]rating.Distribution{}}
	for i, g := range ordered {
		if i > 0 && ordered[i-1].GameID == g.GameID {
			return nil, fmt.Errorf("%w: game %d appears twice", ErrInvalidInput, g.GameID)
		}
		winner, ok := g.Winner()
		if !ok {
			return nil, fmt.Errorf("%w: game %d has no decided player", ErrInvalidInput, g.GameID)
		}
		p, err := planGame(assignmentsFromEntries(g.Entries))
		if err != nil {
			return nil, fmt.Errorf("game %d: %w", g.GameID, err)
		}
		if p.vetoed && policy == ExcludeVeto {
			res.Skipped = append(res.Skipped, g.GameID)
			res.Games = append(res.Games, GameRecord{GameID: g.GameID, Entries: p.unratedEntries(g.GameID, winner)})
			continue
		}

		current := make(map[string]rating.Distribution, len(p.mafia)+len(p.town))
		for _, name := range append(append([]string{}, p.mafia...), p.town...) {
			d, seen := res.Ratings[name]
			if !seen {
				d = rating.Default()
			}
			current[name] = d
		}
		entries, updated, _, err := p.score(g.GameID, eras.ForGame(g.GameID), current, winner)
		if err != nil {
			return nil, fmt.Errorf("game %d: %w", g.GameID, err)
		}
		for name, d := range updated {
			res.Ratings[name] = d
		}
		res.Games = append(res.Games, GameRecord{GameID: g.GameID, Entries: entries})
	}
	return res, nil
}

func assignmentsFromEntries(entries []Entry) []Assignment {
	out := make([]Assignment, len(entries))
	for i, e := range entries {
		out[i] = Assignment{
			Name:        e.Player,
			Role:        e.Alignment,
			Position:    e.Position,
			IsGhost:     e.Result == Ghost,
			IsNightZero: e.Result == NightZero,
			Exclude:     e.Exclude,
		}
	}
	return out
}

// GroupEntries folds flat log rows into games, oldest game first. Rows of a
// game keep their relative order.
func GroupEntries(entries []Entry) []GameRecord {
	idx := map[int]int{}
	var games []GameRecord
	for _, e := range entries {
		i, ok := idx[e.GameID]
		if !ok {
			i = len(games)
			idx[e.GameID] = i
			games = append(games, GameRecord{GameID: e.GameID})
		}
		games[i].Entries = append(games[i].Entries, e)
	}
	sort.SliceStable(games, func(i, j int) bool { return games[i].GameID < games[j].GameID })
	for _, g := range games {
		sort.SliceStable(g.Entries, func(i, j int) bool { return g.Entries[i].Position < g.Entries[j].Position })
	}
	return games
}
