package store

import (
	"sort"

	"mafia-ratings/server/recorder"
)

// ratingCols are the nullable rating columns of a match_history row.
type ratingCols struct {
	OldMu, NewMu, OldSigma, NewSigma *float64
	OldRating, NewRating             *int
}

func colsFor(e recorder.Entry) ratingCols {
	if !e.Rated() {
		return ratingCols{}
	}
	return ratingCols{
		OldMu: &e.OldMean, NewMu: &e.NewMean,
		OldSigma: &e.OldUncertainty, NewSigma: &e.NewUncertainty,
		OldRating: &e.OldRating, NewRating: &e.NewRating,
	}
}

func (c ratingCols) apply(e *recorder.Entry) {
	if c.OldMu != nil {
		e.OldMean = *c.OldMu
	}
	if c.NewMu != nil {
		e.NewMean = *c.NewMu
	}
	if c.OldSigma != nil {
		e.OldUncertainty = *c.OldSigma
	}
	if c.NewSigma != nil {
		e.NewUncertainty = *c.NewSigma
	}
	if c.OldRating != nil {
		e.OldRating = *c.OldRating
	}
	if c.NewRating != nil {
		e.NewRating = *c.NewRating
	}
}

// sortedGames orders replayed games oldest first for bulk inserts.
func sortedGames(games []recorder.GameRecord) []recorder.GameRecord {
	out := append([]recorder.GameRecord(nil), games...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out
}

const historyCols = `game_id, position, player, alignment, result, rate_change,
       old_mu, new_mu, old_sigma, new_sigma, old_rating, new_rating, exclude`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (recorder.Entry, error) {
	var (
		e         recorder.Entry
		alignment string
		result    string
		c         ratingCols
	)
	err := row.Scan(&e.GameID, &e.Position, &e.Player, &alignment, &result, &e.RateChange,
		&c.OldMu, &c.NewMu, &c.OldSigma, &c.NewSigma, &c.OldRating, &c.NewRating, &e.Exclude)
	if err != nil {
		return recorder.Entry{}, err
	}
	e.Alignment = recorder.Faction(alignment)
	e.Result = recorder.Result(result)
	c.apply(&e)
	return e, nil
}
