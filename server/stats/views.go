package stats

import (
	"context"
	"fmt"
	"strings"

	"mafia-ratings/server/rating"
	"mafia-ratings/server/recorder"
)

// PlayerView is a player's current rating as served to clients.
type PlayerView struct {
	Name        string  `json:"name"`
	Mean        float64 `json:"mu"`
	Uncertainty float64 `json:"sigma"`
	Rating      int     `json:"rating"`
}

func Players(ctx context.Context, src Source) ([]PlayerView, error) {
	players, err := src.Players(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PlayerView, len(players))
	for i, p := range players {
		out[i] = PlayerView{Name: p.Name, Mean: p.Rating.Mean, Uncertainty: p.Rating.Uncertainty, Rating: rating.DisplayRating(p.Rating)}
	}
	return out, nil
}

// EntryView is a log row; rating fields are omitted for Night Zero and
// Ghost rows.
type EntryView struct {
	GameID         int              `json:"game_id"`
	Position       int              `json:"position"`
	Player         string           `json:"player"`
	Alignment      recorder.Faction `json:"alignment"`
	Result         recorder.Result  `json:"result"`
	RateChange     int              `json:"rate_change"`
	OldMean        *float64         `json:"old_mu,omitempty"`
	NewMean        *float64         `json:"new_mu,omitempty"`
	OldUncertainty *float64         `json:"old_sigma,omitempty"`
	NewUncertainty *float64         `json:"new_sigma,omitempty"`
	OldRating      *int             `json:"old_rating,omitempty"`
	NewRating      *int             `json:"new_rating,omitempty"`
	Exclude        bool             `json:"exclude,omitempty"`
}

func ViewOf(e recorder.Entry) EntryView {
	v := EntryView{
		GameID:     e.GameID,
		Position:   e.Position,
		Player:     e.Player,
		Alignment:  e.Alignment,
		Result:     e.Result,
		RateChange: e.RateChange,
		Exclude:    e.Exclude,
	}
	if e.Rated() {
		v.OldMean, v.NewMean = &e.OldMean, &e.NewMean
		v.OldUncertainty, v.NewUncertainty = &e.OldUncertainty, &e.NewUncertainty
		v.OldRating, v.NewRating = &e.OldRating, &e.NewRating
	}
	return v
}

func ViewsOf(entries []recorder.Entry) []EntryView {
	out := make([]EntryView, len(entries))
	for i, e := range entries {
		out[i] = ViewOf(e)
	}
	return out
}

type GameView struct {
	GameID  int         `json:"game_id"`
	Players []EntryView `json:"players"`
}

// LastGame returns the newest game, or nil when the log is empty.
func LastGame(ctx context.Context, src Source) (*GameView, error) {
	entries, err := src.LatestGameEntries(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &GameView{GameID: entries[0].GameID, Players: ViewsOf(entries)}, nil
}

type PlayerHistory struct {
	PlayerName string      `json:"player_name"`
	Games      []EntryView `json:"games"`
}

// History lists a player's rows, newest game first.
func History(ctx context.Context, src Source, name string) (*PlayerHistory, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: player_name is required", recorder.ErrInvalidInput)
	}
	entries, err := src.PlayerEntries(ctx, name)
	if err != nil {
		return nil, err
	}
	return &PlayerHistory{PlayerName: name, Games: ViewsOf(entries)}, nil
}
