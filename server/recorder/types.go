package recorder

import (
	"fmt"
	"strings"

	"mafia-ratings/server/rating"
)

type Faction string

const (
	Mafia Faction = "Mafia"
	Town  Faction = "Town"
)

// ParseFaction accepts the two faction names, case-insensitively.
func ParseFaction(s string) (Faction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mafia":
		return Mafia, nil
	case "town":
		return Town, nil
	}
	return "", fmt.Errorf("%w: unknown faction %q", ErrInvalidInput, s)
}

func (f Faction) Opponent() Faction {
	if f == Mafia {
		return Town
	}
	return Mafia
}

// Result is the per-player outcome written to the game log.
type Result string

const (
	Win       Result = "Win"
	Loss      Result = "Loss"
	NightZero Result = "Night Zero"
	Ghost     Result = "Ghost"
)

// Assignment is one seat at the table as reported by the moderator.
type Assignment struct {
	Name        string  `json:"name"`
	Role        Faction `json:"role"`
	Position    int     `json:"position"`
	IsGhost     bool    `json:"is_ghost"`
	IsNightZero bool    `json:"is_night_zero"`
	Exclude     bool    `json:"exclude"` // legacy veto flag, see ExcludePolicy
}

func (a Assignment) rated() bool { return !a.IsGhost && !a.IsNightZero }

// Entry is one row of the game log. Rating columns are zero for Night Zero
// and Ghost rows.
type Entry struct {
	GameID         int     `json:"game_id"`
	Position       int     `json:"position"`
	Player         string  `json:"player"`
	Alignment      Faction `json:"alignment"`
	Result         Result  `json:"result"`
	RateChange     int     `json:"rate_change"`
	OldMean        float64 `json:"old_mu"`
	NewMean        float64 `json:"new_mu"`
	OldUncertainty float64 `json:"old_sigma"`
	NewUncertainty float64 `json:"new_sigma"`
	OldRating      int     `json:"old_rating"`
	NewRating      int     `json:"new_rating"`
	Exclude        bool    `json:"exclude"`
}

// Rated reports whether the entry carries rating columns. Seats of a vetoed
// game keep their Win or Loss result but were never rated.
func (e Entry) Rated() bool {
	return (e.Result == Win || e.Result == Loss) && e.OldUncertainty > 0
}

func (e Entry) Before() rating.Distribution {
	return rating.Distribution{Mean: e.OldMean, Uncertainty: e.OldUncertainty}
}

func (e Entry) After() rating.Distribution {
	return rating.Distribution{Mean: e.NewMean, Uncertainty: e.NewUncertainty}
}

// GameRecord groups the log rows of one game in seat order.
type GameRecord struct {
	GameID  int     `json:"game_id"`
	Entries []Entry `json:"players"`
}

// Winner derives the winning faction from the first decided row.
func (g GameRecord) Winner() (Faction, bool) {
	for _, e := range g.Entries {
		switch e.Result {
		case Win:
			return e.Alignment, true
		case Loss:
			return e.Alignment.Opponent(), true
		}
	}
	return "", false
}

type Excluded struct {
	Ghosts    []string `json:"ghosts"`
	NightZero []string `json:"night0_kills"`
}

// GameResult summarizes one recorded game.
type GameResult struct {
	GameID              int      `json:"game_id"`
	Winner              Faction  `json:"winner"`
	Players             []Entry  `json:"players"`
	Excluded            Excluded `json:"excluded"`
	MafiaWinProbability float64  `json:"mafia_win_probability"`
	Skipped             bool     `json:"skipped,omitempty"` // vetoed by an exclude flag; nothing persisted
}

type UndoResult struct {
	GameID   int      `json:"undone_game_id"`
	Restored []string `json:"players_restored"`
}

// ExcludePolicy decides what an assignment's Exclude flag does.
type ExcludePolicy string

const (
	// ExcludeIgnore rates the game regardless of flags.
	ExcludeIgnore ExcludePolicy = "ignore"
	// ExcludeVeto skips rating the whole game when any seat is flagged.
	ExcludeVeto ExcludePolicy = "veto"
)

func ParseExcludePolicy(s string) (ExcludePolicy, error) {
	switch ExcludePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ExcludeIgnore:
		return ExcludeIgnore, nil
	case ExcludeVeto:
		return ExcludeVeto, nil
	}
	return "", fmt.Errorf("%w: unknown exclude policy %q", ErrInvalidInput, s)
}
