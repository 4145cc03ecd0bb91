package stats

import (
	"context"
	"math"
	"sort"

	"mafia-ratings/server/rating"
	"mafia-ratings/server/recorder"
)

// Source is the read side of a store.
type Source interface {
	Players(ctx context.Context) ([]rating.Player, error)
	Entries(ctx context.Context) ([]recorder.Entry, error)
	PlayerEntries(ctx context.Context, name string) ([]recorder.Entry, error)
	LatestGameEntries(ctx context.Context) ([]recorder.Entry, error)
}

type PlayerStats struct {
	Name        string     `json:"name"`
	TownGames   int        `json:"town_games"`
	TownWins    int        `json:"town_wins"`
	TownWinPct  float64    `json:"town_win_pct"`
	MafiaGames  int        `json:"mafia_games"`
	MafiaWins   int        `json:"mafia_wins"`
	MafiaWinPct float64    `json:"mafia_win_pct"`
	TotalGames  int        `json:"total_games"`
	TotalWins   int        `json:"total_wins"`
	TotalWinPct float64    `json:"total_win_pct"`
	TotalWinCI  [2]float64 `json:"total_win_ci95"`
	Mean        float64    `json:"mu"`
	Uncertainty float64    `json:"sigma"`
	Rating      int        `json:"rating"`
}

type GameSummary struct {
	TotalGames  int        `json:"total_games"`
	MafiaWins   int        `json:"mafia_wins"`
	TownWins    int        `json:"town_wins"`
	MafiaWinPct float64    `json:"mafia_win_pct"`
	TownWinPct  float64    `json:"town_win_pct"`
	MafiaWinCI  [2]float64 `json:"mafia_win_ci95"`
}

type Report struct {
	Players     []PlayerStats `json:"players"`
	GameSummary GameSummary   `json:"game_summary"`
}

func Build(ctx context.Context, src Source) (*Report, error) {
	players, err := src.Players(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := src.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(players, entries), nil
}

// Summarize tallies per-player records from rated rows only and orders
// players by display rating, best first.
func Summarize(players []rating.Player, entries []recorder.Entry) *Report {
	byName := map[string]*PlayerStats{}
	out := make([]PlayerStats, 0, len(players))
	for _, p := range players {
		out = append(out, PlayerStats{
			Name:        p.Name,
			Mean:        p.Rating.Mean,
			Uncertainty: p.Rating.Uncertainty,
			Rating:      rating.DisplayRating(p.Rating),
		})
	}
	for i := range out {
		byName[out[i].Name] = &out[i]
	}

	for _, e := range entries {
		if !e.Rated() {
			continue
		}
		ps, ok := byName[e.Player]
		if !ok {
			continue
		}
		won := e.Result == recorder.Win
		if e.Alignment == recorder.Mafia {
			ps.MafiaGames++
			if won {
				ps.MafiaWins++
			}
		} else {
			ps.TownGames++
			if won {
				ps.TownWins++
			}
		}
	}
	for i := range out {
		ps := &out[i]
		ps.TotalGames = ps.TownGames + ps.MafiaGames
		ps.TotalWins = ps.TownWins + ps.MafiaWins
		ps.TownWinPct = pct(ps.TownWins, ps.TownGames)
		ps.MafiaWinPct = pct(ps.MafiaWins, ps.MafiaGames)
		ps.TotalWinPct = pct(ps.TotalWins, ps.TotalGames)
		lo, hi := WilsonCI95(ps.TotalWins, 0, ps.TotalGames)
		ps.TotalWinCI = [2]float64{lo, hi}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].Name < out[j].Name
	})
	return &Report{Players: out, GameSummary: summarizeGames(entries)}
}

func summarizeGames(entries []recorder.Entry) GameSummary {
	var s GameSummary
	for _, g := range recorder.GroupEntries(entries) {
		w, ok := g.Winner()
		if !ok {
			continue
		}
		s.TotalGames++
		if w == recorder.Mafia {
			s.MafiaWins++
		}
	}
	s.TownWins = s.TotalGames - s.MafiaWins
	s.MafiaWinPct = pct(s.MafiaWins, s.TotalGames)
	s.TownWinPct = pct(s.TownWins, s.TotalGames)
	lo, hi := WilsonCI95(s.MafiaWins, 0, s.TotalGames)
	s.MafiaWinCI = [2]float64{lo, hi}
	return s
}

// pct is a percentage with one decimal.
func pct(wins, games int) float64 {
	if games == 0 {
		return 0
	}
	return math.RoundToEven(1000*float64(wins)/float64(games)) / 10
}

// WilsonCI95 bounds a Bernoulli win rate; ties count as half a win.
func WilsonCI95(wins, ties, total int) (low, hi float64) {
	if total <= 0 {
		return 0, 1
	}
	z := 1.96
	n := float64(total)
	p := (float64(wins) + 0.5*float64(ties)) / n
	den := 1 + (z*z)/n
	center := p + (z*z)/(2*n)
	half := z * math.Sqrt((p*(1-p))/n+(z*z)/(4*n*n))
	return (center - half) / den, (center + half) / den
}
