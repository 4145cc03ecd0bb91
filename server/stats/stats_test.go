package stats

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"mafia-ratings/server/recorder"
	"mafia-ratings/server/store"
)

func seed(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	r := recorder.New(mem, recorder.Config{FirstGameID: 46})
	games := []struct {
		seats  []recorder.Assignment
		winner recorder.Faction
	}{
		{[]recorder.Assignment{
			{Name: "A", Role: recorder.Mafia, Position: 1},
			{Name: "B", Role: recorder.Town, Position: 2},
			{Name: "C", Role: recorder.Town, Position: 3},
		}, recorder.Mafia},
		{[]recorder.Assignment{
			{Name: "B", Role: recorder.Mafia, Position: 1},
			{Name: "A", Role: recorder.Town, Position: 2},
			{Name: "C", Role: recorder.Town, Position: 3},
			{Name: "G", Role: recorder.Town, Position: 4, IsGhost: true},
		}, recorder.Town},
	}
	for _, g := range games {
		if _, err := r.RecordGame(ctx, g.seats, g.winner); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	return mem
}

func TestBuildReport(t *testing.T) {
	rep, err := Build(context.Background(), seed(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(rep.Players) != 3 {
		t.Fatalf("expected 3 rated players, got %d", len(rep.Players))
	}
	for i := 1; i < len(rep.Players); i++ {
		if rep.Players[i-1].Rating < rep.Players[i].Rating {
			t.Fatalf("expected rating-desc order, got %+v", rep.Players)
		}
	}
	var a PlayerStats
	for _, p := range rep.Players {
		if p.Name == "A" {
			a = p
		}
	}
	if a.TotalGames != 2 || a.TotalWins != 2 || a.MafiaWins != 1 || a.TownWins != 1 {
		t.Fatalf("expected A to be 2/2 split across factions, got %+v", a)
	}
	if a.TotalWinPct != 100 {
		t.Fatalf("expected 100%% for A, got %v", a.TotalWinPct)
	}
	if a.TotalWinCI[0] <= 0 || a.TotalWinCI[1] > 1.0000001 {
		t.Fatalf("unexpected interval %v", a.TotalWinCI)
	}

	gs := rep.GameSummary
	if gs.TotalGames != 2 || gs.MafiaWins != 1 || gs.TownWins != 1 {
		t.Fatalf("unexpected summary %+v", gs)
	}
	if gs.MafiaWinPct != 50 || gs.TownWinPct != 50 {
		t.Fatalf("expected 50/50, got %+v", gs)
	}
}

func TestPct(t *testing.T) {
	cases := []struct {
		w, n int
		want float64
	}{{0, 0, 0}, {1, 3, 33.3}, {2, 3, 66.7}, {5, 5, 100}}
	for _, c := range cases {
		if got := pct(c.w, c.n); got != c.want {
			t.Fatalf("pct(%d,%d): expected %v, got %v", c.w, c.n, c.want, got)
		}
	}
}

func TestWilsonCI95(t *testing.T) {
	lo, hi := WilsonCI95(0, 0, 0)
	if lo != 0 || hi != 1 {
		t.Fatalf("expected [0,1] for no games, got [%v,%v]", lo, hi)
	}
	lo, hi = WilsonCI95(50, 0, 100)
	if math.Abs(lo-0.4038) > 1e-3 || math.Abs(hi-0.5962) > 1e-3 {
		t.Fatalf("expected about [0.404,0.596], got [%v,%v]", lo, hi)
	}
}

func TestLastGameAndHistory(t *testing.T) {
	ctx := context.Background()
	if g, err := LastGame(ctx, store.NewMemory()); err != nil || g != nil {
		t.Fatalf("expected nil game on empty log, got %+v (%v)", g, err)
	}

	mem := seed(t)
	g, err := LastGame(ctx, mem)
	if err != nil {
		t.Fatalf("last game: %v", err)
	}
	if g.GameID != 47 || len(g.Players) != 4 {
		t.Fatalf("expected game 47 with 4 rows, got %+v", g)
	}
	raw, _ := json.Marshal(g.Players[3])
	if strings.Contains(string(raw), "old_mu") || strings.Contains(string(raw), "new_rating") {
		t.Fatalf("expected ghost row without rating fields, got %s", raw)
	}
	raw, _ = json.Marshal(g.Players[0])
	if !strings.Contains(string(raw), `"old_rating":`) {
		t.Fatalf("expected rated row to carry ratings, got %s", raw)
	}

	h, err := History(ctx, mem, "A")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h.Games) != 2 || h.Games[0].GameID != 47 {
		t.Fatalf("expected newest-first history, got %+v", h.Games)
	}
	if _, err := History(ctx, mem, "  "); !errors.Is(err, recorder.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank name, got %v", err)
	}
}
