package recorder_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mafia-ratings/server/rating"
	"mafia-ratings/server/recorder"
	"mafia-ratings/server/store"
)

func seat(name string, role recorder.Faction, pos int) recorder.Assignment {
	return recorder.Assignment{Name: name, Role: role, Position: pos}
}

func oneVsTwo() []recorder.Assignment {
	return []recorder.Assignment{
		seat("A", recorder.Mafia, 1),
		seat("B", recorder.Town, 2),
		seat("C", recorder.Town, 3),
	}
}

func newRecorder(s recorder.Store, first int) *recorder.Recorder {
	return recorder.New(s, recorder.Config{FirstGameID: first})
}

func TestRecordGameOneMafiaBeatsTwoTown(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	r := newRecorder(mem, 46)

	res, err := r.RecordGame(ctx, oneVsTwo(), recorder.Mafia)
	require.NoError(t, err)
	assert.Equal(t, 46, res.GameID)
	assert.Equal(t, recorder.Mafia, res.Winner)
	assert.False(t, res.Skipped)
	require.Len(t, res.Players, 3)

	a, b := res.Players[0], res.Players[1]
	assert.Equal(t, recorder.Win, a.Result)
	assert.Equal(t, 850, a.OldRating)
	assert.Equal(t, 1029, a.NewRating)
	assert.Equal(t, 179, a.RateChange)
	assert.Equal(t, recorder.Loss, b.Result)
	assert.Equal(t, 740, b.NewRating)
	assert.Equal(t, -110, b.RateChange)

	got, err := mem.GetRating(ctx, "A")
	require.NoError(t, err)
	assert.InDelta(t, 27.120317553260957, got.Mean, 1e-9)
	assert.InDelta(t, 7.994729320763092, got.Uncertainty, 1e-9)
	got, _ = mem.GetRating(ctx, "C")
	assert.InDelta(t, 22.879682446739043, got.Mean, 1e-9)

	assert.Greater(t, res.MafiaWinProbability, 0.0)
	assert.Less(t, res.MafiaWinProbability, 1.0)
}

func TestRecordThenUndoRestoresExactly(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	r := newRecorder(mem, 0)

	_, err := r.RecordGame(ctx, oneVsTwo(), recorder.Town)
	require.NoError(t, err)
	before := map[string]rating.Distribution{}
	for _, n := range []string{"A", "B", "C"} {
		before[n], _ = mem.GetRating(ctx, n)
	}

	res, err := r.RecordGame(ctx, oneVsTwo(), recorder.Mafia)
	require.NoError(t, err)
	assert.Equal(t, 2, res.GameID)

	undo, err := r.UndoLastGame(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, undo.GameID)
	assert.Equal(t, []string{"A", "B", "C"}, undo.Restored)

	for n, want := range before {
		got, _ := mem.GetRating(ctx, n)
		assert.Equal(t, want, got, n)
	}
	id, ok, _ := mem.MaxGameID(ctx)
	assert.True(t, ok)
	assert.Equal(t, 1, id)

	_, err = r.UndoLastGame(ctx)
	require.NoError(t, err)
	_, err = r.UndoLastGame(ctx)
	assert.ErrorIs(t, err, recorder.ErrNoGameToUndo)
	for _, n := range []string{"A", "B", "C"} {
		got, _ := mem.GetRating(ctx, n)
		assert.Equal(t, rating.Default(), got)
	}
}

func TestGhostsAndNightZeroAreNotRated(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	r := newRecorder(mem, 46)

	seats := append(oneVsTwo(),
		recorder.Assignment{Name: "Ghost", Role: recorder.Town, Position: 4, IsGhost: true},
		recorder.Assignment{Name: "Early", Role: recorder.Town, Position: 5, IsNightZero: true},
	)
	res, err := r.RecordGame(ctx, seats, recorder.Mafia)
	require.NoError(t, err)
	require.Len(t, res.Players, 5)

	ghost, early := res.Players[3], res.Players[4]
	assert.Equal(t, recorder.Ghost, ghost.Result)
	assert.Equal(t, recorder.NightZero, early.Result)
	assert.Zero(t, ghost.RateChange)
	assert.Zero(t, early.NewRating)
	assert.Equal(t, []string{"Ghost"}, res.Excluded.Ghosts)
	assert.Equal(t, []string{"Early"}, res.Excluded.NightZero)

	// unrated seats do not change the outcome for the rest of the table
	assert.Equal(t, 1029, res.Players[0].NewRating)
	assert.Equal(t, 3, mem.Len())

	undo, err := r.UndoLastGame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, undo.Restored)
}

func TestRecordGameRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		seats  []recorder.Assignment
		winner recorder.Faction
		want   error
	}{
		{"bad winner", oneVsTwo(), "Draw", recorder.ErrInvalidInput},
		{"no seats", nil, recorder.Mafia, recorder.ErrInvalidInput},
		{"blank name", []recorder.Assignment{seat(" ", recorder.Mafia, 1), seat("B", recorder.Town, 2)}, recorder.Mafia, recorder.ErrInvalidInput},
		{"unknown role", []recorder.Assignment{seat("A", "Werewolf", 1), seat("B", recorder.Town, 2)}, recorder.Mafia, recorder.ErrInvalidInput},
		{"duplicate", []recorder.Assignment{seat("A", recorder.Mafia, 1), seat("A", recorder.Town, 2)}, recorder.Town, recorder.ErrInvalidInput},
		{"no town", []recorder.Assignment{seat("A", recorder.Mafia, 1), {Name: "B", Role: recorder.Town, Position: 2, IsGhost: true}}, recorder.Mafia, recorder.ErrInvalidTeamComposition},
		{"no mafia", []recorder.Assignment{{Name: "A", Role: recorder.Mafia, Position: 1, IsNightZero: true}, seat("B", recorder.Town, 2)}, recorder.Town, recorder.ErrInvalidTeamComposition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mem := store.NewMemory()
			_, err := newRecorder(mem, 1).RecordGame(ctx, tc.seats, tc.winner)
			assert.ErrorIs(t, err, tc.want)
			assert.Zero(t, mem.Len(), "store must stay untouched")
		})
	}
}

func TestGhostsMayShareAName(t *testing.T) {
	seats := append(oneVsTwo(),
		recorder.Assignment{Name: "Ghost", Role: recorder.Town, Position: 4, IsGhost: true},
		recorder.Assignment{Name: "Ghost", Role: recorder.Mafia, Position: 5, IsGhost: true},
	)
	_, err := newRecorder(store.NewMemory(), 1).RecordGame(context.Background(), seats, recorder.Town)
	assert.NoError(t, err)
}

func TestRoleIsCaseInsensitive(t *testing.T) {
	seats := []recorder.Assignment{seat("A", "mafia", 1), seat("B", "TOWN", 2)}
	res, err := newRecorder(store.NewMemory(), 1).RecordGame(context.Background(), seats, recorder.Town)
	require.NoError(t, err)
	assert.Equal(t, recorder.Mafia, res.Players[0].Alignment)
	assert.Equal(t, recorder.Win, res.Players[1].Result)
}

func TestExcludePolicy(t *testing.T) {
	ctx := context.Background()
	flagged := oneVsTwo()
	flagged[1].Exclude = true

	mem := store.NewMemory()
	veto := recorder.New(mem, recorder.Config{ExcludePolicy: recorder.ExcludeVeto})
	res, err := veto.RecordGame(ctx, flagged, recorder.Mafia)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, res.GameID)
	assert.Equal(t, recorder.Win, res.Players[0].Result)
	assert.Equal(t, recorder.Loss, res.Players[1].Result)
	assert.Equal(t, recorder.Loss, res.Players[2].Result)
	assert.False(t, res.Players[0].Rated())
	assert.Zero(t, mem.Len())
	_, ok, _ := mem.MaxGameID(ctx)
	assert.False(t, ok)

	ignore := recorder.New(mem, recorder.Config{})
	res, err = ignore.RecordGame(ctx, flagged, recorder.Mafia)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.True(t, res.Players[1].Exclude)
	assert.Equal(t, 1029, res.Players[0].NewRating)
}

var errBoom = errors.New("boom")

type failingAppend struct{ recorder.Store }

func (failingAppend) AppendEntries(context.Context, int, []recorder.Entry) error { return errBoom }

type failingTx struct{ *store.Memory }

func (f failingTx) InTx(ctx context.Context, fn func(recorder.Store) error) error {
	return f.Memory.InTx(ctx, func(s recorder.Store) error { return fn(failingAppend{s}) })
}

func TestRecordGameIsAtomic(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	r := newRecorder(failingTx{mem}, 1)

	_, err := r.RecordGame(ctx, oneVsTwo(), recorder.Mafia)
	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, mem.Len(), "ratings written before the failure are rolled back")
}

func TestReplayMatchesIncrementalRecording(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	r := newRecorder(mem, 114)

	_, err := r.RecordGame(ctx, oneVsTwo(), recorder.Mafia)
	require.NoError(t, err)
	second := []recorder.Assignment{
		seat("A", recorder.Town, 1),
		seat("B", recorder.Mafia, 2),
		seat("C", recorder.Town, 3),
		seat("D", recorder.Town, 4),
	}
	_, err = r.RecordGame(ctx, second, recorder.Town)
	require.NoError(t, err)

	rows, err := mem.Entries(ctx)
	require.NoError(t, err)
	games := recorder.GroupEntries(rows)
	require.Len(t, games, 2)
	assert.Equal(t, 114, games[0].GameID)

	res, err := recorder.Replay(games, nil, recorder.ExcludeIgnore)
	require.NoError(t, err)
	require.Len(t, res.Games, 2)
	for _, n := range []string{"A", "B", "C", "D"} {
		want, _ := mem.GetRating(ctx, n)
		assert.InDelta(t, want.Mean, res.Ratings[n].Mean, 1e-12, n)
		assert.InDelta(t, want.Uncertainty, res.Ratings[n].Uncertainty, 1e-12, n)
	}
	assert.Equal(t, rows[0].NewRating, res.Games[1].Entries[0].NewRating)

	legacy, err := recorder.Replay(games, rating.LegacyEras(), recorder.ExcludeIgnore)
	require.NoError(t, err)
	// game 114 predates the retune, game 115 does not
	assert.Equal(t, res.Games[0].Entries, legacy.Games[0].Entries)
	assert.NotEqual(t, res.Ratings["D"].Mean, legacy.Ratings["D"].Mean)
}

func TestReplaySkipsVetoedGames(t *testing.T) {
	flagged := recorder.Entry{GameID: 8, Position: 1, Player: "A", Alignment: recorder.Mafia, Result: recorder.Win, Exclude: true}
	games := []recorder.GameRecord{
		{GameID: 8, Entries: []recorder.Entry{flagged, {GameID: 8, Position: 2, Player: "B", Alignment: recorder.Town, Result: recorder.Loss}}},
		{GameID: 7, Entries: []recorder.Entry{
			{GameID: 7, Position: 1, Player: "A", Alignment: recorder.Mafia, Result: recorder.Loss},
			{GameID: 7, Position: 2, Player: "B", Alignment: recorder.Town, Result: recorder.Win},
		}},
	}

	res, err := recorder.Replay(games, nil, recorder.ExcludeVeto)
	require.NoError(t, err)
	assert.Equal(t, []int{8}, res.Skipped)
	require.Len(t, res.Games, 2)
	assert.Equal(t, 7, res.Games[0].GameID)
	assert.True(t, res.Games[0].Entries[0].Rated())
	vetoed := res.Games[1]
	assert.Equal(t, 8, vetoed.GameID)
	require.Len(t, vetoed.Entries, 2)
	assert.Equal(t, recorder.Win, vetoed.Entries[0].Result)
	assert.Equal(t, recorder.Loss, vetoed.Entries[1].Result)
	assert.True(t, vetoed.Entries[0].Exclude)
	for _, e := range vetoed.Entries {
		assert.False(t, e.Rated(), e.Player)
		assert.Zero(t, e.NewRating, e.Player)
	}
	assert.Less(t, res.Ratings["A"].Mean, rating.DefaultMean)

	_, err = recorder.Replay(append(games, games[1]), nil, recorder.ExcludeIgnore)
	assert.ErrorIs(t, err, recorder.ErrInvalidInput)
}

func TestReplayRebuildsStore(t *testing.T) {
	ctx := context.Background()
	src := store.NewMemory()
	r := newRecorder(src, 1)
	_, err := r.RecordGame(ctx, oneVsTwo(), recorder.Mafia)
	require.NoError(t, err)

	rows, _ := src.Entries(ctx)
	res, err := recorder.Replay(recorder.GroupEntries(rows), nil, recorder.ExcludeIgnore)
	require.NoError(t, err)

	dst := store.NewMemory()
	require.NoError(t, dst.Rebuild(ctx, res.Ratings, res.Games))
	assert.Equal(t, 3, dst.Len())

	undo, err := newRecorder(dst, 1).UndoLastGame(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, undo.GameID)
	got, _ := dst.GetRating(ctx, "A")
	assert.Equal(t, rating.Default(), got)
}

func TestVetoReplayKeepsLogRows(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	r := newRecorder(mem, 1)

	flagged := oneVsTwo()
	flagged[2].Exclude = true
	_, err := r.RecordGame(ctx, flagged, recorder.Mafia)
	require.NoError(t, err)
	_, err = r.RecordGame(ctx, oneVsTwo(), recorder.Town)
	require.NoError(t, err)

	before, err := mem.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, before, 6)

	res, err := recorder.Replay(recorder.GroupEntries(before), nil, recorder.ExcludeVeto)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Skipped)
	require.NoError(t, mem.Rebuild(ctx, res.Ratings, res.Games))

	after, err := mem.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, after, 6)
	games := recorder.GroupEntries(after)
	require.Len(t, games, 2)
	winner, ok := games[0].Winner()
	assert.True(t, ok)
	assert.Equal(t, recorder.Mafia, winner)
	for _, e := range games[0].Entries {
		assert.False(t, e.Rated(), e.Player)
	}
	// game 2 is now the first rated game for everyone
	assert.Equal(t, 850, games[1].Entries[0].OldRating)

	again, err := recorder.Replay(games, nil, recorder.ExcludeVeto)
	require.NoError(t, err)
	assert.Equal(t, res.Ratings, again.Ratings)

	undo, err := r.UndoLastGame(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, undo.GameID)
	undo, err = r.UndoLastGame(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, undo.GameID)
	assert.Empty(t, undo.Restored)
}
