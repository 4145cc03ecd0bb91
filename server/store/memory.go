package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mafia-ratings/server/rating"
	"mafia-ratings/server/recorder"
)

// Memory keeps ratings and history in process. It backs tests and the
// "memory" driver; nothing survives a restart.
type Memory struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	ratings map[string]rating.Distribution
	games   []recorder.GameRecord // newest first
}

func NewMemory() *Memory {
	return &Memory{state: memState{ratings: map[string]rating.Distribution{}}}
}

func (st memState) clone() memState {
	out := memState{
		ratings: make(map[string]rating.Distribution, len(st.ratings)),
		games:   make([]recorder.GameRecord, len(st.games)),
	}
	for k, v := range st.ratings {
		out.ratings[k] = v
	}
	for i, g := range st.games {
		out.games[i] = recorder.GameRecord{GameID: g.GameID, Entries: append([]recorder.Entry(nil), g.Entries...)}
	}
	return out
}

func (m *Memory) GetRating(ctx context.Context, name string) (rating.Distribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.state.ratings[name]
	if !ok {
		d = rating.Default()
		m.state.ratings[name] = d
	}
	return d, nil
}

func (m *Memory) SetRating(ctx context.Context, name string, d rating.Distribution) error {
	if !d.Valid() {
		return fmt.Errorf("%w: rating for %q: %+v", recorder.ErrInvalidInput, name, d)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ratings[name] = d
	return nil
}

func (m *Memory) MaxGameID(ctx context.Context) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.state.games) == 0 {
		return 0, false, nil
	}
	return m.state.games[0].GameID, true, nil
}

func (m *Memory) AppendEntries(ctx context.Context, gameID int, entries []recorder.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.state.games) > 0 && m.state.games[0].GameID >= gameID {
		return fmt.Errorf("game %d is not newer than game %d", gameID, m.state.games[0].GameID)
	}
	g := recorder.GameRecord{GameID: gameID, Entries: make([]recorder.Entry, len(entries))}
	for i, e := range entries {
		e.GameID = gameID
		g.Entries[i] = e
	}
	m.state.games = append([]recorder.GameRecord{g}, m.state.games...)
	return nil
}

func (m *Memory) LatestGameEntries(ctx context.Context) ([]recorder.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.state.games) == 0 {
		return nil, nil
	}
	return append([]recorder.Entry(nil), m.state.games[0].Entries...), nil
}

func (m *Memory) DeleteGame(ctx context.Context, gameID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, g := range m.state.games {
		if g.GameID == gameID {
			m.state.games = append(m.state.games[:i:i], m.state.games[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("game %d not found", gameID)
}

func (m *Memory) Players(ctx context.Context) ([]rating.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]rating.Player, 0, len(m.state.ratings))
	for name, d := range m.state.ratings {
		out = append(out, rating.Player{Name: name, Rating: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Entries(ctx context.Context) ([]recorder.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []recorder.Entry{}
	for _, g := range m.state.games {
		out = append(out, g.Entries...)
	}
	return out, nil
}

func (m *Memory) PlayerEntries(ctx context.Context, name string) ([]recorder.Entry, error) {
	all, _ := m.Entries(ctx)
	out := []recorder.Entry{}
	for _, e := range all {
		if e.Player == name {
			out = append(out, e)
		}
	}
	return out, nil
}

// InTx runs fn against a private copy and publishes it only on success.
// It does not serialize concurrent transactions.
func (m *Memory) InTx(ctx context.Context, fn func(recorder.Store) error) error {
	m.mu.Lock()
	work := &Memory{state: m.state.clone()}
	m.mu.Unlock()

	if err := fn(work); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = work.state
	m.mu.Unlock()
	return nil
}

func (m *Memory) Rebuild(ctx context.Context, ratings map[string]rating.Distribution, games []recorder.GameRecord) error {
	st := memState{ratings: make(map[string]rating.Distribution, len(ratings))}
	for k, v := range ratings {
		st.ratings[k] = v
	}
	ordered := sortedGames(games)
	for i := len(ordered) - 1; i >= 0; i-- {
		st.games = append(st.games, ordered[i])
	}
	m.mu.Lock()
	m.state = st.clone()
	m.mu.Unlock()
	return nil
}

// Len reports how many players have a stored rating.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.ratings)
}
