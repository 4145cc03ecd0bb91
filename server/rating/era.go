package rating

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Ghost calibration used by the live league.
const (
	MafiaGhostMean   = 25.7
	TownGhostMean    = 23.85
	GhostUncertainty = 0.8
)

// Era is one versioned rating configuration. It applies to every game whose
// id is >= FromGame until the next era starts.
type Era struct {
	Name       string       `json:"name"`
	FromGame   int          `json:"from_game"`
	Env        Env          `json:"env"`
	MafiaGhost Distribution `json:"mafia_ghost"`
	TownGhost  Distribution `json:"town_ghost"`
}

func (e Era) Validate() error {
	if err := e.Env.validate(); err != nil {
		return fmt.Errorf("era %q: %w", e.Name, err)
	}
	if !e.MafiaGhost.Valid() || !e.TownGhost.Valid() {
		return fmt.Errorf("%w: era %q has invalid ghost ratings", ErrInvalidInput, e.Name)
	}
	return nil
}

// DefaultEra is the live configuration.
func DefaultEra() Era {
	return Era{
		Name:       "live",
		FromGame:   0,
		Env:        DefaultEnv(),
		MafiaGhost: Distribution{Mean: MafiaGhostMean, Uncertainty: GhostUncertainty},
		TownGhost:  Distribution{Mean: TownGhostMean, Uncertainty: GhostUncertainty},
	}
}

// Eras is an ordered set of configurations; several can coexist so history
// can be re-derived under the constants that were live at the time.
type Eras []Era

// NewEras validates and orders eras by FromGame.
func NewEras(eras ...Era) (Eras, error) {
	if len(eras) == 0 {
		return nil, fmt.Errorf("%w: at least one era is required", ErrInvalidInput)
	}
	out := append(Eras(nil), eras...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].FromGame < out[j].FromGame })
	for i, e := range out {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if i > 0 && out[i-1].FromGame == e.FromGame {
			return nil, fmt.Errorf("%w: eras %q and %q both start at game %d", ErrInvalidInput, out[i-1].Name, e.Name, e.FromGame)
		}
	}
	return out, nil
}

// ForGame picks the era in force for a game id. Ids before the first era use
// the first era.
func (es Eras) ForGame(gameID int) Era {
	if len(es) == 0 {
		return DefaultEra()
	}
	cur := es[0]
	for _, e := range es[1:] {
		if e.FromGame > gameID {
			break
		}
		cur = e
	}
	return cur
}

// LegacyEras reproduces the historical ghost constants: the league re-tuned
// both ghosts starting with game 115.
func LegacyEras() Eras {
	first := DefaultEra()
	first.Name = "launch"
	second := Era{
		Name:       "2025-04",
		FromGame:   115,
		Env:        DefaultEnv(),
		MafiaGhost: Distribution{Mean: 25.5, Uncertainty: GhostUncertainty},
		TownGhost:  Distribution{Mean: 23.9, Uncertainty: GhostUncertainty},
	}
	return Eras{first, second}
}

// LoadEras reads a JSON array of eras.
func LoadEras(r io.Reader) (Eras, error) {
	var raw []Era
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode eras: %w", err)
	}
	return NewEras(raw...)
}
