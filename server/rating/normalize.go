package rating

import (
	"fmt"
	"math"
	"strings"
)

// Participant is one slot of a normalized team. Synthetic slots (fillers and
// ghosts) only shape the comparison and are dropped from the rating result.
type Participant struct {
	Name      string
	Rating    Distribution
	Synthetic bool
}

type Team []Participant

func (t Team) Ratings() []Distribution {
	out := make([]Distribution, len(t))
	for i, p := range t {
		out[i] = p.Rating
	}
	return out
}

// Real counts the non-synthetic participants.
func (t Team) Real() int {
	n := 0
	for _, p := range t {
		if !p.Synthetic {
			n++
		}
	}
	return n
}

// Matchup is the equal-size pair handed to Env.Rate.
type Matchup struct {
	Mafia Team
	Town  Team
}

// Normalize pads the smaller roster with its geometric-mean filler until both
// rosters match, then appends n_large faction ghosts to each side. Both teams
// come out with 2*n_large participants.
func Normalize(mafia, town []Player, era Era) (Matchup, error) {
	if len(mafia) == 0 {
		return Matchup{}, fmt.Errorf("%w: no rated mafia players", ErrInvalidTeamComposition)
	}
	if len(town) == 0 {
		return Matchup{}, fmt.Errorf("%w: no rated town players", ErrInvalidTeamComposition)
	}
	seen := make(map[string]struct{}, len(mafia)+len(town))
	for _, p := range append(append([]Player{}, mafia...), town...) {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return Matchup{}, fmt.Errorf("%w: blank player name", ErrInvalidInput)
		}
		if _, dup := seen[name]; dup {
			return Matchup{}, fmt.Errorf("%w: player %q listed twice", ErrInvalidInput, name)
		}
		if !p.Rating.Valid() {
			return Matchup{}, fmt.Errorf("%w: player %q has invalid rating %+v", ErrInvalidInput, name, p.Rating)
		}
		seen[name] = struct{}{}
	}

	large := max(len(mafia), len(town))
	m := Matchup{
		Mafia: buildTeam(mafia, large, era.MafiaGhost),
		Town:  buildTeam(town, large, era.TownGhost),
	}
	return m, nil
}

func buildTeam(players []Player, large int, ghost Distribution) Team {
	team := make(Team, 0, 2*large)
	for _, p := range players {
		team = append(team, Participant{Name: p.Name, Rating: p.Rating})
	}
	if missing := large - len(players); missing > 0 {
		filler := GeometricMean(players)
		for i := 0; i < missing; i++ {
			team = append(team, Participant{Name: fmt.Sprintf("filler-%d", i), Rating: filler, Synthetic: true})
		}
	}
	for i := 0; i < large; i++ {
		team = append(team, Participant{Name: fmt.Sprintf("ghost-%d", i), Rating: ghost, Synthetic: true})
	}
	return team
}

// GeometricMean of means and of uncertainties across the roster. A roster
// containing a non-positive mean has no real-valued geometric mean, so the
// arithmetic mean of the means is used instead for that component.
func GeometricMean(players []Player) Distribution {
	n := float64(len(players))
	muProd, sigmaProd := 1.0, 1.0
	var muSum float64
	positive := true
	for _, p := range players {
		muProd *= p.Rating.Mean
		sigmaProd *= p.Rating.Uncertainty
		muSum += p.Rating.Mean
		if p.Rating.Mean <= 0 {
			positive = false
		}
	}
	mu := muSum / n
	if positive {
		mu = math.Pow(muProd, 1/n)
	}
	return Distribution{Mean: mu, Uncertainty: math.Pow(sigmaProd, 1/n)}
}
