package rating

import (
	"errors"
	"fmt"
	"math"
)

// Prior for a player with no games (TrueSkill paper values).
const (
	DefaultMean        = 25.0
	DefaultUncertainty = DefaultMean / 3
)

var (
	// ErrInvalidTeamComposition reports a side with no rated players.
	ErrInvalidTeamComposition = errors.New("invalid team composition")
	// ErrInvalidInput reports malformed rating input.
	ErrInvalidInput = errors.New("invalid input")
)

// Distribution is a player's Gaussian skill belief.
type Distribution struct {
	Mean        float64 `json:"mu"`
	Uncertainty float64 `json:"sigma"` // std dev, always > 0
}

// Default returns the prior handed to unseen players.
func Default() Distribution {
	return Distribution{Mean: DefaultMean, Uncertainty: DefaultUncertainty}
}

// New validates and builds a distribution.
func New(mean, uncertainty float64) (Distribution, error) {
	d := Distribution{Mean: mean, Uncertainty: uncertainty}
	if !d.Valid() {
		return Distribution{}, fmt.Errorf("%w: distribution mu=%v sigma=%v", ErrInvalidInput, mean, uncertainty)
	}
	return d, nil
}

func (d Distribution) Valid() bool {
	return !math.IsNaN(d.Mean) && !math.IsInf(d.Mean, 0) &&
		d.Uncertainty > 0 && !math.IsInf(d.Uncertainty, 0)
}

func (d Distribution) Variance() float64 { return d.Uncertainty * d.Uncertainty }

// Player pairs a unique name with its current rating.
type Player struct {
	Name   string       `json:"name"`
	Rating Distribution `json:"rating"`
}
