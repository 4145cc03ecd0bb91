package rating

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// --- TrueSkill environment (league values) ---
const (
	DefaultTau  = 0.1 // dynamics: sigma inflation applied before every game
	DefaultBeta = 5.5 // performance spread
)

// Env holds the skill-model parameters. It carries no state between games.
type Env struct {
	Tau             float64 `json:"tau"`
	Beta            float64 `json:"beta"`
	DrawProbability float64 `json:"draw_probability"` // Mafia has no draws; kept for completeness
}

func DefaultEnv() Env {
	return Env{Tau: DefaultTau, Beta: DefaultBeta}
}

func (e Env) validate() error {
	switch {
	case e.Beta <= 0 || math.IsNaN(e.Beta) || math.IsInf(e.Beta, 0):
		return fmt.Errorf("%w: beta must be > 0, got %v", ErrInvalidInput, e.Beta)
	case e.Tau < 0 || math.IsNaN(e.Tau) || math.IsInf(e.Tau, 0):
		return fmt.Errorf("%w: tau must be >= 0, got %v", ErrInvalidInput, e.Tau)
	case e.DrawProbability < 0 || e.DrawProbability >= 1 || math.IsNaN(e.DrawProbability):
		return fmt.Errorf("%w: draw probability must be in [0,1), got %v", ErrInvalidInput, e.DrawProbability)
	}
	return nil
}

// --- standard normal helpers ---
func pdf(x float64) float64 { return distuv.UnitNormal.Prob(x) }
func cdf(x float64) float64 { return distuv.UnitNormal.CDF(x) }
func ppf(p float64) float64 { return distuv.UnitNormal.Quantile(p) }

// drawMargin for a game with n participants in total.
func (e Env) drawMargin(n int) float64 {
	return ppf((e.DrawProbability+1)/2) * math.Sqrt(float64(n)) * e.Beta
}

// vWin / wWin are the truncated Gaussian corrections for a decisive result.
func vWin(t, eps float64) float64 {
	x := t - eps
	den := cdf(x)
	if den == 0 {
		return -x
	}
	return pdf(x) / den
}

func wWin(t, eps float64) (float64, error) {
	v := vWin(t, eps)
	w := v * (v + t - eps)
	if !(w > 0 && w < 1) {
		return 0, fmt.Errorf("trueskill: variance correction %v out of range (t=%v)", w, t)
	}
	return w, nil
}

// Rate applies one Bayesian update between the two normalized teams and
// returns posteriors for the real (non-synthetic) participants only.
// For two teams the factor graph has a single truncation factor, so the
// closed form below is the exact message-passing result.
func (e Env) Rate(m Matchup, mafiaWon bool) (map[string]Distribution, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	if len(m.Mafia) == 0 || len(m.Town) == 0 {
		return nil, fmt.Errorf("%w: cannot rate an empty team", ErrInvalidTeamComposition)
	}
	winners, losers := m.Mafia, m.Town
	if !mafiaWon {
		winners, losers = m.Town, m.Mafia
	}

	tau2, beta2 := e.Tau*e.Tau, e.Beta*e.Beta
	var muW, muL, c2 float64
	for _, p := range winners {
		muW += p.Rating.Mean
		c2 += p.Rating.Variance() + tau2 + beta2
	}
	for _, p := range losers {
		muL += p.Rating.Mean
		c2 += p.Rating.Variance() + tau2 + beta2
	}
	c := math.Sqrt(c2)
	n := len(winners) + len(losers)
	t := (muW - muL) / c
	eps := e.drawMargin(n) / c
	v := vWin(t, eps)
	w, err := wWin(t, eps)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Distribution, n)
	update := func(team Team, sign float64) {
		for _, p := range team {
			if p.Synthetic {
				continue
			}
			s2 := p.Rating.Variance() + tau2
			mean := p.Rating.Mean + sign*(s2/c)*v
			variance := s2 * (1 - (s2/c2)*w)
			out[p.Name] = Distribution{Mean: mean, Uncertainty: math.Sqrt(variance)}
		}
	}
	update(winners, +1)
	update(losers, -1)
	return out, nil
}

// WinProbability is the chance that team a beats team b (no dynamics applied).
func (e Env) WinProbability(a, b []Distribution) float64 {
	var delta, sumVar float64
	for _, d := range a {
		delta += d.Mean
		sumVar += d.Variance()
	}
	for _, d := range b {
		delta -= d.Mean
		sumVar += d.Variance()
	}
	n := float64(len(a) + len(b))
	den := math.Sqrt(n*e.Beta*e.Beta + sumVar)
	if den == 0 {
		return 0.5
	}
	return cdf(delta / den)
}

// MafiaWinProbability evaluates a normalized matchup, synthetic slots included.
func (e Env) MafiaWinProbability(m Matchup) float64 {
	return e.WinProbability(m.Mafia.Ratings(), m.Town.Ratings())
}
