package rating

import "math"

// Display rating = conservative estimate (mean - 1.5 sd) on a x68 scale, floored at 0.
// The default prior maps to exactly 850.
const (
	ConservativeSpread = 1.5
	DisplayScale       = 68.0
)

// DisplayRating converts a distribution to the integer shown on the leaderboard.
// Halves round to even, matching the rounding the ratings were historically
// computed with, so deltas between stored ratings reproduce exactly.
func DisplayRating(d Distribution) int {
	// explicit conversion keeps the product from being fused into the subtraction
	lower := d.Mean - float64(ConservativeSpread*d.Uncertainty)
	r := math.RoundToEven(lower * DisplayScale)
	if r < 0 || math.IsNaN(r) {
		return 0
	}
	return int(r)
}

// RateChange is the display delta between two distributions.
func RateChange(before, after Distribution) int {
	return DisplayRating(after) - DisplayRating(before)
}
