// Package scoring turns problem difficulty, user rating and streak into
// points. Everything here is pure: no I/O, no clock, no shared state.
package scoring

import "math"

// CompressionPivot is the raw difficulty below which values are compressed
// logistically, the same way AtCoder Problems displays low difficulties.
const CompressionPivot = 400.0

// round is the single rounding rule used for every score in the engine:
// round half to even.
func round(x float64) int {
	return int(math.RoundToEven(x))
}

// NormalizeDifficulty maps a raw difficulty estimate to the display
// difficulty used for scoring.
//
//	raw <  400: round(400 / exp(1 - raw/400))
//	raw >= 400: round(raw)
//
// The two branches meet at 400, and the lower branch is strictly increasing
// and always positive, so very easy (even negative) estimates still map to a
// small positive difficulty.
func NormalizeDifficulty(raw float64) int {
	if raw < CompressionPivot {
		return round(CompressionPivot / math.Exp(1.0-raw/CompressionPivot))
	}
	return round(raw)
}

// DisplayDifficulty normalizes an optional raw difficulty. Absent or
// non-finite input yields nil.
func DisplayDifficulty(raw *float64) *int {
	if raw == nil || math.IsNaN(*raw) || math.IsInf(*raw, 0) {
		return nil
	}
	d := NormalizeDifficulty(*raw)
	return &d
}
