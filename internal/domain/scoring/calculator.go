package scoring

import "math"

const (
	// FlatBaseScore is awarded when a problem has no difficulty estimate.
	FlatBaseScore = 150

	// MaxBaseScore is the asymptote of the logistic curve.
	MaxBaseScore = 500

	// RatingScale is the logistic spread: 400 rating points change the odds
	// by a factor of e.
	RatingScale = 400.0

	// StreakCap is the streak length at which the multiplier stops growing.
	StreakCap = 7

	// StreakStep is the multiplier gained per streak day.
	StreakStep = 0.05
)

// BaseScore returns the points for solving a problem of the given display
// difficulty at the given rating. A nil difficulty scores FlatBaseScore.
// The result is always within [0, MaxBaseScore].
func BaseScore(display *int, rating int) int {
	if display == nil {
		return FlatBaseScore
	}
	exponent := float64(rating-*display) / RatingScale
	return round(MaxBaseScore / (1.0 + math.Exp(exponent)))
}

// StreakMultiplier is 1 + min(streak, 7) * 0.05, so it plateaus at 1.35.
// Negative streaks are treated as zero.
func StreakMultiplier(streak int) float64 {
	s := min(max(streak, 0), StreakCap)
	// The explicit float64 conversion forbids a fused multiply-add, so the
	// result is bit-equal to the literals 1.05 .. 1.35 on every platform.
	return 1.0 + float64(float64(s)*StreakStep)
}

// FinalScore applies the streak multiplier to a base score.
func FinalScore(base int, multiplier float64) int {
	return round(float64(base) * multiplier)
}

// Input is everything the calculator needs for one accepted submission.
type Input struct {
	// RawDifficulty is the catalog estimate; nil when unknown.
	RawDifficulty *float64
	// Rating is the user's current rating, already defaulted by the caller.
	Rating int
	// Streak is the streak after this submission's transition.
	Streak int
}

// Result is the full scoring outcome exposed to notifiers.
type Result struct {
	DisplayDifficulty *int
	Rating            int
	Streak            int
	BaseScore         int
	Multiplier        float64
	FinalScore        int
	DifficultyColor   Color
	RatingColor       Color
	Tier              Tier
}

// Calculate runs normalization and scoring for one submission.
func Calculate(in Input) Result {
	display := DisplayDifficulty(in.RawDifficulty)
	base := BaseScore(display, in.Rating)
	mult := StreakMultiplier(in.Streak)
	final := FinalScore(base, mult)

	return Result{
		DisplayDifficulty: display,
		Rating:            in.Rating,
		Streak:            in.Streak,
		BaseScore:         base,
		Multiplier:        mult,
		FinalScore:        final,
		DifficultyColor:   DifficultyColorOf(display),
		RatingColor:       ColorOf(in.Rating),
		Tier:              TierOf(final),
	}
}
