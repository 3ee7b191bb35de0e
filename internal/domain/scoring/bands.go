package scoring

// Color is an AtCoder color band for a rating or difficulty.
type Color string

const (
	ColorNone   Color = ""
	ColorGray   Color = "gray"
	ColorBrown  Color = "brown"
	ColorGreen  Color = "green"
	ColorCyan   Color = "cyan"
	ColorBlue   Color = "blue"
	ColorYellow Color = "yellow"
	ColorOrange Color = "orange"
	ColorRed    Color = "red"
)

var colorBands = []struct {
	below int
	color Color
}{
	{400, ColorGray},
	{800, ColorBrown},
	{1200, ColorGreen},
	{1600, ColorCyan},
	{2000, ColorBlue},
	{2400, ColorYellow},
	{2800, ColorOrange},
}

// ColorOf returns the band for a rating or display difficulty.
func ColorOf(value int) Color {
	for _, b := range colorBands {
		if value < b.below {
			return b.color
		}
	}
	return ColorRed
}

// DifficultyColorOf is ColorOf for an optional difficulty.
func DifficultyColorOf(display *int) Color {
	if display == nil {
		return ColorNone
	}
	return ColorOf(*display)
}

// Tier picks the notification wording by final score.
type Tier string

const (
	TierLow  Tier = "low"
	TierMid  Tier = "mid"
	TierHigh Tier = "high"
	TierTop  Tier = "top"
)

// TierOf maps a final score to a notification tier.
func TierOf(final int) Tier {
	switch {
	case final < 200:
		return TierLow
	case final < 350:
		return TierMid
	case final < 400:
		return TierHigh
	default:
		return TierTop
	}
}
