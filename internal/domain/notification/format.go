package notification

import (
	"fmt"
	"strings"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/scoring"
)

// ══════════════════════════════════════════════════════════════════════════════
// FORMATTING
// Тексты строятся из Payload() события, поэтому одинаково работают для
// локальных событий и событий, пришедших из Redis.
// ══════════════════════════════════════════════════════════════════════════════

// ColorEmoji - значок цветовой полосы AtCoder.
func ColorEmoji(c scoring.Color) string {
	switch c {
	case scoring.ColorGray:
		return "🩶"
	case scoring.ColorBrown:
		return "🤎"
	case scoring.ColorGreen:
		return "💚"
	case scoring.ColorCyan:
		return "🩵"
	case scoring.ColorBlue:
		return "💙"
	case scoring.ColorYellow:
		return "💛"
	case scoring.ColorOrange:
		return "🧡"
	case scoring.ColorRed:
		return "❤️"
	default:
		return "❔"
	}
}

// FormatAccepted - сообщение о зачтённом AC.
func FormatAccepted(p map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s +%d", TypeAccepted.Emoji(), str(p, "handle"), num(p, "final_score"))
	if mult := flt(p, "multiplier"); mult > 1 {
		fmt.Fprintf(&b, " (x%.2f)", mult)
	}

	title := str(p, "problem_title")
	if title == "" {
		title = str(p, "problem_id")
	}
	if _, ok := p["display_difficulty"]; ok {
		fmt.Fprintf(&b, " | %s %s %d", title, ColorEmoji(scoring.Color(str(p, "difficulty_color"))), num(p, "display_difficulty"))
	} else {
		fmt.Fprintf(&b, " | %s (difficulty unknown)", title)
	}

	fmt.Fprintf(&b, " | streak %dd | week %d pts", num(p, "streak"), num(p, "weekly_score"))
	if url := SubmissionURL(str(p, "contest_id"), num(p, "submission_id")); url != "" {
		b.WriteString("\n" + url)
	}
	return b.String()
}

// FormatStreakRole - сообщение о пересечении порога стрика.
func FormatStreakRole(handle string, p map[string]interface{}) string {
	if boolean(p, "above") {
		return fmt.Sprintf("%s %s keeps a %d-day streak", TypeStreakRole.Emoji(), handle, num(p, "streak"))
	}
	return fmt.Sprintf("%s %s dropped below %d days", TypeStreakRole.Emoji(), handle, num(p, "threshold"))
}

// FormatGoalMilestone - сообщение о вехе цели с полосой прогресса.
func FormatGoalMilestone(handle string, p map[string]interface{}) string {
	current, target, m := num(p, "current"), num(p, "target"), num(p, "milestone")
	status := fmt.Sprintf("reached %d%% of the weekly goal", m)
	if m >= 100 {
		status = "completed the weekly goal"
	}
	return fmt.Sprintf("%s %s %s (%d/%d)\n`%s`", TypeGoalMilestone.Emoji(), handle, status, current, target, ProgressBar(current, target, 20))
}

// FormatTopChanged - сообщение о смене лидера.
func FormatTopChanged(current []string) string {
	return fmt.Sprintf("%s new weekly leader: %s", TypeTopChanged.Emoji(), strings.Join(current, ", "))
}

// FormatWeeklyReport - итоговое сообщение недели.
func FormatWeeklyReport(p map[string]interface{}) string {
	return fmt.Sprintf("%s week %s closed: %d participants, %d pts in total",
		TypeWeeklyReport.Emoji(), str(p, "week"), num(p, "participants"), num(p, "total_score"))
}

// FormatWinners - сообщение о победителях.
func FormatWinners(week string, winners []string, score int) string {
	return fmt.Sprintf("%s week %s winner: %s with %d pts", TypeWinner.Emoji(), week, strings.Join(winners, ", "), score)
}

// ProgressBar рисует полосу шириной width символов.
func ProgressBar(current, target, width int) string {
	if target <= 0 || width <= 0 {
		return ""
	}
	filled := current * width / target
	filled = min(max(filled, 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// SubmissionURL - ссылка на сабмит на atcoder.jp.
func SubmissionURL(contestID string, submissionID int) string {
	if contestID == "" || submissionID <= 0 {
		return ""
	}
	return fmt.Sprintf("https://atcoder.jp/contests/%s/submissions/%d", contestID, submissionID)
}

// ──────────────────────────────────────────────────────────────────────────────
// payload helpers: после JSON числа приходят как float64
// ──────────────────────────────────────────────────────────────────────────────

func str(p map[string]interface{}, key string) string {
	s, _ := p[key].(string)
	return s
}

func num(p map[string]interface{}, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func flt(p map[string]interface{}, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func boolean(p map[string]interface{}, key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Strings reads a string list from a payload.
func Strings(p map[string]interface{}, key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Int reads a number from a payload.
func Int(p map[string]interface{}, key string) int { return num(p, key) }

// String reads a string from a payload.
func String(p map[string]interface{}, key string) string { return str(p, key) }

// Bool reads a flag from a payload.
func Bool(p map[string]interface{}, key string) bool { return boolean(p, key) }
