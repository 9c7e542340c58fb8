package wizard

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	progressSegments = 10
	summaryCut       = 50
	divider          = "━━━━━━━━━━━━━━━━━"
)

// progressBar renders the cosmetic completion bar.
func progressBar(progress float64) string {
	filled := int(progress*progressSegments + 0.5)
	if filled > progressSegments {
		filled = progressSegments
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", progressSegments-filled)
	return fmt.Sprintf("📊 Прогресс: %s %d%%", bar, int(progress*100))
}

// buildMessage assembles the wizard prompt: header, progress bar,
// collected data summary, divider, and the step text.
func buildMessage(progress float64, collected []string, stepText string) string {
	var b strings.Builder
	b.WriteString("🎫 <b>Создание заявки</b>\n\n")
	b.WriteString(progressBar(progress))
	b.WriteString("\n\n")
	if len(collected) > 0 {
		b.WriteString(strings.Join(collected, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString(divider)
	b.WriteString("\n\n")
	b.WriteString(stepText)
	return b.String()
}

// shorten truncates a summary value to summaryCut runes.
func shorten(s string) string {
	if utf8.RuneCountInString(s) <= summaryCut {
		return s
	}
	r := []rune(s)
	return string(r[:summaryCut]) + "..."
}
