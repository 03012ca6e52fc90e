package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// KeyValues renders aligned "key  value" rows.
func KeyValues(rows [][2]string) string {
	width := 0
	for _, r := range rows {
		if w := lipgloss.Width(r[0]); w > width {
			width = w
		}
	}
	keyStyle := mutedStyle.Width(width + 2)
	var b strings.Builder
	for _, r := range rows {
		b.WriteString(keyStyle.Render(r[0]))
		b.WriteString(r[1])
		b.WriteByte('\n')
	}
	return b.String()
}

// Progress renders a bar of width cells filled to fraction (clamped to
// [0, 1]).
func Progress(fraction float64, width int) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction*float64(width) + 0.5)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	switch {
	case fraction >= 1:
		return RenderFail(bar)
	case fraction >= 0.8:
		return RenderWarn(bar)
	default:
		return RenderPass(bar)
	}
}
