package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
)

// Styles for the leaderboard table. Rendered through lipgloss so the
// same code degrades cleanly on dumb terminals.
var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	goldStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	silverStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	bronzeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("173"))
	faintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// initColorProfile points lipgloss at the profile termenv detects for
// stdout. When output is piped, styles collapse to plain text.
func initColorProfile() {
	lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).ColorProfile())
}

// padCell truncates s to width display columns and pads it with spaces.
// Width is measured with runewidth so kana and CJK prompts line up.
func padCell(s string, width int) string {
	if w := runewidth.StringWidth(s); w > width {
		s = truncateCell(s, width-1) + "…"
	}
	gap := width - runewidth.StringWidth(s)
	if gap < 0 {
		gap = 0
	}
	return s + strings.Repeat(" ", gap)
}

// truncateCell returns the longest prefix of s whose display width does
// not exceed maxWidth.
func truncateCell(s string, maxWidth int) string {
	w := 0
	for i, r := range s {
		rw := runewidth.RuneWidth(r)
		if w+rw > maxWidth {
			return s[:i]
		}
		w += rw
	}
	return s
}

// rankStyle picks the medal color for a rank.
func rankStyle(rank int) lipgloss.Style {
	switch rank {
	case 1:
		return goldStyle
	case 2:
		return silverStyle
	case 3:
		return bronzeStyle
	default:
		return lipgloss.NewStyle()
	}
}

// formatUTC renders a timestamp for table output.
func formatUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}

// formatAccuracy renders an accuracy fraction as a percentage.
func formatAccuracy(acc float64) string {
	return fmt.Sprintf("%.1f%%", acc*100)
}
