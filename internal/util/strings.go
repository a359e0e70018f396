// Package util holds small helpers shared across packages.
package util

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// TruncateString limits a string to max runes, ending in "..." when cut.
// It ignores ANSI escapes; for styled terminal output use TruncateANSI.
func TruncateString(s string, max int) string {
	if max <= 3 {
		return "..."
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// TruncateANSI limits a string to max visual columns, ending in "..." when
// cut. Escape sequences and wide characters are measured correctly, so
// styled rows keep their styling after truncation.
func TruncateANSI(s string, max int) string {
	if max <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= max {
		return s
	}
	return ansi.Truncate(s, max, "...")
}
