package util

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 2, "..."},
		{"héllo wörld", 8, "héllo..."},
	}
	for _, tt := range tests {
		if got := TruncateString(tt.in, tt.max); got != tt.want {
			t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestTruncateANSIKeepsStyling(t *testing.T) {
	styled := lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("a long styled line of text")

	out := TruncateANSI(styled, 10)
	if lipgloss.Width(out) > 10 {
		t.Errorf("visual width = %d, want <= 10", lipgloss.Width(out))
	}
	if !strings.Contains(out, "...") {
		t.Errorf("out = %q, want ellipsis", out)
	}

	short := TruncateANSI("plain", 20)
	if short != "plain" {
		t.Errorf("short string modified: %q", short)
	}
}
