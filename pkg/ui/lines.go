// Package ui renders engine output for humans: result lines, a progress
// spinner and markdown script descriptions.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/converge/pkg/engine"
)

// Outcome glyphs.
const (
	GlyphAsserted     = "✓"
	GlyphRectified    = "◆"
	GlyphWouldRectify = "○"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")

	assertedStyle     = lipgloss.NewStyle().Foreground(colorGreen)
	rectifiedStyle    = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	wouldRectifyStyle = lipgloss.NewStyle().Foreground(colorYellow)
	hostStyle         = lipgloss.NewStyle().Foreground(colorDim)
	descriptionStyle  = lipgloss.NewStyle().Foreground(colorDim)
)

const nameColumn = 16

// FormatLine renders out on one line no wider than width columns. A width
// below 1 disables truncation.
func FormatLine(out *engine.Output, width int) string {
	var glyph string
	var style lipgloss.Style
	switch out.Outcome() {
	case "asserted":
		glyph, style = GlyphAsserted, assertedStyle
	case "rectified":
		glyph, style = GlyphRectified, rectifiedStyle
	default:
		glyph, style = GlyphWouldRectify, wouldRectifyStyle
	}

	var b strings.Builder
	used := 0
	if out.Host != "" {
		h := "[" + out.Host + "]"
		b.WriteString(hostStyle.Render(h) + " ")
		used += runewidth.StringWidth(h) + 1
	}
	head := glyph + " " + out.Name()
	b.WriteString(style.Render(head))
	used += runewidth.StringWidth(head)

	if out.Description == "" {
		return b.String()
	}
	if pad := nameColumn + 2 - runewidth.StringWidth(head); pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
		used += pad
	}
	desc := out.Description
	if width > 0 {
		room := width - used - 1
		if room < 1 {
			return b.String()
		}
		desc = runewidth.Truncate(desc, room, "…")
	}
	b.WriteString(" " + descriptionStyle.Render(desc))
	return b.String()
}

// LineSink prints one formatted line per output.
type LineSink struct {
	W     io.Writer
	Width int

	mu sync.Mutex
}

// Started is a no-op.
func (s *LineSink) Started(name, description string) {}

// Emit writes the formatted line.
func (s *LineSink) Emit(out *engine.Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.W, FormatLine(out, s.Width))
	return err
}
