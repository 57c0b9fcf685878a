package ui

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/converge/pkg/engine"
	"github.com/ormasoftchile/converge/pkg/script"
)

func TestFormatLine(t *testing.T) {
	tests := []struct {
		name string
		out  engine.Output
		want string
	}{
		{"asserted", engine.Output{Asserted: "FileExists"}, "✓ FileExists"},
		{"rectified", engine.Output{Rectified: "CommandRun", Description: "install"}, "◆ CommandRun       install"},
		{"would", engine.Output{WouldRectify: "FileDeleted"}, "○ FileDeleted"},
		{"host", engine.Output{Asserted: "AlwaysTrue", Host: "web1"}, "[web1] ✓ AlwaysTrue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ansi.Strip(FormatLine(&tt.out, 0)); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatLine_Truncates(t *testing.T) {
	out := &engine.Output{Asserted: "FileContains", Description: strings.Repeat("long words ", 20)}
	got := ansi.Strip(FormatLine(out, 40))
	if w := runewidth.StringWidth(got); w > 40 {
		t.Errorf("width %d > 40: %q", w, got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("no ellipsis: %q", got)
	}
}

func TestLineSink(t *testing.T) {
	var buf bytes.Buffer
	s := &LineSink{W: &buf}
	s.Started("x", "")
	if err := s.Emit(&engine.Output{Asserted: "A"}); err != nil {
		t.Fatal(err)
	}
	if got := ansi.Strip(buf.String()); got != "✓ A\n" {
		t.Errorf("got %q", got)
	}
}

func TestSpinnerModel(t *testing.T) {
	var width atomic.Int32
	m := newSpinnerModel(&width)
	if m.View() != "" {
		t.Errorf("idle view = %q", m.View())
	}
	next, _ := m.Update(startedMsg{label: "FileExists"})
	if !strings.Contains(next.View(), "FileExists") {
		t.Errorf("view = %q", next.View())
	}
}

func TestDescribe(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "b.json5"), []byte(`{}`), 0o644)
	os.WriteFile(filepath.Join(dir, "a.json5"), []byte(`{
		includes: ["b.json5"],
		settings: {description: "Web server", when: "{os.platform == 'linux'}"},
		assertions: [
			{assert: "FileExists", description: "config | present", with: {file: "/etc/x"}},
			{assert: "CommandRun", become: true, with: {command: "true"}},
		],
	}`), 0o644)
	sc, err := script.NewContext(filepath.Join(dir, "a.json5"))
	if err != nil {
		t.Fatal(err)
	}
	md := Describe(sc)
	for _, want := range []string{
		"# a.json5",
		"## 1. b.json5",
		"_No assertions._",
		"## 2. a.json5",
		"Web server",
		"Runs when `{os.platform == 'linux'}`.",
		"Includes `b.json5`.",
		`| 1 | FileExists | config \| present |  |  |`,
		"| 2 | CommandRun |  |  | true |",
		"require root",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown lacks %q:\n%s", want, md)
		}
	}
	if RenderMarkdown(md, 80) == "" {
		t.Error("empty rendering")
	}
}
