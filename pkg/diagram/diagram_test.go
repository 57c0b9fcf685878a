package diagram

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ormasoftchile/converge/pkg/script"
)

func diamondContext(t *testing.T) *script.Context {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"main.json5":  `{includes: ["lib/a.json5", "lib/b.json5"], assertions: [{assert: "AlwaysTrue"}]}`,
		"lib/a.json5": `{includes: ["c.json5"], assertions: [{assert: "AlwaysTrue", become: true}]}`,
		"lib/b.json5": `{includes: ["c.json5"]}`,
		"lib/c.json5": `{}`,
	}
	for name, body := range files {
		p := filepath.Join(dir, name)
		os.MkdirAll(filepath.Dir(p), 0o755)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	sc, err := script.NewContext(filepath.Join(dir, "main.json5"))
	if err != nil {
		t.Fatal(err)
	}
	return sc
}

func TestGenerateMermaid(t *testing.T) {
	out, err := Generate(diamondContext(t), FormatMermaid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "flowchart TD\n") {
		t.Error("missing flowchart header")
	}
	for _, want := range []string{
		`s4["main.json5<br/>1 assertion"]`,
		`s1["lib/c.json5<br/>0 assertions"]`,
		"s4 --> s2",
		"s4 --> s3",
		"s2 --> s1",
		"s3 --> s1",
		"style s2 stroke:#e60",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q, got:\n%s", want, out)
		}
	}
	if strings.Index(out, "s4[") > strings.Index(out, "s1[") {
		t.Errorf("root should be declared first:\n%s", out)
	}
}

func TestGenerateASCII(t *testing.T) {
	out, err := Generate(diamondContext(t), FormatASCII)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "main.json5 · 1 assertion") {
		t.Errorf("missing header, got:\n%s", out)
	}
	tree := "├── lib/a.json5 · 1 assertion · become\n" +
		"│   └── lib/c.json5 · 0 assertions\n" +
		"└── lib/b.json5 · 0 assertions\n" +
		"    └── lib/c.json5 (seen)\n"
	if !strings.HasSuffix(out, tree) {
		t.Errorf("tree mismatch, got:\n%s", out)
	}
}

func TestGenerate_UnsupportedFormat(t *testing.T) {
	if _, err := Generate(diamondContext(t), "dot"); err == nil {
		t.Error("expected error for unsupported format")
	}
	if _, err := Generate(nil, FormatASCII); err == nil {
		t.Error("expected error for nil context")
	}
}

func TestCenterPad(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"ab", 6, "  ab  "},
		{"abc", 6, " abc  "},
		{"abcdef", 4, "abcdef"},
	}
	for _, tt := range tests {
		if got := centerPad(tt.in, tt.width); got != tt.want {
			t.Errorf("centerPad(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}
