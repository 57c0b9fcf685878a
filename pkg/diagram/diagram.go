// Package diagram draws the include graph of a script context.
// Supports Mermaid flowchart and ASCII formats.
package diagram

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/converge/pkg/script"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// Generate produces a diagram of which script includes which.
func Generate(sc *script.Context, format Format) (string, error) {
	if sc == nil || len(sc.Paths) == 0 {
		return "", fmt.Errorf("empty script context")
	}
	switch format {
	case FormatMermaid:
		return generateMermaid(sc), nil
	case FormatASCII:
		return generateASCII(sc), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

// --- Mermaid flowchart ---

func generateMermaid(sc *script.Context) string {
	ids := make(map[string]string, len(sc.Paths))
	for i, rel := range sc.Paths {
		ids[rel] = fmt.Sprintf("s%d", i+1)
	}

	var b strings.Builder
	b.WriteString("flowchart TD\n")
	// Root first so Mermaid lays it out on top.
	for i := len(sc.Paths) - 1; i >= 0; i-- {
		rel := sc.Paths[i]
		fmt.Fprintf(&b, "    %s[\"%s<br/>%s\"]\n", ids[rel], escMermaid(rel), countLabel(sc.Nodes[rel]))
	}
	for i := len(sc.Paths) - 1; i >= 0; i-- {
		rel := sc.Paths[i]
		for _, target := range sc.IncludeTargets(rel) {
			fmt.Fprintf(&b, "    %s --> %s\n", ids[rel], ids[target])
		}
	}
	for _, rel := range sc.Paths {
		if script.HasBecomes(sc.Nodes[rel]) {
			fmt.Fprintf(&b, "    style %s stroke:#e60,stroke-width:2px\n", ids[rel])
		}
	}
	return b.String()
}

// --- ASCII ---

func generateASCII(sc *script.Context) string {
	rootRel, root := sc.Root()
	header := rootRel + " · " + countLabel(root)
	width := runewidth.StringWidth(header) + 4

	var b strings.Builder
	b.WriteString("╔" + strings.Repeat("═", width) + "╗\n")
	b.WriteString("║" + centerPad(header, width) + "║\n")
	b.WriteString("╚" + strings.Repeat("═", width) + "╝\n")

	seen := map[string]bool{rootRel: true}
	writeIncludes(&b, sc, rootRel, "", seen)
	return b.String()
}

// writeIncludes prints the includes of rel as tree branches. A script
// already drawn is marked instead of expanded again.
func writeIncludes(b *strings.Builder, sc *script.Context, rel, prefix string, seen map[string]bool) {
	targets := sc.IncludeTargets(rel)
	for i, target := range targets {
		branch, next := "├── ", "│   "
		if i == len(targets)-1 {
			branch, next = "└── ", "    "
		}
		if seen[target] {
			b.WriteString(prefix + branch + target + " (seen)\n")
			continue
		}
		seen[target] = true
		label := target + " · " + countLabel(sc.Nodes[target])
		if script.HasBecomes(sc.Nodes[target]) {
			label += " · become"
		}
		b.WriteString(prefix + branch + label + "\n")
		writeIncludes(b, sc, target, prefix+next, seen)
	}
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	right := total - left
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", right)
}

// --- string helpers ---

func countLabel(doc *script.Node) string {
	n := len(doc.Get(script.SectionAssertions).Items)
	if n == 1 {
		return "1 assertion"
	}
	return fmt.Sprintf("%d assertions", n)
}

func escMermaid(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, `'`, "#apos;")
	return s
}
