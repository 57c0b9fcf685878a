package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/ormasoftchile/converge/pkg/script"
)

// Describe summarizes a script context as markdown: every script in
// execution order with its assertions.
func Describe(sc *script.Context) string {
	var b strings.Builder
	rootRel, _ := sc.Root()
	fmt.Fprintf(&b, "# %s\n\n", rootRel)
	if sc.AnyScriptHasBecomes {
		b.WriteString("> Some assertions use `become` and require root.\n\n")
	}

	for i, rel := range sc.Paths {
		doc := sc.Nodes[rel]
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, rel)
		settings := doc.Get(script.SectionSettings)
		if d := settings.Get("description"); d != nil {
			b.WriteString(d.Str + "\n\n")
		}
		if w := settings.Get("when"); w != nil {
			fmt.Fprintf(&b, "Runs when `%s`.\n\n", guard(w))
		}
		if includes := doc.Get(script.SectionIncludes).Items; len(includes) > 0 {
			names := make([]string, len(includes))
			for j, inc := range includes {
				names[j] = "`" + inc.Str + "`"
			}
			fmt.Fprintf(&b, "Includes %s.\n\n", strings.Join(names, ", "))
		}

		assertions := doc.Get(script.SectionAssertions).Items
		if len(assertions) == 0 {
			b.WriteString("_No assertions._\n\n")
			continue
		}
		b.WriteString("| # | Assert | Description | When | Become |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for j, a := range assertions {
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
				j+1,
				cell(a.Get("assert").Str),
				cell(text(a.Get("description"))),
				cell(guard(a.Get("when"))),
				cell(guard(a.Get("become"))),
			)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func text(n *script.Node) string {
	if n == nil {
		return ""
	}
	return n.Str
}

func guard(n *script.Node) string {
	if n == nil {
		return ""
	}
	if n.Kind == script.KindBoolean {
		return fmt.Sprint(n.Bool)
	}
	return n.Str
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// RenderMarkdown styles md for the terminal, wrapping at width. It falls
// back to the raw markdown if rendering fails.
func RenderMarkdown(md string, width int) string {
	if strings.TrimSpace(md) == "" {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}
