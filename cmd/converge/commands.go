package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/converge/pkg/diagram"
	"github.com/ormasoftchile/converge/pkg/orchestrator"
	"github.com/ormasoftchile/converge/pkg/script"
	"github.com/ormasoftchile/converge/pkg/ui"
)

// --- validate ---

var validateHostFile string

var validateCmd = &cobra.Command{
	Use:   "validate <script-file>",
	Short: "Load a script and its includes and report any errors",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	sc, err := script.NewContext(args[0])
	if err != nil {
		return err
	}
	count := 0
	for _, doc := range sc.Documents() {
		count += len(doc.Get(script.SectionAssertions).Items)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ %s is valid (%d scripts, %d assertions)\n", filepath.Base(args[0]), len(sc.Paths), count)
	if sc.AnyScriptHasBecomes {
		fmt.Fprintln(out, "  some assertions use become and need root")
	}

	if validateHostFile != "" {
		hosts, err := orchestrator.LoadHosts(validateHostFile)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ %s is valid (%d hosts)\n", filepath.Base(validateHostFile), len(hosts))
	}
	return nil
}

// --- describe ---

var (
	describeRaw     bool
	describeWidth   int
	describeDiagram string
)

var describeCmd = &cobra.Command{
	Use:   "describe <script-file>",
	Short: "Show the scripts and assertions a run would execute, in order",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribe,
}

func runDescribe(cmd *cobra.Command, args []string) error {
	sc, err := script.NewContext(args[0])
	if err != nil {
		return err
	}
	if describeDiagram != "" {
		out, err := diagram.Generate(sc, diagram.Format(describeDiagram))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	}
	md := ui.Describe(sc)
	if describeRaw {
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	}
	width := describeWidth
	if width <= 0 {
		width = screenWidth(80)
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMarkdown(md, width))
	return nil
}

// --- schema ---

var schemaOut string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print JSON Schemas of converge input files",
}

var schemaHostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Print the JSON Schema of host files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := orchestrator.GenerateHostSchema()
		if err != nil {
			return err
		}
		if schemaOut == "" {
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(string(data), "\n"))
			return nil
		}
		if err := os.WriteFile(schemaOut, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write schema: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Schema written to %s\n", schemaOut)
		return nil
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the converge version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "converge %s (%s)\n", version, commit)
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateHostFile, "hostFile", "", "Also validate this host file")
	describeCmd.Flags().BoolVar(&describeRaw, "raw", false, "Print markdown without terminal styling")
	describeCmd.Flags().IntVar(&describeWidth, "width", 0, "Wrap width (default: terminal width)")
	describeCmd.Flags().StringVar(&describeDiagram, "diagram", "", "Draw the include graph instead: ascii or mermaid")
	schemaHostsCmd.Flags().StringVarP(&schemaOut, "out", "o", "", "Write the schema to a file instead of stdout")
}
