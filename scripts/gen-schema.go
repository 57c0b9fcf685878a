//go:build ignore

// Writes the host file schema to schemas/hosts-v0.json for editors.
package main

import (
	"fmt"
	"os"

	"github.com/ormasoftchile/converge/pkg/orchestrator"
)

func main() {
	data, err := orchestrator.GenerateHostSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll("schemas", 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile("schemas/hosts-v0.json", append(data, '\n'), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote schemas/hosts-v0.json")
}
