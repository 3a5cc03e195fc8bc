package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/untoldecay/fieldmerge/internal/consolidate"
	"github.com/untoldecay/fieldmerge/internal/ui"
)

// outputJSON writes v to stdout as indented JSON.
func outputJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		FatalError("encoding JSON: %v", err)
	}
}

// FatalError prints an error and exits 1. With --json the error is a JSON
// object on stdout.
func FatalError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if jsonOutput {
		outputJSON(map[string]string{"error": msg})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}

// fatalServiceError reports an engine error. Incompatible pairs also list
// the failing rules.
func fatalServiceError(err error) {
	var incompatible *consolidate.IncompatibleError
	if errors.As(err, &incompatible) {
		if jsonOutput {
			outputJSON(map[string]any{"error": err.Error(), "validation": incompatible.Result})
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %s to %s cannot be migrated\n", incompatible.SourceFieldID, incompatible.TargetFieldID)
		fmt.Fprintln(os.Stderr, ui.RenderRulesTable(incompatible.Result, 0))
		os.Exit(1)
	}
	FatalError("%v", err)
}
