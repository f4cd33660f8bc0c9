package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummary(w io.Writer, s *runSummary) error {
	if jsonOutput {
		return printJSON(w, s)
	}
	fmt.Fprintf(w, "pipeline:    %s\n", s.Pipeline)
	fmt.Fprintf(w, "mode:        %s\n", s.Mode)
	fmt.Fprintf(w, "terminal:    %s (%d nodes)\n", s.Terminal, s.Nodes)
	fmt.Fprintf(w, "duration:    %s\n", s.Duration)
	if s.Output != "" {
		fmt.Fprintf(w, "output:      %s\n", s.Output)
	}
	fmt.Fprintf(w, "information: %s\n", s.Information)
	if len(s.Warnings) > 0 {
		fmt.Fprintf(w, "warnings:\n  %s\n", strings.Join(s.Warnings, "\n  "))
	}
	return nil
}
