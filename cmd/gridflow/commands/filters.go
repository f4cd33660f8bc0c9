package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gridflow/gridflow/pkg/filters"
)

func newFiltersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "filters",
		Short: "List the node types a description can use",
		Long: `List the algorithm types registered for pipeline descriptions. Types marked
as scripts run user-supplied code and need policy.allow_scripts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := filters.DefaultRegistry()
			type entry struct {
				Name   string `json:"name"`
				Script bool   `json:"script"`
			}
			var entries []entry
			for _, name := range reg.Names() {
				entries = append(entries, entry{Name: name, Script: reg.IsScript(name)})
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tSCRIPT")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%v\n", e.Name, e.Script)
			}
			return tw.Flush()
		},
	}
}
