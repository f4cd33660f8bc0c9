package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridflow/gridflow/pkg/config"
	"github.com/gridflow/gridflow/pkg/filters"
)

func newDotCommand() *cobra.Command {
	var update bool

	cmd := &cobra.Command{
		Use:   "dot <description>",
		Short: "Render the executive graph in Graphviz DOT format",
		Long: `Build a pipeline description and print the graph upstream of the terminal
in Graphviz DOT format, grouped by level. With --update the pipeline is pulled
first so that nodes are coloured by their port state.`,
		Example: `  gridflow dot pipeline.cue | dot -Tsvg > pipeline.svg
  gridflow dot --update pipeline.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := config.Load(args[0])
			if err != nil {
				return err
			}
			built, err := config.Build(d, filters.DefaultRegistry())
			if err != nil {
				return err
			}
			if update {
				if err := built.Run(cmd.Context()); err != nil {
					return fmt.Errorf("pipeline %s: %w", d.Name, err)
				}
			}
			g, err := built.Graph()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), g.ToDOT())
			return err
		},
	}

	cmd.Flags().BoolVar(&update, "update", false, "run the request before rendering")

	return cmd
}
