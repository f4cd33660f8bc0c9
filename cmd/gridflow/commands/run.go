package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gridflow/gridflow/pkg/config"
)

// requestFlags override the request section of a description.
type requestFlags struct {
	mode   string
	piece  int
	pieces int
	ghost  int
	time   float64
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mode, "mode", "", "request mode: data, information or update-extent")
	cmd.Flags().IntVar(&f.piece, "piece", 0, "piece to request")
	cmd.Flags().IntVar(&f.pieces, "pieces", 1, "number of pieces the whole extent is split into")
	cmd.Flags().IntVar(&f.ghost, "ghost", 0, "ghost level to request")
	cmd.Flags().Float64Var(&f.time, "time", 0, "time step to request")
}

func (f *requestFlags) apply(cmd *cobra.Command, d *config.Description) {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		d.Request.Mode = f.mode
	}
	if flags.Changed("piece") {
		d.Request.Piece = f.piece
	}
	if flags.Changed("pieces") {
		d.Request.Pieces = f.pieces
	}
	if flags.Changed("ghost") {
		d.Request.Ghost = f.ghost
	}
	if flags.Changed("time") {
		t := f.time
		d.Request.Time = &t
	}
}

func newRunCommand() *cobra.Command {
	var (
		storePath string
		request   requestFlags
	)

	cmd := &cobra.Command{
		Use:   "run <description>",
		Short: "Run a pipeline description",
		Long: `Load a pipeline description, check it against the admission policies,
build its executives and pull the terminal port.

The request mode decides how far the pull goes:
  - information:   meta-data only (whole extent, time steps)
  - update-extent: meta-data and upstream update requests
  - data:          everything, executing the algorithms that are out of date

When a store path is configured every pull, phase execution and failure is
recorded and can be inspected with 'gridflow history'.`,
		Example: `  # Run a description
  gridflow run pipeline.cue

  # Stream piece 2 of 8 with one ghost level
  gridflow run pipeline.yaml --pieces 8 --piece 2 --ghost 1

  # Only propagate meta-data, print JSON
  gridflow run pipeline.cue --mode information --json

  # Record history
  gridflow run pipeline.cue --store history.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := config.Load(args[0])
			if err != nil {
				return err
			}
			request.apply(cmd, d)
			if storePath == "" {
				storePath = d.Store.Path
			}

			log.Info().
				Str("pipeline", d.Name).
				Str("terminal", d.Terminal.String()).
				Str("store", storePath).
				Msg("Running pipeline")

			r, err := newRunner(ctx, d.Telemetry, storePath)
			if err != nil {
				return err
			}
			defer r.close(ctx)

			sum, err := r.run(ctx, d)
			if err != nil {
				return fmt.Errorf("pipeline %s: %w", d.Name, err)
			}
			return printSummary(cmd.OutOrStdout(), sum)
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "", "SQLite history database (overrides store.path)")
	request.register(cmd)

	return cmd
}
