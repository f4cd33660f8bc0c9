package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gridflow/gridflow/pkg/config"
)

func newWatchCommand() *cobra.Command {
	var (
		storePath string
		request   requestFlags
	)

	cmd := &cobra.Command{
		Use:   "watch <description>",
		Short: "Re-run a pipeline whenever its description changes",
		Long: `Run a pipeline description, then watch the file and run it again each time
it is saved. Reload failures are logged and the previous pipeline stays in
effect until the file is fixed.

Telemetry and store settings are taken from the first successful load; the
metrics endpoint, when configured, stays up for the lifetime of the watch.`,
		Example: `  gridflow watch pipeline.cue
  gridflow watch pipeline.yaml --store history.db --pieces 4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			d, err := config.Load(path)
			if err != nil {
				return err
			}
			if storePath == "" {
				storePath = d.Store.Path
			}

			r, err := newRunner(ctx, d.Telemetry, storePath)
			if err != nil {
				return err
			}
			defer r.close(ctx)

			errc := make(chan error, 1)
			if err := r.tel.StartMetricsServer(errc); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			runOnce := func(d *config.Description) {
				request.apply(cmd, d)
				sum, err := r.run(ctx, d)
				if err != nil {
					log.Error().Err(err).Str("pipeline", d.Name).Msg("Pipeline run failed")
					return
				}
				if err := printSummary(w, sum); err != nil {
					log.Warn().Err(err).Msg("Failed to print summary")
				}
			}
			runOnce(d)

			log.Info().Str("path", path).Msg("Watching description")
			watchErr := make(chan error, 1)
			go func() {
				watchErr <- config.Watch(ctx, path, func(d *config.Description, err error) {
					if perr := r.tel.Events.PublishConfigReloaded(path, err); perr != nil {
						log.Debug().Err(perr).Msg("Failed to publish reload event")
					}
					if err != nil {
						log.Warn().Err(err).Str("path", path).Msg("Reload failed")
						return
					}
					runOnce(d)
				})
			}()

			select {
			case err := <-watchErr:
				return err
			case err := <-errc:
				return fmt.Errorf("metrics endpoint: %w", err)
			}
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "", "SQLite history database (overrides store.path)")
	request.register(cmd)

	return cmd
}
