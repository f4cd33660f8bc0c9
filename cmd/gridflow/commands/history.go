package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gridflow/gridflow/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		storePath string
		terminal  string
		pullID    string
		limit     int
		prune     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded pulls",
		Long: `List pulls recorded by 'gridflow run --store', or show the phase executions
and events of a single pull.`,
		Example: `  # Latest pulls
  gridflow history --store history.db

  # Pulls on one terminal port
  gridflow history --store history.db --terminal hist:0

  # Executions and events of one pull
  gridflow history --store history.db --pull 1b4e28ba-2fa1-11d2-883f-0016d3cca427

  # Forget pulls older than a week
  gridflow history --store history.db --prune 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, storePath)
			if err != nil {
				return err
			}
			defer store.Close()

			w := cmd.OutOrStdout()
			switch {
			case prune > 0:
				n, err := store.DeletePullsBefore(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				log.Info().Int64("pulls", n).Dur("older_than", prune).Msg("Pruned history")
				fmt.Fprintf(w, "deleted %d pulls\n", n)
				return nil

			case pullID != "":
				pull, err := store.GetPull(ctx, pullID)
				if err != nil {
					return err
				}
				execs, err := store.ListExecutions(ctx, pullID)
				if err != nil {
					return err
				}
				events, err := store.GetEvents(ctx, stores.EventQuery{PullID: &pullID})
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(w, map[string]any{"pull": pull, "executions": execs, "events": events})
				}
				return printPull(w, pull, execs, events)

			default:
				var filter *string
				if terminal != "" {
					filter = &terminal
				}
				pulls, err := store.ListPulls(ctx, filter, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(w, pulls)
				}
				return printPulls(w, pulls)
			}
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "gridflow.db", "SQLite history database")
	cmd.Flags().StringVar(&terminal, "terminal", "", "only pulls on this terminal (node:port)")
	cmd.Flags().StringVar(&pullID, "pull", "", "show one pull in detail")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of pulls to list")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete pulls started longer ago than this")

	return cmd
}

func printPulls(w io.Writer, pulls []*stores.Pull) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPIPELINE\tTERMINAL\tMODE\tSTATUS\tEXECUTED\tSKIPPED\tDURATION\tSTARTED")
	for _, p := range pulls {
		fmt.Fprintf(tw, "%s\t%s\t%s:%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
			p.ID, p.Pipeline, p.Terminal, p.Port, p.Mode, p.Status,
			p.Executed, p.Skipped, p.Duration, p.StartedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printPull(w io.Writer, p *stores.Pull, execs []*stores.Execution, events []*stores.Event) error {
	fmt.Fprintf(w, "pull %s (%s) %s on %s:%d, %s\n", p.ID, p.Pipeline, p.Mode, p.Terminal, p.Port, p.Status)
	if p.Error != nil {
		fmt.Fprintf(w, "error: %s\n", *p.Error)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tALGORITHM\tPHASE\tOUTCOME\tREASON\tREQUEST\tDURATION")
	for _, e := range execs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Node, e.Algorithm, e.Phase, e.Outcome, e.Reason, e.Request, e.Duration)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, ev := range events {
		node := "-"
		if ev.Node != nil {
			node = *ev.Node
		}
		fmt.Fprintf(w, "%s [%s] %s %s: %s\n", ev.Timestamp.Format(time.RFC3339), ev.Level, node, ev.Type, ev.Message)
	}
	return nil
}
