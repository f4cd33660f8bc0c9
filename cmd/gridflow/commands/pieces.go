package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gridflow/gridflow/pkg/extent"
)

type pieceRow struct {
	Piece     int               `json:"piece"`
	Extent    extent.Extent     `json:"extent"`
	Ghost     extent.Extent     `json:"ghost_extent"`
	Neighbors []extent.Neighbor `json:"neighbors,omitempty"`
}

func newPiecesCommand() *cobra.Command {
	var (
		whole  []int
		pieces int
		ghost  int
	)

	cmd := &cobra.Command{
		Use:   "pieces",
		Short: "Show how a whole extent is split into pieces",
		Long: `Split a whole extent the way structured sources do when a consumer streams
by pieces, and print each piece's extent, its extent grown by the ghost level,
and the neighbouring pieces that supply its ghost cells.`,
		Example: `  gridflow pieces --extent 0,63,0,63,0,0 --pieces 4 --ghost 1`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ext, err := extent.FromSlice(whole)
			if err != nil {
				return err
			}
			if err := ext.Validate(); err != nil {
				return err
			}
			if ghost < 0 {
				return fmt.Errorf("ghost level must not be negative, got %d", ghost)
			}
			dec, err := extent.NewDecomposition(ext, pieces)
			if err != nil {
				return err
			}

			rows := make([]pieceRow, dec.NumPieces())
			for i := range rows {
				rows[i] = pieceRow{
					Piece:     i,
					Extent:    dec.Extent(i),
					Ghost:     dec.GhostExtent(i, ghost),
					Neighbors: dec.Neighbors(i, ghost),
				}
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PIECE\tEXTENT\tGHOST EXTENT\tNEIGHBORS")
			for _, r := range rows {
				ids := make([]int, len(r.Neighbors))
				for i, n := range r.Neighbors {
					ids[i] = n.ID
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%v\n", r.Piece, r.Extent, r.Ghost, ids)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntSliceVar(&whole, "extent", []int{0, 63, 0, 63, 0, 0}, "whole extent as xmin,xmax,ymin,ymax,zmin,zmax")
	cmd.Flags().IntVar(&pieces, "pieces", 4, "number of pieces")
	cmd.Flags().IntVar(&ghost, "ghost", 0, "ghost level")

	return cmd
}
