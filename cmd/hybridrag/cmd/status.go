package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store health, backend availability, and recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := bootUp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = res.Close() }()

			ctx := cmd.Context()
			stats, err := res.Store.Stats(ctx)
			if err != nil {
				return err
			}
			runs, err := res.Store.RecentRuns(ctx, 5)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"mode":              string(res.Gate.Mode()),
					"online_available":  res.OnlineAvailable,
					"offline_available": res.OfflineAvailable,
					"chunks":            stats.ChunkCount,
					"vectors":           stats.VectorCount,
					"tombstones":        stats.TombstoneCount,
					"dimensions":        stats.Dimensions,
					"sources":           stats.SourceCount,
					"warnings":          res.Warnings,
				})
			}

			fmt.Fprint(out, res.Summary())
			fmt.Fprintf(out, "chunks: %d   tombstones: %d   sources: %d\n",
				stats.ChunkCount, stats.TombstoneCount, stats.SourceCount)

			if len(runs) > 0 {
				fmt.Fprintln(out, "recent runs:")
				for _, r := range runs {
					fmt.Fprintf(out, "  %s  %-10s %d files, %d chunks (%s)\n",
						r.RunID, r.Status, r.Counts.FilesParsed, r.Counts.ChunksAdded,
						r.StartedAt.Format(time.RFC3339))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
