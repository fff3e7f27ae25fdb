package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hybridrag/hybridrag/internal/guard"
)

func newDiagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diag",
		Short: "Run a full self-diagnostic",
		Long: `Validate the configuration, open and verify the store, probe backend
availability, and run the hallucination guard's structural self-test.
Credentials appear masked only; no secret is ever printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := bootUp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = res.Close() }()

			out := cmd.OutOrStdout()
			fmt.Fprint(out, res.Summary())

			fmt.Fprintln(out, "credential sources:")
			for field, source := range res.Provenance {
				fmt.Fprintf(out, "  %-12s %s\n", field, source)
			}

			if res.Config.Guard.Enabled {
				if err := guard.SelfTest(res.Config.Guard); err != nil {
					fmt.Fprintln(out, "guard self-test: FAILED")
					return err
				}
				fmt.Fprintln(out, "guard self-test: ok")
			}

			stats, err := res.Store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "store: %d chunks, %d vectors, %d tombstoned\n",
				stats.ChunkCount, stats.VectorCount, stats.TombstoneCount)
			return nil
		},
	}
}
