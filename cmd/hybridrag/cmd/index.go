package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hybridrag/hybridrag/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the source folder into the local store",
		Long: `Walk the source folder, parse supported documents, and ingest new or
modified files. Unchanged files are skipped by signature; files deleted from
disk are removed from search. A run interrupted at any point resumes safely.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := bootUp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = res.Close() }()

			if source != "" {
				res.Config.Paths.SourceFolder = source
			}

			renderer := ui.NewRenderer(cmd.OutOrStdout())
			res.Indexer.Progress = renderer.FileDone

			runRes, err := res.Indexer.Run(cmd.Context())
			if runRes != nil {
				renderer.RunFinished(runRes)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Source folder (overrides config)")
	return cmd
}
