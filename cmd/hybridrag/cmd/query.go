package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question over the indexed corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := bootUp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = res.Close() }()

			question := strings.Join(args, " ")
			result := res.Engine.Answer(cmd.Context(), question)

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
				return result.Err
			}

			fmt.Fprintln(out, result.AnswerText)
			if len(result.Sources) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Sources:")
				for i, s := range result.Sources {
					line := fmt.Sprintf("  [%d] %s (score %.2f)", i+1, s.Path, s.Score)
					if s.Heading != "" {
						line += " - " + s.Heading
					}
					fmt.Fprintln(out, line)
				}
			}
			if !result.IsSafe && result.Err == nil {
				fmt.Fprintf(out, "\nnote: the answer failed verification (faithfulness %.2f)\n",
					result.Faithfulness)
			}
			return result.Err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the full result as JSON")
	return cmd
}
