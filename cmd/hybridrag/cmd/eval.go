package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
	"github.com/hybridrag/hybridrag/internal/eval"
)

func newEvalCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "eval <questions.yaml>",
		Short: "Score the engine against a structured question set",
		Long: `Run every question in the YAML set through the query engine and score it
by type: answerable and injection questions on key facts and grounding,
unanswerable and ambiguous ones on refusal behavior. The command fails when
the pass rate drops below the threshold.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			questions, err := eval.LoadQuestions(args[0])
			if err != nil {
				return err
			}

			res, err := bootUp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = res.Close() }()

			report := eval.NewHarness(res.Engine, logger).Run(cmd.Context(), questions)

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				for _, r := range report.Results {
					mark := "PASS"
					if !r.Passed {
						mark = "FAIL"
					}
					fmt.Fprintf(out, "%s  %-12s %-14s score %.2f\n",
						mark, r.Question.ID, r.Question.Type, r.Score)
				}
				fmt.Fprintf(out, "\npassed %d/%d (%.0f%%), mean score %.2f\n",
					report.Passed, report.Total, report.PassRate()*100, report.MeanScore)
			}

			if report.PassRate() < eval.PassThreshold {
				return rgerrors.New(rgerrors.ErrCodeInternal,
					fmt.Sprintf("pass rate %.2f below threshold %.2f",
						report.PassRate(), eval.PassThreshold), nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the full report as JSON")
	return cmd
}
