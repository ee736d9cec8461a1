package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"counsel/internal/daemonrun"
	"counsel/internal/extract"
)

func newCalibrateCommand(ctx *commandContext) *cobra.Command {
	var goldenPath string
	var thresholds []float64
	var asJSON bool
	var showFailures bool

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Score the extraction normalizer against a golden set",
		Long: "Normalizes every case in a golden YAML file at each threshold and reports\n" +
			"field accuracy, degraded rate and label drift. Uses the [extract] settings\n" +
			"from the configuration for everything except the threshold.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(goldenPath) == "" {
				return fmt.Errorf("--golden is required")
			}
			cases, err := extract.LoadGolden(goldenPath)
			if err != nil {
				return err
			}
			opts, err := daemonrun.NormalizerOptions(cfg, nil)
			if err != nil {
				return err
			}
			if len(thresholds) == 0 {
				thresholds = []float64{cfg.Extract.Threshold}
			}
			scores := extract.Evaluate(cases, thresholds, opts...)

			if asJSON {
				return writeJSON(cmd, scores)
			}
			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(scores))
			for _, s := range scores {
				rows = append(rows, []string{
					strconv.FormatFloat(s.Threshold, 'f', 2, 64),
					strconv.Itoa(s.Cases),
					fmt.Sprintf("%d/%d", s.Passed, s.Checks),
					fmt.Sprintf("%.1f%%", s.FieldAccuracy*100),
					fmt.Sprintf("%.1f%%", s.DegradedRate*100),
					strconv.Itoa(s.FuzzyMatches),
					strconv.Itoa(s.Drift),
				})
			}
			right := []columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}
			fmt.Fprintln(out, renderTable(
				[]string{"Threshold", "Cases", "Checks", "Accuracy", "Degraded", "Fuzzy", "Drift"},
				rows,
				tableOptions{aligns: right},
			))
			if showFailures {
				for _, s := range scores {
					if len(s.Failures) == 0 {
						continue
					}
					fmt.Fprintf(out, "\nFailures at %.2f:\n", s.Threshold)
					for _, f := range s.Failures {
						fmt.Fprintf(out, "  - %s\n", f)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&goldenPath, "golden", "g", "", "Golden set YAML file")
	cmd.Flags().Float64SliceVarP(&thresholds, "threshold", "t", nil, "Similarity thresholds to score (repeatable; defaults to extract.threshold)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().BoolVar(&showFailures, "failures", false, "List failed checks")
	return cmd
}
