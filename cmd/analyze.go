package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/equipstat/internal/analysis"
	"github.com/KaramelBytes/equipstat/internal/parser"
)

var anaShowIssues bool

// analysisResult is the JSON shape of a dry-run analysis.
type analysisResult struct {
	File    string              `json:"file"`
	Summary analysis.Summary    `json:"summary"`
	Skipped int                 `json:"skipped_rows"`
	Issues  []analysis.RowIssue `json:"issues,omitempty"`
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Validate and summarize a CSV/TSV/XLSX file without storing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		table, err := parser.ReadFile(path)
		if err != nil {
			return err
		}
		ds, err := analysis.Validate(table)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		sum, err := analysis.Aggregate(ds.Rows)
		if err != nil {
			return err
		}
		res := analysisResult{File: filepath.Base(path), Summary: sum, Skipped: ds.Skipped, Issues: ds.Issues}

		w := cmd.OutOrStdout()
		if jsonOut {
			return printJSON(w, res)
		}
		fmt.Fprintf(w, "%s\n", res.File)
		fmt.Fprintf(w, "  Total Equipment Count: %d\n", sum.TotalCount)
		fmt.Fprintf(w, "  Average Flowrate: %.2f\n", sum.AvgFlowrate)
		fmt.Fprintf(w, "  Average Pressure: %.2f\n", sum.AvgPressure)
		fmt.Fprintf(w, "  Average Temperature: %.2f\n", sum.AvgTemperature)
		for _, tc := range sum.SortedTypes() {
			fmt.Fprintf(w, "  %s: %d\n", tc.Type, tc.Count)
		}
		if ds.Skipped > 0 {
			fmt.Fprintf(w, "⚠ %d rows skipped\n", ds.Skipped)
			if anaShowIssues {
				for _, is := range ds.Issues {
					fmt.Fprintf(w, "  line %d: %s\n", is.Line, is.Reason)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&anaShowIssues, "issues", false, "list the rows that were skipped")
}
