package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/equipstat/internal/record"
	"github.com/KaramelBytes/equipstat/internal/report"
	"github.com/KaramelBytes/equipstat/internal/utils"
)

var reportOutput string

var reportCmd = &cobra.Command{
	Use:   "report [id]",
	Short: "Render the PDF report of a dataset (latest if no id is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := commandContext(cmd)

		var pdf []byte
		var rec record.Record
		if len(args) == 1 {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			pdf, rec, err = a.Service.Report(ctx, id)
			if err != nil {
				return fmt.Errorf("dataset %d: %w", id, err)
			}
		} else {
			pdf, rec, err = a.Service.LatestReport(ctx)
			if errors.Is(err, record.ErrEmptyHistory) {
				return fmt.Errorf("no datasets uploaded yet")
			}
			if err != nil {
				return err
			}
		}
		out := reportOutput
		if out == "" {
			out = report.Filename(&rec)
		}
		if err := utils.SafeWriteFile(out, pdf); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s (%d bytes)\n", out, len(pdf))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "output path (default: equipment_report_<id>.pdf)")
}
