package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/equipstat/internal/record"
	"github.com/KaramelBytes/equipstat/internal/utils"
)

var (
	histLimit int
	srcOutput string
)

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the most recent dataset summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		rec, err := a.Service.Latest(commandContext(cmd))
		if errors.Is(err, record.ErrEmptyHistory) {
			return fmt.Errorf("no datasets uploaded yet")
		}
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), rec)
		}
		printRecord(cmd.OutOrStdout(), rec)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored datasets, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		limit := cfg.History.Limit
		if cmd.Flags().Changed("limit") {
			if histLimit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			limit = histLimit
		}
		recs, err := a.Service.History(commandContext(cmd), limit)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if jsonOut {
			if recs == nil {
				recs = []record.Record{}
			}
			return printJSON(w, recs)
		}
		if len(recs) == 0 {
			fmt.Fprintln(w, "(no datasets)")
			return nil
		}
		for _, rec := range recs {
			printRecordLine(w, rec)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one stored dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		rec, err := a.Service.Get(commandContext(cmd), id)
		if err != nil {
			return fmt.Errorf("dataset %d: %w", id, err)
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), rec)
		}
		printRecord(cmd.OutOrStdout(), rec)
		return nil
	},
}

var sourceCmd = &cobra.Command{
	Use:   "source <id>",
	Short: "Download the original file of a stored dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		_, rc, rec, err := a.Service.Source(commandContext(cmd), id)
		if err != nil {
			return fmt.Errorf("dataset %d: %w", id, err)
		}
		defer rc.Close()
		if srcOutput == "-" {
			_, err = io.Copy(cmd.OutOrStdout(), rc)
			return err
		}
		b, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		out := srcOutput
		if out == "" {
			out = rec.OriginalFilename
		}
		if _, err := os.Stat(out); err == nil && !cmd.Flags().Changed("output") {
			return fmt.Errorf("%s already exists; pass -o to choose a destination", out)
		}
		if err := utils.SafeWriteFile(out, b); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", out)
		return nil
	},
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid dataset id %q", s)
	}
	return id, nil
}

func init() {
	rootCmd.AddCommand(latestCmd, historyCmd, showCmd, sourceCmd)
	historyCmd.Flags().IntVarP(&histLimit, "limit", "l", 0, "maximum datasets to list (0 = all; default from config)")
	sourceCmd.Flags().StringVarP(&srcOutput, "output", "o", "", "output path ('-' for stdout; default: original filename)")
}
