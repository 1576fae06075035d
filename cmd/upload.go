package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/equipstat/internal/record"
	"github.com/KaramelBytes/equipstat/internal/service"
)

var (
	upName  string
	upQuiet bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <files...>",
	Short: "Analyze and store CSV/TSV/XLSX files, one record per file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := expandInputs(args)
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := commandContext(cmd)
		w := cmd.OutOrStdout()
		total := len(files)
		var created []record.Record
		failed := 0
		for i, path := range files {
			if !upQuiet && !jsonOut {
				fmt.Fprintf(w, "[%d/%d] Processing %s...\n", i+1, total, filepath.Base(path))
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			rec, err := a.Service.Upload(ctx, service.UploadRequest{
				Name:     upName,
				Filename: filepath.Base(path),
				Content:  content,
			})
			if err != nil {
				if !service.IsRejection(err) {
					return fmt.Errorf("%s: %w", filepath.Base(path), err)
				}
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s: %v\n", filepath.Base(path), err)
				continue
			}
			created = append(created, rec)
			if !upQuiet && !jsonOut {
				fmt.Fprintf(w, "✓ Stored dataset #%d %q (%d rows", rec.ID, rec.Name, rec.TotalCount)
				if rec.SkippedRows > 0 {
					fmt.Fprintf(w, ", %d skipped", rec.SkippedRows)
				}
				fmt.Fprintln(w, ")")
			}
		}
		if jsonOut {
			if created == nil {
				created = []record.Record{}
			}
			if err := printJSON(w, created); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files rejected", failed, total)
		}
		return nil
	},
}

// expandInputs resolves globs and literal paths, deduplicated and sorted.
func expandInputs(args []string) ([]string, error) {
	var files []string
	seen := map[string]struct{}{}
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			// treat as literal path if exists
			if _, err := os.Stat(arg); err == nil {
				matches = []string{arg}
			}
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files matched")
	}
	sort.Strings(files)
	return files, nil
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringVarP(&upName, "name", "n", "", "dataset name (default: \"Dataset <date time>\")")
	uploadCmd.Flags().BoolVar(&upQuiet, "quiet", false, "suppress progress output")
}
