package cmd

import (
	"fmt"
	"io"

	"github.com/KaramelBytes/equipstat/internal/record"
	"github.com/KaramelBytes/equipstat/internal/report"
	"github.com/KaramelBytes/equipstat/internal/utils"
)

func printJSON(w io.Writer, v any) error {
	b, err := utils.PrettyJSON(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// printRecord writes rec in the same reading order as its PDF report.
func printRecord(w io.Writer, rec record.Record) {
	doc := report.Content(&rec)
	fmt.Fprintf(w, "#%d %s\n", rec.ID, rec.Name)
	for _, line := range doc.Lines()[1:] {
		fmt.Fprintf(w, "  %s\n", line)
	}
	if rec.SkippedRows > 0 {
		fmt.Fprintf(w, "  (%d rows skipped)\n", rec.SkippedRows)
	}
}

func printRecordLine(w io.Writer, rec record.Record) {
	fmt.Fprintf(w, "- #%d %s  %s  rows=%d  file=%s\n",
		rec.ID, rec.CreatedAt.UTC().Format(report.UploadedAtLayout), rec.Name, rec.TotalCount, rec.OriginalFilename)
}
