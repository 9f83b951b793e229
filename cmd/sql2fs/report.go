package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/sql2fs/sql2fs/internal/models"
)

// printReport renders one row per processed category followed by the list
// of failed objects.
func printReport(w io.Writer, summaries models.Summaries) {
	if len(summaries) == 0 {
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Category", "Exported", "Skipped", "Failed", "Pruned"})
	table.SetBorder(false)
	table.SetColumnSeparator(" ")
	table.SetAutoFormatHeaders(false)

	var exported, skipped, failed, pruned int
	for _, sum := range summaries {
		table.Append([]string{
			sum.Kind.Folder(),
			strconv.Itoa(sum.Exported),
			strconv.Itoa(sum.Skipped),
			strconv.Itoa(sum.Failed),
			strconv.Itoa(sum.Pruned),
		})
		exported += sum.Exported
		skipped += sum.Skipped
		failed += sum.Failed
		pruned += sum.Pruned
	}
	table.SetFooter([]string{"Total", strconv.Itoa(exported), strconv.Itoa(skipped), strconv.Itoa(failed), strconv.Itoa(pruned)})
	table.Render()

	failures := summaries.Failed()
	if len(failures) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Failed objects:")
	for _, r := range failures {
		_, _ = fmt.Fprintf(w, "  %v\n", r.Err)
	}
}
