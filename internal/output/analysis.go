package output

import (
	"fmt"
	"io"

	"github.com/torosent/loadforge/internal/extract"
	"github.com/torosent/loadforge/internal/metrics"
)

const topHeaders = 5

// PrintAnalysis outputs the console summary of an extraction analysis.
func PrintAnalysis(w io.Writer, a extract.Analysis) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "DATA EXTRACTION SUMMARY")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Source:                  %s\n", a.SourceDir)
	fmt.Fprintf(w, "Files processed:         %d\n", a.Summary.TotalFiles)
	fmt.Fprintf(w, "Files with verbose data: %d\n", a.Summary.FilesWithVerbose)
	fmt.Fprintf(w, "Total responses:         %d\n", a.Summary.TotalResponses)

	if s := a.ResponseTimeStats; s != nil {
		fmt.Fprintln(w, "\nResponse Time Statistics:")
		fmt.Fprintf(w, "  Count:   %d\n", s.Count)
		fmt.Fprintf(w, "  Min:     %.1fms\n", s.MinMs)
		fmt.Fprintf(w, "  Max:     %.1fms\n", s.MaxMs)
		fmt.Fprintf(w, "  Average: %.1fms\n", s.AvgMs)
		fmt.Fprintf(w, "  Median:  %.1fms\n", s.MedianMs)
	}

	section(w, "Responses by Status", a.ResponsesByStatus, 0, "%s: %d responses")
	section(w, "Responses by Template", a.ResponsesByTemplate, 0, "%s: %d responses")
	section(w, "Body Messages", a.BodyMessages, 0, "'%s': %d times")
	section(w, "Errors Summary", a.ErrorsSummary, 0, "%s: %d times")
	section(w, "Most Common Headers", a.HeadersAnalysis, topHeaders, "%s: %d times")
	fmt.Fprintln(w, rule)
}

func section(w io.Writer, title string, counts map[string]int, limit int, format string) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for i, row := range metrics.SortedCounts(counts) {
		if limit > 0 && i == limit {
			break
		}
		fmt.Fprintf(w, "  "+format+"\n", row.Key, row.Count)
	}
}
