package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/torosent/loadforge/internal/metrics"
	"github.com/torosent/loadforge/internal/results"
	"github.com/torosent/loadforge/internal/threshold"
)

const rule = "============================================================"

// PrintReport outputs a human-readable summary of one run.
func PrintReport(w io.Writer, stats metrics.Stats) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "LOAD TEST RESULTS")
	fmt.Fprintln(w, rule)
	writeCounts(w, stats)
	if stats.Aborted {
		fmt.Fprintf(w, "Aborted:             %s\n", stats.AbortReason)
	}

	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:               %s\n", round(stats.MinLatency))
	fmt.Fprintf(w, "  Max:               %s\n", round(stats.MaxLatency))
	fmt.Fprintf(w, "  Mean:              %s\n", round(stats.MeanLatency))
	fmt.Fprintf(w, "  P50:               %s\n", round(stats.P50Latency))
	fmt.Fprintf(w, "  P90:               %s\n", round(stats.P90Latency))
	fmt.Fprintf(w, "  P95:               %s\n", round(stats.P95Latency))
	fmt.Fprintf(w, "  P99:               %s\n", round(stats.P99Latency))

	if len(stats.StatusCodes) > 0 {
		fmt.Fprintln(w, "\nStatus Codes:")
		for _, row := range metrics.SortedCounts(stats.StatusCodes) {
			fmt.Fprintf(w, "  %s: %d\n", row.Key, row.Count)
		}
	}
	if len(stats.Templates) > 0 {
		writeTemplates(w, stats)
	}
	if len(stats.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, row := range metrics.SortedCounts(stats.Errors) {
			fmt.Fprintf(w, "  %s: %d\n", row.Key, row.Count)
		}
	}
	fmt.Fprintln(w, rule)
}

func writeCounts(w io.Writer, stats metrics.Stats) {
	fmt.Fprintf(w, "Total Requests:      %d\n", stats.Total)
	fmt.Fprintf(w, "Successful:          %d (%s)\n", stats.Successes, percent(stats.Successes, stats.Total))
	fmt.Fprintf(w, "Failed:              %d (%s)\n", stats.Failures, percent(stats.Failures, stats.Total))
	fmt.Fprintf(w, "Duration:            %s\n", round(stats.Duration))
	fmt.Fprintf(w, "Requests/sec:        %.2f\n", stats.RequestsPerSec)
}

func writeTemplates(w io.Writer, stats metrics.Stats) {
	fmt.Fprintln(w, "\nTemplate Breakdown:")
	names := make([]string, 0, len(stats.Templates))
	for name := range stats.Templates {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := stats.Templates[names[i]], stats.Templates[names[j]]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		ts := stats.Templates[name]
		fmt.Fprintf(w, "  - %s: total=%d (%s), successes=%d, failures=%d, mean=%.1fms, p95=%.1fms\n",
			displayName(name), ts.Total, percent(ts.Total, stats.Total), ts.Successes, ts.Failures, ts.MeanLatencyMs, ts.P95LatencyMs)
	}
	rows := metrics.FlattenStatusBuckets(stats.TemplateStatusCodes())
	if len(rows) > 0 {
		fmt.Fprintln(w, "    Status by template:")
		for _, row := range rows {
			fmt.Fprintf(w, "      %s %s: %d\n", displayName(row.Template), row.Code, row.Count)
		}
	}
}

func displayName(name string) string {
	if name == "" {
		return "(no template)"
	}
	return name
}

// PrintMultiReport outputs the merged summary of a multi-instance run.
func PrintMultiReport(w io.Writer, s results.MultiSummary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "MULTI-INSTANCE RESULTS")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Instances:           %d (successful: %d, failed: %d)\n", s.Instances.Total, s.Instances.Successful, s.Instances.Failed)
	for _, inst := range s.Results {
		status := "ok"
		if !inst.Success {
			status = fmt.Sprintf("failed (exit %d)", inst.ExitCode)
			if inst.Error != "" {
				status += ": " + inst.Error
			}
		}
		line := fmt.Sprintf("  #%d %s", inst.Instance, status)
		if inst.Stats != nil {
			line += fmt.Sprintf(" | %d requests, %d failed, %.2f req/s", inst.Stats.Total, inst.Stats.Failures, inst.Stats.RequestsPerSec)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, "\nAggregated:")
	PrintReport(w, s.Aggregated)
}

// PrintThresholds outputs threshold outcomes. It prints nothing without
// results.
func PrintThresholds(w io.Writer, res []threshold.Result) {
	if len(res) == 0 {
		return
	}
	passed := 0
	for _, r := range res {
		if r.Pass {
			passed++
		}
	}
	fmt.Fprintf(w, "\nThresholds: %d/%d passed\n", passed, len(res))
	for _, r := range res {
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
}

// PrintJSONReport outputs v as indented JSON.
func PrintJSONReport(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func percent(part, total int64) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(part)/float64(total)*100)
}

func round(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond)
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond)
	default:
		return d
	}
}

// PrintSettings dumps resolved settings, one per line, sorted by key.
func PrintSettings(w io.Writer, settings map[string]any) {
	keys := make([]string, 0, len(settings))
	width := 0
	for k := range settings {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)
	fmt.Fprintln(w, "Configuration:")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s%s  %v\n", k, strings.Repeat(" ", width-len(k)), settings[k])
	}
}
