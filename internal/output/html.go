package output

import (
	"fmt"
	"html/template"
	"io"
	"os"
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/loadforge/internal/metrics"
	"github.com/torosent/loadforge/internal/threshold"
)

// ReportMetadata describes the run an HTML report covers.
type ReportMetadata struct {
	RunID       string
	TargetURL   string
	Method      string
	Concurrency int
	Instances   int
}

// HTMLReportData contains all data needed for the HTML report template.
type HTMLReportData struct {
	GeneratedAt      string
	Metadata         ReportMetadata
	Stats            metrics.Stats
	Templates        []TemplateRow
	StatusCodes      []metrics.CountRow
	Errors           []metrics.CountRow
	Distribution     []DistributionRow
	ThresholdResults []threshold.Result
	ThresholdsPassed int
}

// TemplateRow is one line of the per-template table.
type TemplateRow struct {
	Name string
	metrics.TemplateStats
}

// DistributionRow is one percentile of the merged latency histogram.
type DistributionRow struct {
	Percentile float64
	LatencyMs  float64
}

var distributionPercentiles = []float64{50, 75, 90, 95, 99, 99.9, 100}

// GenerateHTMLReport renders a standalone HTML report.
func GenerateHTMLReport(w io.Writer, stats metrics.Stats, thresholdResults []threshold.Result, metadata ReportMetadata) error {
	data := HTMLReportData{
		GeneratedAt:      time.Now().Format(time.RFC3339),
		Metadata:         metadata,
		Stats:            stats,
		StatusCodes:      metrics.SortedCounts(stats.StatusCodes),
		Errors:           metrics.SortedCounts(stats.Errors),
		Distribution:     distribution(stats.Histogram),
		ThresholdResults: thresholdResults,
	}
	for _, r := range thresholdResults {
		if r.Pass {
			data.ThresholdsPassed++
		}
	}
	for name, ts := range stats.Templates {
		data.Templates = append(data.Templates, TemplateRow{Name: displayName(name), TemplateStats: ts})
	}
	sort.Slice(data.Templates, func(i, j int) bool {
		if data.Templates[i].Total != data.Templates[j].Total {
			return data.Templates[i].Total > data.Templates[j].Total
		}
		return data.Templates[i].Name < data.Templates[j].Name
	})

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatFloat":   func(f float64) string { return fmt.Sprintf("%.2f", f) },
		"formatPercent": func(part, total int64) string { return percent(part, total) },
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

// WriteHTMLReport renders the report into path.
func WriteHTMLReport(path string, stats metrics.Stats, thresholdResults []threshold.Result, metadata ReportMetadata) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create html report: %w", err)
	}
	if err := GenerateHTMLReport(f, stats, thresholdResults, metadata); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func distribution(snap *hdrhistogram.Snapshot) []DistributionRow {
	if snap == nil {
		return nil
	}
	h := hdrhistogram.Import(snap)
	if h.TotalCount() == 0 {
		return nil
	}
	rows := make([]DistributionRow, 0, len(distributionPercentiles))
	for _, p := range distributionPercentiles {
		us := h.ValueAtQuantile(p)
		rows = append(rows, DistributionRow{Percentile: p, LatencyMs: float64(us) / 1000})
	}
	return rows
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Load Test Report{{if .Metadata.RunID}} {{.Metadata.RunID}}{{end}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; background: #f5f7fa; color: #2c3e50; margin: 0; padding: 20px; }
.container { max-width: 1200px; margin: 0 auto; background: white; border-radius: 8px; box-shadow: 0 2px 8px rgba(0,0,0,0.1); }
header { background: #34495e; color: white; padding: 24px 32px; border-radius: 8px 8px 0 0; }
header .meta { opacity: 0.85; font-size: 0.9rem; }
.content { padding: 32px; }
.grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(200px, 1fr)); gap: 16px; margin-bottom: 32px; }
.card { background: #f8f9fa; border-radius: 8px; padding: 16px; border-left: 4px solid #667eea; }
.card.success { border-left-color: #10b981; }
.card.error { border-left-color: #ef4444; }
.card h3 { font-size: 0.8rem; color: #6c757d; text-transform: uppercase; margin: 0 0 8px; }
.card .value { font-size: 1.6rem; font-weight: bold; }
h2 { border-bottom: 2px solid #e5e7eb; padding-bottom: 8px; }
table { width: 100%; border-collapse: collapse; margin-bottom: 32px; }
th, td { text-align: left; padding: 10px; border-bottom: 1px solid #e5e7eb; }
th { background: #f8f9fa; font-size: 0.85rem; text-transform: uppercase; }
.badge { padding: 2px 10px; border-radius: 10px; font-size: 0.85rem; font-weight: 600; }
.badge-success { background: #d1fae5; color: #065f46; }
.badge-error { background: #fee2e2; color: #991b1b; }
</style>
</head>
<body>
<div class="container">
<header>
<h1>Load Test Report</h1>
<div class="meta">
Generated {{.GeneratedAt}}{{if .Metadata.TargetURL}} | {{.Metadata.Method}} {{.Metadata.TargetURL}}{{end}}{{if .Metadata.Concurrency}} | concurrency {{.Metadata.Concurrency}}{{end}}{{if gt .Metadata.Instances 1}} | {{.Metadata.Instances}} instances{{end}}
</div>
</header>
<div class="content">
<div class="grid">
<div class="card"><h3>Total Requests</h3><div class="value">{{.Stats.Total}}</div></div>
<div class="card success"><h3>Successful</h3><div class="value">{{.Stats.Successes}}</div>{{formatPercent .Stats.Successes .Stats.Total}}</div>
<div class="card error"><h3>Failed</h3><div class="value">{{.Stats.Failures}}</div>{{formatPercent .Stats.Failures .Stats.Total}}</div>
<div class="card"><h3>Requests/sec</h3><div class="value">{{formatFloat .Stats.RequestsPerSec}}</div></div>
<div class="card"><h3>Duration</h3><div class="value">{{formatFloat .Stats.DurationMs}} ms</div></div>
</div>
{{if .Stats.Aborted}}<p><span class="badge badge-error">Aborted</span> {{.Stats.AbortReason}}</p>{{end}}

<h2>Latency (ms)</h2>
<table>
<tr><th>Min</th><th>Mean</th><th>P50</th><th>P90</th><th>P95</th><th>P99</th><th>Max</th></tr>
<tr><td>{{formatFloat .Stats.MinLatencyMs}}</td><td>{{formatFloat .Stats.MeanLatencyMs}}</td><td>{{formatFloat .Stats.P50LatencyMs}}</td><td>{{formatFloat .Stats.P90LatencyMs}}</td><td>{{formatFloat .Stats.P95LatencyMs}}</td><td>{{formatFloat .Stats.P99LatencyMs}}</td><td>{{formatFloat .Stats.MaxLatencyMs}}</td></tr>
</table>
{{if .Distribution}}
<h2>Latency Distribution</h2>
<table>
<tr><th>Percentile</th><th>Latency (ms)</th></tr>
{{range .Distribution}}<tr><td>{{.Percentile}}%</td><td>{{formatFloat .LatencyMs}}</td></tr>
{{end}}</table>
{{end}}
{{if .ThresholdResults}}
<h2>Thresholds ({{.ThresholdsPassed}}/{{len .ThresholdResults}} passed)</h2>
<table>
<tr><th>Threshold</th><th>Actual</th><th>Result</th></tr>
{{range .ThresholdResults}}<tr><td>{{.Expr}}</td><td>{{formatFloat .Actual}}</td><td>{{if .Pass}}<span class="badge badge-success">PASS</span>{{else}}<span class="badge badge-error">FAIL</span>{{end}}</td></tr>
{{end}}</table>
{{end}}
{{if .Templates}}
<h2>Templates</h2>
<table>
<tr><th>Template</th><th>Total</th><th>Successes</th><th>Failures</th><th>Mean (ms)</th><th>P95 (ms)</th><th>Max (ms)</th></tr>
{{range .Templates}}<tr><td>{{.Name}}</td><td>{{.Total}}</td><td>{{.Successes}}</td><td>{{.Failures}}</td><td>{{formatFloat .MeanLatencyMs}}</td><td>{{formatFloat .P95LatencyMs}}</td><td>{{formatFloat .MaxLatencyMs}}</td></tr>
{{end}}</table>
{{end}}
{{if .StatusCodes}}
<h2>Status Codes</h2>
<table>
<tr><th>Status</th><th>Count</th></tr>
{{range .StatusCodes}}<tr><td>{{.Key}}</td><td>{{.Count}}</td></tr>
{{end}}</table>
{{end}}
{{if .Errors}}
<h2>Errors</h2>
<table>
<tr><th>Error</th><th>Count</th></tr>
{{range .Errors}}<tr><td>{{.Key}}</td><td>{{.Count}}</td></tr>
{{end}}</table>
{{end}}
</div>
</div>
</body>
</html>
`
