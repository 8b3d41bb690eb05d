// Package dashboard renders a live terminal view of a running load test.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/loadforge/internal/metrics"
)

const (
	historySize = 100
	maxListRows = 10
)

// StatsSource produces live snapshots.
type StatsSource interface {
	Stats(elapsed time.Duration) metrics.Stats
}

// RunInfo is what the dashboard knows about the engine, polled each tick.
type RunInfo interface {
	InFlight() int64
}

// TestConfig holds load test parameters for display.
type TestConfig struct {
	TargetURL   string
	Method      string
	Concurrency int
	Duration    time.Duration
	Delay       time.Duration
	Rate        int
	MaxErrors   int
	Timeout     time.Duration
	Templates   int
	Selection   string
	InstanceID  int
}

// Dashboard renders a live terminal UI for load test metrics.
type Dashboard struct {
	source       StatsSource
	run          RunInfo
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	grid           *ui.Grid
	summaryPara    *widgets.Paragraph
	rpsGauge       *widgets.Gauge
	errorGauge     *widgets.Gauge
	latencySparkle *widgets.SparklineGroup
	latencyPara    *widgets.Paragraph
	templateList   *widgets.List
	statusList     *widgets.List
	latencyHistory []float64
	startTime      time.Time
	cfg            TestConfig
}

// New initialises the terminal. shutdownFunc is called when the user presses
// q or Ctrl-C.
func New(source StatsSource, run RunInfo, cfg TestConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		source:         source,
		run:            run,
		ctx:            ctx,
		cancel:         cancel,
		shutdownFunc:   shutdownFunc,
		latencyHistory: make([]float64, 0, historySize),
		startTime:      time.Now(),
		cfg:            cfg,
	}
	d.initWidgets()
	d.setupGrid()
	return d, nil
}

func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Test Summary"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.rpsGauge = widgets.NewGauge()
	d.rpsGauge.Title = "Requests Per Second"
	d.rpsGauge.BarColor = ui.ColorBlue
	d.rpsGauge.BorderStyle.Fg = ui.ColorCyan
	d.rpsGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.errorGauge = widgets.NewGauge()
	d.errorGauge.Title = "Error Budget"
	d.errorGauge.BarColor = ui.ColorRed
	d.errorGauge.BorderStyle.Fg = ui.ColorCyan
	d.errorGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	sparkline := widgets.NewSparkline()
	sparkline.Title = "Mean latency (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}
	d.latencySparkle = widgets.NewSparklineGroup(sparkline)
	d.latencySparkle.Title = "Latency"
	d.latencySparkle.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency Stats"
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.templateList = widgets.NewList()
	d.templateList.Title = "Templates"
	d.templateList.Rows = []string{"Awaiting data"}
	d.templateList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.templateList.BorderStyle.Fg = ui.ColorCyan

	d.statusList = widgets.NewList()
	d.statusList.Title = "Status / Errors"
	d.statusList.Rows = []string{"No failures"}
	d.statusList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.statusList.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()
	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)
	d.grid.Set(
		ui.NewRow(0.16, ui.NewCol(1.0, d.summaryPara)),
		ui.NewRow(0.14,
			ui.NewCol(0.5, d.rpsGauge),
			ui.NewCol(0.5, d.errorGauge),
		),
		ui.NewRow(0.30,
			ui.NewCol(0.65, d.latencySparkle),
			ui.NewCol(0.35, d.latencyPara),
		),
		ui.NewRow(0.40,
			ui.NewCol(0.6, d.templateList),
			ui.NewCol(0.4, d.statusList),
		),
	)
}

// Start begins the update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.loop()
}

// Stop ends the update loop and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
}

func (d *Dashboard) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	events := ui.PollEvents()

	d.render()
	for {
		select {
		case <-d.ctx.Done():
			return
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.mu.Lock()
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				d.mu.Unlock()
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := time.Since(d.startTime)
	stats := d.source.Stats(elapsed)

	if stats.Total > 0 {
		d.latencyHistory = append(d.latencyHistory, stats.MeanLatencyMs)
		if len(d.latencyHistory) > historySize {
			d.latencyHistory = d.latencyHistory[1:]
		}
		d.latencySparkle.Sparklines[0].Data = d.latencyHistory
	}

	d.rpsGauge.Percent = rpsPercent(stats.RequestsPerSec, d.cfg.Rate)
	d.rpsGauge.Label = fmt.Sprintf("%.1f req/s", stats.RequestsPerSec)
	d.errorGauge.Percent, d.errorGauge.Label = errorBudget(stats.Failures, d.cfg.MaxErrors)

	var inFlight int64
	if d.run != nil {
		inFlight = d.run.InFlight()
	}
	d.summaryPara.Text = fmt.Sprintf("Target: %s %s\n%s\nElapsed: %s | Total: %d | Success: %d | Failed: %d | In flight: %d",
		d.cfg.Method, d.cfg.TargetURL,
		formatParams(d.cfg),
		elapsed.Round(time.Second), stats.Total, stats.Successes, stats.Failures, inFlight)

	d.latencyPara.Text = fmt.Sprintf("Min:  %.2fms\nMean: %.2fms\nP50:  %.2fms\nP90:  %.2fms\nP95:  %.2fms\nP99:  %.2fms\nMax:  %.2fms",
		stats.MinLatencyMs, stats.MeanLatencyMs, stats.P50LatencyMs, stats.P90LatencyMs,
		stats.P95LatencyMs, stats.P99LatencyMs, stats.MaxLatencyMs)

	d.templateList.Rows = templateRows(stats)
	d.statusList.Rows = statusRows(stats)
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()
	ui.Render(d.grid)
}

// rpsPercent scales the gauge to the configured rate, or to a floor of 100
// req/s when the rate is unlimited.
func rpsPercent(rps float64, rate int) int {
	scale := 100.0
	if rate > 0 {
		scale = float64(rate)
	} else if rps > scale {
		scale = rps
	}
	p := int(rps / scale * 100)
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	return p
}

func errorBudget(failures int64, maxErrors int) (int, string) {
	if maxErrors <= 0 {
		return 0, fmt.Sprintf("%d errors (no limit)", failures)
	}
	p := int(float64(failures) / float64(maxErrors) * 100)
	if p > 100 {
		p = 100
	}
	return p, fmt.Sprintf("%d / %d errors", failures, maxErrors)
}

func templateRows(stats metrics.Stats) []string {
	if len(stats.Templates) == 0 {
		return []string{"[No template data](fg:green)"}
	}
	names := make([]string, 0, len(stats.Templates))
	for name := range stats.Templates {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := stats.Templates[names[i]], stats.Templates[names[j]]
		if a.Total == b.Total {
			return names[i] < names[j]
		}
		return a.Total > b.Total
	})
	rows := make([]string, 0, len(names))
	for _, name := range names {
		ts := stats.Templates[name]
		share := 0.0
		if stats.Total > 0 {
			share = float64(ts.Total) / float64(stats.Total) * 100
		}
		label := name
		if label == "" {
			label = "(none)"
		}
		rows = append(rows, fmt.Sprintf("[%s](fg:cyan) | %5.1f%% | Mean %6.1fms | P95 %6.1fms | Err %d",
			label, share, ts.MeanLatencyMs, ts.P95LatencyMs, ts.Failures))
	}
	return rows
}

func statusRows(stats metrics.Stats) []string {
	var rows []string
	for _, row := range metrics.SortedCounts(stats.StatusCodes) {
		color := "green"
		if !strings.HasPrefix(row.Key, "2") && !strings.HasPrefix(row.Key, "3") {
			color = "red"
		}
		rows = append(rows, fmt.Sprintf("[%s](fg:%s) %d", row.Key, color, row.Count))
	}
	for _, row := range metrics.SortedCounts(stats.Errors) {
		rows = append(rows, fmt.Sprintf("[%s](fg:red) %d", truncate(row.Key, 60), row.Count))
	}
	if len(rows) == 0 {
		return []string{"[No responses yet](fg:green)"}
	}
	if len(rows) > maxListRows {
		rows = rows[:maxListRows]
	}
	return rows
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func formatParams(cfg TestConfig) string {
	var parts []string
	if cfg.InstanceID > 0 {
		parts = append(parts, fmt.Sprintf("Instance: %d", cfg.InstanceID))
	}
	if cfg.Concurrency > 0 {
		parts = append(parts, fmt.Sprintf("Concurrency: %d", cfg.Concurrency))
	}
	if cfg.Duration > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %s", cfg.Duration))
	}
	if cfg.Delay > 0 {
		parts = append(parts, fmt.Sprintf("Delay: %s", cfg.Delay))
	}
	if cfg.Rate > 0 {
		parts = append(parts, fmt.Sprintf("Rate: %d/s", cfg.Rate))
	}
	if cfg.MaxErrors > 0 {
		parts = append(parts, fmt.Sprintf("Max errors: %d", cfg.MaxErrors))
	}
	if cfg.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("Timeout: %s", cfg.Timeout))
	}
	if cfg.Templates > 0 {
		sel := cfg.Selection
		if sel == "" {
			sel = "round-robin"
		}
		parts = append(parts, fmt.Sprintf("Templates: %d (%s)", cfg.Templates, sel))
	}
	return strings.Join(parts, " | ")
}
