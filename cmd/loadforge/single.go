package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/loadforge/internal/auth"
	"github.com/torosent/loadforge/internal/config"
	"github.com/torosent/loadforge/internal/dashboard"
	"github.com/torosent/loadforge/internal/dispatcher"
	"github.com/torosent/loadforge/internal/generator"
	"github.com/torosent/loadforge/internal/httpclient"
	"github.com/torosent/loadforge/internal/logging"
	"github.com/torosent/loadforge/internal/metrics"
	"github.com/torosent/loadforge/internal/output"
	"github.com/torosent/loadforge/internal/placeholders"
	"github.com/torosent/loadforge/internal/results"
	"github.com/torosent/loadforge/internal/runner"
	"github.com/torosent/loadforge/internal/templates"
	"github.com/torosent/loadforge/internal/threshold"
	"github.com/torosent/loadforge/internal/tracing"
)

const progressInterval = time.Second

func newLogger(cfg *config.Config, stderr io.Writer) *zap.Logger {
	return logging.New(logging.Options{
		Debug:   cfg.Debug,
		Verbose: cfg.Verbose || cfg.Request,
		JSON:    cfg.JSONLogs,
		Output:  stderr,
	})
}

// runSingle executes one load test in this process and writes its record
// log, summary and index entry.
func runSingle(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	logger := newLogger(cfg, stderr)
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}
	if cfg.Debug {
		output.PrintSettings(stderr, debugSettings(cfg))
	}

	instance := cfg.InstanceID
	mode := "single"
	if instance > 0 {
		mode = "instance"
	} else {
		instance = 1
	}

	tmpls, err := loadTemplates(cfg, logger)
	if err != nil {
		return withCode(exitError, err)
	}
	prepared, err := prepareRequests(cfg, tmpls)
	if err != nil {
		return withCode(exitError, err)
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return withCode(exitError, err)
	}

	dir, err := openRunDir(cfg)
	if err != nil {
		return withCode(exitError, err)
	}
	logger = logger.With(zap.String("run_id", dir.ID), zap.Int("instance", instance))

	writer, err := results.Create(dir.RecordLog(instance), instance)
	if err != nil {
		return withCode(exitError, err)
	}
	defer writer.Close()

	tp, err := tracing.Init(ctx, cfg.Tracing, tracing.Run{
		ID:         dir.ID,
		Mode:       mode,
		InstanceID: instance,
		Target:     cfg.TargetURL(),
	})
	if err != nil {
		return withCode(exitError, err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	dispOpts := dispatcher.Options{
		Timeout:        cfg.Timeout,
		Verbose:        cfg.Verbose,
		CaptureRequest: cfg.Request,
		Tracer:         tp.Tracer(),
		Propagate:      tp.ShouldPropagate(),
	}
	if provider, err := authProvider(cfg); err != nil {
		return withCode(exitError, err)
	} else if provider != nil {
		dispOpts.Auth = provider
	}
	disp := dispatcher.New(httpclient.NewClient(cfg.Timeout, cfg.Concurrency), dispOpts)

	requester, err := newTemplateRequester(prepared, cfg.SelectionMode(), disp)
	if err != nil {
		return withCode(exitError, err)
	}

	collector := metrics.NewCollector()
	sinks := []runner.Sink{collector, writer}
	if rl := (&recordLogger{logger: logger, verbose: cfg.Verbose, request: cfg.Request, logErrors: cfg.LogErrors}); rl.enabled() {
		sinks = append(sinks, rl)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	r := runner.New(runner.Options{
		Concurrency:   cfg.Concurrency,
		Duration:      cfg.Duration,
		Delay:         cfg.Delay,
		MaxErrors:     cfg.MaxErrors,
		DrainTimeout:  cfg.DrainTimeout,
		RatePerSecond: cfg.Rate,
		Requester:     requester,
		Sinks:         sinks,
		Logger:        logger,
	})

	info := results.RunInfo{
		RunID:       dir.ID,
		Mode:        mode,
		Target:      cfg.TargetURL(),
		Method:      cfg.Method,
		Templates:   templates.Names(tmpls),
		Concurrency: cfg.Concurrency,
		DurationSec: cfg.Duration.Seconds(),
		DelaySec:    cfg.Delay.Seconds(),
		MaxErrors:   cfg.MaxErrors,
		MaxRetries:  cfg.MaxRetries,
		StartedAt:   time.Now(),
	}
	if !cfg.JSONOutput && cfg.InstanceID == 0 {
		fmt.Fprintf(stdout, "Starting load test: %s %s | concurrency %d | duration %s | run %s\n",
			cfg.Method, cfg.TargetURL(), cfg.Concurrency, cfg.Duration, dir.ID)
	}

	stopDisplay := startDisplay(cfg, len(prepared), collector, r, stop, stdout, logger)
	collector.Start()
	result, runErr := r.Run(runCtx)
	stopDisplay()
	info.EndedAt = time.Now()

	if result.Aborted {
		collector.MarkAborted(result.AbortReason)
	}
	if result.Interrupted {
		logger.Warn("run interrupted", zap.Int64("discarded", result.Discarded))
	}
	stats := collector.Stats(result.Duration)
	if err := writer.Close(); err != nil {
		logger.Error("record log", zap.Error(err))
	}

	thresholdResults := threshold.NewEvaluator(thresholds).Evaluate(stats)
	code := exitCode(runErr, result, thresholdResults)

	summary := results.InstanceSummary{
		Instance:   instance,
		Run:        info,
		Stats:      stats,
		Thresholds: thresholdResults,
		ExitCode:   code,
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	if err := results.WriteJSON(dir.SummaryFile(instance), summary); err != nil {
		logger.Error("write summary", zap.Error(err))
	}
	appendIndex(ctx, dir, results.IndexEntry{
		RunID:     dir.ID,
		Mode:      mode,
		Instance:  cfg.InstanceID,
		Dir:       dir.Path,
		Target:    info.Target,
		StartedAt: info.StartedAt,
		EndedAt:   info.EndedAt,
		Total:     stats.Total,
		Failures:  stats.Failures,
		Aborted:   stats.Aborted,
		ExitCode:  code,
	}, logger)

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, summary); err != nil {
			return withCode(exitError, err)
		}
	} else {
		output.PrintReport(stdout, stats)
		output.PrintThresholds(stdout, thresholdResults)
		fmt.Fprintf(stdout, "Results: %s\n", dir.Path)
	}
	if cfg.HTMLOutput != "" {
		meta := output.ReportMetadata{RunID: dir.ID, TargetURL: info.Target, Method: cfg.Method, Concurrency: cfg.Concurrency, Instances: 1}
		if err := output.WriteHTMLReport(cfg.HTMLOutput, stats, thresholdResults, meta); err != nil {
			logger.Error("html report", zap.Error(err))
		}
	}

	if runErr != nil {
		return withCode(exitError, runErr)
	}
	return withCode(code, result.Err())
}

// exitCode maps a finished run to the process status.
func exitCode(runErr error, result runner.Result, thresholds []threshold.Result) int {
	switch {
	case runErr != nil:
		return exitError
	case result.Aborted:
		return exitAborted
	case !threshold.AllPassed(thresholds):
		return exitThreshold
	default:
		return exitOK
	}
}

func loadTemplates(cfg *config.Config, logger *zap.Logger) ([]templates.Template, error) {
	all, err := templates.LoadFile(cfg.TemplatesFile)
	if errors.Is(err, fs.ErrNotExist) && cfg.TemplatesFile == config.DefaultTemplatesFile {
		logger.Info("no templates file, sending requests without a body", zap.String("path", cfg.TemplatesFile))
		all = []templates.Template{{Name: templates.DefaultName}}
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return templates.Filter(all, cfg.TemplateFilter)
}

// prepareRequests compiles every template up front so expression errors
// surface before any request is sent.
func prepareRequests(cfg *config.Config, tmpls []templates.Template) ([]*templates.PreparedRequest, error) {
	resolver := templates.NewResolver(generator.New(), cfg.Lookup)
	prepared := make([]*templates.PreparedRequest, 0, len(tmpls))
	for _, t := range tmpls {
		p, err := resolver.PrepareRequest(cfg.Method, cfg.TargetURL(), cfg.Headers, t)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, p)
	}
	return prepared, nil
}

func openRunDir(cfg *config.Config) (results.RunDir, error) {
	if cfg.RunDir != "" {
		return results.OpenRunDir(cfg.RunDir)
	}
	return results.NewRunDir(cfg.ResultsDir, time.Now())
}

func authProvider(cfg *config.Config) (*auth.StaticTokenProvider, error) {
	if cfg.AuthToken == "" {
		return nil, nil
	}
	token, err := placeholders.Apply(cfg.AuthToken, cfg.Lookup)
	if err != nil {
		return nil, fmt.Errorf("auth token: %w", err)
	}
	return auth.NewStaticTokenProvider(token)
}

// appendIndex records the run in the index next to its run directory.
func appendIndex(ctx context.Context, dir results.RunDir, e results.IndexEntry, logger *zap.Logger) {
	lockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := results.AppendIndex(lockCtx, filepath.Dir(dir.Path), e); err != nil {
		logger.Warn("update results index", zap.Error(err))
	}
}

// startDisplay starts the dashboard or the progress line and returns a
// function that stops it.
func startDisplay(cfg *config.Config, templateCount int, collector *metrics.Collector, r *runner.Runner, stop func(), stdout io.Writer, logger *zap.Logger) func() {
	if cfg.Dashboard {
		dash, err := dashboard.New(collector, r, dashboard.TestConfig{
			TargetURL:   cfg.TargetURL(),
			Method:      cfg.Method,
			Concurrency: cfg.Concurrency,
			Duration:    cfg.Duration,
			Delay:       cfg.Delay,
			Rate:        cfg.Rate,
			MaxErrors:   cfg.MaxErrors,
			Timeout:     cfg.Timeout,
			Templates:   templateCount,
			Selection:   cfg.Selection,
			InstanceID:  cfg.InstanceID,
		}, stop)
		if err == nil {
			dash.Start()
			return dash.Stop
		}
		logger.Warn("dashboard unavailable, falling back to progress output", zap.Error(err))
	}
	if cfg.JSONOutput || cfg.NoProgress {
		return func() {}
	}
	progress := output.NewProgressReporter(collector, progressInterval, stdout)
	progress.Start()
	return progress.Stop
}

func debugSettings(cfg *config.Config) map[string]any {
	settings := map[string]any{
		"target":        cfg.TargetURL(),
		"method":        cfg.Method,
		"templates":     cfg.TemplatesFile,
		"filter":        cfg.TemplateFilter,
		"selection":     cfg.SelectionMode(),
		"concurrency":   cfg.Concurrency,
		"duration":      cfg.Duration,
		"delay":         cfg.Delay,
		"max_errors":    cfg.MaxErrors,
		"max_retries":   cfg.MaxRetries,
		"timeout":       cfg.Timeout,
		"rate":          cfg.Rate,
		"results_dir":   cfg.ResultsDir,
		"verbose":       cfg.Verbose,
		"request_debug": cfg.Request,
		"config_file":   cfg.ConfigFile,
		"tracing":       cfg.Tracing.Enabled(),
	}
	if cfg.Instances > 0 {
		settings["instances"] = cfg.Instances
	}
	for name, value := range cfg.Headers {
		settings["header."+name] = value
	}
	return settings
}
