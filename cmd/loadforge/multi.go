package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/torosent/loadforge/internal/config"
	"github.com/torosent/loadforge/internal/orchestrator"
	"github.com/torosent/loadforge/internal/output"
	"github.com/torosent/loadforge/internal/results"
	"github.com/torosent/loadforge/internal/templates"
	"github.com/torosent/loadforge/internal/threshold"
)

// Flags the parent consumes itself or sets per child.
var parentOnlyFlags = map[string]bool{
	"instances":   true,
	"concurrency": true,
	"duration":    true,
	"threshold":   true,
	"json-output": true,
	"html-output": true,
	"dashboard":   true,
	"no-progress": true,
	"json-logs":   true,
	"results-dir": true,
	"run-dir":     true,
	"instance-id": true,
}

// runMulti launches cfg.Instances single-mode children and reports their
// merged summary.
func runMulti(ctx context.Context, cfg *config.Config, flags *pflag.FlagSet, stdout, stderr io.Writer) error {
	logger := newLogger(cfg, stderr)
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}
	if cfg.Dashboard {
		logger.Warn("dashboard is not available in multi mode")
	}
	if cfg.Debug {
		output.PrintSettings(stderr, debugSettings(cfg))
	}

	// Fail on bad templates before any child is started.
	tmpls, err := loadTemplates(cfg, logger)
	if err != nil {
		return withCode(exitError, err)
	}
	if _, err := prepareRequests(cfg, tmpls); err != nil {
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
	launcher, err := orchestrator.NewExecLauncher()
	if err != nil {
		return withCode(exitError, err)
	}

	if !cfg.JSONOutput {
		fmt.Fprintf(stdout, "Starting %d instances: %s %s | concurrency %d each | duration %s | run %s\n",
			cfg.Instances, cfg.Method, cfg.TargetURL(), cfg.Concurrency, cfg.Duration, dir.ID)
	}

	started := time.Now()
	summary, err := orchestrator.Run(ctx, orchestrator.Options{
		Instances: cfg.Instances,
		Stagger:   orchestrator.DefaultStagger,
		RunDir:    dir,
		Run: results.RunInfo{
			Target:      cfg.TargetURL(),
			Method:      cfg.Method,
			Templates:   templates.Names(tmpls),
			Concurrency: cfg.Concurrency,
			DurationSec: cfg.Duration.Seconds(),
			DelaySec:    cfg.Delay.Seconds(),
			MaxErrors:   cfg.MaxErrors,
			MaxRetries:  cfg.MaxRetries,
			StartedAt:   started,
		},
		ChildArgs:  childArgs(cfg, flags),
		Thresholds: thresholds,
		Launcher:   launcher,
		Logger:     logger,
	})
	if err != nil {
		return withCode(exitError, err)
	}
	code := multiExitCode(summary)

	appendIndex(ctx, dir, results.IndexEntry{
		RunID:     dir.ID,
		Mode:      "multi",
		Dir:       dir.Path,
		Target:    summary.Run.Target,
		StartedAt: summary.Run.StartedAt,
		EndedAt:   summary.Run.EndedAt,
		Total:     summary.Aggregated.Total,
		Failures:  summary.Aggregated.Failures,
		Aborted:   summary.Aggregated.Aborted,
		ExitCode:  code,
	}, logger)

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, summary); err != nil {
			return withCode(exitError, err)
		}
	} else {
		output.PrintMultiReport(stdout, summary)
		output.PrintThresholds(stdout, summary.Thresholds)
		fmt.Fprintf(stdout, "Results: %s\n", dir.Path)
	}
	if cfg.HTMLOutput != "" {
		meta := output.ReportMetadata{
			RunID:       dir.ID,
			TargetURL:   summary.Run.Target,
			Method:      cfg.Method,
			Concurrency: cfg.Concurrency,
			Instances:   cfg.Instances,
		}
		if err := output.WriteHTMLReport(cfg.HTMLOutput, summary.Aggregated, summary.Thresholds, meta); err != nil {
			logger.Error("html report", zap.Error(err))
		}
	}

	if code == exitError {
		return withCode(code, fmt.Errorf("%d of %d instances failed", summary.Instances.Failed, summary.Instances.Total))
	}
	return withCode(code, nil)
}

// childArgs rebuilds the single-mode command line for children from the
// flags the user set explicitly.
func childArgs(cfg *config.Config, flags *pflag.FlagSet) []string {
	args := []string{
		string(config.ModeSingle),
		strconv.Itoa(cfg.Concurrency),
		cfg.Duration.String(),
	}
	flags.Visit(func(f *pflag.Flag) {
		if parentOnlyFlags[f.Name] {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			for _, item := range sv.GetSlice() {
				args = append(args, "--"+f.Name+"="+item)
			}
			return
		}
		args = append(args, "--"+f.Name+"="+f.Value.String())
	})
	return args
}

func multiExitCode(s results.MultiSummary) int {
	for _, r := range s.Results {
		if r.Stats == nil {
			return exitError
		}
		switch r.ExitCode {
		case exitOK, exitAborted, exitThreshold:
		default:
			return exitError
		}
	}
	switch {
	case s.Aggregated.Aborted:
		return exitAborted
	case !threshold.AllPassed(s.Thresholds):
		return exitThreshold
	default:
		return exitOK
	}
}
