// Package orchestrator fans a load test out across independent single-mode
// processes and merges their summaries once they finish.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/loadforge/internal/logging"
	"github.com/torosent/loadforge/internal/metrics"
	"github.com/torosent/loadforge/internal/results"
	"github.com/torosent/loadforge/internal/threshold"
)

// DefaultStagger spaces out instance start-up.
const DefaultStagger = 500 * time.Millisecond

// Instance describes one child process.
type Instance struct {
	ID      int
	Args    []string
	LogPath string
}

// Launcher starts an instance and blocks until it exits. Cancelling ctx must
// ask the instance to stop gracefully. A non-nil error means the instance
// could not be run at all; a non-zero exit code alone is not an error.
type Launcher interface {
	Launch(ctx context.Context, inst Instance) (exitCode int, err error)
}

// Options configure a multi-instance run.
type Options struct {
	Instances  int
	Stagger    time.Duration
	RunDir     results.RunDir
	Run        results.RunInfo
	ChildArgs  []string // arguments shared by every child, before the per-instance flags
	Thresholds []threshold.Threshold
	Launcher   Launcher
	Logger     *zap.Logger
}

// Run launches the instances, waits for all of them, then merges whatever
// summaries they wrote into the run directory's summary.json.
func Run(ctx context.Context, opt Options) (results.MultiSummary, error) {
	if opt.Instances < 1 {
		return results.MultiSummary{}, fmt.Errorf("instances must be >= 1, got %d", opt.Instances)
	}
	if opt.Launcher == nil {
		return results.MultiSummary{}, errors.New("launcher is required")
	}
	if opt.Stagger < 0 {
		opt.Stagger = 0
	}
	logger := logging.OrNop(opt.Logger).With(zap.String("component", "orchestrator"))

	run := opt.Run
	run.Mode = "multi"
	run.RunID = opt.RunDir.ID
	run.Instances = opt.Instances
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	outcomes := make([]results.InstanceOutcome, opt.Instances)
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	launched := 0
	for i := 0; i < opt.Instances; i++ {
		id := i + 1
		if i > 0 && !sleep(ctx, opt.Stagger) {
			logger.Warn("interrupted before all instances started", zap.Int("started", launched))
			break
		}
		inst := Instance{
			ID:      id,
			Args:    childArgs(opt.ChildArgs, opt.RunDir.Path, id),
			LogPath: opt.RunDir.LogFile(id),
		}
		logger.Info("starting instance", zap.Int("instance", id))
		launched++
		g.Go(func() error {
			code, err := opt.Launcher.Launch(ctx, inst)
			out := results.InstanceOutcome{
				Instance: id,
				ExitCode: code,
				Success:  err == nil && code == 0,
				Log:      inst.LogPath,
				Records:  opt.RunDir.RecordLog(id),
			}
			if err != nil {
				out.Error = err.Error()
				logger.Error("instance failed to run", zap.Int("instance", id), zap.Error(err))
			} else {
				logger.Info("instance finished", zap.Int("instance", id), zap.Int("exit_code", code))
			}
			mu.Lock()
			outcomes[id-1] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	run.EndedAt = time.Now()

	summary := collect(opt.RunDir, outcomes[:launched], logger)
	summary.Run = run
	if len(opt.Thresholds) > 0 {
		summary.Thresholds = threshold.NewEvaluator(opt.Thresholds).Evaluate(summary.Aggregated)
	}
	if err := results.WriteJSON(opt.RunDir.MergedSummary(), summary); err != nil {
		return summary, fmt.Errorf("write merged summary: %w", err)
	}
	return summary, nil
}

// collect reads each instance's summary and merges the stats of those that
// produced one. Instances that exited non-zero still contribute their
// records; the exit code is reported alongside.
func collect(dir results.RunDir, outcomes []results.InstanceOutcome, logger *zap.Logger) results.MultiSummary {
	summary := results.MultiSummary{Results: outcomes}
	var stats []metrics.Stats
	for i := range outcomes {
		out := &outcomes[i]
		s, err := results.ReadInstanceSummary(dir.SummaryFile(out.Instance))
		switch {
		case err == nil:
			out.Stats = &s.Stats
			stats = append(stats, s.Stats)
			if out.Error == "" && s.Error != "" {
				out.Error = s.Error
			}
		case errors.Is(err, os.ErrNotExist):
			if out.Error == "" {
				out.Error = "instance wrote no summary"
			}
			out.Success = false
		default:
			logger.Warn("unreadable instance summary", zap.Int("instance", out.Instance), zap.Error(err))
			if out.Error == "" {
				out.Error = err.Error()
			}
			out.Success = false
		}

		summary.Instances.Total++
		if out.Success {
			summary.Instances.Successful++
		} else {
			summary.Instances.Failed++
		}
	}
	summary.Aggregated = metrics.Merge(stats...)
	return summary
}

func childArgs(shared []string, runDir string, id int) []string {
	args := make([]string, 0, len(shared)+6)
	args = append(args, shared...)
	return append(args,
		"--run-dir", runDir,
		"--instance-id", strconv.Itoa(id),
		"--json-logs",
		"--no-progress",
	)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
