package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/torosent/loadforge/internal/metrics"
	"github.com/torosent/loadforge/internal/threshold"
)

// RunInfo describes how a run was configured.
type RunInfo struct {
	RunID       string    `json:"run_id"`
	Mode        string    `json:"mode"`
	Target      string    `json:"target"`
	Method      string    `json:"method"`
	Templates   []string  `json:"templates,omitempty"`
	Concurrency int       `json:"concurrency"`
	Instances   int       `json:"instances,omitempty"`
	DurationSec float64   `json:"duration_sec"`
	DelaySec    float64   `json:"delay_sec"`
	MaxErrors   int       `json:"max_errors"`
	MaxRetries  int       `json:"max_retries"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// InstanceSummary is what a single-mode process writes when it finishes.
type InstanceSummary struct {
	Instance   int                `json:"instance"`
	Run        RunInfo            `json:"run"`
	Stats      metrics.Stats      `json:"stats"`
	Thresholds []threshold.Result `json:"thresholds,omitempty"`
	ExitCode   int                `json:"exit_code"`
	Error      string             `json:"error,omitempty"`
}

// InstanceCounts tallies instance outcomes of a multi-instance run.
type InstanceCounts struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// InstanceOutcome is one child process as seen by the orchestrator.
type InstanceOutcome struct {
	Instance int            `json:"instance"`
	Success  bool           `json:"success"`
	ExitCode int            `json:"exit_code"`
	Error    string         `json:"error,omitempty"`
	Log      string         `json:"log"`
	Records  string         `json:"records"`
	Stats    *metrics.Stats `json:"stats,omitempty"`
}

// MultiSummary is the merged summary of a multi-instance run.
type MultiSummary struct {
	Run        RunInfo            `json:"execution_info"`
	Instances  InstanceCounts     `json:"instances"`
	Aggregated metrics.Stats      `json:"aggregated_metrics"`
	Results    []InstanceOutcome  `json:"instance_results"`
	Thresholds []threshold.Result `json:"thresholds,omitempty"`
}

// WriteJSON writes v as indented JSON. The file is replaced atomically so
// readers never observe a partial summary.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadInstanceSummary loads a summary written by WriteJSON.
func ReadInstanceSummary(path string) (InstanceSummary, error) {
	var s InstanceSummary
	if err := readJSON(path, &s); err != nil {
		return InstanceSummary{}, err
	}
	s.Stats.Restore()
	return s, nil
}

// ReadMultiSummary loads a merged summary.
func ReadMultiSummary(path string) (MultiSummary, error) {
	var s MultiSummary
	if err := readJSON(path, &s); err != nil {
		return MultiSummary{}, err
	}
	s.Aggregated.Restore()
	for i := range s.Results {
		if s.Results[i].Stats != nil {
			s.Results[i].Stats.Restore()
		}
	}
	return s, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
