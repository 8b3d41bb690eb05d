package results

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	runPrefix         = "run_"
	mergedSummaryFile = "summary.json"
	indexFile         = "index.jsonl"
)

// RunDir is the directory holding every file one run produces.
type RunDir struct {
	ID   string
	Path string
}

// NewRunID returns a lexically sortable run identifier.
func NewRunID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// NewRunDir creates base/run_<ULID>.
func NewRunDir(base string, now time.Time) (RunDir, error) {
	id := NewRunID(now)
	return OpenRunDir(filepath.Join(base, runPrefix+id))
}

// OpenRunDir uses an existing directory, creating it if needed. The run ID
// is derived from the directory name.
func OpenRunDir(path string) (RunDir, error) {
	if strings.TrimSpace(path) == "" {
		return RunDir{}, fmt.Errorf("run directory path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return RunDir{}, fmt.Errorf("create run directory: %w", err)
	}
	return RunDir{ID: strings.TrimPrefix(filepath.Base(path), runPrefix), Path: path}, nil
}

// RecordLog is the JSON Lines record log of one instance.
func (d RunDir) RecordLog(instance int) string {
	return filepath.Join(d.Path, fmt.Sprintf("instance_%d.jsonl", instance))
}

// SummaryFile is the summary written by one instance when it finishes.
func (d RunDir) SummaryFile(instance int) string {
	return filepath.Join(d.Path, fmt.Sprintf("instance_%d.summary.json", instance))
}

// LogFile receives one instance's diagnostic output in multi-instance runs.
func (d RunDir) LogFile(instance int) string {
	return filepath.Join(d.Path, fmt.Sprintf("instance_%d.log", instance))
}

// MergedSummary is the multi-instance summary.
func (d RunDir) MergedSummary() string {
	return filepath.Join(d.Path, mergedSummaryFile)
}

// RecordLogs lists the record logs present in dir, sorted by name.
func RecordLogs(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		if filepath.Base(m) != indexFile {
			out = append(out, m)
		}
	}
	return out, nil
}
