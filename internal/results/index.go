package results

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// IndexEntry is one line of the results index. Every process of every run
// appends one, so the index lists runs and their instances in completion
// order.
type IndexEntry struct {
	RunID     string    `json:"run_id"`
	Mode      string    `json:"mode"`
	Instance  int       `json:"instance,omitempty"`
	Dir       string    `json:"dir"`
	Target    string    `json:"target"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Total     int64     `json:"total"`
	Failures  int64     `json:"failures"`
	Aborted   bool      `json:"aborted"`
	ExitCode  int       `json:"exit_code"`
}

// IndexPath is the index file inside base.
func IndexPath(base string) string {
	return filepath.Join(base, indexFile)
}

func indexLock(base string) *flock.Flock {
	return flock.New(IndexPath(base) + ".lock")
}

// AppendIndex appends e to base's index under an exclusive file lock shared
// with other loadforge processes.
func AppendIndex(ctx context.Context, base string, e IndexEntry) error {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("create results directory: %w", err)
	}
	lock := indexLock(base)
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock index: %w", err)
	}
	if !locked {
		return errors.New("lock index: not acquired")
	}
	defer lock.Unlock()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode index entry: %w", err)
	}
	f, err := os.OpenFile(IndexPath(base), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append index: %w", err)
	}
	return f.Close()
}

// ReadIndex returns every entry of base's index. A missing index is empty.
func ReadIndex(ctx context.Context, base string) ([]IndexEntry, error) {
	lock := indexLock(base)
	if _, err := os.Stat(base); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	locked, err := lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock index: %w", err)
	}
	if !locked {
		return nil, errors.New("lock index: not acquired")
	}
	defer lock.Unlock()

	data, err := os.ReadFile(IndexPath(base))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []IndexEntry
	for i, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e IndexEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("index line %d: %w", i+1, err)
		}
		out = append(out, e)
	}
	return out, nil
}
