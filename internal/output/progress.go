package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/loadforge/internal/metrics"
)

// StatsSource is anything that can produce a live snapshot.
type StatsSource interface {
	Stats(elapsed time.Duration) metrics.Stats
}

// ProgressReporter rewrites a single status line at a fixed interval.
type ProgressReporter struct {
	source   StatsSource
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	start    time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(source StatsSource, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ProgressReporter{
		source:   source,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		start:    time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return
	}
	go p.run()
}

// Stop halts progress updates and ends the line.
func (p *ProgressReporter) Stop() {
	p.ticker.Stop()
	if atomic.CompareAndSwapInt32(&p.active, 1, 2) {
		close(p.done)
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, "\r"+ProgressLine(p.source.Stats(time.Since(p.start))))
		case <-p.done:
			return
		}
	}
}

// ProgressLine formats a live snapshot.
func ProgressLine(stats metrics.Stats) string {
	return fmt.Sprintf("Requests completed: %d (Success: %d, Failed: %d) | %.1f req/s",
		stats.Total, stats.Successes, stats.Failures, stats.RequestsPerSec)
}
