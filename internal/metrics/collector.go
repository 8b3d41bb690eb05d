package metrics

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/loadforge/internal/dispatcher"
)

const (
	// Track latencies from 1µs up to 60s with 3 significant figures.
	lowestLatencyUs  = 1
	highestLatencyUs = 60_000_000
	sigFigs          = 3

	// MaxErrorKeys caps distinct error messages; the rest count as OtherErrors.
	MaxErrorKeys = 100
	OtherErrors  = "other"
)

// TemplateStats is the per-template slice of a run summary.
type TemplateStats struct {
	Total         int64          `json:"total"`
	Successes     int64          `json:"successes"`
	Failures      int64          `json:"failures"`
	MeanLatencyMs float64        `json:"mean_latency_ms"`
	MaxLatencyMs  float64        `json:"max_latency_ms"`
	P95LatencyMs  float64        `json:"p95_latency_ms"`
	StatusCodes   map[string]int `json:"status_codes,omitempty"`
}

// Stats represents aggregated metrics.
type Stats struct {
	Total          int64         `json:"total"`
	Successes      int64         `json:"successes"`
	Failures       int64         `json:"failures"`
	MinLatency     time.Duration `json:"-"`
	MaxLatency     time.Duration `json:"-"`
	MeanLatency    time.Duration `json:"-"`
	P50Latency     time.Duration `json:"-"`
	P90Latency     time.Duration `json:"-"`
	P95Latency     time.Duration `json:"-"`
	P99Latency     time.Duration `json:"-"`
	Duration       time.Duration `json:"-"`
	RequestsPerSec float64       `json:"requests_per_sec"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64 `json:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms"`
	DurationMs    float64 `json:"duration_ms"`

	StartedAt    time.Time                `json:"started_at"`
	EndedAt      time.Time                `json:"ended_at"`
	StatusCodes  map[string]int           `json:"status_codes,omitempty"`
	Errors       map[string]int           `json:"errors,omitempty"`
	FailureKinds map[string]int           `json:"failure_kinds,omitempty"`
	Templates    map[string]TemplateStats `json:"templates,omitempty"`
	Aborted      bool                     `json:"aborted"`
	AbortReason  string                   `json:"abort_reason,omitempty"`
	Instances    int                      `json:"instances,omitempty"`
	Histogram    *hdrhistogram.Snapshot   `json:"histogram,omitempty"`
}

type templateBucket struct {
	successes   int64
	failures    int64
	sumLatency  time.Duration
	maxLatency  time.Duration
	hist        *hdrhistogram.Histogram
	statusCodes map[string]int
}

// Collector records per-request metrics in a thread-safe manner. It
// implements runner.Sink.
type Collector struct {
	mu           sync.Mutex
	hist         *hdrhistogram.Histogram
	successes    int64
	failures     int64
	minLatency   time.Duration
	maxLatency   time.Duration
	sumLatency   time.Duration
	statusCodes  map[string]int
	errors       map[string]int
	failureKinds map[string]int
	templates    map[string]*templateBucket
	start        time.Time
	aborted      bool
	abortReason  string
}

func NewCollector() *Collector {
	return &Collector{
		hist:         newHistogram(),
		statusCodes:  make(map[string]int),
		errors:       make(map[string]int),
		failureKinds: make(map[string]int),
		templates:    make(map[string]*templateBucket),
		start:        time.Now(),
	}
}

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(lowestLatencyUs, highestLatencyUs, sigFigs)
}

// Start marks the beginning of the measured window.
func (c *Collector) Start() {
	c.mu.Lock()
	c.start = time.Now()
	c.mu.Unlock()
}

// MarkAborted flags the summary as aborted. The first reason wins.
func (c *Collector) MarkAborted(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted {
		return
	}
	c.aborted = true
	c.abortReason = reason
}

// Observe records a single result.
func (c *Collector) Observe(rec dispatcher.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	latency := rec.Latency
	recordLatency(c.hist, latency)
	c.sumLatency += latency
	if c.minLatency == 0 || latency < c.minLatency {
		c.minLatency = latency
	}
	if latency > c.maxLatency {
		c.maxLatency = latency
	}

	status := rec.StatusLabel()
	c.statusCodes[status]++

	name := rec.Template
	bucket, ok := c.templates[name]
	if !ok {
		bucket = &templateBucket{hist: newHistogram(), statusCodes: make(map[string]int)}
		c.templates[name] = bucket
	}
	recordLatency(bucket.hist, latency)
	bucket.sumLatency += latency
	if latency > bucket.maxLatency {
		bucket.maxLatency = latency
	}
	bucket.statusCodes[status]++

	if rec.Success() {
		c.successes++
		bucket.successes++
		return
	}
	c.failures++
	bucket.failures++
	c.failureKinds[string(rec.Failure)]++
	countError(c.errors, rec.Error, 1)
}

func recordLatency(h *hdrhistogram.Histogram, latency time.Duration) {
	us := latency.Microseconds()
	if us < h.LowestTrackableValue() {
		us = h.LowestTrackableValue()
	}
	if us > h.HighestTrackableValue() {
		us = h.HighestTrackableValue()
	}
	_ = h.RecordValue(us)
}

func countError(errs map[string]int, msg string, n int) {
	if msg == "" {
		msg = "unknown error"
	}
	if _, ok := errs[msg]; !ok && len(errs) >= MaxErrorKeys {
		msg = OtherErrors
	}
	errs[msg] += n
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.successes + c.failures
	stats := Stats{
		Total:        total,
		Successes:    c.successes,
		Failures:     c.failures,
		MinLatency:   c.minLatency,
		MaxLatency:   c.maxLatency,
		StartedAt:    c.start,
		EndedAt:      c.start.Add(elapsed),
		StatusCodes:  copyCounts(c.statusCodes),
		Errors:       copyCounts(c.errors),
		FailureKinds: copyCounts(c.failureKinds),
		Aborted:      c.aborted,
		AbortReason:  c.abortReason,
		Instances:    1,
	}
	if total > 0 {
		stats.MeanLatency = time.Duration(int64(c.sumLatency) / total)
		stats.Histogram = c.hist.Export()
	}
	applyPercentiles(&stats, c.hist)

	if len(c.templates) > 0 {
		stats.Templates = make(map[string]TemplateStats, len(c.templates))
		for name, b := range c.templates {
			count := b.successes + b.failures
			ts := TemplateStats{
				Total:        count,
				Successes:    b.successes,
				Failures:     b.failures,
				MaxLatencyMs: toMs(b.maxLatency),
				P95LatencyMs: toMs(quantile(b.hist, 95)),
				StatusCodes:  copyCounts(b.statusCodes),
			}
			if count > 0 {
				ts.MeanLatencyMs = toMs(b.sumLatency / time.Duration(count))
			}
			stats.Templates[name] = ts
		}
	}

	stats.finish(elapsed)
	return stats
}

func applyPercentiles(stats *Stats, h *hdrhistogram.Histogram) {
	if h == nil || h.TotalCount() == 0 {
		return
	}
	stats.P50Latency = quantile(h, 50)
	stats.P90Latency = quantile(h, 90)
	stats.P95Latency = quantile(h, 95)
	stats.P99Latency = quantile(h, 99)
}

func quantile(h *hdrhistogram.Histogram, q float64) time.Duration {
	if h.TotalCount() == 0 {
		return 0
	}
	return time.Duration(h.ValueAtQuantile(q)) * time.Microsecond
}

func (s *Stats) finish(elapsed time.Duration) {
	s.MinLatencyMs = toMs(s.MinLatency)
	s.MaxLatencyMs = toMs(s.MaxLatency)
	s.MeanLatencyMs = toMs(s.MeanLatency)
	s.P50LatencyMs = toMs(s.P50Latency)
	s.P90LatencyMs = toMs(s.P90Latency)
	s.P95LatencyMs = toMs(s.P95Latency)
	s.P99LatencyMs = toMs(s.P99Latency)

	s.Duration = elapsed
	s.DurationMs = toMs(elapsed)
	s.RequestsPerSec = 0
	if elapsed > 0 && s.Total > 0 {
		s.RequestsPerSec = float64(s.Total) / elapsed.Seconds()
	}
}

// Restore recomputes the duration fields dropped by JSON encoding.
func (s *Stats) Restore() {
	s.MinLatency = fromMs(s.MinLatencyMs)
	s.MaxLatency = fromMs(s.MaxLatencyMs)
	s.MeanLatency = fromMs(s.MeanLatencyMs)
	s.P50Latency = fromMs(s.P50LatencyMs)
	s.P90Latency = fromMs(s.P90LatencyMs)
	s.P95Latency = fromMs(s.P95LatencyMs)
	s.P99Latency = fromMs(s.P99LatencyMs)
	s.Duration = fromMs(s.DurationMs)
}

// Merge combines per-instance summaries into one. Percentiles come from the
// merged histograms when every input carries one.
func Merge(all ...Stats) Stats {
	var out Stats
	if len(all) == 0 {
		return out
	}

	merged := newHistogram()
	exact := true
	var sumLatency time.Duration
	for _, s := range all {
		out.Total += s.Total
		out.Successes += s.Successes
		out.Failures += s.Failures
		if s.Total > 0 {
			if out.MinLatency == 0 || (s.MinLatency > 0 && s.MinLatency < out.MinLatency) {
				out.MinLatency = s.MinLatency
			}
			if s.MaxLatency > out.MaxLatency {
				out.MaxLatency = s.MaxLatency
			}
			sumLatency += s.MeanLatency * time.Duration(s.Total)
			if s.Histogram != nil {
				merged.Merge(hdrhistogram.Import(s.Histogram))
			} else {
				exact = false
			}
		}
		if !s.StartedAt.IsZero() && (out.StartedAt.IsZero() || s.StartedAt.Before(out.StartedAt)) {
			out.StartedAt = s.StartedAt
		}
		if s.EndedAt.After(out.EndedAt) {
			out.EndedAt = s.EndedAt
		}
		out.StatusCodes = addCounts(out.StatusCodes, s.StatusCodes)
		out.FailureKinds = addCounts(out.FailureKinds, s.FailureKinds)
		out.Errors = mergeErrors(out.Errors, s.Errors)
		out.Templates = mergeTemplates(out.Templates, s.Templates)
		if s.Aborted && !out.Aborted {
			out.Aborted = true
			out.AbortReason = s.AbortReason
		}
		out.Instances += max(s.Instances, 1)
	}

	if out.Total > 0 {
		out.MeanLatency = sumLatency / time.Duration(out.Total)
	}
	if exact && merged.TotalCount() > 0 {
		applyPercentiles(&out, merged)
		out.Histogram = merged.Export()
	} else {
		// Without histograms fall back to the worst instance.
		for _, s := range all {
			out.P50Latency = max(out.P50Latency, s.P50Latency)
			out.P90Latency = max(out.P90Latency, s.P90Latency)
			out.P95Latency = max(out.P95Latency, s.P95Latency)
			out.P99Latency = max(out.P99Latency, s.P99Latency)
		}
	}

	var elapsed time.Duration
	if !out.StartedAt.IsZero() && out.EndedAt.After(out.StartedAt) {
		elapsed = out.EndedAt.Sub(out.StartedAt)
	} else {
		for _, s := range all {
			elapsed = max(elapsed, s.Duration)
		}
	}
	out.finish(elapsed)
	return out
}

func mergeErrors(dst, src map[string]int) map[string]int {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]int, len(src))
	}
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		countError(dst, k, src[k])
	}
	return dst
}

func mergeTemplates(dst, src map[string]TemplateStats) map[string]TemplateStats {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]TemplateStats, len(src))
	}
	for name, s := range src {
		cur := dst[name]
		total := cur.Total + s.Total
		if total > 0 {
			cur.MeanLatencyMs = (cur.MeanLatencyMs*float64(cur.Total) + s.MeanLatencyMs*float64(s.Total)) / float64(total)
		}
		cur.Total = total
		cur.Successes += s.Successes
		cur.Failures += s.Failures
		cur.MaxLatencyMs = max(cur.MaxLatencyMs, s.MaxLatencyMs)
		cur.P95LatencyMs = max(cur.P95LatencyMs, s.P95LatencyMs)
		cur.StatusCodes = addCounts(cur.StatusCodes, s.StatusCodes)
		dst[name] = cur
	}
	return dst
}

func addCounts(dst, src map[string]int) map[string]int {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]int, len(src))
	}
	for k, v := range src {
		dst[k] += v
	}
	return dst
}

func copyCounts(src map[string]int) map[string]int {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// TemplateStatusCodes returns template -> status -> count for reports.
func (s Stats) TemplateStatusCodes() map[string]map[string]int {
	if len(s.Templates) == 0 {
		return nil
	}
	out := make(map[string]map[string]int, len(s.Templates))
	for name, ts := range s.Templates {
		if len(ts.StatusCodes) > 0 {
			out[name] = ts.StatusCodes
		}
	}
	return out
}

// StatusCodeCount returns the number of records with the given HTTP status.
func (s Stats) StatusCodeCount(code int) int {
	return s.StatusCodes[strconv.Itoa(code)]
}

func toMs(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func fromMs(ms float64) time.Duration { return time.Duration(ms * float64(time.Millisecond)) }
