// Package threshold evaluates pass/fail assertions against a run summary.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/loadforge/internal/metrics"
)

// Metric names accepted by Parse.
const (
	MetricDuration = "http_req_duration"
	MetricFailed   = "http_req_failed"
	MetricRequests = "http_requests"
)

// Threshold is a single assertion such as "http_req_duration:p95 < 500". A
// non-empty Template scopes it to one template's slice of the summary.
type Threshold struct {
	Metric    string
	Template  string
	Aggregate string
	Operator  string
	Value     float64
	Raw       string
}

// Result is the outcome of evaluating one threshold.
type Result struct {
	Threshold Threshold `json:"-"`
	Expr      string    `json:"threshold"`
	Actual    float64   `json:"actual"`
	Pass      bool      `json:"pass"`
	Message   string    `json:"message"`
}

var pattern = regexp.MustCompile(`^([a-z_]+)(?:\{template=([^}]+)\})?:([a-z0-9]+)\s*([<>=!]+)\s*(-?[0-9.]+)$`)

var aggregates = map[string][]string{
	MetricDuration: {"p50", "p90", "p95", "p99", "avg", "mean", "min", "max"},
	MetricFailed:   {"rate", "count"},
	MetricRequests: {"rate", "count"},
}

var operators = []string{"<", "<=", ">", ">=", "=="}

// Parse parses a threshold expression:
//
//	http_req_duration:p95 < 500                    latency in ms
//	http_req_duration{template=orders}:avg < 200   one template only
//	http_req_failed:rate < 0.01                    failure ratio
//	http_req_failed:count < 10
//	http_requests:rate > 100                       requests per second
//	http_requests:count > 1000
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected metric:aggregate operator value, e.g. 'http_req_duration:p95 < 500')", s)
	}
	metric, template, aggregate, operator := m[1], strings.TrimSpace(m[2]), m[3], m[4]

	value, err := strconv.ParseFloat(m[5], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", m[5], err)
	}
	allowed, ok := aggregates[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: %s, %s, %s)", metric, MetricDuration, MetricFailed, MetricRequests)
	}
	if !contains(allowed, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(allowed, ", "))
	}
	if !contains(operators, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: %s)", operator, strings.Join(operators, ", "))
	}
	if template != "" && metric == MetricRequests && aggregate == "rate" {
		return Threshold{}, fmt.Errorf("%s:rate cannot be scoped to a template", MetricRequests)
	}

	return Threshold{
		Metric:    metric,
		Template:  template,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses every expression and reports all failures at once.
func ParseMultiple(exprs []string) ([]Threshold, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	out := make([]Threshold, 0, len(exprs))
	var problems []string
	for i, s := range exprs {
		t, err := Parse(s)
		if err != nil {
			problems = append(problems, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		out = append(out, t)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(problems, "; "))
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Evaluator checks a fixed set of thresholds.
type Evaluator struct {
	thresholds []Threshold
}

func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate checks every threshold against stats, in order.
func (e *Evaluator) Evaluate(stats metrics.Stats) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluate(t, stats))
	}
	return results
}

// AllPassed reports whether no result failed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluate(t Threshold, stats metrics.Stats) Result {
	actual, err := metricValue(t, stats)
	if err != nil {
		return Result{Threshold: t, Expr: t.Raw, Message: fmt.Sprintf("✗ %s: %v", t.Raw, err)}
	}
	pass := compare(actual, t.Operator, t.Value)
	mark := "✓"
	if !pass {
		mark = "✗"
	}
	return Result{
		Threshold: t,
		Expr:      t.Raw,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", mark, t.Raw, actual, t.Operator, t.Value),
	}
}

// sample is the subset of a summary a threshold can read.
type sample struct {
	total, failures    int64
	rps                float64
	p50, p90, p95, p99 float64
	mean, min, max     float64
	hasPercentiles     bool
}

func sampleOf(t Threshold, stats metrics.Stats) (sample, error) {
	if t.Template == "" {
		return sample{
			total:          stats.Total,
			failures:       stats.Failures,
			rps:            stats.RequestsPerSec,
			p50:            stats.P50LatencyMs,
			p90:            stats.P90LatencyMs,
			p95:            stats.P95LatencyMs,
			p99:            stats.P99LatencyMs,
			mean:           stats.MeanLatencyMs,
			min:            stats.MinLatencyMs,
			max:            stats.MaxLatencyMs,
			hasPercentiles: true,
		}, nil
	}
	ts, ok := stats.Templates[t.Template]
	if !ok {
		return sample{}, fmt.Errorf("no requests recorded for template %q", t.Template)
	}
	return sample{
		total:    ts.Total,
		failures: ts.Failures,
		p95:      ts.P95LatencyMs,
		mean:     ts.MeanLatencyMs,
		max:      ts.MaxLatencyMs,
	}, nil
}

func metricValue(t Threshold, stats metrics.Stats) (float64, error) {
	s, err := sampleOf(t, stats)
	if err != nil {
		return 0, err
	}
	switch t.Metric {
	case MetricDuration:
		switch t.Aggregate {
		case "p95":
			return s.p95, nil
		case "avg", "mean":
			return s.mean, nil
		case "max":
			return s.max, nil
		}
		if !s.hasPercentiles {
			return 0, fmt.Errorf("aggregate %q is not tracked per template (use p95, avg or max)", t.Aggregate)
		}
		switch t.Aggregate {
		case "p50":
			return s.p50, nil
		case "p90":
			return s.p90, nil
		case "p99":
			return s.p99, nil
		case "min":
			return s.min, nil
		}
	case MetricFailed:
		switch t.Aggregate {
		case "count":
			return float64(s.failures), nil
		case "rate":
			if s.total == 0 {
				return 0, nil
			}
			return float64(s.failures) / float64(s.total), nil
		}
	case MetricRequests:
		switch t.Aggregate {
		case "count":
			return float64(s.total), nil
		case "rate":
			return s.rps, nil
		}
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
	return 0, fmt.Errorf("unsupported aggregate %q for %s", t.Aggregate, t.Metric)
}

func compare(actual float64, operator string, expected float64) bool {
	const epsilon = 1e-9
	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
