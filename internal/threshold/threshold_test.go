package threshold

import (
	"testing"

	"github.com/torosent/loadforge/internal/metrics"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:  "p95 latency",
			input: "http_req_duration:p95 < 500",
			want:  Threshold{Metric: MetricDuration, Aggregate: "p95", Operator: "<", Value: 500},
		},
		{
			name:  "failure rate",
			input: "http_req_failed:rate < 0.01",
			want:  Threshold{Metric: MetricFailed, Aggregate: "rate", Operator: "<", Value: 0.01},
		},
		{
			name:  "p99 with <=",
			input: "http_req_duration:p99 <= 1000",
			want:  Threshold{Metric: MetricDuration, Aggregate: "p99", Operator: "<=", Value: 1000},
		},
		{
			name:  "request rate",
			input: "http_requests:rate > 100",
			want:  Threshold{Metric: MetricRequests, Aggregate: "rate", Operator: ">", Value: 100},
		},
		{
			name:  "template scoped",
			input: "http_req_duration{template=create-order}:avg < 200",
			want:  Threshold{Metric: MetricDuration, Template: "create-order", Aggregate: "avg", Operator: "<", Value: 200},
		},
		{name: "empty string", input: "", wantError: true},
		{name: "missing operator", input: "http_req_duration:p95 500", wantError: true},
		{name: "unknown metric", input: "invalid_metric:p95 < 500", wantError: true},
		{name: "unknown aggregate", input: "http_req_duration:p85 < 500", wantError: true},
		{name: "aggregate not valid for metric", input: "http_req_failed:p95 < 5", wantError: true},
		{name: "bad operator", input: "http_req_duration:p95 << 500", wantError: true},
		{name: "not a number", input: "http_req_duration:p95 < abc", wantError: true},
		{name: "scoped request rate", input: "http_requests{template=a}:rate > 1", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantError {
				t.Fatalf("Parse() error = %v, wantError %v", err, tt.wantError)
			}
			if tt.wantError {
				return
			}
			tt.want.Raw = tt.input
			if got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseMultiple(t *testing.T) {
	got, err := ParseMultiple([]string{
		"http_req_duration:p95 < 500",
		"http_req_failed:rate < 0.01",
		"http_requests:rate > 100",
	})
	if err != nil || len(got) != 3 {
		t.Fatalf("expected 3 thresholds, got %d (%v)", len(got), err)
	}

	if got, err := ParseMultiple(nil); err != nil || got != nil {
		t.Fatalf("expected nil for empty input, got %v %v", got, err)
	}

	if _, err := ParseMultiple([]string{"http_req_duration:p95 < 500", "invalid threshold"}); err == nil {
		t.Fatal("expected error for invalid entry")
	}
}

func sampleStats() metrics.Stats {
	return metrics.Stats{
		Total:          1000,
		Successes:      980,
		Failures:       20,
		MinLatencyMs:   10,
		MaxLatencyMs:   500,
		MeanLatencyMs:  100,
		P50LatencyMs:   80,
		P90LatencyMs:   200,
		P95LatencyMs:   300,
		P99LatencyMs:   400,
		RequestsPerSec: 100,
		Templates: map[string]metrics.TemplateStats{
			"orders": {Total: 400, Successes: 380, Failures: 20, MeanLatencyMs: 150, MaxLatencyMs: 500, P95LatencyMs: 350},
		},
	}
}

func TestEvaluator(t *testing.T) {
	stats := sampleStats()

	tests := []struct {
		name       string
		thresholds []string
		wantPass   []bool
	}{
		{
			name:       "all pass",
			thresholds: []string{"http_req_duration:p99 < 500", "http_req_failed:rate < 0.05", "http_requests:rate > 50"},
			wantPass:   []bool{true, true, true},
		},
		{
			name:       "some fail",
			thresholds: []string{"http_req_duration:p99 < 300", "http_req_failed:rate < 0.01", "http_requests:rate > 50"},
			wantPass:   []bool{false, false, true},
		},
		{
			name:       "p95 uses the recorded percentile",
			thresholds: []string{"http_req_duration:p95 == 300"},
			wantPass:   []bool{true},
		},
		{
			name:       "avg min max",
			thresholds: []string{"http_req_duration:avg < 150", "http_req_duration:max < 600", "http_req_duration:min > 5"},
			wantPass:   []bool{true, true, true},
		},
		{
			name:       "counts",
			thresholds: []string{"http_req_failed:count < 50", "http_requests:count > 900"},
			wantPass:   []bool{true, true},
		},
		{
			name: "template scoped",
			thresholds: []string{
				"http_req_duration{template=orders}:p95 < 400",
				"http_req_failed{template=orders}:rate < 0.01",
				"http_requests{template=orders}:count == 400",
			},
			wantPass: []bool{true, false, true},
		},
		{
			name:       "unknown template fails",
			thresholds: []string{"http_req_duration{template=missing}:p95 < 400"},
			wantPass:   []bool{false},
		},
		{
			name:       "untracked template aggregate fails",
			thresholds: []string{"http_req_duration{template=orders}:p99 < 400"},
			wantPass:   []bool{false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thresholds, err := ParseMultiple(tt.thresholds)
			if err != nil {
				t.Fatalf("ParseMultiple() error = %v", err)
			}
			results := NewEvaluator(thresholds).Evaluate(stats)
			if len(results) != len(tt.wantPass) {
				t.Fatalf("got %d results, want %d", len(results), len(tt.wantPass))
			}
			allPass := true
			for i, result := range results {
				if result.Pass != tt.wantPass[i] {
					t.Errorf("threshold[%d] %q: got pass=%v, want %v (%s)", i, result.Expr, result.Pass, tt.wantPass[i], result.Message)
				}
				allPass = allPass && tt.wantPass[i]
			}
			if AllPassed(results) != allPass {
				t.Errorf("AllPassed() = %v, want %v", AllPassed(results), allPass)
			}
		})
	}
}

func TestEvaluateWithoutThresholds(t *testing.T) {
	if got := NewEvaluator(nil).Evaluate(sampleStats()); got != nil {
		t.Fatalf("expected nil results, got %v", got)
	}
	if !AllPassed(nil) {
		t.Fatal("expected no results to count as passing")
	}
}

func TestFailureRateWithNoRequests(t *testing.T) {
	th, err := Parse("http_req_failed:rate < 0.5")
	if err != nil {
		t.Fatal(err)
	}
	got := NewEvaluator([]Threshold{th}).Evaluate(metrics.Stats{})
	if !got[0].Pass || got[0].Actual != 0 {
		t.Fatalf("expected zero failure rate to pass, got %+v", got[0])
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		actual   float64
		operator string
		expected float64
		want     bool
	}{
		{50, "<", 100, true},
		{100, "<", 100, false},
		{100, "<=", 100, true},
		{150, "<=", 100, false},
		{150, ">", 100, true},
		{100, ">", 100, false},
		{100, ">=", 100, true},
		{50, ">=", 100, false},
		{100, "==", 100, true},
		{100, "==", 101, false},
		{100.0000000001, "==", 100, true},
		{1, "!=", 2, false},
	}
	for _, tt := range tests {
		if got := compare(tt.actual, tt.operator, tt.expected); got != tt.want {
			t.Errorf("compare(%v, %s, %v) = %v, want %v", tt.actual, tt.operator, tt.expected, got, tt.want)
		}
	}
}
