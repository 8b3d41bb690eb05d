package extract_test

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/loadforge/internal/dispatcher"
	"github.com/torosent/loadforge/internal/extract"
	"github.com/torosent/loadforge/internal/metrics"
	"github.com/torosent/loadforge/internal/results"
)

func writeLog(t *testing.T, dir string, instance int, recs ...dispatcher.Record) {
	t.Helper()
	w, err := results.Create(filepath.Join(dir, fmt.Sprintf("instance_%d.jsonl", instance)), instance)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range recs {
		w.Observe(r)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func rec(template string, status int, ms int, body string) dispatcher.Record {
	r := dispatcher.Record{
		Template:     template,
		Method:       "POST",
		URL:          "http://api/orders",
		StatusCode:   status,
		Latency:      time.Duration(ms) * time.Millisecond,
		Timestamp:    time.Now(),
		ResponseBody: body,
	}
	if status >= 400 {
		r.Failure = dispatcher.FailureHTTP
	}
	return r
}

func sampleDir(t *testing.T) string {
	dir := t.TempDir()
	writeLog(t, dir, 1,
		rec("create", 201, 30, `{"id":"c","message":"created","status":"queued","meta":{"region":"eu"},"items":[{"sku":"x1"}]}`),
		rec("create", 500, 10, `{"message":"boom"}`),
	)
	h := rec("lookup", 200, 20, `{"id":"a","message":"ok"}`)
	h.ResponseHeaders = map[string]string{"Content-Type": "application/json"}
	writeLog(t, dir, 2, h, rec("lookup", 200, 40, "plain text"))
	return dir
}

func load(t *testing.T, dir string) *extract.Extractor {
	t.Helper()
	x := extract.New(dir, nil)
	if err := x.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return x
}

func encode(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestResponseAttributes(t *testing.T) {
	x := load(t, sampleDir(t))
	rs := x.Responses()
	if len(rs) != 4 {
		t.Fatalf("expected 4 responses, got %d", len(rs))
	}
	first := rs[0]
	if first.ID != "instance_1_1" {
		t.Fatalf("unexpected id %q", first.ID)
	}

	tests := []struct {
		attr string
		want any
	}{
		{"status", 201},
		{"code", 201},
		{"http_status", 201},
		{"time", 30.0},
		{"template_name", "create"},
		{"message", "created"},
		{"body_status", "queued"},
		{"meta.region", "eu"},
		{"items.0.sku", "x1"},
		{"$.meta.region", "eu"},
	}
	for _, tt := range tests {
		got, ok := first.Get(tt.attr)
		if !ok {
			t.Errorf("%s: missing", tt.attr)
			continue
		}
		if encode(t, got) != encode(t, tt.want) {
			t.Errorf("%s = %v, want %v", tt.attr, got, tt.want)
		}
	}
	if _, ok := first.Get("nope"); ok {
		t.Error("expected unknown attribute to be absent")
	}
}

func TestExtractSeparateFormat(t *testing.T) {
	x := load(t, sampleDir(t))
	got := encode(t, x.Extract(extract.Query{Attributes: []string{"message", "id"}}))
	want := `{"result":{"message":[{"instance_1_1":"created"},{"instance_1_2":"boom"},{"instance_2_1":"ok"}],"id":[{"instance_1_1":"c"},{"instance_2_1":"a"}]}}`
	if got != want {
		t.Fatalf("unexpected result\n got %s\nwant %s", got, want)
	}
}

func TestExtractSortedValuesWithTemplate(t *testing.T) {
	x := load(t, sampleDir(t))
	got := encode(t, x.Extract(extract.Query{Attributes: []string{"time"}, Sort: true, IncludeTemplate: true}))
	want := `{"result":{"time":[{"instance_1_2":10,"template":"create"},{"instance_2_1":20,"template":"lookup"},{"instance_1_1":30,"template":"create"},{"instance_2_2":40,"template":"lookup"}]}}`
	if got != want {
		t.Fatalf("unexpected result\n got %s\nwant %s", got, want)
	}
}

func TestExtractMergedFormat(t *testing.T) {
	x := load(t, sampleDir(t))
	got := encode(t, x.Extract(extract.Query{Attributes: []string{"id", "message"}, SortBy: "id"}))
	want := `{"result":[{"instance_2_1":{"id":"a","message":"ok"}},{"instance_1_1":{"id":"c","message":"created"}}]}`
	if got != want {
		t.Fatalf("unexpected result\n got %s\nwant %s", got, want)
	}
}

func TestExtractMixedSortFallsBackToStrings(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, 1,
		rec("t", 200, 1, `{"v":"b"}`),
		rec("t", 200, 1, `{"v":10}`),
		rec("t", 200, 1, `{"v":"a"}`),
	)
	x := load(t, dir)
	got := encode(t, x.Extract(extract.Query{Attributes: []string{"v"}, Sort: true}))
	want := `{"result":{"v":[{"instance_1_2":10},{"instance_1_3":"a"},{"instance_1_1":"b"}]}}`
	if got != want {
		t.Fatalf("unexpected result\n got %s\nwant %s", got, want)
	}
}

func TestAnalyze(t *testing.T) {
	dir := sampleDir(t)
	summary := results.InstanceSummary{Instance: 1, Run: results.RunInfo{RunID: "r1", Concurrency: 2}, Stats: metrics.Stats{Total: 2, Successes: 1, Failures: 1}}
	if err := results.WriteJSON(filepath.Join(dir, "instance_1.summary.json"), summary); err != nil {
		t.Fatal(err)
	}

	a := load(t, dir).Analyze()
	if a.Summary.TotalFiles != 2 || a.Summary.TotalResponses != 4 || a.Summary.FilesWithVerbose != 2 {
		t.Fatalf("unexpected summary %+v", a.Summary)
	}
	if a.ResponsesByStatus["200"] != 2 || a.ResponsesByStatus["201"] != 1 || a.ResponsesByStatus["500"] != 1 {
		t.Errorf("unexpected status counts %v", a.ResponsesByStatus)
	}
	if a.ResponsesByBodyType["json_object"] != 3 || a.ResponsesByBodyType["string"] != 1 {
		t.Errorf("unexpected body types %v", a.ResponsesByBodyType)
	}
	if a.BodyMessages["boom"] != 1 || a.BodyMessages["ok"] != 1 {
		t.Errorf("unexpected body messages %v", a.BodyMessages)
	}
	if a.ErrorsSummary[`HTTP 500: {"message":"boom"}`] != 1 || len(a.ErrorsSummary) != 1 {
		t.Errorf("unexpected errors summary %v", a.ErrorsSummary)
	}
	if a.HeadersAnalysis["Content-Type"] != 1 {
		t.Errorf("unexpected headers analysis %v", a.HeadersAnalysis)
	}
	ts := a.ResponseTimeStats
	if ts == nil || ts.Count != 4 || ts.MinMs != 10 || ts.MaxMs != 40 || ts.AvgMs != 25 || ts.MedianMs != 30 {
		t.Errorf("unexpected response time stats %+v", ts)
	}
	if len(a.Configurations) != 1 || a.Configurations[0].Run.RunID != "r1" {
		t.Errorf("unexpected configurations %+v", a.Configurations)
	}
}

func TestLoadPicksLatestRun(t *testing.T) {
	base := t.TempDir()
	older := filepath.Join(base, "run_01A")
	newer := filepath.Join(base, "run_01B")
	for _, d := range []string{older, newer} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	writeLog(t, older, 1, rec("old", 200, 1, ""))
	writeLog(t, newer, 1, rec("new", 200, 1, ""))

	x := load(t, base)
	if x.Dir() != newer {
		t.Fatalf("expected newest run, got %s", x.Dir())
	}
	if x.Responses()[0].Template != "new" {
		t.Fatalf("unexpected template %q", x.Responses()[0].Template)
	}
	if !strings.HasSuffix(x.OutputPath("out.json"), filepath.Join("run_01B", "out.json")) {
		t.Errorf("unexpected output path %s", x.OutputPath("out.json"))
	}
}

func TestLoadErrors(t *testing.T) {
	if err := extract.New(filepath.Join(t.TempDir(), "missing"), nil).Load(); err == nil {
		t.Fatal("expected error for missing directory")
	}
	if err := extract.New(t.TempDir(), nil).Load(); err == nil {
		t.Fatal("expected error for directory without logs")
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	if err := extract.Save(path, extract.Object{{Key: "b", Value: 1}, {Key: "a", Value: "<x>"}}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{\n  \"b\": 1,\n  \"a\": \"<x>\"\n}\n" {
		t.Fatalf("unexpected file %q", data)
	}
}
