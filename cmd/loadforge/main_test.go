package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/torosent/loadforge/internal/results"
)

const orderTemplates = `{
  "templates": [
    {
      "name": "order",
      "request": {
        "id": "randomUuid(name=\"x\")",
        "dup": "randomUuid(name=\"x\")",
        "qty": "randomInt(1, 5)"
      }
    }
  ]
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// runCLI executes the CLI and returns its exit code and output.
func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// onlyRun returns the single index entry written under resultsDir.
func onlyRun(t *testing.T, resultsDir string) (results.IndexEntry, results.InstanceSummary) {
	t.Helper()
	entries, err := results.ReadIndex(context.Background(), resultsDir)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 index entry, got %d", len(entries))
	}
	dir, err := results.OpenRunDir(entries[0].Dir)
	if err != nil {
		t.Fatalf("OpenRunDir: %v", err)
	}
	summary, err := results.ReadInstanceSummary(dir.SummaryFile(1))
	if err != nil {
		t.Fatalf("ReadInstanceSummary: %v", err)
	}
	return entries[0], summary
}

func countRecords(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open record log: %v", err)
	}
	defer f.Close()
	n := 0
	if err := results.ReadEntries(f, func(results.Entry) error { n++; return nil }); err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	return n
}

func TestSingleRunAgainstHealthyTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	tmpl := writeFile(t, dir, "templates.json", orderTemplates)
	resultsDir := filepath.Join(dir, "results")

	code, stdout, stderr := runCLI(t, "single", "2", "1",
		"--url", srv.URL,
		"--templates-file", tmpl,
		"--results-dir", resultsDir,
		"--no-progress",
	)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "LOAD TEST RESULTS") {
		t.Errorf("expected report on stdout, got %q", stdout)
	}

	entry, summary := onlyRun(t, resultsDir)
	if entry.Mode != "single" || entry.ExitCode != exitOK {
		t.Errorf("unexpected index entry %+v", entry)
	}
	if summary.Stats.Total == 0 {
		t.Fatal("expected requests to be recorded")
	}
	if summary.Stats.Failures != 0 || summary.Stats.Successes != summary.Stats.Total {
		t.Errorf("expected only successes, got %+v", summary.Stats)
	}
	if summary.Stats.StatusCodeCount(200) != int(summary.Stats.Total) {
		t.Errorf("expected every status to be 200, got %v", summary.Stats.StatusCodes)
	}
	if got := countRecords(t, filepath.Join(entry.Dir, "instance_1.jsonl")); int64(got) != summary.Stats.Total {
		t.Errorf("record log has %d entries, summary counts %d", got, summary.Stats.Total)
	}
}

func TestSingleRunAbortsAtMaxErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	tmpl := writeFile(t, dir, "templates.json", orderTemplates)
	resultsDir := filepath.Join(dir, "results")

	code, stdout, stderr := runCLI(t, "single", "5", "10",
		"--url", srv.URL,
		"--templates-file", tmpl,
		"--results-dir", resultsDir,
		"--max-errors", "3",
		"--no-progress",
	)
	if code != exitAborted {
		t.Fatalf("exit code = %d, want %d; stderr: %s", code, exitAborted, stderr)
	}
	if !strings.Contains(stdout, "Aborted") {
		t.Errorf("expected abort in report, got %q", stdout)
	}

	entry, summary := onlyRun(t, resultsDir)
	if !entry.Aborted || entry.ExitCode != exitAborted {
		t.Errorf("unexpected index entry %+v", entry)
	}
	if summary.Stats.Failures != 3 || summary.Stats.Total != 3 {
		t.Errorf("expected exactly 3 failed requests, got total=%d failures=%d", summary.Stats.Total, summary.Stats.Failures)
	}
	if summary.Stats.StatusCodeCount(500) != 3 {
		t.Errorf("expected three 500s, got %v", summary.Stats.StatusCodes)
	}
}

func TestNamedValuesShareOneRequestScope(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": body["id"], "message": "created"})
	}))
	defer srv.Close()

	dir := t.TempDir()
	tmpl := writeFile(t, dir, "templates.json", orderTemplates)
	resultsDir := filepath.Join(dir, "results")

	code, _, stderr := runCLI(t, "single", "2", "1",
		"--url", srv.URL,
		"--templates-file", tmpl,
		"--results-dir", resultsDir,
		"--delay", "0.05",
		"--verbose",
		"--no-progress",
	)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) < 2 {
		t.Fatalf("expected several requests, got %d", len(bodies))
	}
	seen := map[string]bool{}
	for _, b := range bodies {
		if b["id"] == "" || b["id"] != b["dup"] {
			t.Fatalf("id and dup differ within one request: %v", b)
		}
		if seen[b["id"]] {
			t.Fatalf("id %s reused across requests", b["id"])
		}
		seen[b["id"]] = true
	}

	// The recorded bodies feed the extract command.
	entry, _ := onlyRun(t, resultsDir)
	code, stdout, stderr := runCLI(t, "extract", entry.Dir, "id", "message", "--sort", "--template")
	if code != exitOK {
		t.Fatalf("extract exit code = %d, stderr: %s", code, stderr)
	}
	var out struct {
		Result map[string][]map[string]string `json:"result"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("decode extract output: %v\n%s", err, stdout)
	}
	if len(out.Result["id"]) != len(bodies) || len(out.Result["message"]) != len(bodies) {
		t.Errorf("expected %d values per attribute, got %d ids and %d messages",
			len(bodies), len(out.Result["id"]), len(out.Result["message"]))
	}
	for _, row := range out.Result["message"] {
		if row["template"] != "order" {
			t.Errorf("expected template name with each value, got %v", row)
		}
	}
}

func TestVerboseLogsOneLinePerRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	tmpl := writeFile(t, dir, "templates.json", orderTemplates)
	resultsDir := filepath.Join(dir, "results")

	code, _, stderr := runCLI(t, "single", "1", "1",
		"--url", srv.URL,
		"--templates-file", tmpl,
		"--results-dir", resultsDir,
		"--delay", "0.2",
		"--verbose",
		"--request",
		"--json-logs",
		"--no-progress",
	)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	_, summary := onlyRun(t, resultsDir)
	if summary.Stats.Total == 0 {
		t.Fatal("expected requests to be recorded")
	}

	counts := map[string]int64{}
	for _, line := range strings.Split(strings.TrimSpace(stderr), "\n") {
		var entry struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		counts[entry.Msg]++
	}
	for _, msg := range []string{"response", "request"} {
		if counts[msg] != summary.Stats.Total {
			t.Errorf("%d %q log lines for %d records", counts[msg], msg, summary.Stats.Total)
		}
	}
}

func TestExtractAllWritesAnalysis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	tmpl := writeFile(t, dir, "templates.json", orderTemplates)
	resultsDir := filepath.Join(dir, "results")
	if code, _, stderr := runCLI(t, "single", "1", "1", "--url", srv.URL, "--templates-file", tmpl,
		"--results-dir", resultsDir, "--verbose", "--no-progress", "--delay", "0.1"); code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}

	// The results directory itself resolves to its newest run.
	code, stdout, stderr := runCLI(t, "extract", resultsDir, "--all", "-o", "analysis.json")
	if code != exitOK {
		t.Fatalf("extract exit code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "DATA EXTRACTION SUMMARY") || !strings.Contains(stdout, "'ok'") {
		t.Errorf("unexpected analysis summary %q", stdout)
	}
	entry, _ := onlyRun(t, resultsDir)
	data, err := os.ReadFile(filepath.Join(entry.Dir, "analysis.json"))
	if err != nil {
		t.Fatalf("analysis not saved in run directory: %v", err)
	}
	if !strings.Contains(string(data), `"responses_by_status"`) {
		t.Errorf("unexpected analysis file %s", data)
	}
}

func TestRunRejectsBadConfiguration(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing target", []string{"single", "--results-dir", dir}, "target is required"},
		{"bad expression", []string{"single", "--url", "http://127.0.0.1:1", "--results-dir", dir,
			"--templates-file", writeFile(t, dir, "bad.json", `{"templates":[{"name":"t","request":{"a":"randomInt(5, 1)"}}]}`)}, ""},
		{"undefined placeholder", []string{"single", "--url", "http://127.0.0.1:1/[[MISSING_HOST_VAR]]", "--results-dir", dir}, "MISSING_HOST_VAR"},
		{"too many arguments", []string{"single", "1", "2", "3"}, "accepts at most 2 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			if code != exitError {
				t.Fatalf("exit code = %d, want %d", code, exitError)
			}
			if tt.want != "" && !strings.Contains(stderr, tt.want) {
				t.Errorf("stderr %q does not mention %q", stderr, tt.want)
			}
		})
	}
}

func TestNormalizeSortArgs(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"value", []string{"extract", "dir", "--sort", "id"}, []string{"extract", "dir", "--sort=id"}},
		{"bare at end", []string{"extract", "dir", "id", "--sort"}, []string{"extract", "dir", "id", "--sort"}},
		{"bare before flag", []string{"extract", "dir", "id", "--sort", "--template"}, []string{"extract", "dir", "id", "--sort", "--template"}},
		{"other command", []string{"single", "--sort", "id"}, []string{"single", "--sort", "id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeSortArgs(tt.in)
			if strings.Join(got, " ") != strings.Join(tt.want, " ") {
				t.Errorf("normalizeSortArgs(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
