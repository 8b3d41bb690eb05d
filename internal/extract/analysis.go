package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/loadforge/internal/results"
)

// Analysis aggregates every loaded response.
type Analysis struct {
	ExtractedAt         time.Time             `json:"extraction_timestamp"`
	SourceDir           string                `json:"source_directory"`
	Summary             AnalysisSummary       `json:"summary"`
	Configurations      []RunConfiguration    `json:"configurations,omitempty"`
	ResponsesByStatus   map[string]int        `json:"responses_by_status"`
	ResponsesByBodyType map[string]int        `json:"responses_by_body_type"`
	ResponsesByTemplate map[string]int        `json:"responses_by_template,omitempty"`
	BodyMessages        map[string]int        `json:"body_messages"`
	ErrorsSummary       map[string]int        `json:"errors_summary"`
	HeadersAnalysis     map[string]int        `json:"headers_analysis"`
	ResponseTimeStats   *ResponseTimeStats    `json:"response_time_stats,omitempty"`
	Files               map[string]FileDigest `json:"files"`
}

type AnalysisSummary struct {
	TotalFiles       int `json:"total_files_processed"`
	TotalResponses   int `json:"total_responses"`
	FilesWithVerbose int `json:"files_with_verbose"`
}

// RunConfiguration is the run description found in an instance summary.
type RunConfiguration struct {
	SourceFile string          `json:"source_file"`
	Run        results.RunInfo `json:"run"`
	Total      int64           `json:"total_requests"`
	Successes  int64           `json:"successful_requests"`
	Failures   int64           `json:"failed_requests"`
	Aborted    bool            `json:"aborted"`
}

type ResponseTimeStats struct {
	Count    int     `json:"count"`
	MinMs    float64 `json:"min_ms"`
	MaxMs    float64 `json:"max_ms"`
	AvgMs    float64 `json:"avg_ms"`
	MedianMs float64 `json:"median_ms"`
}

// FileDigest counts what one record log contributed.
type FileDigest struct {
	Responses int  `json:"responses"`
	Verbose   bool `json:"verbose"`
}

// Analyze aggregates the loaded responses.
func (x *Extractor) Analyze() Analysis {
	a := Analysis{
		ExtractedAt:         time.Now(),
		SourceDir:           x.dir,
		ResponsesByStatus:   map[string]int{},
		ResponsesByBodyType: map[string]int{},
		ResponsesByTemplate: map[string]int{},
		BodyMessages:        map[string]int{},
		ErrorsSummary:       map[string]int{},
		HeadersAnalysis:     map[string]int{},
		Files:               map[string]FileDigest{},
	}
	a.Summary.TotalFiles = len(x.files)
	a.Summary.TotalResponses = len(x.responses)
	for _, name := range x.files {
		if x.verbose[name] {
			a.Summary.FilesWithVerbose++
		}
	}

	times := make([]float64, 0, len(x.responses))
	for _, r := range x.responses {
		d := a.Files[r.File]
		d.Responses++
		d.Verbose = x.verbose[r.File]
		a.Files[r.File] = d

		if r.Status != 0 {
			a.ResponsesByStatus[fmt.Sprint(r.Status)]++
		} else if failure, ok := r.attrs["failure"].(string); ok {
			a.ResponsesByStatus[failure]++
		}
		if r.Template != "" {
			a.ResponsesByTemplate[r.Template]++
		}
		if r.TimeMs > 0 {
			times = append(times, r.TimeMs)
		}
		for name := range r.Headers {
			a.HeadersAnalysis[name]++
		}
		analyzeBody(&a, r)
	}
	a.ResponseTimeStats = timeStats(times)
	a.Configurations = x.configurations()
	return a
}

func analyzeBody(a *Analysis, r Response) {
	switch body := r.Body.(type) {
	case nil:
		if r.Status == 0 && r.Error != "" {
			a.ErrorsSummary[r.Error]++
		}
		return
	case map[string]any:
		a.ResponsesByBodyType["json_object"]++
		if msg, ok := body["message"]; ok {
			a.BodyMessages[fmt.Sprint(msg)]++
		}
		if r.Status >= 400 {
			raw, _ := json.Marshal(body)
			a.ErrorsSummary[fmt.Sprintf("HTTP %d: %s", r.Status, raw)]++
		}
	case []any:
		a.ResponsesByBodyType["json_array"]++
	default:
		a.ResponsesByBodyType["string"]++
	}
}

func timeStats(times []float64) *ResponseTimeStats {
	if len(times) == 0 {
		return nil
	}
	sort.Float64s(times)
	sum := 0.0
	for _, t := range times {
		sum += t
	}
	return &ResponseTimeStats{
		Count:    len(times),
		MinMs:    times[0],
		MaxMs:    times[len(times)-1],
		AvgMs:    sum / float64(len(times)),
		MedianMs: times[len(times)/2],
	}
}

func (x *Extractor) configurations() []RunConfiguration {
	paths, err := filepath.Glob(filepath.Join(x.dir, "instance_*.summary.json"))
	if err != nil {
		return nil
	}
	sort.Strings(paths)
	var out []RunConfiguration
	for _, path := range paths {
		s, err := results.ReadInstanceSummary(path)
		if err != nil {
			x.logger.Warn("skipping unreadable summary", zap.String("file", filepath.Base(path)), zap.Error(err))
			continue
		}
		out = append(out, RunConfiguration{
			SourceFile: filepath.Base(path),
			Run:        s.Run,
			Total:      s.Stats.Total,
			Successes:  s.Stats.Successes,
			Failures:   s.Stats.Failures,
			Aborted:    s.Stats.Aborted,
		})
	}
	return out
}

// OutputPath resolves name against the run directory unless it is absolute.
func (x *Extractor) OutputPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(x.dir, name)
}

// DefaultAnalysisName names an analysis file after its creation time.
func DefaultAnalysisName(now time.Time) string {
	return "analysis_" + now.Format("20060102_150405") + ".json"
}

// Save writes v as indented JSON to path.
func Save(path string, v any) error {
	data, err := marshal(v)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	return os.WriteFile(path, out.Bytes(), 0o644)
}
