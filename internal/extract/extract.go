// Package extract mines the record logs of a finished run for business and
// performance attributes.
//
// Every logged request becomes a Response identified as "<log>_<n>" and
// carrying the attributes status (aliases code, http_status),
// response_time_ms (alias time), template_name, method, url, success,
// failure, error, headers and body. When the body is a JSON object its
// fields are flattened into dotted attributes; fields that collide with the
// names above are prefixed with "body_". Attributes that are not present
// verbatim are looked up as gjson paths into the body, so "items.0.sku" and
// "items.#.sku" work too.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/torosent/loadforge/internal/results"
)

var reserved = map[string]bool{
	"response_id":      true,
	"status":           true,
	"code":             true,
	"http_status":      true,
	"response_time_ms": true,
	"time":             true,
	"template_name":    true,
	"method":           true,
	"url":              true,
	"success":          true,
	"failure":          true,
	"error":            true,
	"headers":          true,
	"body":             true,
}

// Response is one logged request with its extractable attributes.
type Response struct {
	ID       string
	File     string
	Template string
	Status   int
	TimeMs   float64
	Error    string
	Headers  map[string]string
	Body     any
	rawBody  []byte
	attrs    map[string]any
}

// Get returns an attribute value.
func (r Response) Get(attr string) (any, bool) {
	if v, ok := r.attrs[attr]; ok {
		return v, true
	}
	return lookupPath(r.rawBody, attr)
}

func newResponse(file string, idx int, e results.Entry) Response {
	r := Response{
		ID:       fmt.Sprintf("%s_%d", strings.TrimSuffix(file, filepath.Ext(file)), idx),
		File:     file,
		Template: e.Template,
		Status:   e.Status,
		TimeMs:   e.ResponseTimeMs,
		Error:    e.Error,
		Headers:  e.Headers,
		rawBody:  e.Body,
		attrs:    make(map[string]any, 16),
	}
	set := func(k string, v any) { r.attrs[k] = v }
	set("response_id", r.ID)
	set("response_time_ms", e.ResponseTimeMs)
	set("time", e.ResponseTimeMs)
	set("method", e.Method)
	set("url", e.URL)
	set("success", e.Success)
	if e.Status != 0 {
		set("status", e.Status)
		set("code", e.Status)
		set("http_status", e.Status)
	}
	if e.Template != "" {
		set("template_name", e.Template)
	}
	if e.Failure != "" {
		set("failure", e.Failure)
	}
	if e.Error != "" {
		set("error", e.Error)
	}
	if len(e.Headers) > 0 {
		set("headers", e.Headers)
	}
	if len(e.Body) > 0 && gjson.ValidBytes(e.Body) {
		parsed := gjson.ParseBytes(e.Body)
		r.Body = parsed.Value()
		set("body", r.Body)
		if parsed.IsObject() {
			fields := make(map[string]any)
			flatten("", parsed, fields)
			for k, v := range fields {
				if reserved[k] {
					k = "body_" + k
				}
				set(k, v)
			}
		}
	}
	return r
}

// Extractor loads the record logs of one run directory.
type Extractor struct {
	dir       string
	logger    *zap.Logger
	files     []string
	responses []Response
	verbose   map[string]bool
}

// New creates an extractor for dir. If dir holds no record logs but does
// hold run directories, the newest run is used.
func New(dir string, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{dir: dir, logger: logger.With(zap.String("component", "extract"))}
}

// Dir returns the directory being read, once Load has resolved it.
func (x *Extractor) Dir() string { return x.dir }

// Load reads every record log. It fails when the directory is missing or
// holds no logs.
func (x *Extractor) Load() error {
	info, err := os.Stat(x.dir)
	if err != nil {
		return fmt.Errorf("results directory not found: %s", x.dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", x.dir)
	}
	files, err := results.RecordLogs(x.dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		if latest, ok := latestRun(x.dir); ok {
			x.logger.Info("using latest run", zap.String("dir", latest))
			x.dir = latest
			if files, err = results.RecordLogs(latest); err != nil {
				return err
			}
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no record logs (*.jsonl) found in %s", x.dir)
	}

	x.files = x.files[:0]
	x.responses = x.responses[:0]
	x.verbose = make(map[string]bool, len(files))
	for _, path := range files {
		if err := x.loadFile(path); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	for _, name := range x.files {
		if !x.verbose[name] {
			x.logger.Warn("no response bodies recorded; run with --verbose to capture them", zap.String("file", name))
		}
	}
	return nil
}

func (x *Extractor) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := filepath.Base(path)
	x.files = append(x.files, name)
	idx := 0
	return results.ReadEntries(f, func(e results.Entry) error {
		idx++
		if len(e.Body) > 0 || len(e.Headers) > 0 {
			x.verbose[name] = true
		}
		x.responses = append(x.responses, newResponse(name, idx, e))
		return nil
	})
}

func latestRun(base string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(base, "run_*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	for i := len(matches) - 1; i >= 0; i-- {
		if info, err := os.Stat(matches[i]); err == nil && info.IsDir() {
			return matches[i], true
		}
	}
	return "", false
}

// Files lists the record logs read, by base name.
func (x *Extractor) Files() []string { return append([]string(nil), x.files...) }

// Responses returns every loaded response in log order.
func (x *Extractor) Responses() []Response { return x.responses }
