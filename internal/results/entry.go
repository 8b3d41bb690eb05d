// Package results persists what a run produced: one JSON line per request,
// a summary per instance, a merged summary for multi-instance runs and an
// index of past runs shared by concurrent processes.
package results

import (
	"encoding/json"
	"time"

	"github.com/torosent/loadforge/internal/dispatcher"
)

// Entry is one request as written to an instance's record log.
type Entry struct {
	Timestamp      time.Time         `json:"timestamp"`
	Instance       int               `json:"instance"`
	Template       string            `json:"template,omitempty"`
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	Status         int               `json:"status"`
	Failure        string            `json:"failure,omitempty"`
	Success        bool              `json:"success"`
	ResponseTimeMs float64           `json:"response_time_ms"`
	Error          string            `json:"error,omitempty"`
	Body           json.RawMessage   `json:"body,omitempty"`
	Request        json.RawMessage   `json:"request,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
}

// FromRecord converts a dispatch record. Bodies that are valid JSON are
// embedded as-is; anything else is stored as a JSON string.
func FromRecord(instance int, rec dispatcher.Record) Entry {
	return Entry{
		Timestamp:      rec.Timestamp,
		Instance:       instance,
		Template:       rec.Template,
		Method:         rec.Method,
		URL:            rec.URL,
		Status:         rec.StatusCode,
		Failure:        string(rec.Failure),
		Success:        rec.Success(),
		ResponseTimeMs: float64(rec.Latency) / float64(time.Millisecond),
		Error:          rec.Error,
		Body:           rawJSON(rec.ResponseBody),
		Request:        rawJSON(rec.RequestBody),
		Headers:        rec.ResponseHeaders,
	}
}

func rawJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return quoted
}
