// Package dispatcher performs single HTTP exchanges and classifies their
// outcome into records.
package dispatcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/loadforge/internal/httpclient"
	"github.com/torosent/loadforge/internal/templates"
	"github.com/torosent/loadforge/internal/tracing"
)

const (
	maxBodyReadSize    = 1024 * 1024
	maxErrorBodyBytes  = 200
	maxVerboseBodySize = 64 * 1024
)

// Options configure a Dispatcher.
type Options struct {
	Timeout        time.Duration           // per-request timeout (0 relies on the client)
	Verbose        bool                    // keep response bodies on records
	CaptureRequest bool                    // keep encoded request bodies on records
	Auth           httpclient.AuthProvider // optional credential injection
	Tracer         trace.Tracer            // optional; nil disables spans
	Propagate      bool                    // inject W3C trace headers
}

// Dispatcher sends resolved requests. It never retries.
type Dispatcher struct {
	client  *http.Client
	builder *httpclient.RequestBuilder
	opt     Options
}

// New creates a Dispatcher around client.
func New(client *http.Client, opt Options) *Dispatcher {
	if client == nil {
		client = httpclient.NewClient(opt.Timeout, 0)
	}
	return &Dispatcher{
		client:  client,
		builder: httpclient.NewRequestBuilder(opt.Auth),
		opt:     opt,
	}
}

// Dispatch performs one HTTP exchange. Failures are reported on the record,
// never as a separate error.
func (d *Dispatcher) Dispatch(ctx context.Context, req templates.Request) Record {
	rec := Record{
		Template:  req.Template,
		Method:    strings.ToUpper(req.Method),
		URL:       req.URL,
		Timestamp: time.Now(),
	}

	reqCtx := ctx
	if d.opt.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, d.opt.Timeout)
		defer cancel()
	}

	var span trace.Span
	if d.opt.Tracer != nil {
		reqCtx, span = tracing.StartDispatchSpan(reqCtx, d.opt.Tracer, rec.Method, req.Template)
	}

	httpReq, body, err := d.builder.Build(reqCtx, req)
	if err != nil {
		rec.Failure = FailureRequest
		rec.Error = err.Error()
		d.finish(span, &rec)
		return rec
	}
	rec.Method = httpReq.Method
	if d.opt.CaptureRequest {
		rec.RequestBody = string(body)
		rec.Values = req.Values
	}
	if span != nil && d.opt.Propagate {
		tracing.InjectHTTPHeaders(reqCtx, httpReq.Header)
	}

	start := time.Now()
	resp, err := d.client.Do(httpReq)
	if err != nil {
		rec.Latency = time.Since(start)
		rec.Failure = Classify(ctx, err)
		rec.Error = err.Error()
		d.finish(span, &rec)
		return rec
	}

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyReadSize))
	_ = resp.Body.Close()
	rec.Latency = time.Since(start)
	rec.StatusCode = resp.StatusCode

	switch {
	case resp.StatusCode >= 400 || resp.StatusCode < 200:
		rec.Failure = FailureHTTP
		rec.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, snippet(data, maxErrorBodyBytes))
	case readErr != nil:
		rec.Failure = Classify(ctx, readErr)
		rec.Error = fmt.Sprintf("read response body: %v", readErr)
	}
	if d.opt.Verbose {
		rec.ResponseBody = snippet(data, maxVerboseBodySize)
		rec.ResponseHeaders = flattenHeaders(resp.Header)
	}
	d.finish(span, &rec)
	return rec
}

// finish closes the span. Records are logged by sinks, which only see
// admitted records.
func (d *Dispatcher) finish(span trace.Span, rec *Record) {
	if span != nil {
		tracing.EndDispatchSpan(span, rec.StatusCode, rec.Err())
	}
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func snippet(data []byte, limit int) string {
	if len(data) > limit {
		data = data[:limit]
	}
	return strings.TrimSpace(string(data))
}
