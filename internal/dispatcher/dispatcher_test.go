package dispatcher_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/torosent/loadforge/internal/dispatcher"
	"github.com/torosent/loadforge/internal/httpclient"
	"github.com/torosent/loadforge/internal/templates"
)

func newDispatcher(opt dispatcher.Options) *dispatcher.Dispatcher {
	return dispatcher.New(httpclient.NewClient(0, 4), opt)
}

func TestDispatchSuccessStatuses(t *testing.T) {
	for _, code := range []int{200, 201, 204, 301, 304} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if code == 301 {
				w.Header().Set("Location", "/elsewhere")
			}
			w.WriteHeader(code)
		}))
		d := newDispatcher(dispatcher.Options{Timeout: time.Second})
		rec := d.Dispatch(context.Background(), templates.Request{Template: "t", Method: "GET", URL: srv.URL})
		srv.Close()

		if !rec.Success() {
			t.Errorf("status %d: expected success, got %q (%s)", code, rec.Failure, rec.Error)
		}
		if rec.StatusCode != code {
			t.Errorf("expected status %d, got %d", code, rec.StatusCode)
		}
		if rec.Err() != nil {
			t.Errorf("expected nil Err for success, got %v", rec.Err())
		}
	}
}

func TestDispatchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 500)))
	}))
	defer srv.Close()

	d := newDispatcher(dispatcher.Options{})
	rec := d.Dispatch(context.Background(), templates.Request{Template: "orders", Method: "POST", URL: srv.URL, Body: map[string]any{"a": 1}})

	if rec.Success() {
		t.Fatal("expected failure for 500")
	}
	if rec.Failure != dispatcher.FailureHTTP || rec.StatusCode != 500 {
		t.Fatalf("expected http_status 500, got %q %d", rec.Failure, rec.StatusCode)
	}
	if !strings.HasPrefix(rec.Error, "HTTP 500: ") || len(rec.Error) != len("HTTP 500: ")+200 {
		t.Errorf("expected truncated error message, got %d chars", len(rec.Error))
	}
	var dispatchErr *dispatcher.DispatchError
	if !errors.As(rec.Err(), &dispatchErr) || dispatchErr.StatusCode != 500 {
		t.Errorf("expected DispatchError with status 500, got %v", rec.Err())
	}
	if rec.Template != "orders" || rec.Method != "POST" {
		t.Errorf("unexpected record identity %q %q", rec.Template, rec.Method)
	}
	if rec.ResponseBody != "" {
		t.Error("expected no response body outside verbose mode")
	}
}

func TestDispatchVerboseCapturesBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", "r-1")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	d := newDispatcher(dispatcher.Options{Verbose: true, CaptureRequest: true})
	rec := d.Dispatch(context.Background(), templates.Request{
		Method: "POST",
		URL:    srv.URL,
		Body:   map[string]any{"id": "abc"},
		Values: map[string]string{"id": "abc"},
	})

	if rec.ResponseBody != `{"ok":true}` {
		t.Errorf("unexpected response body %q", rec.ResponseBody)
	}
	if rec.RequestBody != `{"id":"abc"}` {
		t.Errorf("unexpected request body %q", rec.RequestBody)
	}
	if rec.ResponseHeaders["X-Request-Id"] != "r-1" {
		t.Errorf("expected captured response headers, got %v", rec.ResponseHeaders)
	}
	if rec.Values["id"] != "abc" {
		t.Errorf("expected named values on record, got %v", rec.Values)
	}
}

func TestDispatchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d := newDispatcher(dispatcher.Options{Timeout: 50 * time.Millisecond})
	rec := d.Dispatch(context.Background(), templates.Request{Method: "GET", URL: srv.URL})

	if rec.Failure != dispatcher.FailureTimeout {
		t.Fatalf("expected timeout, got %q (%s)", rec.Failure, rec.Error)
	}
	if rec.Latency < 50*time.Millisecond {
		t.Errorf("expected latency at least the timeout, got %s", rec.Latency)
	}
}

func TestDispatchConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	d := newDispatcher(dispatcher.Options{Timeout: time.Second})
	rec := d.Dispatch(context.Background(), templates.Request{Method: "GET", URL: "http://" + addr})

	if rec.Failure != dispatcher.FailureConnRefused {
		t.Fatalf("expected connection_refused, got %q (%s)", rec.Failure, rec.Error)
	}
	if rec.StatusLabel() != "connection_refused" {
		t.Errorf("unexpected status label %q", rec.StatusLabel())
	}
}

func TestDispatchParentCancellation(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	d := newDispatcher(dispatcher.Options{})
	rec := d.Dispatch(ctx, templates.Request{Method: "GET", URL: srv.URL})
	if !rec.Canceled() {
		t.Fatalf("expected canceled record, got %q (%s)", rec.Failure, rec.Error)
	}
}

func TestDispatchInvalidRequest(t *testing.T) {
	d := newDispatcher(dispatcher.Options{})
	rec := d.Dispatch(context.Background(), templates.Request{Method: "GET", URL: "not a url"})
	if rec.Failure != dispatcher.FailureRequest {
		t.Fatalf("expected request failure, got %q", rec.Failure)
	}
}

func TestDispatchRecordsSpan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	d := newDispatcher(dispatcher.Options{Tracer: tp.Tracer("test")})
	rec := d.Dispatch(context.Background(), templates.Request{Template: "lookup", Method: "GET", URL: srv.URL})
	if rec.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", rec.StatusCode)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "HTTP GET lookup" {
		t.Errorf("unexpected span name %q", spans[0].Name)
	}
}

func TestClassify(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name   string
		parent context.Context
		err    error
		want   dispatcher.FailureKind
	}{
		{"nil", context.Background(), nil, dispatcher.FailureNone},
		{"deadline", context.Background(), context.DeadlineExceeded, dispatcher.FailureTimeout},
		{"dns", context.Background(), &net.DNSError{Err: "no such host", Name: "x.invalid"}, dispatcher.FailureDNS},
		{"dns timeout", context.Background(), &net.DNSError{Err: "timeout", IsTimeout: true}, dispatcher.FailureTimeout},
		{"parent canceled", canceled, errors.New("anything"), dispatcher.FailureCanceled},
		{"other", context.Background(), errors.New("broken pipe"), dispatcher.FailureNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dispatcher.Classify(tt.parent, tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}
