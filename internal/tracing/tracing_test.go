package tracing_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/loadforge/internal/config"
	"github.com/torosent/loadforge/internal/tracing"
)

var testRun = tracing.Run{ID: "01JTEST", Mode: "instance", InstanceID: 3, Target: "http://api.test:8080/orders"}

func setupTestTracer(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter, tp.Tracer("test")
}

func TestInitDisabledByDefault(t *testing.T) {
	p, err := tracing.Init(context.Background(), config.TracingConfig{}, tracing.Run{})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if p.ShouldPropagate() {
		t.Error("ShouldPropagate() = true, want false when tracing disabled")
	}
	if p.Tracer() != nil {
		t.Error("Tracer() should be nil when tracing is disabled")
	}
}

func TestInitWithEndpointEnablesTracing(t *testing.T) {
	p, err := tracing.Init(context.Background(), config.TracingConfig{
		Endpoint:    "localhost:4317",
		Protocol:    "grpc",
		ServiceName: "test-service",
		SampleRate:  1.0,
		Insecure:    true,
	}, testRun)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if !p.ShouldPropagate() {
		t.Error("ShouldPropagate() = false, want true when tracing enabled")
	}
	if p.Tracer() == nil {
		t.Error("Tracer() = nil, want a tracer when an endpoint is configured")
	}
}

func TestInitHTTPProtocol(t *testing.T) {
	p, err := tracing.Init(context.Background(), config.TracingConfig{
		Endpoint: "localhost:4318",
		Protocol: "http",
		Insecure: true,
	}, testRun)
	if err != nil {
		t.Fatalf("Init() with http protocol error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
}

func TestInitRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TracingConfig
	}{
		{"unsupported protocol", config.TracingConfig{Endpoint: "localhost:4317", Protocol: "thrift", Insecure: true}},
		{"negative sample rate", config.TracingConfig{Endpoint: "localhost:4317", Insecure: true, SampleRate: -0.5}},
		{"sample rate above one", config.TracingConfig{Endpoint: "localhost:4317", Insecure: true, SampleRate: 1.5}},
		{"bad rate with bad protocol", config.TracingConfig{Endpoint: "localhost:4317", Protocol: "thrift", SampleRate: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tracing.Init(context.Background(), tt.cfg, testRun); err == nil {
				t.Fatal("Init() should return error")
			}
		})
	}
}

func TestProtocolsListed(t *testing.T) {
	got := tracing.Protocols()
	if len(got) != 2 || got[0] != "grpc" || got[1] != "http" {
		t.Errorf("Protocols() = %v, want [grpc http]", got)
	}
}

func TestShouldPropagateOverride(t *testing.T) {
	falseVal := false
	p, err := tracing.Init(context.Background(), config.TracingConfig{
		Endpoint:  "localhost:4317",
		Protocol:  "grpc",
		Insecure:  true,
		Propagate: &falseVal,
	}, testRun)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if p.ShouldPropagate() {
		t.Error("ShouldPropagate() = true, want false when explicitly disabled")
	}
}

func TestNilProviderSafety(t *testing.T) {
	var p *tracing.Provider
	if p.ShouldPropagate() {
		t.Error("nil provider ShouldPropagate() = true, want false")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("nil provider Shutdown() error = %v", err)
	}
	if p.Tracer() != nil {
		t.Error("nil provider Tracer() should be nil")
	}
}

func TestDispatchSpanNameAndAttributes(t *testing.T) {
	exporter, tracer := setupTestTracer(t)

	tests := []struct {
		name     string
		method   string
		template string
		wantName string
	}{
		{"with template", "POST", "create-order", "HTTP POST create-order"},
		{"without template", "GET", "", "HTTP GET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter.Reset()
			_, span := tracing.StartDispatchSpan(context.Background(), tracer, tt.method, tt.template)
			tracing.EndDispatchSpan(span, 201, nil)

			spans := exporter.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			if spans[0].Name != tt.wantName {
				t.Errorf("span name = %q, want %q", spans[0].Name, tt.wantName)
			}
			if spans[0].Status.Code != codes.Ok {
				t.Errorf("span status = %v, want Ok", spans[0].Status.Code)
			}
			foundStatus := false
			for _, attr := range spans[0].Attributes {
				if string(attr.Key) == "http.response.status_code" && attr.Value.AsInt64() == 201 {
					foundStatus = true
				}
			}
			if !foundStatus {
				t.Error("http.response.status_code attribute not found")
			}
		})
	}
}

func TestEndDispatchSpanRecordsError(t *testing.T) {
	exporter, tracer := setupTestTracer(t)

	_, span := tracer.Start(context.Background(), "test-error")
	tracing.EndDispatchSpan(span, 0, errors.New("connection refused"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status code = %d, want %d (Error)", spans[0].Status.Code, codes.Error)
	}
}

func TestInjectHTTPHeaders(t *testing.T) {
	_, tracer := setupTestTracer(t)

	ctx, span := tracer.Start(context.Background(), "test-inject")
	defer span.End()

	headers := make(http.Header)
	tracing.InjectHTTPHeaders(ctx, headers)

	got := headers.Get("Traceparent")
	if len(got) < 55 {
		t.Errorf("traceparent header missing or too short: %q", got)
	}
}

func TestInjectHTTPHeadersNoSpan(t *testing.T) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
	))
	headers := make(http.Header)
	tracing.InjectHTTPHeaders(context.Background(), headers)

	if got := headers.Get("Traceparent"); got != "" {
		t.Errorf("traceparent header should be empty without span, got %q", got)
	}
}
