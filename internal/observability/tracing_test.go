package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("SAARATHI_TRACING_ENABLED", "TRUE")
	t.Setenv("SAARATHI_TRACING_EXPORTER", "OTLP")
	t.Setenv("SAARATHI_TRACING_SERVICE_NAME", "")
	t.Setenv("SAARATHI_TRACING_SAMPLE_RATIO", "1.5")
	t.Setenv("SAARATHI_OTLP_ENDPOINT", "")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != ExporterOTLP {
		t.Fatalf("cfg = %+v, want enabled otlp", cfg)
	}
	if cfg.ServiceName != "saarathi" || cfg.Endpoint != "localhost:4317" || cfg.SampleRatio != 1 {
		t.Fatalf("defaults = %q %q %v", cfg.ServiceName, cfg.Endpoint, cfg.SampleRatio)
	}
}

func TestNewTracerProviderStdout(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	tp, err := NewTracerProvider(ctx, TracingConfig{
		Enabled:     true,
		ServiceName: "saarathi-test",
		Exporter:    ExporterStdout,
		SampleRatio: 1,
		Writer:      &buf,
	})
	if err != nil {
		t.Fatalf("NewTracerProvider: %v", err)
	}
	_, span := tp.Tracer("test").Start(ctx, "feed.refresh")
	span.End()
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "feed.refresh") || !strings.Contains(buf.String(), "saarathi-test") {
		t.Fatalf("exported spans missing name or service:\n%s", buf.String())
	}
}

func TestNewTracerProviderRejectsUnknownExporter(t *testing.T) {
	if _, err := NewTracerProvider(context.Background(), TracingConfig{Exporter: "zipkin"}); err == nil {
		t.Fatalf("NewTracerProvider(zipkin) succeeded, want error")
	}
}

func TestInitTracingDisabled(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	ShutdownWithTimeout(context.Background(), nil, nil)
}

func TestStartAndEndSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, ok := StartSpan(context.Background(), "planning.plan", "NDLS", attribute.Int("trains", 5))
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), "feed.refresh", "")
	EndSpan(failed, errors.New("upstream down"))

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	var station string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "station" {
			station = kv.Value.AsString()
		}
	}
	if station != "NDLS" || spans[0].Status().Code == codes.Error {
		t.Fatalf("first span station = %q status = %v", station, spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "upstream down" {
		t.Fatalf("failed span status = %+v, want error", spans[1].Status())
	}
}
