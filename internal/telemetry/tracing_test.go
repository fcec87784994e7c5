package telemetry

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"
)

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TraceConfig{Exporter: "none"}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("expected disabled tracing to succeed, got %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected no-op shutdown, got %v", err)
	}
}

func TestSetupTracingRejectsBadExporter(t *testing.T) {
	if _, err := SetupTracing(context.Background(), TraceConfig{Exporter: "zipkin"}, nil); err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
	if _, err := SetupTracing(context.Background(), TraceConfig{Exporter: "otlp"}, nil); err == nil {
		t.Fatal("expected error for otlp without endpoint")
	}
}

func TestSampler(t *testing.T) {
	if got := Sampler(0).Description(); !strings.Contains(got, "AlwaysOnSampler") {
		t.Fatalf("expected always-on root sampler for ratio 0, got %s", got)
	}
	if got := Sampler(0.25).Description(); !strings.Contains(got, "TraceIDRatioBased{0.25}") {
		t.Fatalf("expected ratio sampler, got %s", got)
	}
}

func TestServiceName(t *testing.T) {
	if serviceName(" ") != "rapiddecoder" {
		t.Fatal("expected default service name")
	}
	if serviceName("rapiddecoder-worker") != "rapiddecoder-worker" {
		t.Fatal("expected explicit service name to be kept")
	}
}
