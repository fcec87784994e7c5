package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DECODER_FINAL_SCALE", "DECODER_STEP_PARALLELISM", "RATE_LIMIT_WINDOW", "POSTGRES_DSN"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if !cfg.Decoder.FinalScale || !cfg.Decoder.FilterBitmap {
		t.Fatalf("expected final scale and filtering on by default, got %+v", cfg.Decoder)
	}
	if cfg.Decoder.StepParallelism < 1 {
		t.Fatalf("expected step parallelism >= 1, got %d", cfg.Decoder.StepParallelism)
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Fatalf("expected 1m rate limit window, got %s", cfg.RateLimit.Window)
	}
	if cfg.Database.DSN != "" {
		t.Fatalf("expected empty DSN by default, got %q", cfg.Database.DSN)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DECODER_FINAL_SCALE", "false")
	t.Setenv("DECODER_STEP_PARALLELISM", "0")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("OTEL_TRACES_SAMPLER_RATIO", "0.1")
	t.Setenv("WEBHOOK_TIMEOUT", "-5s")

	cfg := Load()
	if cfg.Decoder.FinalScale {
		t.Fatal("expected final scale disabled")
	}
	if cfg.Decoder.StepParallelism != 1 {
		t.Fatalf("expected parallelism clamped to 1, got %d", cfg.Decoder.StepParallelism)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Fatalf("expected 30s window, got %s", cfg.RateLimit.Window)
	}
	if cfg.Tracing.SampleRatio != 0.1 {
		t.Fatalf("expected sample ratio 0.1, got %g", cfg.Tracing.SampleRatio)
	}
	if cfg.Webhook.Timeout != 10*time.Second {
		t.Fatalf("expected negative timeout to fall back to 10s, got %s", cfg.Webhook.Timeout)
	}
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("TEST_INT", "ten")
	t.Setenv("TEST_BOOL", "maybe")
	t.Setenv("TEST_FLOAT", "1.2.3")
	t.Setenv("TEST_DURATION", "soon")

	if envInt("TEST_INT", 7) != 7 {
		t.Fatal("expected int fallback")
	}
	if !envBool("TEST_BOOL", true) {
		t.Fatal("expected bool fallback")
	}
	if envFloat("TEST_FLOAT", 0.5) != 0.5 {
		t.Fatal("expected float fallback")
	}
	if envDuration("TEST_DURATION", time.Second) != time.Second {
		t.Fatal("expected duration fallback")
	}
}
