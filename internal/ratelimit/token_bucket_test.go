package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNewRedisTokenBucketValidation(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	if _, err := NewRedisTokenBucket(nil, 10, time.Minute, ""); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewRedisTokenBucket(client, 0, time.Minute, ""); err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if _, err := NewRedisTokenBucket(client, 10, 0, ""); err == nil {
		t.Fatal("expected error for zero window")
	}

	bucket, err := NewRedisTokenBucket(client, 10, time.Minute, "")
	if err != nil {
		t.Fatalf("expected valid bucket, got %v", err)
	}
	if got := bucket.key("  "); got != "rapiddecoder:ratelimit:anonymous" {
		t.Fatalf("expected anonymous key, got %s", got)
	}
}

func TestAllowRejectsCostAboveCapacity(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	bucket, err := NewRedisTokenBucket(client, 4, time.Minute, "test")
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	if _, err := bucket.Allow(context.Background(), "user-1", 5); !errors.Is(err, ErrCostExceedsCapacity) {
		t.Fatalf("expected ErrCostExceedsCapacity, got %v", err)
	}
}

func TestParseDecision(t *testing.T) {
	d, err := parseDecision([]any{int64(0), int64(3), int64(1500)})
	if err != nil {
		t.Fatalf("parse decision: %v", err)
	}
	if d.Allowed || d.Remaining != 3 || d.RetryAfter != 1500*time.Millisecond {
		t.Fatalf("unexpected decision %+v", d)
	}

	d, err = parseDecision([]any{"1", 9.0, 0})
	if err != nil {
		t.Fatalf("parse decision: %v", err)
	}
	if !d.Allowed || d.Remaining != 9 {
		t.Fatalf("unexpected decision %+v", d)
	}

	if _, err := parseDecision("nope"); err == nil {
		t.Fatal("expected error for non-slice response")
	}
	if _, err := parseDecision([]any{int64(1), []byte("x"), int64(0)}); err == nil {
		t.Fatal("expected error for unsupported field type")
	}
}
