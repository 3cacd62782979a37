package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/ingest"
)

type fakeUpdater struct {
	failGeo  int
	failH    int
	geoCalls int
	hCalls   int
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, connID string, atMs int64) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	return nil
}

func TestUpdateRedisWithRetrySucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	fix := ingest.LocationFixMessage{ConnID: "d1", Lat: 1, Lng: 2, AtMs: 1000}
	ctx := context.Background()
	start := time.Now()
	if err := updateRedisWithRetry(ctx, f, fix, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpdateRedisWithRetryFailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5, failH: 0}
	fix := ingest.LocationFixMessage{ConnID: "d1", Lat: 1, Lng: 2, AtMs: 1000}
	ctx := context.Background()
	if err := updateRedisWithRetry(ctx, f, fix, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}
