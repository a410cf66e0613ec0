package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/roadside-assist/internal/models"
)

// fakeUpdater implements RedisUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	members  []string
	fields   map[string]interface{}
	expired  map[string]time.Duration
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	f.members = append(f.members, loc.Name)
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	f.fields = values
	return nil
}

func (f *fakeUpdater) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if f.expired == nil {
		f.expired = map[string]time.Duration{}
	}
	f.expired[key] = ttl
	return nil
}

func snapshot() *models.TrackingSnapshot {
	return &models.TrackingSnapshot{RequestID: 501, Location: models.Coord{Lat: 13.05, Lon: 80.25}, DistanceKm: 2.4, ETAMinutes: 6}
}

func TestUpdateWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	w := writer{geoKey: "tracking_geo", ttl: time.Minute}
	start := time.Now()
	if err := w.updateWithRetry(context.Background(), f, snapshot(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	if f.members[len(f.members)-1] != "request:501" || f.fields["eta_minutes"] != 6 {
		t.Fatalf("unexpected redis writes members=%v fields=%v", f.members, f.fields)
	}
	if f.expired["tracking:501"] != time.Minute {
		t.Fatalf("expected detail hash to expire, got %v", f.expired)
	}
}

func TestUpdateWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5, failH: 0}
	w := writer{geoKey: "tracking_geo"}
	if err := w.updateWithRetry(context.Background(), f, snapshot(), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.geoCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.geoCalls)
	}
}

func TestUpdateWithRetry_StopsOnCancel(t *testing.T) {
	f := &fakeUpdater{failGeo: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := writer{geoKey: "tracking_geo"}
	if err := w.updateWithRetry(ctx, f, snapshot(), 3, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
