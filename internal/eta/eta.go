package eta

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/example/roadside-assist/internal/geo"
	"github.com/example/roadside-assist/internal/models"
)

// Client is a routing engine able to estimate travel time.
type Client interface {
	EstimateSeconds(ctx context.Context, from, to models.Coord) (float64, error)
}

// Cache is a tiny in-memory cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

// five decimals is ~1m, enough for a parked provider to hit the cache
func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lon)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coord, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// Naive ETA: distance / speed_mps.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	d := geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon)
	return d / speedMps
}

// Estimator fills in distance and ETA for snapshots the backend returned
// without them. Client and Cache are optional.
type Estimator struct {
	Client   Client
	Cache    *Cache
	SpeedMps float64
}

// Estimate returns the straight line distance in km and the ETA in whole
// minutes, rounded up.
func (e *Estimator) Estimate(ctx context.Context, from, to models.Coord) (float64, int) {
	km := geo.DistanceKm(from, to)
	var sec float64
	if e.Cache != nil {
		if v, ok := e.Cache.Get(from, to); ok {
			sec = v
		}
	}
	if sec == 0 && e.Client != nil {
		if v, err := e.Client.EstimateSeconds(ctx, from, to); err == nil {
			sec = v
			if e.Cache != nil {
				e.Cache.Set(from, to, sec)
			}
		}
	}
	if sec == 0 {
		sec = EstimateSeconds(from, to, e.SpeedMps)
	}
	return km, int(math.Ceil(sec / 60))
}
