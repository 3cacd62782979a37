// Package eta is an optional, swappable ETA estimator: a naive
// distance/speed default, or an OSRM-backed client with a small TTL
// cache. It never replaces the selector's distance-based candidate
// ordering — it exists only for tie-breaking or display.
package eta

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Client is the interface the selector consults, if one is configured, to
// order candidates that are tied on raw distance.
type Client interface {
	EstimateSeconds(from, to models.Coordinate) (float64, error)
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

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coordinate) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coordinate) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

func (c *Cache) Get(a, b models.Coordinate) (float64, bool) {
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

func (c *Cache) Set(a, b models.Coordinate, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// EstimateSeconds is the naive default: great-circle distance over a
// constant speed. In production, wire an OSRMClient instead.
func EstimateSeconds(from, to models.Coordinate, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	d := haversineMeters(from.Lat, from.Lng, to.Lat, to.Lng)
	return d / speedMps
}

// NaiveClient adapts the package-level EstimateSeconds into a Client, so
// ETA_MODE=naive can be selected through the same interface as an
// OSRM-backed one.
type NaiveClient struct {
	SpeedMps float64
}

func (n NaiveClient) EstimateSeconds(from, to models.Coordinate) (float64, error) {
	return EstimateSeconds(from, to, n.SpeedMps), nil
}

// CachedClient wraps a Client with a TTL cache keyed by the coordinate
// pair, so a busy route between the same two points during one auction
// round doesn't re-hit the underlying estimator (in particular OSRM) on
// every candidate comparison.
type CachedClient struct {
	Client Client
	Cache  *Cache
}

func (c *CachedClient) EstimateSeconds(from, to models.Coordinate) (float64, error) {
	if v, ok := c.Cache.Get(from, to); ok {
		return v, nil
	}
	v, err := c.Client.EstimateSeconds(from, to)
	if err != nil {
		return 0, err
	}
	c.Cache.Set(from, to, v)
	return v, nil
}

// haversineMeters duplicates internal/geo's formula, in meters rather than
// kilometres.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
