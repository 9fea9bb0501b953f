package eta

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Client is the interface used by the coordinator to get pickup ETAs.
type Client interface {
	EstimateSeconds(from, to models.Coord) (float64, error)
}

// Estimator produces the ETA minutes surfaced to requesters when the
// accepting driver does not report one. It prefers a routing client when
// configured and falls back to straight-line distance over a default speed.
type Estimator struct {
	Client   Client // optional OSRM client
	Cache    *Cache // optional
	SpeedKmh float64
}

// Minutes returns a whole-minute ETA, never below 1.
func (e *Estimator) Minutes(from, to models.Coord) int {
	var secs float64
	if e.Cache != nil {
		if v, ok := e.Cache.Get(from, to); ok {
			secs = v
		}
	}
	if secs == 0 && e.Client != nil {
		if v, err := e.Client.EstimateSeconds(from, to); err == nil {
			secs = v
			if e.Cache != nil {
				e.Cache.Set(from, to, secs)
			}
		}
	}
	if secs == 0 {
		speed := e.SpeedKmh
		if speed <= 0 {
			speed = 30 // city traffic fallback
		}
		secs = geo.HaversineKm(from, to) / speed * 3600
	}
	mins := int(math.Ceil(secs / 60))
	if mins < 1 {
		mins = 1
	}
	return mins
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
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", a.Lng, a.Lat, b.Lng, b.Lat)
}

// Get returns the cached value and true if present and not expired.
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
