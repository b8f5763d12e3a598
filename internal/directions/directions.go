package directions

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/example/school-carpool/internal/models"
)

// Provider is the interface used by the core to get route geometries.
type Provider interface {
	Route(ctx context.Context, waypoints []models.Coord) (models.RouteGeometry, error)
}

// Cache is a tiny in-memory cache for route lookups keyed by waypoints.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  models.RouteGeometry
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(waypoints []models.Coord) string {
	k := ""
	for i, c := range waypoints {
		if i > 0 {
			k += ";"
		}
		k += fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
	}
	return k
}

// Get returns the cached geometry and true if present and not expired.
func (c *Cache) Get(waypoints []models.Coord) (models.RouteGeometry, bool) {
	k := keyFor(waypoints)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return models.RouteGeometry{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return models.RouteGeometry{}, false
	}
	return e.v, true
}

// Set stores a geometry in the cache.
func (c *Cache) Set(waypoints []models.Coord, v models.RouteGeometry) {
	k := keyFor(waypoints)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// Fallback builds a degraded straight-line geometry between the waypoints
// using an assumed average speed. In prod the routing engine answers; this
// keeps scoring alive when it does not.
func Fallback(waypoints []models.Coord, speedMps float64) models.RouteGeometry {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	var dist float64
	for i := 1; i < len(waypoints); i++ {
		dist += haversine(waypoints[i-1].Lat, waypoints[i-1].Lon, waypoints[i].Lat, waypoints[i].Lon)
	}
	points := make([]models.Coord, len(waypoints))
	copy(points, waypoints)
	return models.RouteGeometry{
		Points:    points,
		DistanceM: dist,
		Duration:  time.Duration(dist / speedMps * float64(time.Second)),
		Degraded:  true,
	}
}

// local haversine to avoid import cycle with the geo package
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
