package directions

import (
	"testing"
	"time"

	"github.com/example/school-carpool/internal/models"
)

var waypoints = []models.Coord{
	{Lat: -35.3089, Lon: 149.0981},
	{Lat: -35.3178, Lon: 149.1267},
	{Lat: -35.3200, Lon: 149.1100},
}

func TestCacheRoundTrip(t *testing.T) {
	c := NewCache(time.Minute)
	if _, ok := c.Get(waypoints); ok {
		t.Fatalf("expected miss on empty cache")
	}
	want := models.RouteGeometry{DistanceM: 4200, Duration: 9 * time.Minute, Points: waypoints}
	c.Set(waypoints, want)
	got, ok := c.Get(waypoints)
	if !ok || got.DistanceM != want.DistanceM {
		t.Fatalf("expected cached route, got %+v ok=%v", got, ok)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Millisecond)
	c.Set(waypoints, models.RouteGeometry{DistanceM: 1})
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get(waypoints); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestFallbackGeometry(t *testing.T) {
	r := Fallback(waypoints, 8.0)
	if !r.Degraded {
		t.Fatalf("fallback geometry must be marked degraded")
	}
	if len(r.Points) != len(waypoints) {
		t.Fatalf("fallback must keep all waypoints, got %d", len(r.Points))
	}
	if r.DistanceM <= 0 || r.Duration <= 0 {
		t.Fatalf("expected positive totals, got %f / %s", r.DistanceM, r.Duration)
	}
	// distance/speed consistency
	wantDur := time.Duration(r.DistanceM / 8.0 * float64(time.Second))
	if r.Duration != wantDur {
		t.Fatalf("duration should derive from distance and speed: got %s want %s", r.Duration, wantDur)
	}
}

func TestFallbackDefaultsSpeed(t *testing.T) {
	r := Fallback(waypoints, 0)
	if r.Duration <= 0 {
		t.Fatalf("zero speed must fall back to the default, got %s", r.Duration)
	}
}
