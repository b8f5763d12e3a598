// Package sequence orders pickup stops for a single vehicle run.
package sequence

import (
	"time"

	"github.com/example/school-carpool/internal/geo"
	"github.com/example/school-carpool/internal/models"
)

// DefaultStopSpacing is the per-stop ETA offset used when no routed travel
// times are available.
const DefaultStopSpacing = 3 * time.Minute

// Sequence orders the given pickup points with a nearest-neighbor walk
// starting from the first input point. This is an explicit simplification,
// not true TSP. The result is a new slice; SequenceOrder is a permutation
// of 0..N-1. Given identical input the output is identical on every run:
// distance ties go to the lowest original input index.
func Sequence(points []models.PickupPoint, destination models.Coord) []models.PickupPoint {
	if len(points) == 0 {
		return []models.PickupPoint{}
	}

	visited := make([]bool, len(points))
	ordered := make([]models.PickupPoint, 0, len(points))

	current := 0
	for len(ordered) < len(points) {
		p := points[current]
		p.SequenceOrder = len(ordered)
		ordered = append(ordered, p)
		visited[current] = true

		next := -1
		best := 0.0
		for i, cand := range points {
			if visited[i] {
				continue
			}
			d := geo.Haversine(points[current].Coord.Lat, points[current].Coord.Lon, cand.Coord.Lat, cand.Coord.Lon)
			if next == -1 || d < best {
				next = i
				best = d
			}
		}
		if next == -1 {
			break
		}
		current = next
	}
	return ordered
}

// Waypoints returns the ordered coordinates followed by the destination,
// ready for a directions request.
func Waypoints(seq []models.PickupPoint, destination models.Coord) []models.Coord {
	out := make([]models.Coord, 0, len(seq)+1)
	for _, p := range seq {
		out = append(out, p.Coord)
	}
	out = append(out, destination)
	return out
}

// AssignTimes stamps an ETA on every stop. When legDurations has one entry
// per stop the routed times are used cumulatively; otherwise each stop gets
// a fixed spacing beyond the base time.
func AssignTimes(seq []models.PickupPoint, base time.Time, legDurations []time.Duration) []models.PickupPoint {
	out := make([]models.PickupPoint, len(seq))
	copy(out, seq)
	if len(legDurations) == len(seq) && len(seq) > 0 {
		eta := base
		for i := range out {
			eta = eta.Add(legDurations[i])
			out[i].EstimatedTime = eta
		}
		return out
	}
	for i := range out {
		out[i].EstimatedTime = base.Add(time.Duration(i) * DefaultStopSpacing)
	}
	return out
}
