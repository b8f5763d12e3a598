package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/school-carpool/internal/models"
)

// Directory is the minimal family-directory interface required by the
// matching core and handlers.
type Directory interface {
	Nearby(lat, lon, radiusM float64, limit int) []models.FamilyProfile
	Upsert(f models.FamilyProfile)
	Get(id string) (models.FamilyProfile, bool)
}

type Index struct {
	mu       sync.RWMutex
	families map[string]models.FamilyProfile
}

func NewIndex() *Index {
	return &Index{families: make(map[string]models.FamilyProfile)}
}

func (g *Index) Upsert(f models.FamilyProfile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f.Updated = time.Now()
	g.families[f.ID] = f
}

func (g *Index) Get(id string) (models.FamilyProfile, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	f, ok := g.families[id]
	return f, ok
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Nearby(lat, lon, radiusM float64, limit int) []models.FamilyProfile {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		f    models.FamilyProfile
		dist float64
	}
	arr := make([]pair, 0, len(g.families))
	for _, f := range g.families {
		dist := Haversine(lat, lon, f.Home.Lat, f.Home.Lon)
		if dist > radiusM {
			continue
		}
		arr = append(arr, pair{f, dist})
	}
	// partial selection sort for top-N
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.FamilyProfile, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].f)
	}
	return out
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
