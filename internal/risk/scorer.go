package risk

import (
	"math"

	"github.com/example/school-carpool/internal/geo"
	"github.com/example/school-carpool/internal/models"
	"github.com/example/school-carpool/internal/observability"
)

const (
	baseRisk                 = 5.0
	DefaultMaxAcceptableRisk = 3.0

	segmentLengthM    = 100.0 // polyline sampling granularity
	schoolZoneRadiusM = 500.0
	lightProxyRadiusM = 200.0 // signalized-intersection proxy around schools
	accidentRadiusM   = 100.0

	coverageFactor    = 2.0 // risk reduction at 100% school-zone coverage
	lightReductionCap = 1.3
	accidentPerHit    = 0.1
	accidentCap       = 3.0

	// Road-type contribution is the residual of a fixed arterial ceiling
	// minus the speed-class reduction, so slower residential profiles
	// contribute less risk.
	roadTypeCeiling     = 2.5
	residentialCut      = 1.5 // avg speed < 40 km/h
	neutralCut          = 1.2 // 40-60 km/h
	residentialSpeedKmh = 40.0
	arterialSpeedKmh    = 60.0
)

// Scorer evaluates route danger on a 0..10 scale, lower is safer.
type Scorer struct {
	MaxAcceptableRisk float64
}

func NewScorer() *Scorer {
	return &Scorer{MaxAcceptableRisk: DefaultMaxAcceptableRisk}
}

// ScoreRoute analyzes one route against the cached geodata snapshot. It is
// pure and never fails: an empty dataset still produces a result, marked
// degraded so callers treat it as lowest confidence.
func (s *Scorer) ScoreRoute(route models.RouteGeometry, data Dataset, stale bool) models.RouteRiskAnalysis {
	samples := samplePolyline(route.Points, segmentLengthM)

	factors := models.RiskFactors{
		SchoolZoneCoveragePct: schoolZoneCoverage(samples, data.Schools),
		RoadTypeContribution:  roadTypeContribution(route),
		TrafficLightReduction: trafficLightReduction(samples, data.Schools),
		AccidentPenalty:       accidentPenalty(samples, data.Accidents),
	}

	risk := baseRisk +
		factors.RoadTypeContribution -
		factors.SchoolZoneCoveragePct*coverageFactor/100.0 -
		factors.TrafficLightReduction +
		factors.AccidentPenalty
	risk = clamp(risk, 0, 10)

	analysis := models.RouteRiskAnalysis{
		OverallRisk: risk,
		Factors:     factors,
		Acceptable:  risk <= s.MaxAcceptableRisk,
		Degraded:    data.Empty() || stale,
	}
	analysis.Recommendations = s.recommendations(analysis)

	observability.RouteRiskEvaluations.Inc()
	if analysis.Degraded {
		observability.RouteRiskDegraded.Inc()
	}
	return analysis
}

func (s *Scorer) recommendations(a models.RouteRiskAnalysis) []models.Recommendation {
	var recs []models.Recommendation
	if a.OverallRisk > s.MaxAcceptableRisk {
		recs = append(recs, models.Recommendation{
			Severity:       models.SeverityCritical,
			Message:        "route risk exceeds the acceptable maximum; choose an alternative route",
			ActionRequired: true,
		})
	}
	if a.Factors.SchoolZoneCoveragePct < 30 {
		recs = append(recs, models.Recommendation{
			Severity: models.SeverityMedium,
			Message:  "route spends little time in school zones; consider a route closer to schools",
		})
	}
	if a.Factors.AccidentPenalty > 1.0 {
		recs = append(recs, models.Recommendation{
			Severity: models.SeverityHigh,
			Message:  "route passes multiple historical accident locations",
		})
	}
	if a.Factors.RoadTypeContribution > 2.0 {
		recs = append(recs, models.Recommendation{
			Severity: models.SeverityMedium,
			Message:  "route favors high-speed arterial roads; a residential route would be safer",
		})
	}
	return recs
}

// samplePolyline walks the polyline and emits a point roughly every stepM
// meters, always including the first and last vertex.
func samplePolyline(points []models.Coord, stepM float64) []models.Coord {
	if len(points) == 0 {
		return nil
	}
	if len(points) == 1 {
		return []models.Coord{points[0]}
	}
	samples := []models.Coord{points[0]}
	carried := 0.0
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		segLen := geo.Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
		if segLen == 0 {
			continue
		}
		pos := stepM - carried
		for pos < segLen {
			t := pos / segLen
			samples = append(samples, models.Coord{
				Lat: a.Lat + (b.Lat-a.Lat)*t,
				Lon: a.Lon + (b.Lon-a.Lon)*t,
			})
			pos += stepM
		}
		carried = math.Mod(carried+segLen, stepM)
	}
	last := points[len(points)-1]
	tail := samples[len(samples)-1]
	if tail != last {
		samples = append(samples, last)
	}
	return samples
}

// schoolZoneCoverage is the percentage of samples within the school-zone
// radius of any known school. Each sample counts once no matter how many
// schools cover it.
func schoolZoneCoverage(samples, schools []models.Coord) float64 {
	if len(samples) == 0 || len(schools) == 0 {
		return 0
	}
	covered := 0
	for _, p := range samples {
		if withinAny(p, schools, schoolZoneRadiusM) {
			covered++
		}
	}
	return float64(covered) / float64(len(samples)) * 100.0
}

// roadTypeContribution classifies the route by average speed. Slow
// residential profiles earn the largest cut from the arterial ceiling.
func roadTypeContribution(route models.RouteGeometry) float64 {
	if route.Duration <= 0 || route.DistanceM <= 0 {
		return roadTypeCeiling
	}
	speedKmh := route.DistanceM / route.Duration.Seconds() * 3.6
	switch {
	case speedKmh < residentialSpeedKmh:
		return roadTypeCeiling - residentialCut
	case speedKmh <= arterialSpeedKmh:
		return roadTypeCeiling - neutralCut
	default:
		return roadTypeCeiling
	}
}

// trafficLightReduction uses proximity to schools as a proxy for signalized
// intersections: the larger the fraction of samples near a school, the
// bigger the reduction, capped.
func trafficLightReduction(samples, schools []models.Coord) float64 {
	if len(samples) == 0 || len(schools) == 0 {
		return 0
	}
	near := 0
	for _, p := range samples {
		if withinAny(p, schools, lightProxyRadiusM) {
			near++
		}
	}
	reduction := float64(near) / float64(len(samples)) * lightReductionCap
	return math.Min(reduction, lightReductionCap)
}

func accidentPenalty(samples, accidents []models.Coord) float64 {
	if len(samples) == 0 || len(accidents) == 0 {
		return 0
	}
	penalty := 0.0
	for _, acc := range accidents {
		if withinAny(acc, samples, accidentRadiusM) {
			penalty += accidentPerHit
		}
	}
	return math.Min(penalty, accidentCap)
}

func withinAny(p models.Coord, set []models.Coord, radiusM float64) bool {
	for _, q := range set {
		if geo.Haversine(p.Lat, p.Lon, q.Lat, q.Lon) <= radiusM {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
