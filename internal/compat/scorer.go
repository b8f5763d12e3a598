package compat

import (
	"math"
	"sort"
	"sync"

	"github.com/example/school-carpool/internal/geo"
	"github.com/example/school-carpool/internal/models"
	"github.com/example/school-carpool/internal/observability"
)

// Factor weights. They sum to 1.0 so the unmultiplied score stays in [0,1].
const (
	weightDistance = 0.4
	weightSchedule = 0.3
	weightTrust    = 0.2
	weightCapacity = 0.1
)

const (
	// DefaultMaxSearchRadiusM bounds prefs.SearchRadiusM and normalizes the
	// distance factor.
	DefaultMaxSearchRadiusM = 5000.0
	// DefaultMinScore is the cutoff below which candidates are dropped from
	// ranked results.
	DefaultMinScore = 0.3

	// trust sub-score pieces
	noRatingTrust        = 0.5 // zero ratings => neutral rating factor
	backgroundClearBonus = 0.2
)

type Scorer struct {
	MaxSearchRadiusM float64
	MinScore         float64
	// Workers bounds the ranking fan-out. Scoring is pure, so candidates are
	// scored fully in parallel up to this many goroutines.
	Workers int
}

func NewScorer() *Scorer {
	return &Scorer{MaxSearchRadiusM: DefaultMaxSearchRadiusM, MinScore: DefaultMinScore, Workers: 8}
}

// Score computes the compatibility between seeker and candidate. It is a
// deterministic pure function of its inputs; profile validity is a caller
// precondition.
func (s *Scorer) Score(seeker, candidate models.FamilyProfile, prefs models.SearchPreferences) models.CompatibilityResult {
	maxRadius := s.MaxSearchRadiusM
	if prefs.SearchRadiusM > 0 && prefs.SearchRadiusM < maxRadius {
		maxRadius = prefs.SearchRadiusM
	}

	comp := models.CompatibilityComponents{
		Distance:         distanceScore(seeker.Home, candidate.Home, maxRadius),
		Schedule:         scheduleScore(seeker, candidate),
		Trust:            trustScore(candidate),
		Capacity:         capacityScore(candidate, prefs.SeatsRequired),
		SafetyMultiplier: 1.0,
	}

	score := weightDistance*comp.Distance +
		weightSchedule*comp.Schedule +
		weightTrust*comp.Trust +
		weightCapacity*comp.Capacity

	if prefs.PrioritizeSafety {
		comp.SafetyMultiplier = safetyMultiplier(candidate)
		// intentionally uncapped; callers tolerate scores above 1.0
		score *= comp.SafetyMultiplier
	}

	return models.CompatibilityResult{
		CandidateID: candidate.ID,
		Score:       score,
		Components:  comp,
	}
}

// Rank scores every candidate in parallel, drops those below MinScore, and
// returns the rest ordered by descending score with the candidate ID as a
// deterministic tie-break.
func (s *Scorer) Rank(seeker models.FamilyProfile, candidates []models.FamilyProfile, prefs models.SearchPreferences) []models.CompatibilityResult {
	if len(candidates) == 0 {
		return nil
	}
	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}

	results := make([]models.CompatibilityResult, len(candidates))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = s.Score(seeker, candidates[i], prefs)
			}
		}()
	}
	for i := range candidates {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	minScore := s.MinScore
	kept := make([]models.CompatibilityResult, 0, len(results))
	for _, r := range results {
		if r.Score < minScore {
			continue
		}
		kept = append(kept, r)
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].CandidateID < kept[j].CandidateID
	})
	observability.CompatibilityRankings.Inc()
	return kept
}

func distanceScore(a, b models.Coord, maxRadiusM float64) float64 {
	d := geo.Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
	return math.Max(0, 1.0-d/maxRadiusM)
}

func scheduleScore(seeker, candidate models.FamilyProfile) float64 {
	delta := seeker.Departure.Sub(candidate.Departure)
	if delta < 0 {
		delta = -delta
	}
	window := seeker.Flexibility + candidate.Flexibility
	if window <= 0 {
		if delta == 0 {
			return 1.0
		}
		return 0
	}
	if delta > window {
		return 0
	}
	return 1.0 - float64(delta)/float64(window)
}

func trustScore(c models.FamilyProfile) float64 {
	ratingFactor := noRatingTrust
	if c.RatingCount > 0 {
		ratingFactor = c.Rating / 5.0
	}
	score := (c.Tier.TrustMultiplier() + ratingFactor) / 2.0
	if c.BackgroundCheck == models.BackgroundCheckCleared {
		score += backgroundClearBonus
	}
	return math.Min(score, 1.0)
}

func capacityScore(c models.FamilyProfile, seatsRequired int) float64 {
	if !c.DriverAvailable || c.SeatsOffered <= 0 {
		return 0
	}
	extra := c.SeatsOffered - seatsRequired
	return math.Max(0, math.Min(1.0, 0.8+0.1*float64(extra)))
}

func safetyMultiplier(c models.FamilyProfile) float64 {
	m := 1.0
	switch c.Tier {
	case models.TierTrusted:
		m += 0.3
	case models.TierVerified:
		m += 0.2
	}
	if c.BackgroundCheck == models.BackgroundCheckCleared {
		m += 0.1
	}
	if c.Rating >= 4.5 && c.RatingCount >= 10 {
		m += 0.1
	}
	return m
}
