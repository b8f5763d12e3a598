package compat

import (
	"math"
	"testing"
	"time"

	"github.com/example/school-carpool/internal/models"
)

func departure(hh, mm int) time.Time {
	return time.Date(2026, 3, 2, hh, mm, 0, 0, time.UTC)
}

func seekerProfile() models.FamilyProfile {
	return models.FamilyProfile{
		ID:          "fam-seeker",
		Home:        models.Coord{Lat: -35.3089, Lon: 149.0981},
		School:      models.Coord{Lat: -35.3200, Lon: 149.1100},
		SchoolID:    "school-1",
		Departure:   departure(8, 15),
		Flexibility: 15 * time.Minute,
	}
}

func candidateProfile() models.FamilyProfile {
	return models.FamilyProfile{
		ID:              "fam-cand",
		Home:            models.Coord{Lat: -35.3178, Lon: 149.1267},
		School:          models.Coord{Lat: -35.3200, Lon: 149.1100},
		SchoolID:        "school-1",
		Departure:       departure(8, 15),
		Flexibility:     15 * time.Minute,
		SeatsOffered:    5,
		DriverAvailable: true,
		Tier:            models.TierVerified,
		Rating:          4.9,
		RatingCount:     31,
		BackgroundCheck: models.BackgroundCheckCleared,
	}
}

func TestScore_NearbyVerifiedDriver(t *testing.T) {
	s := NewScorer()
	res := s.Score(seekerProfile(), candidateProfile(), models.SearchPreferences{SeatsRequired: 2})

	if res.Score <= DefaultMinScore {
		t.Fatalf("expected a strong match, got %.3f", res.Score)
	}
	comps := []struct {
		name string
		v    float64
	}{
		{"distance", res.Components.Distance},
		{"schedule", res.Components.Schedule},
		{"trust", res.Components.Trust},
		{"capacity", res.Components.Capacity},
	}
	for _, c := range comps {
		if c.v < 0 || c.v > 1 {
			t.Fatalf("component %s out of [0,1]: %f", c.name, c.v)
		}
	}
	if res.Components.Schedule != 1.0 {
		t.Fatalf("identical departures should score 1.0, got %f", res.Components.Schedule)
	}
}

func TestScore_SafetyMultiplierUncapped(t *testing.T) {
	s := NewScorer()
	seeker := seekerProfile()
	cand := candidateProfile()
	cand.Home = seeker.Home // zero distance
	cand.Tier = models.TierTrusted

	plain := s.Score(seeker, cand, models.SearchPreferences{SeatsRequired: 1})
	safety := s.Score(seeker, cand, models.SearchPreferences{SeatsRequired: 1, PrioritizeSafety: true})

	// trusted + cleared + high rating => 1.5x
	if math.Abs(safety.Components.SafetyMultiplier-1.5) > 1e-9 {
		t.Fatalf("expected 1.5 multiplier, got %f", safety.Components.SafetyMultiplier)
	}
	if safety.Score <= plain.Score {
		t.Fatalf("safety-weighted score should exceed plain score: %f vs %f", safety.Score, plain.Score)
	}
	if safety.Score <= 1.0 {
		t.Fatalf("expected score above 1.0 for an ideal candidate, got %f", safety.Score)
	}
}

func TestScore_NonDriverGetsZeroCapacity(t *testing.T) {
	s := NewScorer()
	cand := candidateProfile()
	cand.DriverAvailable = false
	res := s.Score(seekerProfile(), cand, models.SearchPreferences{SeatsRequired: 1})
	if res.Components.Capacity != 0 {
		t.Fatalf("non-driver capacity must be 0, got %f", res.Components.Capacity)
	}
}

func TestScore_ScheduleOutsideWindowIsZero(t *testing.T) {
	s := NewScorer()
	cand := candidateProfile()
	cand.Departure = departure(9, 30) // 75min apart, combined window 30min
	res := s.Score(seekerProfile(), cand, models.SearchPreferences{})
	if res.Components.Schedule != 0 {
		t.Fatalf("expected 0 schedule score, got %f", res.Components.Schedule)
	}
}

func TestScore_ZeroFlexibilityExactMatch(t *testing.T) {
	s := NewScorer()
	seeker := seekerProfile()
	seeker.Flexibility = 0
	cand := candidateProfile()
	cand.Flexibility = 0

	if got := s.Score(seeker, cand, models.SearchPreferences{}).Components.Schedule; got != 1.0 {
		t.Fatalf("exact departure with no flexibility should be 1.0, got %f", got)
	}
	cand.Departure = cand.Departure.Add(time.Minute)
	if got := s.Score(seeker, cand, models.SearchPreferences{}).Components.Schedule; got != 0 {
		t.Fatalf("any offset with no flexibility should be 0, got %f", got)
	}
}

func TestScore_NoRatingsIsNeutral(t *testing.T) {
	s := NewScorer()
	cand := candidateProfile()
	cand.Rating = 0
	cand.RatingCount = 0
	cand.BackgroundCheck = models.BackgroundCheckNone
	res := s.Score(seekerProfile(), cand, models.SearchPreferences{})
	// verified tier 0.8, neutral rating 0.5 => 0.65
	if math.Abs(res.Components.Trust-0.65) > 1e-9 {
		t.Fatalf("expected neutral trust 0.65, got %f", res.Components.Trust)
	}
}

func TestRank_FiltersAndOrders(t *testing.T) {
	s := NewScorer()
	seeker := seekerProfile()

	good := candidateProfile()
	far := candidateProfile()
	far.ID = "fam-far"
	far.Home = models.Coord{Lat: -36.0, Lon: 150.0} // ~100km away
	far.Departure = departure(14, 0)
	far.Tier = models.TierUnverified
	far.Rating = 0
	far.RatingCount = 0
	far.DriverAvailable = false
	far.BackgroundCheck = models.BackgroundCheckNone

	results := s.Rank(seeker, []models.FamilyProfile{far, good}, models.SearchPreferences{SeatsRequired: 2})
	if len(results) != 1 {
		t.Fatalf("expected the far candidate filtered out, got %d results", len(results))
	}
	if results[0].CandidateID != good.ID {
		t.Fatalf("unexpected winner: %s", results[0].CandidateID)
	}
}

func TestRank_DeterministicAcrossRuns(t *testing.T) {
	s := NewScorer()
	seeker := seekerProfile()

	// equal candidates differing only by ID: tie must break on ID
	a := candidateProfile()
	a.ID = "fam-a"
	b := candidateProfile()
	b.ID = "fam-b"
	c := candidateProfile()
	c.ID = "fam-c"

	prefs := models.SearchPreferences{SeatsRequired: 2, PrioritizeSafety: true}
	first := s.Rank(seeker, []models.FamilyProfile{c, a, b}, prefs)
	for run := 0; run < 20; run++ {
		got := s.Rank(seeker, []models.FamilyProfile{c, a, b}, prefs)
		if len(got) != len(first) {
			t.Fatalf("run %d: result count changed", run)
		}
		for i := range got {
			if got[i].CandidateID != first[i].CandidateID || got[i].Score != first[i].Score {
				t.Fatalf("run %d: ordering not deterministic at %d", run, i)
			}
		}
	}
	if first[0].CandidateID != "fam-a" || first[1].CandidateID != "fam-b" || first[2].CandidateID != "fam-c" {
		t.Fatalf("tie-break by candidate ID violated: %v", []string{first[0].CandidateID, first[1].CandidateID, first[2].CandidateID})
	}
}

func TestRank_EmptyCandidates(t *testing.T) {
	s := NewScorer()
	if got := s.Rank(seekerProfile(), nil, models.SearchPreferences{}); len(got) != 0 {
		t.Fatalf("expected empty results, got %d", len(got))
	}
}
