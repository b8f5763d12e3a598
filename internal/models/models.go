package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// VerificationTier reflects how far a family has progressed through
// identity verification. The directory service owns the actual checks.
type VerificationTier string

const (
	TierUnverified VerificationTier = "unverified"
	TierBasic      VerificationTier = "basic"
	TierVerified   VerificationTier = "verified"
	TierTrusted    VerificationTier = "trusted"
)

// TrustMultiplier maps a tier onto the [0,1] factor used by trust scoring.
func (t VerificationTier) TrustMultiplier() float64 {
	switch t {
	case TierBasic:
		return 0.5
	case TierVerified:
		return 0.8
	case TierTrusted:
		return 1.0
	default:
		return 0.2
	}
}

type BackgroundCheckState string

const (
	BackgroundCheckNone    BackgroundCheckState = "none"
	BackgroundCheckPending BackgroundCheckState = "pending"
	BackgroundCheckCleared BackgroundCheckState = "cleared"
	BackgroundCheckFailed  BackgroundCheckState = "failed"
)

// FamilyProfile is an immutable snapshot of one family for a matching run.
// The family directory owns the record; the core only reads it.
type FamilyProfile struct {
	ID              string               `json:"id"`
	DisplayName     string               `json:"display_name"`
	Home            Coord                `json:"home"`
	School          Coord                `json:"school"`
	SchoolID        string               `json:"school_id"`
	Departure       time.Time            `json:"departure"`
	Flexibility     time.Duration        `json:"flexibility"`
	SeatsOffered    int                  `json:"seats_offered"`
	DriverAvailable bool                 `json:"driver_available"`
	Tier            VerificationTier     `json:"tier"`
	Rating          float64              `json:"rating"` // 0..5
	RatingCount     int                  `json:"rating_count"`
	BackgroundCheck BackgroundCheckState `json:"background_check"`
	Updated         time.Time            `json:"updated"`
}

type SearchPreferences struct {
	SearchRadiusM    float64 `json:"search_radius_m"`
	PrioritizeSafety bool    `json:"prioritize_safety"`
	SeatsRequired    int     `json:"seats_required"`
}

// CompatibilityComponents is the per-factor breakdown behind a score.
// Each component is in [0,1] before weighting.
type CompatibilityComponents struct {
	Distance         float64 `json:"distance"`
	Schedule         float64 `json:"schedule"`
	Trust            float64 `json:"trust"`
	Capacity         float64 `json:"capacity"`
	SafetyMultiplier float64 `json:"safety_multiplier"`
}

// CompatibilityResult lives for one ranking call and is never persisted.
// With the safety multiplier applied the score may exceed 1.0.
type CompatibilityResult struct {
	CandidateID string                  `json:"candidate_id"`
	Score       float64                 `json:"score"`
	Components  CompatibilityComponents `json:"components"`
}

// RouteGeometry is an ordered polyline with totals, as returned by a
// directions provider. Degraded marks geometry built by the straight-line
// fallback rather than a routing engine.
type RouteGeometry struct {
	Points    []Coord       `json:"points"`
	DistanceM float64       `json:"distance_m"`
	Duration  time.Duration `json:"duration"`
	Degraded  bool          `json:"degraded,omitempty"`
}

type RiskFactors struct {
	SchoolZoneCoveragePct float64 `json:"school_zone_coverage_pct"`
	RoadTypeContribution  float64 `json:"road_type_contribution"`
	TrafficLightReduction float64 `json:"traffic_light_reduction"`
	AccidentPenalty       float64 `json:"accident_penalty"`
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Recommendation struct {
	Severity       Severity `json:"severity"`
	Message        string   `json:"message"`
	ActionRequired bool     `json:"action_required"`
}

// RouteRiskAnalysis is immutable once produced. Acceptable holds iff
// OverallRisk is at or below the configured maximum.
type RouteRiskAnalysis struct {
	OverallRisk     float64          `json:"overall_risk"` // 0..10, lower is safer
	Factors         RiskFactors      `json:"factors"`
	Acceptable      bool             `json:"acceptable"`
	Recommendations []Recommendation `json:"recommendations"`
	Degraded        bool             `json:"degraded,omitempty"`
}

type PickupPoint struct {
	FamilyID      string    `json:"family_id"`
	Coord         Coord     `json:"coord"`
	SequenceOrder int       `json:"sequence_order"`
	EstimatedTime time.Time `json:"estimated_time"`
}

type MemberRole string

const (
	RoleDriver       MemberRole = "driver"
	RoleBackupDriver MemberRole = "backup_driver"
	RolePassenger    MemberRole = "passenger"
)

type GroupMember struct {
	FamilyID          string     `json:"family_id"`
	Role              MemberRole `json:"role"`
	Admin             bool       `json:"admin"`
	SeatsOffered      int        `json:"seats_offered"`
	ContributionScore float64    `json:"contribution_score"` // 0..10
}

type GroupStatus string

const (
	GroupForming  GroupStatus = "forming"
	GroupActive   GroupStatus = "active"
	GroupArchived GroupStatus = "archived"
)

type CarpoolGroup struct {
	ID             string             `json:"id"`
	SchoolID       string             `json:"school_id"`
	School         Coord              `json:"school"`
	Members        []GroupMember      `json:"members"`
	DepartureTime  time.Time          `json:"departure_time"`
	PickupSequence []PickupPoint      `json:"pickup_sequence"`
	RouteRisk      *RouteRiskAnalysis `json:"route_risk,omitempty"`
	Status         GroupStatus        `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

type Invitation struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	FamilyID  string    `json:"family_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CalendarEvent is one busy interval from a calendar provider.
type CalendarEvent struct {
	Title  string    `json:"title"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day"`
}
