// Package group composes scoring, sequencing, and risk analysis into
// concrete carpool groups.
package group

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/example/school-carpool/internal/clock"
	"github.com/example/school-carpool/internal/costshare"
	"github.com/example/school-carpool/internal/directions"
	"github.com/example/school-carpool/internal/events"
	"github.com/example/school-carpool/internal/models"
	"github.com/example/school-carpool/internal/observability"
	"github.com/example/school-carpool/internal/risk"
	"github.com/example/school-carpool/internal/sequence"
	"github.com/example/school-carpool/internal/storage"
)

const (
	DefaultInvitationTTL = 7 * 24 * time.Hour

	contributionBase       = 5.0
	contributionDriver     = 2.0
	contributionHighTrust  = 1.0
	contributionHighRating = 0.5
	contributionCap        = 10.0
	highRatingThreshold    = 4.5
	fallbackCitySpeedMps   = 8.0
	depositAmountCents     = 1500 // fuel cost-share hold per joining family
	depositCurrency        = "usd"
)

// Notifier delivers invitations to matched families; delivery is an
// external concern and best-effort from the orchestrator's view.
type Notifier interface {
	Invite(inv models.Invitation) error
}

type Orchestrator struct {
	store      storage.GroupStore
	directions directions.Provider
	routeCache *directions.Cache
	riskScorer *risk.Scorer
	riskData   *risk.Store
	notifier   Notifier
	bus        *events.Bus
	clk        clock.Clock
	logger     *slog.Logger
	// Deposits is optional; when set, joining families get a cost-share
	// hold placed on their payment method.
	Deposits *costshare.Client

	InvitationTTL time.Duration
}

func NewOrchestrator(
	store storage.GroupStore,
	dir directions.Provider,
	routeCache *directions.Cache,
	riskScorer *risk.Scorer,
	riskData *risk.Store,
	notifier Notifier,
	bus *events.Bus,
	clk clock.Clock,
	logger *slog.Logger,
) *Orchestrator {
	if clk == nil {
		clk = clock.System{}
	}
	return &Orchestrator{
		store:         store,
		directions:    dir,
		routeCache:    routeCache,
		riskScorer:    riskScorer,
		riskData:      riskData,
		notifier:      notifier,
		bus:           bus,
		clk:           clk,
		logger:        logger,
		InvitationTTL: DefaultInvitationTTL,
	}
}

// FormGroup validates the candidate set, sequences pickups, risk-scores the
// resulting route, assigns roles, and persists the group. The group starts
// active when the route risk is acceptable; otherwise it stays in forming so
// callers can gate on the risk analysis.
func (o *Orchestrator) FormGroup(ctx context.Context, seeker models.FamilyProfile, matched []models.FamilyProfile) (models.CarpoolGroup, error) {
	members := append([]models.FamilyProfile{seeker}, matched...)
	if err := validateComposition(members); err != nil {
		return models.CarpoolGroup{}, err
	}

	pickups := make([]models.PickupPoint, len(members))
	for i, m := range members {
		pickups[i] = models.PickupPoint{FamilyID: m.ID, Coord: m.Home}
	}
	seq := sequence.Sequence(pickups, seeker.School)
	route := o.route(ctx, sequence.Waypoints(seq, seeker.School))
	seq = sequence.AssignTimes(seq, seeker.Departure, nil)

	data, stale := o.riskData.Snapshot()
	analysis := o.riskScorer.ScoreRoute(route, data, stale)

	now := o.clk.Now()
	g := models.CarpoolGroup{
		ID:             uuid.NewString(),
		SchoolID:       seeker.SchoolID,
		School:         seeker.School,
		Members:        assignRoles(seeker, members),
		DepartureTime:  seeker.Departure,
		PickupSequence: seq,
		RouteRisk:      &analysis,
		Status:         models.GroupActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if !analysis.Acceptable {
		g.Status = models.GroupForming
		o.logger.Warn("group route risk above acceptable maximum",
			"group_id", g.ID, "risk", analysis.OverallRisk, "degraded", analysis.Degraded)
	}
	if err := o.store.SaveGroup(&g); err != nil {
		return models.CarpoolGroup{}, err
	}
	observability.GroupsFormed.Inc()
	o.bus.Publish(events.Event{Type: events.GroupFormed, GroupID: g.ID, Payload: g})

	for _, m := range matched {
		inv := models.Invitation{
			ID:        uuid.NewString(),
			GroupID:   g.ID,
			FamilyID:  m.ID,
			CreatedAt: now,
			ExpiresAt: now.Add(o.InvitationTTL),
		}
		if err := o.notifier.Invite(inv); err != nil {
			o.logger.Warn("invitation delivery failed", "group_id", g.ID, "family_id", m.ID, "error", err)
		}
		o.bus.Publish(events.Event{Type: events.InvitationIssued, GroupID: g.ID, FamilyID: m.ID, Payload: inv})
	}
	return g, nil
}

// Join adds a family to an existing group, enforcing seat capacity, and
// optionally places a cost-share deposit hold.
func (o *Orchestrator) Join(ctx context.Context, groupID string, f models.FamilyProfile) (models.CarpoolGroup, error) {
	var joined models.CarpoolGroup
	err := o.store.UpdateGroup(groupID, func(g models.CarpoolGroup) (models.CarpoolGroup, error) {
		if g.Status == models.GroupArchived {
			return g, &models.StateConflictError{Reason: "group is archived"}
		}
		if g.SchoolID != f.SchoolID {
			return g, models.Validationf("family %s attends a different school", f.ID)
		}
		seats := 0
		for _, m := range g.Members {
			if m.FamilyID == f.ID {
				return g, &models.StateConflictError{Reason: "family already in group"}
			}
			seats += m.SeatsOffered
		}
		if f.DriverAvailable {
			seats += f.SeatsOffered
		}
		if seats < len(g.Members)+1 {
			return g, &models.StateConflictError{Reason: "group is full"}
		}

		role := models.RolePassenger
		if f.DriverAvailable && f.SeatsOffered > 0 {
			role = models.RoleBackupDriver
		}
		g.Members = append(g.Members, models.GroupMember{
			FamilyID:          f.ID,
			Role:              role,
			SeatsOffered:      memberSeats(f),
			ContributionScore: contribution(f, role),
		})
		g.UpdatedAt = o.clk.Now()
		joined = g
		return g, nil
	})
	if err != nil {
		return models.CarpoolGroup{}, err
	}
	if o.Deposits != nil {
		if _, err := o.Deposits.Hold(ctx, depositAmountCents, depositCurrency, f.ID); err != nil {
			o.logger.Warn("cost-share deposit hold failed", "group_id", groupID, "family_id", f.ID, "error", err)
		}
	}
	return joined, nil
}

// Archive deactivates a group. Groups are never deleted.
func (o *Orchestrator) Archive(ctx context.Context, groupID string) error {
	err := o.store.UpdateGroup(groupID, func(g models.CarpoolGroup) (models.CarpoolGroup, error) {
		if g.Status == models.GroupArchived {
			return g, &models.StateConflictError{Reason: "group already archived"}
		}
		g.Status = models.GroupArchived
		g.UpdatedAt = o.clk.Now()
		return g, nil
	})
	if err != nil {
		return err
	}
	o.bus.Publish(events.Event{Type: events.GroupArchivedNote, GroupID: groupID})
	return nil
}

func (o *Orchestrator) Get(id string) (models.CarpoolGroup, bool, error) {
	return o.store.GetGroup(id)
}

func (o *Orchestrator) route(ctx context.Context, waypoints []models.Coord) models.RouteGeometry {
	if o.routeCache != nil {
		if r, ok := o.routeCache.Get(waypoints); ok {
			return r
		}
	}
	if o.directions != nil {
		if r, err := o.directions.Route(ctx, waypoints); err == nil {
			if o.routeCache != nil {
				o.routeCache.Set(waypoints, r)
			}
			return r
		} else {
			o.logger.Warn("directions unavailable, using straight-line fallback", "error", err)
		}
	}
	return directions.Fallback(waypoints, fallbackCitySpeedMps)
}

func validateComposition(members []models.FamilyProfile) error {
	if len(members) < 2 {
		return models.Validationf("a group needs at least 2 families, got %d", len(members))
	}
	school := members[0].SchoolID
	for _, m := range members[1:] {
		if m.SchoolID != school {
			return models.Validationf("family %s attends a different school", m.ID)
		}
	}
	seats := 0
	hasDriver := false
	for _, m := range members {
		if m.DriverAvailable && m.SeatsOffered > 0 {
			hasDriver = true
			seats += m.SeatsOffered
		}
	}
	if !hasDriver {
		return models.Validationf("no member can drive")
	}
	if seats < len(members) {
		return models.Validationf("not enough seats: %d for %d members", seats, len(members))
	}
	return nil
}

// assignRoles picks the primary driver (the seeker when capable, otherwise
// the most trusted capable candidate), marks remaining capable drivers as
// backups, and makes the seeker the group admin.
func assignRoles(seeker models.FamilyProfile, members []models.FamilyProfile) []models.GroupMember {
	driverIdx := -1
	if seeker.DriverAvailable && seeker.SeatsOffered > 0 {
		driverIdx = 0
	} else {
		best := -1.0
		for i, m := range members {
			if !m.DriverAvailable || m.SeatsOffered <= 0 {
				continue
			}
			score := m.Tier.TrustMultiplier()*10 + m.Rating
			if score > best {
				best = score
				driverIdx = i
			}
		}
	}

	out := make([]models.GroupMember, len(members))
	for i, m := range members {
		role := models.RolePassenger
		switch {
		case i == driverIdx:
			role = models.RoleDriver
		case m.DriverAvailable && m.SeatsOffered > 0:
			role = models.RoleBackupDriver
		}
		out[i] = models.GroupMember{
			FamilyID:          m.ID,
			Role:              role,
			Admin:             i == 0, // the initiating member administers the group
			SeatsOffered:      memberSeats(m),
			ContributionScore: contribution(m, role),
		}
	}
	return out
}

func contribution(f models.FamilyProfile, role models.MemberRole) float64 {
	score := contributionBase
	if role == models.RoleDriver || role == models.RoleBackupDriver {
		score += contributionDriver
	}
	if f.Tier == models.TierTrusted {
		score += contributionHighTrust
	}
	if f.Rating >= highRatingThreshold {
		score += contributionHighRating
	}
	return math.Min(score, contributionCap)
}

func memberSeats(f models.FamilyProfile) int {
	if !f.DriverAvailable {
		return 0
	}
	return f.SeatsOffered
}
