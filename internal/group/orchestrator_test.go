package group

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/school-carpool/internal/clock"
	"github.com/example/school-carpool/internal/directions"
	"github.com/example/school-carpool/internal/events"
	"github.com/example/school-carpool/internal/logging"
	"github.com/example/school-carpool/internal/models"
	"github.com/example/school-carpool/internal/risk"
	"github.com/example/school-carpool/internal/storage"
)

var (
	schoolCoord = models.Coord{Lat: -35.3200, Lon: 149.1100}
	formStart   = time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
)

type fakeNotifier struct {
	invites []models.Invitation
	err     error
}

func (f *fakeNotifier) Invite(inv models.Invitation) error {
	f.invites = append(f.invites, inv)
	return f.err
}

type fakeDirections struct {
	route models.RouteGeometry
	err   error
	calls int
}

func (f *fakeDirections) Route(_ context.Context, _ []models.Coord) (models.RouteGeometry, error) {
	f.calls++
	if f.err != nil {
		return models.RouteGeometry{}, f.err
	}
	return f.route, nil
}

// slow route hugging the school zone: risk well under the acceptable max
func safeRoute() models.RouteGeometry {
	return models.RouteGeometry{
		Points: []models.Coord{
			{Lat: -35.3200, Lon: 149.1095},
			{Lat: -35.3200, Lon: 149.1105},
		},
		DistanceM: 2000,
		Duration:  5 * time.Minute,
	}
}

// fast route nowhere near a school zone: risk above the acceptable max
func riskyRoute() models.RouteGeometry {
	return models.RouteGeometry{
		Points: []models.Coord{
			{Lat: -35.4000, Lon: 149.2000},
			{Lat: -35.4000, Lon: 149.2100},
		},
		DistanceM: 10000,
		Duration:  8 * time.Minute,
	}
}

func family(id string, driver bool, seats int) models.FamilyProfile {
	return models.FamilyProfile{
		ID:              id,
		Home:            models.Coord{Lat: -35.3150, Lon: 149.1000},
		School:          schoolCoord,
		SchoolID:        "school-1",
		Departure:       formStart,
		Flexibility:     15 * time.Minute,
		SeatsOffered:    seats,
		DriverAvailable: driver,
		Tier:            models.TierVerified,
		Rating:          4.0,
		RatingCount:     12,
	}
}

type orchFixture struct {
	orch     *Orchestrator
	store    *storage.MemoryStore
	notifier *fakeNotifier
	dirs     *fakeDirections
	bus      *events.Bus
}

func newOrchFixture(t *testing.T, route models.RouteGeometry) *orchFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	notifier := &fakeNotifier{}
	dirs := &fakeDirections{route: route}
	bus := events.NewBus()

	riskData := risk.NewStore(2 * time.Hour)
	riskData.Put(risk.Dataset{
		Schools:     []models.Coord{schoolCoord},
		RefreshedAt: time.Now(),
	})

	orch := NewOrchestrator(
		store,
		dirs,
		directions.NewCache(time.Minute),
		risk.NewScorer(),
		riskData,
		notifier,
		bus,
		clock.NewFake(formStart),
		logging.NewLogger("error"),
	)
	return &orchFixture{orch: orch, store: store, notifier: notifier, dirs: dirs, bus: bus}
}

func TestFormGroup_SafeRouteGoesActive(t *testing.T) {
	f := newOrchFixture(t, safeRoute())
	seeker := family("fam-seeker", true, 5)
	matched := []models.FamilyProfile{
		family("fam-backup", true, 4),
		family("fam-rider", false, 0),
	}

	g, err := f.orch.FormGroup(context.Background(), seeker, matched)
	require.NoError(t, err)

	assert.Equal(t, models.GroupActive, g.Status)
	require.NotNil(t, g.RouteRisk)
	assert.True(t, g.RouteRisk.Acceptable)
	assert.False(t, g.RouteRisk.Degraded)

	require.Len(t, g.Members, 3)
	assert.Equal(t, models.RoleDriver, g.Members[0].Role)
	assert.True(t, g.Members[0].Admin)
	assert.Equal(t, models.RoleBackupDriver, g.Members[1].Role)
	assert.Equal(t, models.RolePassenger, g.Members[2].Role)

	require.Len(t, g.PickupSequence, 3)
	orders := map[int]bool{}
	for _, p := range g.PickupSequence {
		orders[p.SequenceOrder] = true
		assert.False(t, p.EstimatedTime.IsZero())
	}
	assert.Len(t, orders, 3)

	// invitations go to the matched families only, never the seeker
	require.Len(t, f.notifier.invites, 2)
	for _, inv := range f.notifier.invites {
		assert.Equal(t, g.ID, inv.GroupID)
		assert.NotEqual(t, seeker.ID, inv.FamilyID)
		assert.True(t, inv.ExpiresAt.Equal(inv.CreatedAt.Add(DefaultInvitationTTL)))
	}

	stored, ok, err := f.store.GetGroup(g.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, g.ID, stored.ID)
}

func TestFormGroup_RiskyRouteStaysForming(t *testing.T) {
	f := newOrchFixture(t, riskyRoute())
	g, err := f.orch.FormGroup(context.Background(), family("fam-seeker", true, 5), []models.FamilyProfile{family("fam-rider", false, 0)})
	require.NoError(t, err)

	assert.Equal(t, models.GroupForming, g.Status)
	require.NotNil(t, g.RouteRisk)
	assert.False(t, g.RouteRisk.Acceptable)
}

func TestFormGroup_CompositionValidation(t *testing.T) {
	f := newOrchFixture(t, safeRoute())
	seeker := family("fam-seeker", true, 5)

	cases := []struct {
		name    string
		seeker  models.FamilyProfile
		matched []models.FamilyProfile
	}{
		{"too few members", seeker, nil},
		{"no driver", family("fam-seeker", false, 0), []models.FamilyProfile{family("fam-rider", false, 0)}},
		{
			"mixed schools", seeker,
			[]models.FamilyProfile{func() models.FamilyProfile {
				m := family("fam-other", false, 0)
				m.SchoolID = "school-2"
				return m
			}()},
		},
		{
			"not enough seats", family("fam-seeker", true, 1),
			[]models.FamilyProfile{family("fam-a", false, 0), family("fam-b", false, 0)},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.orch.FormGroup(context.Background(), tc.seeker, tc.matched)
			var ve *models.ValidationError
			require.ErrorAs(t, err, &ve)
		})
	}
}

func TestFormGroup_NonDrivingSeekerPicksTrustedDriver(t *testing.T) {
	f := newOrchFixture(t, safeRoute())
	seeker := family("fam-seeker", false, 0)

	trusted := family("fam-trusted", true, 4)
	trusted.Tier = models.TierTrusted
	trusted.Rating = 4.8
	basic := family("fam-basic", true, 4)
	basic.Tier = models.TierBasic

	g, err := f.orch.FormGroup(context.Background(), seeker, []models.FamilyProfile{basic, trusted})
	require.NoError(t, err)

	roles := map[string]models.MemberRole{}
	for _, m := range g.Members {
		roles[m.FamilyID] = m.Role
	}
	assert.Equal(t, models.RoleDriver, roles["fam-trusted"])
	assert.Equal(t, models.RoleBackupDriver, roles["fam-basic"])
	assert.Equal(t, models.RolePassenger, roles["fam-seeker"])

	// the seeker still administers the group it initiated
	assert.True(t, g.Members[0].Admin)
	assert.Equal(t, "fam-seeker", g.Members[0].FamilyID)
}

func TestFormGroup_DirectionsFailureUsesFallback(t *testing.T) {
	f := newOrchFixture(t, safeRoute())
	f.dirs.err = errors.New("osrm down")

	g, err := f.orch.FormGroup(context.Background(), family("fam-seeker", true, 5), []models.FamilyProfile{family("fam-rider", false, 0)})
	require.NoError(t, err, "a directions outage must not block formation")
	require.NotNil(t, g.RouteRisk)
}

func TestFormGroup_NotifierFailureIsBestEffort(t *testing.T) {
	f := newOrchFixture(t, safeRoute())
	f.notifier.err = errors.New("push provider down")

	g, err := f.orch.FormGroup(context.Background(), family("fam-seeker", true, 5), []models.FamilyProfile{family("fam-rider", false, 0)})
	require.NoError(t, err)
	assert.Equal(t, models.GroupActive, g.Status)
}

func TestContributionScores(t *testing.T) {
	f := newOrchFixture(t, safeRoute())
	seeker := family("fam-seeker", true, 5)
	seeker.Tier = models.TierTrusted
	seeker.Rating = 4.9

	g, err := f.orch.FormGroup(context.Background(), seeker, []models.FamilyProfile{family("fam-rider", false, 0)})
	require.NoError(t, err)

	// base 5 + driver 2 + trusted 1 + high rating 0.5
	assert.InDelta(t, 8.5, g.Members[0].ContributionScore, 1e-9)
	// base 5 only
	assert.InDelta(t, 5.0, g.Members[1].ContributionScore, 1e-9)
	for _, m := range g.Members {
		assert.LessOrEqual(t, m.ContributionScore, 10.0)
	}
}

func TestJoin_AddsCapableMemberAsBackupDriver(t *testing.T) {
	f := newOrchFixture(t, safeRoute())
	g, err := f.orch.FormGroup(context.Background(), family("fam-seeker", true, 5), []models.FamilyProfile{family("fam-rider", false, 0)})
	require.NoError(t, err)

	joined, err := f.orch.Join(context.Background(), g.ID, family("fam-new", true, 3))
	require.NoError(t, err)

	require.Len(t, joined.Members, 3)
	newcomer := joined.Members[2]
	assert.Equal(t, "fam-new", newcomer.FamilyID)
	assert.Equal(t, models.RoleBackupDriver, newcomer.Role)
	assert.Equal(t, 3, newcomer.SeatsOffered)
}

func TestJoin_Rejections(t *testing.T) {
	f := newOrchFixture(t, safeRoute())
	// driver offers exactly 2 seats for 2 members: the group is full
	g, err := f.orch.FormGroup(context.Background(), family("fam-seeker", true, 2), []models.FamilyProfile{family("fam-rider", false, 0)})
	require.NoError(t, err)

	var ce *models.StateConflictError
	_, err = f.orch.Join(context.Background(), g.ID, family("fam-extra", false, 0))
	require.ErrorAs(t, err, &ce, "joining a full group must conflict")

	_, err = f.orch.Join(context.Background(), g.ID, family("fam-rider", false, 0))
	require.ErrorAs(t, err, &ce, "rejoining must conflict")

	wrongSchool := family("fam-wrong", true, 4)
	wrongSchool.SchoolID = "school-2"
	var ve *models.ValidationError
	_, err = f.orch.Join(context.Background(), g.ID, wrongSchool)
	require.ErrorAs(t, err, &ve)

	require.NoError(t, f.orch.Archive(context.Background(), g.ID))
	_, err = f.orch.Join(context.Background(), g.ID, family("fam-late", true, 4))
	require.ErrorAs(t, err, &ce, "joining an archived group must conflict")
}

func TestArchive_IsTerminalAndIdempotencyGuarded(t *testing.T) {
	f := newOrchFixture(t, safeRoute())
	g, err := f.orch.FormGroup(context.Background(), family("fam-seeker", true, 5), []models.FamilyProfile{family("fam-rider", false, 0)})
	require.NoError(t, err)

	require.NoError(t, f.orch.Archive(context.Background(), g.ID))

	stored, ok, err := f.store.GetGroup(g.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.GroupArchived, stored.Status)

	var ce *models.StateConflictError
	require.ErrorAs(t, f.orch.Archive(context.Background(), g.ID), &ce)
}

func TestFormGroup_PublishesGroupAndInvitationEvents(t *testing.T) {
	f := newOrchFixture(t, safeRoute())
	ch, cancel := f.bus.Subscribe(16)
	defer cancel()

	_, err := f.orch.FormGroup(context.Background(), family("fam-seeker", true, 5), []models.FamilyProfile{family("fam-rider", false, 0)})
	require.NoError(t, err)

	var seen []events.Type
	deadline := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case e := <-ch:
			seen = append(seen, e.Type)
		case <-deadline:
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	assert.Contains(t, seen, events.GroupFormed)
	assert.Contains(t, seen, events.InvitationIssued)
}
