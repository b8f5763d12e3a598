package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/school-carpool/internal/models"
)

func testGroup(id string) *models.CarpoolGroup {
	return &models.CarpoolGroup{
		ID:       id,
		SchoolID: "school-1",
		Members: []models.GroupMember{
			{FamilyID: "fam-1", Role: models.RoleDriver, Admin: true, SeatsOffered: 4},
			{FamilyID: "fam-2", Role: models.RolePassenger},
		},
		Status:    models.GroupActive,
		CreatedAt: time.Now(),
	}
}

func testProposal(id, groupID string) *models.ScheduleChangeProposal {
	return &models.ScheduleChangeProposal{
		ID:            id,
		GroupID:       groupID,
		ProposerID:    "fam-1",
		Status:        models.ProposalPending,
		Votes:         []models.ScheduleVote{},
		VotesRequired: 2,
		ExpiresAt:     time.Now().Add(24 * time.Hour),
	}
}

func TestMemoryStore_GroupRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	if err := s.SaveGroup(testGroup("g1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	g, ok, err := s.GetGroup("g1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(g.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(g.Members))
	}

	if _, ok, _ := s.GetGroup("missing"); ok {
		t.Fatalf("expected miss for unknown id")
	}
}

func TestMemoryStore_ReadsAreSnapshots(t *testing.T) {
	s := NewMemoryStore()
	if err := s.SaveGroup(testGroup("g1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	g, _, _ := s.GetGroup("g1")
	g.Members[0].FamilyID = "mutated"

	again, _, _ := s.GetGroup("g1")
	if again.Members[0].FamilyID != "fam-1" {
		t.Fatalf("caller mutation leaked into the store")
	}
}

func TestMemoryStore_UpdateGroupSerializesWriters(t *testing.T) {
	s := NewMemoryStore()
	if err := s.SaveGroup(testGroup("g1")); err != nil {
		t.Fatalf("save: %v", err)
	}

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.UpdateGroup("g1", func(g models.CarpoolGroup) (models.CarpoolGroup, error) {
				g.Members = append(g.Members, models.GroupMember{FamilyID: "x"})
				return g, nil
			})
		}()
	}
	wg.Wait()

	g, _, _ := s.GetGroup("g1")
	if len(g.Members) != 2+writers {
		t.Fatalf("lost updates: expected %d members, got %d", 2+writers, len(g.Members))
	}
}

func TestMemoryStore_UpdateErrorDoesNotPersist(t *testing.T) {
	s := NewMemoryStore()
	if err := s.SaveGroup(testGroup("g1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	wantErr := errors.New("nope")
	err := s.UpdateGroup("g1", func(g models.CarpoolGroup) (models.CarpoolGroup, error) {
		g.Status = models.GroupArchived
		return g, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fn error back, got %v", err)
	}
	g, _, _ := s.GetGroup("g1")
	if g.Status != models.GroupActive {
		t.Fatalf("failed update must not persist, status=%s", g.Status)
	}
}

func TestMemoryStore_OnePendingProposalPerGroup(t *testing.T) {
	s := NewMemoryStore()
	if err := s.CreateProposal(testProposal("p1", "g1")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := s.CreateProposal(testProposal("p2", "g1"))
	var ce *models.StateConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected state conflict for second pending proposal, got %v", err)
	}

	// a different group is unaffected
	if err := s.CreateProposal(testProposal("p3", "g2")); err != nil {
		t.Fatalf("other group create: %v", err)
	}

	// resolving the first frees the group
	if err := s.UpdateProposal("p1", func(p models.ScheduleChangeProposal) (models.ScheduleChangeProposal, error) {
		p.Status = models.ProposalRejected
		return p, nil
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := s.CreateProposal(testProposal("p4", "g1")); err != nil {
		t.Fatalf("create after resolution: %v", err)
	}
}

func TestMemoryStore_ListPending(t *testing.T) {
	s := NewMemoryStore()
	_ = s.CreateProposal(testProposal("p1", "g1"))
	_ = s.CreateProposal(testProposal("p2", "g2"))
	_ = s.UpdateProposal("p2", func(p models.ScheduleChangeProposal) (models.ScheduleChangeProposal, error) {
		p.Status = models.ProposalExpired
		return p, nil
	})

	pending, err := s.ListPending()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "p1" {
		t.Fatalf("expected only p1 pending, got %+v", pending)
	}
}
