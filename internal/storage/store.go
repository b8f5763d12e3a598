package storage

import (
	"sync"
	"time"

	"github.com/example/school-carpool/internal/models"
)

// GroupStore defines persistence operations for carpool groups. Groups are
// archived, never deleted.
type GroupStore interface {
	SaveGroup(g *models.CarpoolGroup) error
	GetGroup(id string) (models.CarpoolGroup, bool, error)
	// UpdateGroup applies fn to the stored group under a single-writer
	// guarantee for that entity and persists the returned value.
	UpdateGroup(id string, fn func(models.CarpoolGroup) (models.CarpoolGroup, error)) error
}

// ProposalStore defines persistence for schedule-change proposals. At most
// one pending proposal may exist per group.
type ProposalStore interface {
	CreateProposal(p *models.ScheduleChangeProposal) error
	GetProposal(id string) (models.ScheduleChangeProposal, bool, error)
	UpdateProposal(id string, fn func(models.ScheduleChangeProposal) (models.ScheduleChangeProposal, error)) error
	ListPending() ([]models.ScheduleChangeProposal, error)
}

type MemoryStore struct {
	mu        sync.RWMutex
	groups    map[string]models.CarpoolGroup
	proposals map[string]models.ScheduleChangeProposal
	// entity locks serialize writers per group/proposal so concurrent votes
	// and membership changes cannot lose updates
	entityMu sync.Map // id -> *sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		groups:    make(map[string]models.CarpoolGroup),
		proposals: make(map[string]models.ScheduleChangeProposal),
	}
}

func (m *MemoryStore) lockEntity(id string) *sync.Mutex {
	v, _ := m.entityMu.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (m *MemoryStore) SaveGroup(g *models.CarpoolGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.ID] = cloneGroup(*g)
	return nil
}

func (m *MemoryStore) GetGroup(id string) (models.CarpoolGroup, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return models.CarpoolGroup{}, false, nil
	}
	return cloneGroup(g), true, nil
}

func (m *MemoryStore) UpdateGroup(id string, fn func(models.CarpoolGroup) (models.CarpoolGroup, error)) error {
	lock := m.lockEntity("group:" + id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	g, ok := m.groups[id]
	m.mu.RUnlock()
	if !ok {
		return &models.ValidationError{Reason: "group not found: " + id}
	}
	updated, err := fn(cloneGroup(g))
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.groups[id] = cloneGroup(updated)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) CreateProposal(p *models.ScheduleChangeProposal) error {
	lock := m.lockEntity("groupproposals:" + p.GroupID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.proposals {
		if existing.GroupID == p.GroupID && existing.Status == models.ProposalPending {
			return &models.StateConflictError{Reason: "group already has a pending proposal"}
		}
	}
	m.proposals[p.ID] = cloneProposal(*p)
	return nil
}

func (m *MemoryStore) GetProposal(id string) (models.ScheduleChangeProposal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[id]
	if !ok {
		return models.ScheduleChangeProposal{}, false, nil
	}
	return cloneProposal(p), true, nil
}

func (m *MemoryStore) UpdateProposal(id string, fn func(models.ScheduleChangeProposal) (models.ScheduleChangeProposal, error)) error {
	lock := m.lockEntity("proposal:" + id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	p, ok := m.proposals[id]
	m.mu.RUnlock()
	if !ok {
		return &models.ValidationError{Reason: "proposal not found: " + id}
	}
	updated, err := fn(cloneProposal(p))
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.proposals[id] = cloneProposal(updated)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListPending() ([]models.ScheduleChangeProposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ScheduleChangeProposal, 0)
	for _, p := range m.proposals {
		if p.Status == models.ProposalPending {
			out = append(out, cloneProposal(p))
		}
	}
	return out, nil
}

// clone helpers keep reads snapshot-based: callers never share backing
// slices with the store.

func cloneGroup(g models.CarpoolGroup) models.CarpoolGroup {
	out := g
	out.Members = append([]models.GroupMember(nil), g.Members...)
	out.PickupSequence = append([]models.PickupPoint(nil), g.PickupSequence...)
	if g.RouteRisk != nil {
		rr := *g.RouteRisk
		rr.Recommendations = append([]models.Recommendation(nil), g.RouteRisk.Recommendations...)
		out.RouteRisk = &rr
	}
	return out
}

func cloneProposal(p models.ScheduleChangeProposal) models.ScheduleChangeProposal {
	out := p
	out.Votes = append([]models.ScheduleVote(nil), p.Votes...)
	out.DetectedConflicts = append([]models.ScheduleConflict(nil), p.DetectedConflicts...)
	out.Alternatives = append([]time.Time(nil), p.Alternatives...)
	return out
}
