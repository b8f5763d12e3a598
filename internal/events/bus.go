// Package events is the typed publish-subscribe channel that replaces
// broadcast-style notification for downstream collaborators.
package events

import (
	"sync"
	"time"
)

type Type string

const (
	GroupFormed       Type = "group.formed"
	InvitationIssued  Type = "invitation.issued"
	ProposalCreated   Type = "proposal.created"
	VoteCast          Type = "proposal.vote_cast"
	ProposalResolved  Type = "proposal.resolved"
	GroupArchivedNote Type = "group.archived"
)

type Event struct {
	Type       Type      `json:"type"`
	GroupID    string    `json:"group_id,omitempty"`
	ProposalID string    `json:"proposal_id,omitempty"`
	FamilyID   string    `json:"family_id,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	At         time.Time `json:"at"`
}

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// that falls behind loses events rather than stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a receive channel and a cancel func. The channel is
// buffered; slow consumers drop events.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
