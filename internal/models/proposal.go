package models

import "time"

type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalApproved  ProposalStatus = "approved"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalExpired   ProposalStatus = "expired"
	ProposalCancelled ProposalStatus = "cancelled"
)

// Terminal reports whether a proposal can no longer change state.
func (s ProposalStatus) Terminal() bool {
	switch s {
	case ProposalApproved, ProposalRejected, ProposalExpired, ProposalCancelled:
		return true
	}
	return false
}

type ProposalPriority string

const (
	PriorityLow    ProposalPriority = "low"
	PriorityNormal ProposalPriority = "normal"
	PriorityHigh   ProposalPriority = "high"
	PriorityUrgent ProposalPriority = "urgent"
)

type VoteChoice string

const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
	VoteAbstain VoteChoice = "abstain"
)

// ScheduleVote is one member's vote. A later vote from the same voter
// replaces the earlier one.
type ScheduleVote struct {
	VoterID string     `json:"voter_id"`
	Choice  VoteChoice `json:"choice"`
	Comment string     `json:"comment,omitempty"`
	CastAt  time.Time  `json:"cast_at"`
}

type ScheduleConflict struct {
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"all_day"`
	Severity Severity  `json:"severity"`
}

// ScheduleChangeProposal asks a group to move its departure time. It is
// resolved by member voting, explicit cancellation, or expiry.
type ScheduleChangeProposal struct {
	ID                string             `json:"id"`
	GroupID           string             `json:"group_id"`
	ProposerID        string             `json:"proposer_id"`
	CurrentTime       time.Time          `json:"current_time"`
	ProposedTime      time.Time          `json:"proposed_time"`
	Reason            string             `json:"reason"`
	Priority          ProposalPriority   `json:"priority"`
	Votes             []ScheduleVote     `json:"votes"`
	VotesRequired     int                `json:"votes_required"`
	DetectedConflicts []ScheduleConflict `json:"detected_conflicts"`
	Alternatives      []time.Time        `json:"alternatives"`
	Status            ProposalStatus     `json:"status"`
	ConflictsDegraded bool               `json:"conflicts_degraded,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	ExpiresAt         time.Time          `json:"expires_at"`
}

// ApproveCount returns how many current votes approve.
func (p ScheduleChangeProposal) ApproveCount() int {
	n := 0
	for _, v := range p.Votes {
		if v.Choice == VoteApprove {
			n++
		}
	}
	return n
}

// ApprovalPercentage is approve votes over all cast votes, in percent.
// Zero votes cast yields 0.
func (p ScheduleChangeProposal) ApprovalPercentage() float64 {
	if len(p.Votes) == 0 {
		return 0
	}
	return float64(p.ApproveCount()) / float64(len(p.Votes)) * 100.0
}
