// Package schedule manages departure-time change proposals: conflict
// detection, alternative times, member voting, and expiry.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/school-carpool/internal/clock"
	"github.com/example/school-carpool/internal/events"
	"github.com/example/school-carpool/internal/models"
	"github.com/example/school-carpool/internal/observability"
	"github.com/example/school-carpool/internal/storage"
)

const (
	DefaultProposalLifetime = 24 * time.Hour
	DefaultSweepInterval    = 5 * time.Minute

	// conflict detection windows
	calendarQueryWindow = 2 * time.Hour
	conflictHalfWindow  = 30 * time.Minute
)

// alternativeOffsets is probed in order; determinism is per this fixed list.
var alternativeOffsets = []time.Duration{
	-15 * time.Minute, 15 * time.Minute,
	-30 * time.Minute, 30 * time.Minute,
	-45 * time.Minute, 45 * time.Minute,
	-60 * time.Minute, 60 * time.Minute,
}

// allowedTransitions represents the proposal state flow as code. Pending is
// the only non-terminal state.
var allowedTransitions = map[models.ProposalStatus][]models.ProposalStatus{
	models.ProposalPending: {
		models.ProposalApproved,
		models.ProposalRejected,
		models.ProposalExpired,
		models.ProposalCancelled,
	},
}

func canTransition(from, to models.ProposalStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Resolver struct {
	store    storage.ProposalStore
	groups   storage.GroupStore
	calendar CalendarProvider
	bus      *events.Bus
	clk      clock.Clock
	logger   *slog.Logger

	Lifetime      time.Duration
	SweepInterval time.Duration
}

func NewResolver(store storage.ProposalStore, groups storage.GroupStore, cal CalendarProvider, bus *events.Bus, clk clock.Clock, logger *slog.Logger) *Resolver {
	if clk == nil {
		clk = clock.System{}
	}
	return &Resolver{
		store:         store,
		groups:        groups,
		calendar:      cal,
		bus:           bus,
		clk:           clk,
		logger:        logger,
		Lifetime:      DefaultProposalLifetime,
		SweepInterval: DefaultSweepInterval,
	}
}

type ProposeCommand struct {
	GroupID      string
	ProposerID   string
	ProposedTime time.Time
	Reason       string
	Priority     models.ProposalPriority
}

// Propose creates a pending proposal for the group, running conflict
// detection and alternative generation up front. A group can hold only one
// pending proposal at a time.
func (r *Resolver) Propose(ctx context.Context, cmd ProposeCommand) (models.ScheduleChangeProposal, error) {
	group, ok, err := r.groups.GetGroup(cmd.GroupID)
	if err != nil {
		return models.ScheduleChangeProposal{}, err
	}
	if !ok {
		return models.ScheduleChangeProposal{}, models.Validationf("unknown group %s", cmd.GroupID)
	}
	if group.Status != models.GroupActive {
		return models.ScheduleChangeProposal{}, &models.StateConflictError{Reason: "group is not active"}
	}
	if !isMember(group, cmd.ProposerID) {
		return models.ScheduleChangeProposal{}, models.Validationf("proposer %s is not a member of group %s", cmd.ProposerID, cmd.GroupID)
	}

	conflicts, degraded := r.DetectConflicts(ctx, cmd.ProposedTime, cmd.GroupID)
	var alternatives []time.Time
	if len(conflicts) > 0 {
		alternatives = r.Alternatives(ctx, cmd.GroupID, cmd.ProposedTime)
	}

	now := r.clk.Now()
	priority := cmd.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	p := models.ScheduleChangeProposal{
		ID:                uuid.NewString(),
		GroupID:           cmd.GroupID,
		ProposerID:        cmd.ProposerID,
		CurrentTime:       group.DepartureTime,
		ProposedTime:      cmd.ProposedTime,
		Reason:            cmd.Reason,
		Priority:          priority,
		Votes:             []models.ScheduleVote{},
		VotesRequired:     len(group.Members),
		DetectedConflicts: conflicts,
		Alternatives:      alternatives,
		Status:            models.ProposalPending,
		ConflictsDegraded: degraded,
		CreatedAt:         now,
		ExpiresAt:         now.Add(r.Lifetime),
	}
	if err := r.store.CreateProposal(&p); err != nil {
		return models.ScheduleChangeProposal{}, err
	}
	observability.ProposalsCreated.Inc()
	r.bus.Publish(events.Event{Type: events.ProposalCreated, GroupID: p.GroupID, ProposalID: p.ID, FamilyID: p.ProposerID, Payload: p})
	return p, nil
}

// DetectConflicts queries the calendar for events within +-2h of the
// proposed time and keeps those overlapping the +-30 min departure window.
// When the provider is unavailable it returns no conflicts and degraded set:
// the proposal carries that marker rather than fabricated conflicts.
func (r *Resolver) DetectConflicts(ctx context.Context, proposedTime time.Time, groupID string) ([]models.ScheduleConflict, bool) {
	if r.calendar == nil {
		return nil, true
	}
	evts, err := r.calendar.Events(ctx, groupID, proposedTime.Add(-calendarQueryWindow), proposedTime.Add(calendarQueryWindow))
	if err != nil {
		r.logger.Warn("conflict detection degraded", "group_id", groupID, "error", err)
		return nil, true
	}
	winStart := proposedTime.Add(-conflictHalfWindow)
	winEnd := proposedTime.Add(conflictHalfWindow)

	var out []models.ScheduleConflict
	for _, e := range evts {
		if !e.Start.Before(winEnd) || !e.End.After(winStart) {
			continue
		}
		out = append(out, models.ScheduleConflict{
			Title:    e.Title,
			Start:    e.Start,
			End:      e.End,
			AllDay:   e.AllDay,
			Severity: conflictSeverity(e),
		})
	}
	return out, false
}

func conflictSeverity(e models.CalendarEvent) models.Severity {
	if e.AllDay {
		return models.SeverityLow
	}
	d := e.End.Sub(e.Start)
	switch {
	case d > 4*time.Hour:
		return models.SeverityHigh
	case d >= 2*time.Hour:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// Alternatives probes candidate times around the original and keeps the
// offsets whose own conflict check comes back empty, in probe order.
func (r *Resolver) Alternatives(ctx context.Context, groupID string, original time.Time) []time.Time {
	var out []time.Time
	for _, off := range alternativeOffsets {
		candidate := original.Add(off)
		conflicts, degraded := r.DetectConflicts(ctx, candidate, groupID)
		if degraded {
			continue
		}
		if len(conflicts) == 0 {
			out = append(out, candidate)
		}
	}
	return out
}

type VoteCommand struct {
	ProposalID string
	VoterID    string
	Choice     models.VoteChoice
	Comment    string
}

// CastVote records or overwrites the voter's vote and runs the resolution
// check. Voting on a resolved proposal is a state conflict.
func (r *Resolver) CastVote(ctx context.Context, cmd VoteCommand) (models.ScheduleChangeProposal, error) {
	switch cmd.Choice {
	case models.VoteApprove, models.VoteReject, models.VoteAbstain:
	default:
		return models.ScheduleChangeProposal{}, models.Validationf("invalid vote choice %q", cmd.Choice)
	}

	var result models.ScheduleChangeProposal
	err := r.store.UpdateProposal(cmd.ProposalID, func(p models.ScheduleChangeProposal) (models.ScheduleChangeProposal, error) {
		if p.Status.Terminal() {
			return p, &models.StateConflictError{Reason: "proposal already " + string(p.Status)}
		}
		group, ok, err := r.groups.GetGroup(p.GroupID)
		if err != nil {
			return p, err
		}
		if ok && !isMember(group, cmd.VoterID) {
			return p, models.Validationf("voter %s is not a member of group %s", cmd.VoterID, p.GroupID)
		}

		vote := models.ScheduleVote{
			VoterID: cmd.VoterID,
			Choice:  cmd.Choice,
			Comment: cmd.Comment,
			CastAt:  r.clk.Now(),
		}
		replaced := false
		for i := range p.Votes {
			if p.Votes[i].VoterID == cmd.VoterID {
				p.Votes[i] = vote
				replaced = true
				break
			}
		}
		if !replaced {
			p.Votes = append(p.Votes, vote)
		}

		if next, resolved := r.tally(p); resolved {
			p.Status = next
		}
		result = p
		return p, nil
	})
	if err != nil {
		return models.ScheduleChangeProposal{}, err
	}

	observability.VotesCast.Inc()
	r.bus.Publish(events.Event{Type: events.VoteCast, GroupID: result.GroupID, ProposalID: result.ID, FamilyID: cmd.VoterID, Payload: result})
	if result.Status.Terminal() {
		r.finishResolution(result)
	}
	return result, nil
}

// tally decides whether the vote set resolves the proposal. Resolution
// requires at least VotesRequired cast votes; exactly 50% approval rejects.
func (r *Resolver) tally(p models.ScheduleChangeProposal) (models.ProposalStatus, bool) {
	if len(p.Votes) < p.VotesRequired || p.VotesRequired <= 0 {
		return p.Status, false
	}
	if p.ApprovalPercentage() > 50.0 {
		return models.ProposalApproved, true
	}
	return models.ProposalRejected, true
}

// Cancel moves a pending proposal to cancelled. Only the proposer or a
// group admin may cancel.
func (r *Resolver) Cancel(ctx context.Context, proposalID, requesterID string) (models.ScheduleChangeProposal, error) {
	var result models.ScheduleChangeProposal
	err := r.store.UpdateProposal(proposalID, func(p models.ScheduleChangeProposal) (models.ScheduleChangeProposal, error) {
		if !canTransition(p.Status, models.ProposalCancelled) {
			return p, &models.StateConflictError{Reason: "proposal already " + string(p.Status)}
		}
		if requesterID != p.ProposerID {
			group, ok, err := r.groups.GetGroup(p.GroupID)
			if err != nil {
				return p, err
			}
			if !ok || !isAdmin(group, requesterID) {
				return p, models.Validationf("only the proposer or a group admin may cancel")
			}
		}
		p.Status = models.ProposalCancelled
		result = p
		return p, nil
	})
	if err != nil {
		return models.ScheduleChangeProposal{}, err
	}
	r.finishResolution(result)
	return result, nil
}

// SweepExpired transitions every pending proposal past its deadline to
// expired. One sweep covers the whole pending set; there is no per-proposal
// timer.
func (r *Resolver) SweepExpired(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { observability.SweepDuration.Observe(time.Since(start).Seconds()) }()

	pending, err := r.store.ListPending()
	if err != nil {
		return 0, err
	}
	now := r.clk.Now()
	expired := 0
	for _, p := range pending {
		if !now.After(p.ExpiresAt) {
			continue
		}
		var result models.ScheduleChangeProposal
		err := r.store.UpdateProposal(p.ID, func(cur models.ScheduleChangeProposal) (models.ScheduleChangeProposal, error) {
			// a vote may have resolved it between the list and the update
			if !canTransition(cur.Status, models.ProposalExpired) {
				return cur, &models.StateConflictError{Reason: "proposal already " + string(cur.Status)}
			}
			cur.Status = models.ProposalExpired
			result = cur
			return cur, nil
		})
		if err != nil {
			continue
		}
		expired++
		r.finishResolution(result)
	}
	return expired, nil
}

// RunSweeper drives SweepExpired on a fixed interval until ctx is done.
func (r *Resolver) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.SweepExpired(ctx); err != nil {
				r.logger.Error("proposal sweep failed", "error", err)
			} else if n > 0 {
				r.logger.Info("proposal sweep", "expired", n)
			}
		}
	}
}

// finishResolution publishes the terminal event and, on approval, applies
// the new departure time to the group.
func (r *Resolver) finishResolution(p models.ScheduleChangeProposal) {
	observability.ProposalsResolved.WithLabelValues(string(p.Status)).Inc()
	r.bus.Publish(events.Event{Type: events.ProposalResolved, GroupID: p.GroupID, ProposalID: p.ID, Payload: p})
	if p.Status != models.ProposalApproved {
		return
	}
	err := r.groups.UpdateGroup(p.GroupID, func(g models.CarpoolGroup) (models.CarpoolGroup, error) {
		g.DepartureTime = p.ProposedTime
		return g, nil
	})
	if err != nil {
		r.logger.Error("apply approved departure time", "group_id", p.GroupID, "error", err)
	}
}

func (r *Resolver) Get(id string) (models.ScheduleChangeProposal, bool, error) {
	return r.store.GetProposal(id)
}

func isMember(g models.CarpoolGroup, familyID string) bool {
	for _, m := range g.Members {
		if m.FamilyID == familyID {
			return true
		}
	}
	return false
}

func isAdmin(g models.CarpoolGroup, familyID string) bool {
	for _, m := range g.Members {
		if m.FamilyID == familyID && m.Admin {
			return true
		}
	}
	return false
}
