package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/school-carpool/internal/ingest"
	"github.com/example/school-carpool/internal/models"
	"github.com/example/school-carpool/internal/observability"
	"github.com/example/school-carpool/internal/schedule"
)

const nearbyLimit = 100

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// --- families ---

type upsertFamilyRequest struct {
	Profile   models.FamilyProfile `json:"profile"`
	AccuracyM float64              `json:"accuracy_m"`
}

func (s *Server) handleUpsertFamily(w http.ResponseWriter, r *http.Request) {
	var req upsertFamilyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Profile.ID == "" {
		s.writeError(w, r, models.Validationf("family id is required"))
		return
	}
	if req.AccuracyM > ingest.MaxAccuracyM {
		// coarse fixes are dropped at the boundary rather than poisoning
		// the directory with a bad home coordinate
		s.logger.Warn("family update discarded",
			"family_id", req.Profile.ID, "accuracy_m", req.AccuracyM)
		writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})
		return
	}
	if req.Profile.Updated.IsZero() {
		req.Profile.Updated = time.Now().UTC()
	}

	if _, known := s.directory.Get(req.Profile.ID); !known {
		observability.FamiliesKnown.Inc()
	}
	s.directory.Upsert(req.Profile)

	if s.producer != nil {
		if err := s.producer.PublishFamilyUpdate(ingest.FamilyUpdate{Profile: req.Profile, AccuracyM: req.AccuracyM}); err != nil {
			s.logger.Warn("family update publish failed", "family_id", req.Profile.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetFamily(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["family_id"]
	f, ok := s.directory.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "family not found: " + id})
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// --- matching ---

type rankRequest struct {
	Seeker      *models.FamilyProfile    `json:"seeker,omitempty"`
	SeekerID    string                   `json:"seeker_id,omitempty"`
	Preferences models.SearchPreferences `json:"preferences"`
}

func (s *Server) handleRankMatches(w http.ResponseWriter, r *http.Request) {
	var req rankRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	seeker, err := s.resolveSeeker(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	radius := req.Preferences.SearchRadiusM
	if radius <= 0 || radius > s.scorer.MaxSearchRadiusM {
		radius = s.scorer.MaxSearchRadiusM
	}
	candidates := s.directory.Nearby(seeker.Home.Lat, seeker.Home.Lon, radius, nearbyLimit)
	filtered := candidates[:0]
	for _, c := range candidates {
		if c.ID != seeker.ID {
			filtered = append(filtered, c)
		}
	}

	results := s.scorer.Rank(seeker, filtered, req.Preferences)
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) resolveSeeker(req rankRequest) (models.FamilyProfile, error) {
	if req.Seeker != nil {
		if req.Seeker.ID == "" {
			return models.FamilyProfile{}, models.Validationf("seeker id is required")
		}
		return *req.Seeker, nil
	}
	if req.SeekerID == "" {
		return models.FamilyProfile{}, models.Validationf("seeker or seeker_id is required")
	}
	f, ok := s.directory.Get(req.SeekerID)
	if !ok {
		return models.FamilyProfile{}, models.Validationf("unknown seeker: %s", req.SeekerID)
	}
	return f, nil
}

// --- route risk ---

type routeRiskRequest struct {
	Route models.RouteGeometry `json:"route"`
}

func (s *Server) handleRouteRisk(w http.ResponseWriter, r *http.Request) {
	var req routeRiskRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Route.Points) < 2 {
		s.writeError(w, r, models.Validationf("route needs at least two points"))
		return
	}
	data, stale := s.riskData.Snapshot()
	analysis := s.riskScorer.ScoreRoute(req.Route, data, stale)
	writeJSON(w, http.StatusOK, analysis)
}

// --- groups ---

type formGroupRequest struct {
	Seeker     models.FamilyProfile   `json:"seeker"`
	Matched    []models.FamilyProfile `json:"matched,omitempty"`
	MatchedIDs []string               `json:"matched_ids,omitempty"`
}

func (s *Server) handleFormGroup(w http.ResponseWriter, r *http.Request) {
	var req formGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	matched := req.Matched
	for _, id := range req.MatchedIDs {
		f, ok := s.directory.Get(id)
		if !ok {
			s.writeError(w, r, models.Validationf("unknown family: %s", id))
			return
		}
		matched = append(matched, f)
	}
	g, err := s.orchestrator.FormGroup(r.Context(), req.Seeker, matched)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["group_id"]
	g, ok, err := s.groups.GetGroup(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "group not found: " + id})
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type joinGroupRequest struct {
	FamilyID string                `json:"family_id,omitempty"`
	Profile  *models.FamilyProfile `json:"profile,omitempty"`
}

func (s *Server) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["group_id"]
	var req joinGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var joiner models.FamilyProfile
	switch {
	case req.Profile != nil:
		joiner = *req.Profile
	case req.FamilyID != "":
		f, ok := s.directory.Get(req.FamilyID)
		if !ok {
			s.writeError(w, r, models.Validationf("unknown family: %s", req.FamilyID))
			return
		}
		joiner = f
	default:
		s.writeError(w, r, models.Validationf("profile or family_id is required"))
		return
	}
	g, err := s.orchestrator.Join(r.Context(), groupID, joiner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleArchiveGroup(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["group_id"]
	if err := s.orchestrator.Archive(r.Context(), groupID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// --- proposals ---

type createProposalRequest struct {
	GroupID      string                  `json:"group_id"`
	ProposerID   string                  `json:"proposer_id"`
	ProposedTime time.Time               `json:"proposed_time"`
	Reason       string                  `json:"reason"`
	Priority     models.ProposalPriority `json:"priority"`
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	p, err := s.resolver.Propose(r.Context(), schedule.ProposeCommand{
		GroupID:      req.GroupID,
		ProposerID:   req.ProposerID,
		ProposedTime: req.ProposedTime,
		Reason:       req.Reason,
		Priority:     req.Priority,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["proposal_id"]
	p, ok, err := s.proposals.GetProposal(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "proposal not found: " + id})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type castVoteRequest struct {
	VoterID string            `json:"voter_id"`
	Choice  models.VoteChoice `json:"choice"`
	Comment string            `json:"comment,omitempty"`
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	proposalID := mux.Vars(r)["proposal_id"]
	var req castVoteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.resolver.CastVote(r.Context(), schedule.VoteCommand{
		ProposalID: proposalID,
		VoterID:    req.VoterID,
		Choice:     req.Choice,
		Comment:    req.Comment,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type cancelProposalRequest struct {
	RequesterID string `json:"requester_id"`
}

func (s *Server) handleCancelProposal(w http.ResponseWriter, r *http.Request) {
	proposalID := mux.Vars(r)["proposal_id"]
	var req cancelProposalRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.resolver.Cancel(r.Context(), proposalID, req.RequesterID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- websocket ---

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	familyID := mux.Vars(r)["family_id"]
	if familyID == "" {
		http.Error(w, "family_id required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "family_id", familyID, "error", err)
		return
	}
	s.sessions.Add(familyID, conn)
	s.logger.Info("ws connected", "family_id", familyID)

	defer func() {
		s.sessions.Remove(familyID)
		_ = conn.Close()
		s.logger.Info("ws disconnected", "family_id", familyID)
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
