package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/school-carpool/internal/compat"
	"github.com/example/school-carpool/internal/config"
	"github.com/example/school-carpool/internal/dispatch"
	"github.com/example/school-carpool/internal/geo"
	"github.com/example/school-carpool/internal/group"
	"github.com/example/school-carpool/internal/ingest"
	"github.com/example/school-carpool/internal/models"
	"github.com/example/school-carpool/internal/risk"
	"github.com/example/school-carpool/internal/schedule"
	"github.com/example/school-carpool/internal/storage"
)

// Server wires the matching, routing and scheduling components behind the
// public HTTP surface.
type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger
	mux    *mux.Router

	directory    geo.Directory
	scorer       *compat.Scorer
	riskScorer   *risk.Scorer
	riskData     *risk.Store
	orchestrator *group.Orchestrator
	resolver     *schedule.Resolver
	groups       storage.GroupStore
	proposals    storage.ProposalStore
	sessions     *dispatch.WSRegistry
	producer     *ingest.KafkaProducer
}

// Deps carries everything the server needs. Producer may be nil when the
// ingest pipeline is disabled.
type Deps struct {
	Directory    geo.Directory
	Scorer       *compat.Scorer
	RiskScorer   *risk.Scorer
	RiskData     *risk.Store
	Orchestrator *group.Orchestrator
	Resolver     *schedule.Resolver
	Groups       storage.GroupStore
	Proposals    storage.ProposalStore
	Sessions     *dispatch.WSRegistry
	Producer     *ingest.KafkaProducer
}

func NewServer(cfg config.ServerConfig, logger *slog.Logger, deps Deps) *Server {
	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          mux.NewRouter(),
		directory:    deps.Directory,
		scorer:       deps.Scorer,
		riskScorer:   deps.RiskScorer,
		riskData:     deps.RiskData,
		orchestrator: deps.Orchestrator,
		resolver:     deps.Resolver,
		groups:       deps.Groups,
		proposals:    deps.Proposals,
		sessions:     deps.Sessions,
		producer:     deps.Producer,
	}
	s.registerMiddleware()
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/families", s.handleUpsertFamily).Methods(http.MethodPost)
	api.HandleFunc("/families/{family_id}", s.handleGetFamily).Methods(http.MethodGet)
	api.HandleFunc("/matches/rank", s.handleRankMatches).Methods(http.MethodPost)
	api.HandleFunc("/routes/risk", s.handleRouteRisk).Methods(http.MethodPost)

	api.HandleFunc("/groups", s.handleFormGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups/{group_id}", s.handleGetGroup).Methods(http.MethodGet)
	api.HandleFunc("/groups/{group_id}/join", s.handleJoinGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups/{group_id}/archive", s.handleArchiveGroup).Methods(http.MethodPost)

	api.HandleFunc("/proposals", s.handleCreateProposal).Methods(http.MethodPost)
	api.HandleFunc("/proposals/{proposal_id}", s.handleGetProposal).Methods(http.MethodGet)
	api.HandleFunc("/proposals/{proposal_id}/votes", s.handleCastVote).Methods(http.MethodPost)
	api.HandleFunc("/proposals/{proposal_id}/cancel", s.handleCancelProposal).Methods(http.MethodPost)

	s.mux.HandleFunc("/ws/{family_id}", s.handleWS).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps the domain error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *models.ValidationError
		se *models.ExternalServiceError
		ce *models.StateConflictError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Error()})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, map[string]string{"error": ce.Error()})
	case errors.As(err, &se):
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":    se.Error(),
			"recovery": se.Recovery,
		})
	default:
		s.logger.Error("request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", requestIDFromContext(r.Context()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return models.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

func newID() string { return uuid.NewString() }
