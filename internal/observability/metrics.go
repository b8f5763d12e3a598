package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CompatibilityRankings = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "compatibility_rankings_total", Help: "Total candidate ranking runs"})
	RouteRiskEvaluations  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "route_risk_evaluations_total", Help: "Total route risk evaluations"})
	RouteRiskDegraded     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "route_risk_degraded_total", Help: "Risk evaluations served from empty or stale geodata"})
	GroupsFormed          = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "groups_formed_total", Help: "Total carpool groups formed"})
	ProposalsCreated      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "proposals_created_total", Help: "Total schedule change proposals created"})
	ProposalsResolved     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "proposals_resolved_total", Help: "Proposals reaching a terminal state"},
		[]string{"status"},
	)
	VotesCast     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "votes_cast_total", Help: "Total proposal votes cast"})
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "carpool", Name: "proposal_sweep_duration_seconds", Help: "Expiry sweep duration"})
	FamiliesKnown = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "carpool", Name: "families_known", Help: "Families currently in the directory index"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carpool",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
