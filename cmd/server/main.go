package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/school-carpool/internal/clock"
	"github.com/example/school-carpool/internal/compat"
	"github.com/example/school-carpool/internal/config"
	"github.com/example/school-carpool/internal/costshare"
	"github.com/example/school-carpool/internal/directions"
	"github.com/example/school-carpool/internal/dispatch"
	"github.com/example/school-carpool/internal/events"
	"github.com/example/school-carpool/internal/geo"
	"github.com/example/school-carpool/internal/group"
	httpapi "github.com/example/school-carpool/internal/http"
	"github.com/example/school-carpool/internal/ingest"
	"github.com/example/school-carpool/internal/logging"
	"github.com/example/school-carpool/internal/risk"
	"github.com/example/school-carpool/internal/schedule"
	"github.com/example/school-carpool/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.RunMigrations && cfg.PGDSN != "" {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// family directory: redis-backed when configured, in-process otherwise
	var directory geo.Directory
	if cfg.RedisAddr != "" {
		directory = geo.NewRedisDirectory(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("using redis family directory", "addr", cfg.RedisAddr)
	} else {
		directory = geo.NewIndex()
	}

	var store interface {
		storage.GroupStore
		storage.ProposalStore
	}
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		store = pg
		logger.Info("using postgres store")
	} else {
		store = storage.NewMemoryStore()
		logger.Warn("using in-memory store; groups will not survive restart")
	}

	scorer := compat.NewScorer()
	scorer.MaxSearchRadiusM = cfg.MaxSearchRadiusM
	scorer.MinScore = cfg.MinCompatScore
	scorer.Workers = cfg.RankWorkers

	riskScorer := risk.NewScorer()
	riskScorer.MaxAcceptableRisk = cfg.MaxAcceptableRisk
	riskData := risk.NewStore(cfg.GeoRiskMaxAge)
	if cfg.GeoRiskEndpoint != "" {
		go riskData.RunRefresher(ctx, risk.NewHTTPProvider(cfg.GeoRiskEndpoint), cfg.GeoRiskRefresh, logger)
	} else {
		logger.Warn("no geo-risk endpoint configured; route risk runs degraded")
	}

	var dirProvider directions.Provider
	if cfg.OSRMEndpoint != "" {
		dirProvider = directions.NewOSRMClient(cfg.OSRMEndpoint)
	}
	routeCache := directions.NewCache(cfg.RouteCacheTTL)

	wsreg := dispatch.NewWSRegistry()
	notifier := dispatch.NewPushNotifier(cfg.PushEndpoint, wsreg)
	bus := events.NewBus()

	orchestrator := group.NewOrchestrator(store, dirProvider, routeCache, riskScorer, riskData, notifier, bus, clock.System{}, logger)
	if cfg.EnableDeposits {
		orchestrator.Deposits = costshare.NewClient()
		logger.Info("cost-share deposits enabled")
	}

	var calendar schedule.CalendarProvider
	if cfg.CalendarEndpoint != "" {
		calendar = schedule.NewHTTPCalendar(cfg.CalendarEndpoint)
	}
	resolver := schedule.NewResolver(store, store, calendar, bus, clock.System{}, logger)
	resolver.Lifetime = cfg.ProposalLifetime
	resolver.SweepInterval = cfg.SweepInterval
	go resolver.RunSweeper(ctx)

	// fan group events out to connected member sessions
	go notifier.Relay(ctx, bus, func(groupID string) []string {
		g, ok, err := store.GetGroup(groupID)
		if err != nil || !ok {
			return nil
		}
		ids := make([]string, 0, len(g.Members))
		for _, m := range g.Members {
			ids = append(ids, m.FamilyID)
		}
		return ids
	}, logger)

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	api := httpapi.NewServer(cfg, logger, httpapi.Deps{
		Directory:    directory,
		Scorer:       scorer,
		RiskScorer:   riskScorer,
		RiskData:     riskData,
		Orchestrator: orchestrator,
		Resolver:     resolver,
		Groups:       store,
		Proposals:    store,
		Sessions:     wsreg,
		Producer:     producer,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("carpool server listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_carpool.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
