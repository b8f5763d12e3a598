package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	OSRMEndpoint     string
	GeoRiskEndpoint  string
	CalendarEndpoint string
	PushEndpoint     string

	MaxSearchRadiusM  float64
	MinCompatScore    float64
	MaxAcceptableRisk float64
	RankWorkers       int

	GeoRiskRefresh   time.Duration
	GeoRiskMaxAge    time.Duration
	RouteCacheTTL    time.Duration
	ProposalLifetime time.Duration
	SweepInterval    time.Duration

	EnableDeposits bool

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		RedisGeoKey:       "families_geo",
		KafkaTopic:        "family-updates",
		MaxSearchRadiusM:  5000,
		MinCompatScore:    0.3,
		MaxAcceptableRisk: 3.0,
		RankWorkers:       8,
		GeoRiskRefresh:    15 * time.Minute,
		GeoRiskMaxAge:     2 * time.Hour,
		RouteCacheTTL:     10 * time.Minute,
		ProposalLifetime:  24 * time.Hour,
		SweepInterval:     5 * time.Minute,
		LogLevel:          "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setStringFromEnv(&cfg.GeoRiskEndpoint, "GEORISK_ENDPOINT")
	setStringFromEnv(&cfg.CalendarEndpoint, "CALENDAR_ENDPOINT")
	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")

	setFloatFromEnv(&cfg.MaxSearchRadiusM, "MAX_SEARCH_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.MinCompatScore, "MIN_COMPAT_SCORE", &errs)
	setFloatFromEnv(&cfg.MaxAcceptableRisk, "MAX_ACCEPTABLE_RISK", &errs)
	setIntFromEnv(&cfg.RankWorkers, "RANK_WORKERS", &errs)

	setDurationFromEnv(&cfg.GeoRiskRefresh, "GEORISK_REFRESH_INTERVAL", &errs)
	setDurationFromEnv(&cfg.GeoRiskMaxAge, "GEORISK_MAX_AGE", &errs)
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)
	setDurationFromEnv(&cfg.ProposalLifetime, "PROPOSAL_LIFETIME", &errs)
	setDurationFromEnv(&cfg.SweepInterval, "PROPOSAL_SWEEP_INTERVAL", &errs)

	cfg.EnableDeposits = strings.EqualFold(os.Getenv("ENABLE_DEPOSITS"), "true")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.RankWorkers <= 0 {
		errs = append(errs, fmt.Errorf("RANK_WORKERS must be > 0"))
	}
	if cfg.MaxSearchRadiusM <= 0 {
		errs = append(errs, fmt.Errorf("MAX_SEARCH_RADIUS_M must be > 0"))
	}
	if cfg.ProposalLifetime <= 0 {
		errs = append(errs, fmt.Errorf("PROPOSAL_LIFETIME must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
