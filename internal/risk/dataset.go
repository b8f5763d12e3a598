package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/example/school-carpool/internal/models"
)

// Dataset is one snapshot of the geo-risk reference data: known school
// locations and historical accident locations.
type Dataset struct {
	Schools     []models.Coord `json:"schools"`
	Accidents   []models.Coord `json:"accidents"`
	RefreshedAt time.Time      `json:"refreshed_at"`
}

// Empty reports whether the snapshot carries no reference data at all.
func (d Dataset) Empty() bool {
	return len(d.Schools) == 0 && len(d.Accidents) == 0
}

// Provider fetches a fresh dataset from the upstream geodata service.
type Provider interface {
	Fetch(ctx context.Context) (Dataset, error)
}

const datasetKey = "georisk:dataset"

// Store holds the latest dataset. Entries never expire on their own; a
// failed refresh keeps serving the stale snapshot and the scorer marks
// results degraded past MaxAge.
type Store struct {
	cache  *gocache.Cache
	MaxAge time.Duration
}

func NewStore(maxAge time.Duration) *Store {
	return &Store{
		cache:  gocache.New(gocache.NoExpiration, 10*time.Minute),
		MaxAge: maxAge,
	}
}

func (s *Store) Put(d Dataset) {
	s.cache.Set(datasetKey, d, gocache.NoExpiration)
}

// Snapshot returns the cached dataset, possibly zero-valued when no refresh
// has succeeded yet. The second return reports whether the data should be
// treated as stale.
func (s *Store) Snapshot() (Dataset, bool) {
	v, ok := s.cache.Get(datasetKey)
	if !ok {
		return Dataset{}, true
	}
	d := v.(Dataset)
	stale := s.MaxAge > 0 && time.Since(d.RefreshedAt) > s.MaxAge
	return d, stale
}

// RunRefresher polls the provider at the given interval until ctx is done.
// Each poll retries with exponential backoff before giving up; on exhaustion
// the previous snapshot stays in place.
func (s *Store) RunRefresher(ctx context.Context, p Provider, interval time.Duration, logger *slog.Logger) {
	refresh := func() {
		const attempts = 3
		delay := 500 * time.Millisecond
		for i := 1; i <= attempts; i++ {
			d, err := p.Fetch(ctx)
			if err == nil {
				if d.RefreshedAt.IsZero() {
					d.RefreshedAt = time.Now()
				}
				s.Put(d)
				logger.Info("georisk refresh", "schools", len(d.Schools), "accidents", len(d.Accidents))
				return
			}
			logger.Warn("georisk fetch failed", "attempt", i, "error", err)
			if i == attempts {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay * time.Duration(i)):
			}
		}
	}

	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// HTTPProvider fetches the dataset from a JSON endpoint.
type HTTPProvider struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPProvider(endpoint string) *HTTPProvider {
	return &HTTPProvider{Endpoint: endpoint, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (h *HTTPProvider) Fetch(ctx context.Context) (Dataset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.Endpoint, nil)
	if err != nil {
		return Dataset{}, err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return Dataset{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Dataset{}, fmt.Errorf("georisk status %d", resp.StatusCode)
	}
	var d Dataset
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return Dataset{}, err
	}
	return d, nil
}
