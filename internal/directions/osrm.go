package directions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/school-carpool/internal/models"
)

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
	Attempts int
	BaseWait time.Duration
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 2 * time.Second},
		Attempts: 3,
		BaseWait: 200 * time.Millisecond,
	}
}

// Route queries OSRM /route through all waypoints and returns the first
// route's geometry. Failures are retried with exponential backoff before
// being reported as an ExternalServiceError.
func (o *OSRMClient) Route(ctx context.Context, waypoints []models.Coord) (models.RouteGeometry, error) {
	if len(waypoints) < 2 {
		return models.RouteGeometry{}, fmt.Errorf("need at least 2 waypoints, got %d", len(waypoints))
	}
	attempts := o.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	wait := o.BaseWait
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return models.RouteGeometry{}, ctx.Err()
			case <-time.After(wait * time.Duration(i)):
			}
		}
		geom, err := o.routeOnce(ctx, waypoints)
		if err == nil {
			return geom, nil
		}
		lastErr = err
	}
	return models.RouteGeometry{}, &models.ExternalServiceError{
		Service:  "directions",
		Reason:   lastErr.Error(),
		Recovery: "check connectivity and retry",
	}
}

func (o *OSRMClient) routeOnce(ctx context.Context, waypoints []models.Coord) (models.RouteGeometry, error) {
	// OSRM route query: /route/v1/driving/{lon1},{lat1};... with full geometry
	coords := make([]string, len(waypoints))
	for i, c := range waypoints {
		coords[i] = fmt.Sprintf("%.6f,%.6f", c.Lon, c.Lat)
	}
	url := fmt.Sprintf("%s/route/v1/driving/%s?overview=full&geometries=geojson", o.Endpoint, strings.Join(coords, ";"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.RouteGeometry{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return models.RouteGeometry{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.RouteGeometry{}, fmt.Errorf("osrm status %d", resp.StatusCode)
	}
	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"` // [lon, lat]
			} `json:"geometry"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.RouteGeometry{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return models.RouteGeometry{}, fmt.Errorf("osrm no route: %v", out.Code)
	}
	r := out.Routes[0]
	points := make([]models.Coord, 0, len(r.Geometry.Coordinates))
	for _, c := range r.Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		points = append(points, models.Coord{Lat: c[1], Lon: c[0]})
	}
	return models.RouteGeometry{
		Points:    points,
		DistanceM: r.Distance,
		Duration:  time.Duration(r.Duration * float64(time.Second)),
	}, nil
}
