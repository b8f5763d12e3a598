package directions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/school-carpool/internal/models"
)

func TestOSRMClient_ParsesRoute(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":4213.5,"duration":612.0,
			"geometry":{"coordinates":[[149.0981,-35.3089],[149.1100,-35.3200]]}}]}`))
	}))
	defer ts.Close()

	c := NewOSRMClient(ts.URL)
	got, err := c.Route(context.Background(), waypoints[:2])
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if got.DistanceM != 4213.5 {
		t.Fatalf("distance: %f", got.DistanceM)
	}
	if got.Duration != 612*time.Second {
		t.Fatalf("duration: %s", got.Duration)
	}
	if len(got.Points) != 2 || got.Points[0].Lat != -35.3089 {
		t.Fatalf("geometry mis-parsed: %+v", got.Points)
	}
	if got.Degraded {
		t.Fatalf("routed geometry must not be degraded")
	}
}

func TestOSRMClient_RetriesThenReportsExternalError(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewOSRMClient(ts.URL)
	c.BaseWait = time.Millisecond
	_, err := c.Route(context.Background(), waypoints[:2])

	var ese *models.ExternalServiceError
	if !errors.As(err, &ese) {
		t.Fatalf("expected ExternalServiceError, got %v", err)
	}
	if ese.Service != "directions" || ese.Recovery == "" {
		t.Fatalf("error should carry service and recovery hint: %+v", ese)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestOSRMClient_NeedsTwoWaypoints(t *testing.T) {
	c := NewOSRMClient("http://unused")
	if _, err := c.Route(context.Background(), waypoints[:1]); err == nil {
		t.Fatalf("expected error for single waypoint")
	}
}
