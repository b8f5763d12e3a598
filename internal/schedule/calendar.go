package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/school-carpool/internal/models"
)

// CalendarProvider answers free/busy queries for a group's members over a
// time window.
type CalendarProvider interface {
	Events(ctx context.Context, groupID string, from, to time.Time) ([]models.CalendarEvent, error)
}

// HTTPCalendar queries an external calendar service. Failures are retried
// with exponential backoff; exhaustion surfaces an ExternalServiceError so
// the resolver can mark conflict detection degraded instead of fabricating
// conflicts.
type HTTPCalendar struct {
	Endpoint string
	Client   *http.Client
	Attempts int
	BaseWait time.Duration
}

func NewHTTPCalendar(endpoint string) *HTTPCalendar {
	return &HTTPCalendar{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 3 * time.Second},
		Attempts: 3,
		BaseWait: 200 * time.Millisecond,
	}
}

func (c *HTTPCalendar) Events(ctx context.Context, groupID string, from, to time.Time) ([]models.CalendarEvent, error) {
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	wait := c.BaseWait
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait * time.Duration(i)):
			}
		}
		evts, err := c.eventsOnce(ctx, groupID, from, to)
		if err == nil {
			return evts, nil
		}
		lastErr = err
	}
	return nil, &models.ExternalServiceError{
		Service:  "calendar",
		Reason:   lastErr.Error(),
		Recovery: "check connectivity and retry, or choose an alternative time",
	}
}

func (c *HTTPCalendar) eventsOnce(ctx context.Context, groupID string, from, to time.Time) ([]models.CalendarEvent, error) {
	q := url.Values{}
	q.Set("group_id", groupID)
	q.Set("from", from.Format(time.RFC3339))
	q.Set("to", to.Format(time.RFC3339))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar status %d", resp.StatusCode)
	}
	var out struct {
		Events []models.CalendarEvent `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Events, nil
}
