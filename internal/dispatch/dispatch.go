// Package dispatch delivers invitations and proposal events to family
// devices over live WebSocket sessions with an HTTP push fallback.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/school-carpool/internal/events"
	"github.com/example/school-carpool/internal/models"
)

// PushNotifier sends invitations over WS when a session exists and falls
// back to posting to a push-provider endpoint.
type PushNotifier struct {
	Endpoint string // push provider HTTP endpoint, optional
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushNotifier(endpoint string, ws *WSRegistry) *PushNotifier {
	return &PushNotifier{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushNotifier) Invite(inv models.Invitation) error {
	if p.WS != nil {
		if err := p.WS.Send(inv.FamilyID, map[string]any{"type": "invitation", "invitation": inv}); err == nil {
			return nil
		}
	}
	if p.Endpoint == "" {
		return nil
	}
	b, _ := json.Marshal(map[string]any{"family_id": inv.FamilyID, "invitation": inv})
	_, err := p.Client.Post(p.Endpoint, "application/json", bytes.NewReader(b))
	return err
}

// Relay subscribes to the event bus and forwards proposal and group events
// to every affected family's live session. It runs until ctx is done.
func (p *PushNotifier) Relay(ctx context.Context, bus *events.Bus, members func(groupID string) []string, logger *slog.Logger) {
	ch, cancel := bus.Subscribe(64)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			for _, familyID := range members(e.GroupID) {
				if err := p.WS.Send(familyID, e); err != nil && err != ErrNoSession {
					logger.Debug("event relay send failed", "family_id", familyID, "type", string(e.Type))
				}
			}
		}
	}
}
