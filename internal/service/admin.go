package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/webitel/roster-push-service/internal/domain/event"
	"github.com/webitel/roster-push-service/internal/domain/fanout"
	"github.com/webitel/roster-push-service/internal/domain/model"
	"github.com/webitel/roster-push-service/internal/domain/registry"
	"github.com/webitel/roster-push-service/pkg/protocol"
)

// Administrator is the operator surface. It carries no business logic of its
// own: every operation is a thin wrapper over the registry or the fanout engine.
type Administrator interface {
	// Stats aggregates a registry snapshot. Reading never mutates state.
	Stats() model.HubStats
	// Cleanup runs the staleness sweep on demand and returns the evicted count.
	Cleanup() int
	// TestBroadcast routes a synthetic low-priority announcement through fanout.
	TestBroadcast(ctx context.Context, target event.Target, message string) (fanout.Result, error)
}

type AdminService struct {
	hub        registry.Hubber
	dispatcher fanout.Dispatcher
	clock      clockwork.Clock
}

func NewAdminService(hub registry.Hubber, dispatcher fanout.Dispatcher, clock clockwork.Clock) *AdminService {
	return &AdminService{hub: hub, dispatcher: dispatcher, clock: clock}
}

func (s *AdminService) Stats() model.HubStats {
	now := s.clock.Now()
	snapshot := s.hub.Snapshot()

	stats := model.HubStats{
		TotalConnections: len(snapshot),
		ByFaculty:        make(map[string]int),
		ByPermission:     make(map[string]int),
		ByTransport:      make(map[string]int),
		MaxPerIdentity:   s.hub.MaxPerIdentity(),
		Uptime:           now.Sub(s.hub.StartedAt()),
		GeneratedAt:      now,
	}

	users := make(map[string]struct{}, len(snapshot))
	var totalAge float64
	for _, conn := range snapshot {
		users[conn.GetUserID()] = struct{}{}

		faculty := conn.GetFacultyID()
		if faculty == "" {
			faculty = model.NoFaculty
		}
		stats.ByFaculty[faculty]++

		for _, p := range conn.GetPermissions() {
			stats.ByPermission[p]++
		}
		stats.ByTransport[conn.GetMetadata().Transport]++

		age := now.Sub(conn.GetCreatedAt()).Seconds()
		totalAge += age
		if age > stats.OldestAgeSeconds {
			stats.OldestAgeSeconds = age
		}

		stats.QueuedEvents += conn.QueueLen()
		stats.DroppedEvents += conn.Dropped()
	}

	stats.TotalIdentities = len(users)
	if len(snapshot) > 0 {
		stats.AverageAgeSeconds = totalAge / float64(len(snapshot))
	}
	return stats
}

func (s *AdminService) Cleanup() int {
	return len(s.hub.Sweep(s.clock.Now(), s.hub.IdleTimeout()))
}

func (s *AdminService) TestBroadcast(ctx context.Context, target event.Target, message string) (fanout.Result, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return fanout.Result{}, fmt.Errorf("%w: message is empty", ErrInvalidRequest)
	}

	ev := event.New(protocol.KindSystemAnnouncement, protocol.PriorityLow,
		&event.AnnouncementPayload{Message: message, Test: true},
		event.WithTarget(target),
		event.WithOccurredAt(s.clock.Now()),
	)
	// [NO_BYPASS] same path as collaborator events
	return s.dispatcher.Dispatch(ctx, ev)
}
