package registry

import (
	"time"

	"github.com/google/uuid"
	"github.com/webitel/roster-push-service/internal/domain/model"
)

// Cell groups every live connection of one identity.
// It carries no lock of its own: the Hub mutates cells under its write lock.
type Cell struct {
	// [IDENTITY]
	userID string

	// [SESSIONS]
	// All transports opened by the identity (several tabs, devices).
	sessions map[uuid.UUID]model.Connector

	// lastActivityAt records the last attach or detach, used for diagnostics.
	lastActivityAt time.Time
}

func NewCell(userID string, now time.Time) *Cell {
	return &Cell{
		userID:         userID,
		sessions:       make(map[uuid.UUID]model.Connector),
		lastActivityAt: now,
	}
}

func (c *Cell) Len() int { return len(c.sessions) }

func (c *Cell) Attach(conn model.Connector, now time.Time) {
	c.sessions[conn.GetID()] = conn
	c.lastActivityAt = now
}

// Detach reports whether the cell became empty.
func (c *Cell) Detach(connID uuid.UUID, now time.Time) bool {
	delete(c.sessions, connID)
	c.lastActivityAt = now
	return len(c.sessions) == 0
}
