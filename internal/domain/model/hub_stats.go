package model

import "time"

// HubStats is the read-only aggregate served to operators.
type HubStats struct {
	TotalConnections  int            `json:"total_connections"`
	TotalIdentities   int            `json:"total_identities"`
	ByFaculty         map[string]int `json:"by_faculty"`
	ByPermission      map[string]int `json:"by_permission"`
	ByTransport       map[string]int `json:"by_transport"`
	AverageAgeSeconds float64        `json:"average_age_seconds"`
	OldestAgeSeconds  float64        `json:"oldest_age_seconds"`
	QueuedEvents      int            `json:"queued_events"`
	DroppedEvents     uint64         `json:"dropped_events"`
	MaxPerIdentity    int            `json:"max_per_identity"`
	Uptime            time.Duration  `json:"uptime"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

// NoFaculty is the ByFaculty bucket for connections without a group key.
const NoFaculty = "-"
