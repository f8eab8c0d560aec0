package domain

import "time"

// EventKind says which entity a state event describes.
type EventKind string

const (
	EventRoom     EventKind = "room"
	EventState    EventKind = "state"
	EventPlayer   EventKind = "player"
	EventQuestion EventKind = "question"
)

// StateEvent is one version-tagged fan-out message. Subscribers compare
// Version counters to discard stale or out-of-order deliveries; wall-clock
// ordering from the transport is never trusted.
type StateEvent struct {
	RoomID    string     `json:"roomId"`
	Version   int64      `json:"version"`
	Kind      EventKind  `json:"kind"`
	Room      *Room      `json:"room,omitempty"`
	State     *RoomState `json:"state,omitempty"`
	Player    *Player    `json:"player,omitempty"`
	Question  *Question  `json:"question,omitempty"`
	EmittedAt time.Time  `json:"emittedAt"`
}

// TokenClaims are the fields bound into a bearer credential by the identity
// gateway. Host credentials set Subject only; player credentials also bind
// RoomID, PlayerID and DeviceHash.
type TokenClaims struct {
	Subject    string `json:"sub"`
	Role       string `json:"role"` // "host" or "player"
	RoomID     string `json:"roomId,omitempty"`
	PlayerID   string `json:"playerId,omitempty"`
	DeviceHash string `json:"deviceHash,omitempty"`
	ExpiresAt  int64  `json:"exp"`
}

const (
	RoleHost   = "host"
	RolePlayer = "player"
)
