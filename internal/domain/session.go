package domain

import "time"

type SessionID string

// Role is what the local user does in the session.
type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
	RoleGuest       Role = "guest"
)

// Publishes reports whether the role needs local media at session start.
func (r Role) Publishes() bool { return r == RoleBroadcaster }

type LifecycleState int

const (
	StateIdle LifecycleState = iota
	StateStarting
	StateLive
	StateEnding
	StateEnded
)

func (s LifecycleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateLive:
		return "live"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

type Session struct {
	ID        SessionID      `json:"id"`
	RoomID    RoomID         `json:"roomId"`
	Mode      Mode           `json:"mode"`
	Role      Role           `json:"role"`
	Host      UserID         `json:"host,omitempty"`
	MaxSeats  int            `json:"maxSeats,omitempty"`
	Lifecycle LifecycleState `json:"-"`
	StartedAt time.Time      `json:"startedAt"`
}

// DeviceClass selects the capture constraint profile.
type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
)
