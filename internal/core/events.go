package core

import (
	"errors"
	"time"

	"github.com/dkeye/LiveStudio/internal/domain"
)

type EventKind string

const (
	EventLifecycle   EventKind = "lifecycle"
	EventError       EventKind = "error"
	EventPeer        EventKind = "peer"
	EventRemoteTrack EventKind = "remote_track"
	EventViewerCount EventKind = "viewer_count"
	EventSeats       EventKind = "seats"
	EventSeatRequest EventKind = "seat_request"
	EventChat        EventKind = "chat"
	EventGift        EventKind = "gift"
	EventPK          EventKind = "pk"
	EventPKTick      EventKind = "pk_tick"
)

// Event is a user-visible notification produced by the session.
type Event struct {
	Kind EventKind     `json:"kind"`
	Room domain.RoomID `json:"room,omitempty"`
	Data any           `json:"data,omitempty"`
	At   time.Time     `json:"at"`
}

// EventSink must not block; it is called from the session loop.
type EventSink interface {
	Publish(Event)
}

type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard EventSink = EventSinkFunc(func(Event) {})

// ErrorView is the payload of EventError.
type ErrorView struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func NewErrorView(err error) ErrorView {
	return ErrorView{Kind: ErrorKind(err), Message: UserMessage(err), Detail: err.Error()}
}

// ErrorKind names the taxonomy bucket of err.
func ErrorKind(err error) string {
	var (
		de *DeviceError
		se *SignalingError
		ce *ConnectionError
	)
	switch {
	case errors.As(err, &de):
		return "device." + string(de.Kind)
	case errors.As(err, &se):
		return "signaling"
	case errors.As(err, &ce):
		return "connection"
	case errors.Is(err, ErrSeatConflict):
		return "seat_conflict"
	case errors.Is(err, ErrChallengeExpired):
		return "challenge_expired"
	}
	return "internal"
}
