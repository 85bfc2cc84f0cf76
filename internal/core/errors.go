package core

import (
	"errors"
	"fmt"

	"github.com/dkeye/LiveStudio/internal/domain"
)

var (
	ErrSeatConflict      = errors.New("seat conflict")
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrSessionActive     = errors.New("a session is already active")
	ErrNoSession         = errors.New("no active session")
	ErrNotHost           = errors.New("only the host can do this")
	ErrNotLive           = errors.New("session is not live")
	ErrAborted           = errors.New("operation aborted by teardown")
	ErrTransportClosed   = errors.New("transport closed")
	ErrBackpressure      = errors.New("backpressure")
	ErrRateLimited       = errors.New("rate limited")
	ErrInvalidInput      = errors.New("invalid input")
)

type DeviceErrorKind string

const (
	DevicePermissionDenied DeviceErrorKind = "permission_denied"
	DeviceNotFound         DeviceErrorKind = "not_found"
	DeviceInUse            DeviceErrorKind = "in_use"
	DeviceUnsupported      DeviceErrorKind = "unsupported"
	DeviceOverconstrained  DeviceErrorKind = "overconstrained"
)

// DeviceError is a failed camera/microphone acquisition. Callers branch on Kind.
type DeviceError struct {
	Kind DeviceErrorKind
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device error: %s", e.Kind)
	}
	return fmt.Sprintf("device error: %s: %v", e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func (e *DeviceError) UserMessage() string {
	switch e.Kind {
	case DevicePermissionDenied:
		return "Camera or microphone access was denied. Allow access and try again."
	case DeviceNotFound:
		return "No camera or microphone was found."
	case DeviceInUse:
		return "Your camera or microphone is busy in another application."
	case DeviceOverconstrained:
		return "Your device does not support the requested video quality."
	}
	return "Media capture is not supported on this device."
}

// SignalingError is a malformed or unexpected message, or a failed send.
type SignalingError struct {
	Type   string
	Peer   domain.UserID
	Reason string
	Err    error
}

func (e *SignalingError) Error() string {
	msg := fmt.Sprintf("signaling %s", e.Type)
	if e.Peer != "" {
		msg += fmt.Sprintf(" peer=%s", e.Peer)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SignalingError) Unwrap() error { return e.Err }

func (e *SignalingError) UserMessage() string {
	return "Lost contact with the live room. Please try again."
}

// ConnectionError is an ICE/peer connection that failed, dropped or timed out.
type ConnectionError struct {
	Peer    domain.UserID
	Timeout bool
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("connection to %s timed out", e.Peer)
	}
	if e.Err != nil {
		return fmt.Sprintf("connection to %s failed: %v", e.Peer, e.Err)
	}
	return fmt.Sprintf("connection to %s failed", e.Peer)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) UserMessage() string {
	if e.Timeout {
		return "Could not connect to the stream."
	}
	return "Connection to the stream was lost."
}

// SeatConflict matches ErrSeatConflict with errors.Is.
type SeatConflict struct {
	SeatID int
	User   domain.UserID
	Reason string
}

func (e *SeatConflict) Error() string {
	return fmt.Sprintf("seat %d conflict for %s: %s", e.SeatID, e.User, e.Reason)
}

func (e *SeatConflict) Is(target error) bool { return target == ErrSeatConflict }

func (e *SeatConflict) UserMessage() string {
	return "That seat is not available: " + e.Reason + "."
}

// UserMessage returns the text shown to the user for err.
func UserMessage(err error) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	switch {
	case errors.Is(err, ErrChallengeExpired):
		return "The PK challenge has expired."
	case errors.Is(err, ErrSessionActive):
		return "You are already in a live session."
	case errors.Is(err, ErrRateLimited):
		return "You are sending messages too fast."
	}
	return err.Error()
}
