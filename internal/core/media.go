package core

import (
	"context"

	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/pion/webrtc/v4"
)

// MediaConnection is one WebRTC connection to one remote participant.
// Callbacks may fire on any goroutine.
type MediaConnection interface {
	AddTrack(track webrtc.TrackLocal) error
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// ApplyOffer sets a remote offer and returns the answer already set locally.
	ApplyOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	// OnICECandidate reports locally gathered candidates (trickle ICE).
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnStateChange(fn func(webrtc.PeerConnectionState))
	OnTrack(fn func(RemoteTrack))
	Close() error
}

type ConnectionFactory interface {
	NewConnection(remote domain.UserID) (MediaConnection, error)
}

// RemoteTrack describes inbound media surfaced to the UI.
type RemoteTrack struct {
	Peer     domain.UserID `json:"peer"`
	ID       string        `json:"id"`
	StreamID string        `json:"streamId"`
	Kind     string        `json:"kind"`
}

type AudioConstraints struct {
	EchoCancellation bool `json:"echoCancellation"`
	NoiseSuppression bool `json:"noiseSuppression"`
	AutoGainControl  bool `json:"autoGainControl"`
	SampleRate       int  `json:"sampleRate"`
}

type VideoConstraints struct {
	Width        int `json:"width"`
	Height       int `json:"height"`
	FrameRate    int `json:"frameRate"`
	MaxFrameRate int `json:"maxFrameRate"`
}

// Constraints asks the device layer for microphone and, optionally, camera.
type Constraints struct {
	Audio AudioConstraints  `json:"audio"`
	Video *VideoConstraints `json:"video,omitempty"`
}

// DeviceProvider opens capture devices. Implementations must honor ctx.
type DeviceProvider interface {
	Open(ctx context.Context, c Constraints) (DeviceStream, error)
}

type DeviceStream interface {
	Tracks() []DeviceTrack
}

type DeviceTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Local() webrtc.TrackLocal
	SetEnabled(on bool)
	Enabled() bool
	Stop()
	Stopped() bool
}

// PlatformError is what a capture backend reports; Name follows the
// DOMException names browsers use (NotAllowedError, NotFoundError, ...).
type PlatformError struct {
	Name    string
	Message string
}

func (e *PlatformError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}
