// Package media owns the local capture stream shared by every peer link of a
// session. Links attach its tracks; only Source stops them.
package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultAcquireTimeout = 10 * time.Second

// Profile returns the capture constraints for a session mode on a device class.
func Profile(mode domain.Mode, device domain.DeviceClass) core.Constraints {
	c := core.Constraints{
		Audio: core.AudioConstraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
			SampleRate:       48000,
		},
	}
	if !mode.VideoEnabled() {
		return c
	}
	if device == domain.DeviceMobile {
		c.Video = &core.VideoConstraints{Width: 640, Height: 480, FrameRate: 24, MaxFrameRate: 30}
	} else {
		c.Video = &core.VideoConstraints{Width: 1920, Height: 1080, FrameRate: 30, MaxFrameRate: 60}
	}
	return c
}

// Source is the LocalMediaSource: at most one device stream at a time.
type Source struct {
	devices core.DeviceProvider
	device  domain.DeviceClass
	timeout time.Duration
	log     zerolog.Logger

	mu     sync.Mutex
	stream core.DeviceStream
	mode   domain.Mode
	gen    uint64
}

func NewSource(devices core.DeviceProvider, device domain.DeviceClass, timeout time.Duration) *Source {
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	return &Source{
		devices: devices,
		device:  device,
		timeout: timeout,
		log:     log.With().Str("module", "app.media").Logger(),
	}
}

// Acquire opens the devices for mode, or returns the stream already held.
// It blocks and must not run on the session loop.
func (s *Source) Acquire(ctx context.Context, mode domain.Mode) (core.DeviceStream, error) {
	s.mu.Lock()
	if s.stream != nil {
		st := s.stream
		s.mu.Unlock()
		return st, nil
	}
	gen := s.gen
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	st, err := s.devices.Open(ctx, Profile(mode, s.device))
	if err != nil {
		derr := classify(ctx, err)
		s.log.Warn().Err(err).Str("kind", string(derr.Kind)).Str("mode", string(mode)).Msg("acquire failed")
		return nil, derr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		stopAll(st)
		return nil, core.ErrAborted
	}
	if s.stream != nil {
		stopAll(st)
		return s.stream, nil
	}
	s.stream = st
	s.mode = mode
	s.log.Info().Str("mode", string(mode)).Int("tracks", len(st.Tracks())).Msg("devices acquired")
	return st, nil
}

// Release stops every track held. Calling it again is a no-op; an acquisition
// still in flight is discarded when it completes.
func (s *Source) Release() {
	s.mu.Lock()
	s.gen++
	st := s.stream
	s.stream = nil
	s.mu.Unlock()
	if st == nil {
		return
	}
	stopAll(st)
	s.log.Info().Msg("devices released")
}

func (s *Source) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// LocalTracks returns the tracks to attach to a new peer link.
func (s *Source) LocalTracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	var out []webrtc.TrackLocal
	for _, t := range s.stream.Tracks() {
		if !t.Stopped() {
			out = append(out, t.Local())
		}
	}
	return out
}

// SetAudioEnabled mutes or unmutes the microphone in place.
func (s *Source) SetAudioEnabled(on bool) { s.setEnabled(webrtc.RTPCodecTypeAudio, on) }

func (s *Source) setEnabled(kind webrtc.RTPCodecType, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return
	}
	for _, t := range s.stream.Tracks() {
		if t.Kind() == kind {
			t.SetEnabled(on)
		}
	}
}

// AudioEnabled reports false when there is no stream or every mic track is off.
func (s *Source) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return false
	}
	for _, t := range s.stream.Tracks() {
		if t.Kind() == webrtc.RTPCodecTypeAudio && t.Enabled() {
			return true
		}
	}
	return false
}

func stopAll(st core.DeviceStream) {
	for _, t := range st.Tracks() {
		t.Stop()
	}
}

// classify maps a platform failure onto the device error taxonomy.
func classify(ctx context.Context, err error) *core.DeviceError {
	var de *core.DeviceError
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &core.DeviceError{Kind: core.DeviceInUse, Err: err}
	}
	var pe *core.PlatformError
	if errors.As(err, &pe) {
		return &core.DeviceError{Kind: KindOf(pe.Name), Err: err}
	}
	return &core.DeviceError{Kind: core.DeviceUnsupported, Err: err}
}

// KindOf maps a platform error name onto a DeviceErrorKind.
func KindOf(name string) core.DeviceErrorKind {
	switch name {
	case "NotAllowedError", "SecurityError", "PermissionDeniedError":
		return core.DevicePermissionDenied
	case "NotFoundError", "DevicesNotFoundError":
		return core.DeviceNotFound
	case "NotReadableError", "AbortError", "TrackStartError":
		return core.DeviceInUse
	case "OverconstrainedError", "ConstraintNotSatisfiedError":
		return core.DeviceOverconstrained
	}
	return core.DeviceUnsupported
}
