// Package device is the capture backend. It produces pion sample tracks fed
// with silence, which is what a headless client can offer; a real capture
// pipeline plugs in behind the same core.DeviceProvider.
package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// opus frame carrying 20ms of silence
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameDuration = 20 * time.Millisecond

type Config struct {
	// Deny makes every Open fail with a platform error of this name,
	// e.g. NotAllowedError or NotFoundError.
	Deny string
	// NoCamera fails requests that ask for video with NotFoundError.
	NoCamera bool
}

type Provider struct {
	cfg Config
}

func NewProvider(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) Open(ctx context.Context, c core.Constraints) (core.DeviceStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.cfg.Deny != "" {
		return nil, &core.PlatformError{Name: p.cfg.Deny, Message: "capture denied by configuration"}
	}
	if c.Video != nil && p.cfg.NoCamera {
		return nil, &core.PlatformError{Name: "NotFoundError", Message: "no camera"}
	}

	streamID := "livecore-" + uuid.NewString()
	s := &Stream{}
	audio, err := newTrack(webrtc.MimeTypeOpus, webrtc.RTPCodecTypeAudio, streamID, opusSilence)
	if err != nil {
		return nil, err
	}
	s.tracks = append(s.tracks, audio)
	if c.Video != nil {
		video, err := newTrack(webrtc.MimeTypeVP8, webrtc.RTPCodecTypeVideo, streamID, nil)
		if err != nil {
			audio.Stop()
			return nil, err
		}
		s.tracks = append(s.tracks, video)
	}
	log.Info().Str("module", "device").Str("stream", streamID).Int("tracks", len(s.tracks)).Msg("capture opened")
	return s, nil
}

type Stream struct {
	tracks []*Track
}

func (s *Stream) Tracks() []core.DeviceTrack {
	out := make([]core.DeviceTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

type trackState int32

const (
	trackLive trackState = iota
	trackMuted
	trackStopped
)

// Track is one captured track. Muting keeps the sender alive and just stops
// feeding samples.
type Track struct {
	local *webrtc.TrackLocalStaticSample
	kind  webrtc.RTPCodecType
	state atomic.Int32

	stop     chan struct{}
	stopOnce sync.Once
}

func newTrack(mime string, kind webrtc.RTPCodecType, streamID string, frame []byte) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, kind.String()+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{local: local, kind: kind, stop: make(chan struct{})}
	if frame != nil {
		go t.pump(frame)
	}
	return t, nil
}

func (t *Track) pump(frame []byte) {
	tick := time.NewTicker(frameDuration)
	defer tick.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-tick.C:
			if trackState(t.state.Load()) != trackLive {
				continue
			}
			if err := t.local.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
				log.Debug().Err(err).Str("module", "device").Str("track", t.local.ID()).Msg("write sample")
			}
		}
	}
}

func (t *Track) ID() string                { return t.local.ID() }
func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }
func (t *Track) Local() webrtc.TrackLocal  { return t.local }

func (t *Track) SetEnabled(on bool) {
	next := trackMuted
	if on {
		next = trackLive
	}
	for {
		cur := t.state.Load()
		if trackState(cur) == trackStopped {
			return
		}
		if t.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

func (t *Track) Enabled() bool { return trackState(t.state.Load()) == trackLive }

func (t *Track) Stop() {
	t.state.Store(int32(trackStopped))
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Track) Stopped() bool { return trackState(t.state.Load()) == trackStopped }
