package coretest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Conn is a scripted MediaConnection.
type Conn struct {
	mu         sync.Mutex
	Remote     domain.UserID
	Tracks     []webrtc.TrackLocal
	Offers     int
	Answers    int
	RemoteDesc *webrtc.SessionDescription
	Candidates []webrtc.ICECandidateInit
	Closed     bool
	OfferErr   error
	ApplyErr   error

	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(core.RemoteTrack)
}

func (c *Conn) AddTrack(t webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Tracks = append(c.Tracks, t)
	return nil
}

func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OfferErr != nil {
		return webrtc.SessionDescription{}, c.OfferErr
	}
	c.Offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%s-%d", c.Remote, c.Offers)}, nil
}

func (c *Conn) ApplyOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ApplyErr != nil {
		return webrtc.SessionDescription{}, c.ApplyErr
	}
	c.RemoteDesc = &offer
	c.Answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%s-%d", c.Remote, c.Answers)}, nil
}

func (c *Conn) ApplyAnswer(answer webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ApplyErr != nil {
		return c.ApplyErr
	}
	c.RemoteDesc = &answer
	return nil
}

func (c *Conn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RemoteDesc == nil {
		return errors.New("remote description not set")
	}
	c.Candidates = append(c.Candidates, ci)
	return nil
}

func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

func (c *Conn) OnStateChange(fn func(webrtc.PeerConnectionState)) { c.onState = fn }

func (c *Conn) OnTrack(fn func(core.RemoteTrack)) { c.onTrack = fn }

func (c *Conn) Close() error {
	c.mu.Lock()
	c.Closed = true
	c.mu.Unlock()
	return nil
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Closed
}

// SetState simulates a connection state change.
func (c *Conn) SetState(s webrtc.PeerConnectionState) {
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Conn) EmitCandidate(ci webrtc.ICECandidateInit) {
	if c.onICE != nil {
		c.onICE(ci)
	}
}

func (c *Conn) EmitTrack(t core.RemoteTrack) {
	if c.onTrack != nil {
		c.onTrack(t)
	}
}

// Factory hands out Conns and remembers them per remote.
type Factory struct {
	mu    sync.Mutex
	conns map[domain.UserID][]*Conn
	Err   error
}

func NewFactory() *Factory {
	return &Factory{conns: make(map[domain.UserID][]*Conn)}
}

func (f *Factory) NewConnection(remote domain.UserID) (core.MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	c := &Conn{Remote: remote}
	f.conns[remote] = append(f.conns[remote], c)
	return c, nil
}

// Last returns the newest connection created for remote, or nil.
func (f *Factory) Last(remote domain.UserID) *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs := f.conns[remote]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

// Count returns how many connections were created for remote.
func (f *Factory) Count(remote domain.UserID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[remote])
}

func (f *Factory) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, cs := range f.conns {
		n += len(cs)
	}
	return n
}

// Devices is a DeviceProvider returning in-memory tracks.
type Devices struct {
	mu      sync.Mutex
	Err     error
	Block   bool
	opens   int
	last    core.Constraints
	streams []*Stream
}

func (d *Devices) Open(ctx context.Context, c core.Constraints) (core.DeviceStream, error) {
	d.mu.Lock()
	d.opens++
	d.last = c
	err, block := d.Err, d.Block
	d.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	s := &Stream{}
	s.tracks = append(s.tracks, newTrack(webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus))
	if c.Video != nil {
		s.tracks = append(s.tracks, newTrack(webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8))
	}
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

func (d *Devices) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *Devices) LastConstraints() core.Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *Devices) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
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

// AllStopped reports whether every track of the stream was stopped.
func (s *Stream) AllStopped() bool {
	for _, t := range s.tracks {
		if !t.Stopped() {
			return false
		}
	}
	return true
}

type Track struct {
	mu      sync.Mutex
	local   *webrtc.TrackLocalStaticSample
	kind    webrtc.RTPCodecType
	enabled bool
	stopped bool
	stops   int
}

func newTrack(kind webrtc.RTPCodecType, mime string) *Track {
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, kind.String(), "coretest")
	if err != nil {
		panic(err)
	}
	return &Track{local: local, kind: kind, enabled: true}
}

func (t *Track) ID() string { return t.local.ID() }
func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.stops++
	t.mu.Unlock()
}

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stops counts Stop calls.
func (t *Track) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}
