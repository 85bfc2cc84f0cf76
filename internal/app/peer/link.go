// Package peer holds the per-remote WebRTC link state machine.
package peer

import (
	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type State int

const (
	StateNegotiating State = iota
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Topology is the shape a link belongs to.
type Topology int

const (
	Star Topology = iota
	Mesh
)

func (t Topology) String() string {
	if t == Mesh {
		return "mesh"
	}
	return "star"
}

// maxQueuedCandidates bounds ICE candidates held before the remote description.
const maxQueuedCandidates = 64

// Link is one PeerLink. It is confined to the session loop.
type Link struct {
	remote   domain.UserID
	topology Topology
	conn     core.MediaConnection
	state    State

	tracksAttached bool
	remoteSet      bool
	awaitingAnswer bool
	offerer        bool
	pendingICE     []webrtc.ICECandidateInit

	// Timer is the connect timeout; the coordinator owns it.
	Timer interface{ Stop() bool }
}

func NewLink(remote domain.UserID, topology Topology, conn core.MediaConnection) *Link {
	return &Link{remote: remote, topology: topology, conn: conn}
}

func (l *Link) Remote() domain.UserID { return l.remote }
func (l *Link) Topology() Topology { return l.topology }
func (l *Link) State() State { return l.state }
func (l *Link) Offerer() bool { return l.offerer }
func (l *Link) AwaitingAnswer() bool { return l.awaitingAnswer }
func (l *Link) TracksAttached() bool { return l.tracksAttached }
func (l *Link) Conn() core.MediaConnection { return l.conn }
func (l *Link) QueuedCandidates() int { return len(l.pendingICE) }
func (l *Link) Terminal() bool { return l.state == StateClosed || l.state == StateFailed }

// AttachTracks adds the shared local tracks once per link.
func (l *Link) AttachTracks(tracks []webrtc.TrackLocal) error {
	if l.tracksAttached || len(tracks) == 0 {
		return nil
	}
	for _, t := range tracks {
		if err := l.conn.AddTrack(t); err != nil {
			return err
		}
	}
	l.tracksAttached = true
	return nil
}

// Offer produces a local offer and waits for its answer.
func (l *Link) Offer() (webrtc.SessionDescription, error) {
	sd, err := l.conn.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.offerer = true
	l.awaitingAnswer = true
	return sd, nil
}

// HandleOffer applies a remote offer (first or renegotiation) and returns the answer.
func (l *Link) HandleOffer(sd webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	answer, err := l.conn.ApplyOffer(sd)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.awaitingAnswer = false
	l.markRemoteSet()
	return answer, nil
}

func (l *Link) HandleAnswer(sd webrtc.SessionDescription) error {
	if !l.awaitingAnswer {
		return &core.SignalingError{Type: "answer", Peer: l.remote, Reason: "no offer outstanding"}
	}
	if err := l.conn.ApplyAnswer(sd); err != nil {
		return err
	}
	l.awaitingAnswer = false
	l.markRemoteSet()
	return nil
}

// AddCandidate applies c now, or queues it until the remote description is set.
func (l *Link) AddCandidate(c webrtc.ICECandidateInit) error {
	if !l.remoteSet {
		if len(l.pendingICE) >= maxQueuedCandidates {
			l.pendingICE = l.pendingICE[1:]
		}
		l.pendingICE = append(l.pendingICE, c)
		return nil
	}
	return l.conn.AddICECandidate(c)
}

func (l *Link) markRemoteSet() {
	l.remoteSet = true
	queued := l.pendingICE
	l.pendingICE = nil
	for _, c := range queued {
		if err := l.conn.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "app.peer").Str("peer", string(l.remote)).Msg("queued candidate rejected")
		}
	}
}

// Apply folds a connection state into the link state and reports whether it changed.
func (l *Link) Apply(s webrtc.PeerConnectionState) bool {
	if l.Terminal() {
		return false
	}
	next := l.state
	switch s {
	case webrtc.PeerConnectionStateConnected:
		next = StateConnected
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		next = StateFailed
	case webrtc.PeerConnectionStateClosed:
		next = StateClosed
	}
	if next == l.state {
		return false
	}
	l.state = next
	return true
}

// Fail marks the link failed without closing the connection.
func (l *Link) Fail() {
	if !l.Terminal() {
		l.state = StateFailed
	}
}

// Close releases the connection. Idempotent.
func (l *Link) Close() {
	if l.Timer != nil {
		l.Timer.Stop()
		l.Timer = nil
	}
	if l.conn == nil {
		return
	}
	conn := l.conn
	l.conn = nil
	l.state = StateClosed
	l.pendingICE = nil
	if err := conn.Close(); err != nil {
		log.Warn().Err(err).Str("module", "app.peer").Str("peer", string(l.remote)).Msg("close error")
	}
}
