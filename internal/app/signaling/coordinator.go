// Package signaling turns session and seat events into offer/answer/ICE
// exchanges and keeps exactly one peer link per relevant remote.
//
// Broadcasters serve viewers over a star: one independent link per viewer.
// Seated guests form a mesh with every other ready seat; between two seats
// the later joiner (higher approval sequence) is always the offerer.
package signaling

import (
	"context"
	"time"

	"github.com/dkeye/LiveStudio/internal/app/loop"
	"github.com/dkeye/LiveStudio/internal/app/media"
	"github.com/dkeye/LiveStudio/internal/app/peer"
	"github.com/dkeye/LiveStudio/internal/app/seats"
	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/dkeye/LiveStudio/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultMaxOrphans     = 32
)

type Config struct {
	Self           domain.User
	Role           domain.Role
	Mode           domain.Mode
	Host           domain.UserID
	ConnectTimeout time.Duration
	MaxOrphans     int
}

// PeerEvent is the payload of core.EventPeer.
type PeerEvent struct {
	Peer     domain.UserID `json:"peer"`
	Topology string        `json:"topology"`
	State    string        `json:"state"`
}

type Coordinator struct {
	cfg     Config
	out     *core.Outbox
	factory core.ConnectionFactory
	media   *media.Source
	seats   *seats.Table
	policy  peer.Policy
	exec    loop.Executor
	clock   loop.Clock
	events  core.EventSink
	log     zerolog.Logger

	links    *peer.Registry
	orphans  map[domain.UserID][]webrtc.ICECandidateInit
	attempts map[domain.UserID]int
	ready    map[domain.UserID]bool

	selfReady   bool
	acquiring   bool
	watchTimer  loop.Timer
	viewerCount int
	started     bool
	closed      bool
}

type Deps struct {
	Out     *core.Outbox
	Factory core.ConnectionFactory
	Media   *media.Source
	// Seats is nil outside multi-guest sessions.
	Seats  *seats.Table
	Policy peer.Policy
	Exec   loop.Executor
	Clock  loop.Clock
	Events core.EventSink
}

func New(cfg Config, d Deps) *Coordinator {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.MaxOrphans <= 0 {
		cfg.MaxOrphans = DefaultMaxOrphans
	}
	c := &Coordinator{
		cfg:      cfg,
		out:      d.Out,
		factory:  d.Factory,
		media:    d.Media,
		seats:    d.Seats,
		policy:   d.Policy,
		exec:     d.Exec,
		clock:    d.Clock,
		events:   d.Events,
		log:      log.With().Str("module", "app.signaling").Str("room", string(d.Out.Room())).Logger(),
		links:    peer.NewRegistry(),
		orphans:  make(map[domain.UserID][]webrtc.ICECandidateInit),
		attempts: make(map[domain.UserID]int),
		ready:    make(map[domain.UserID]bool),
	}
	if c.policy == nil {
		c.policy = peer.RetryPolicy{MaxAttempts: 3}
	}
	return c
}

func (c *Coordinator) broadcaster() bool { return c.cfg.Role == domain.RoleBroadcaster }

// Begin starts signaling once the session is live: viewers announce
// themselves, the host becomes ready for the mesh.
func (c *Coordinator) Begin() {
	if c.started || c.closed {
		return
	}
	c.started = true
	if c.broadcaster() {
		c.selfReady = true
		c.publishCount()
		return
	}
	c.watch()
}

func (c *Coordinator) watch() {
	if err := c.out.Send(protocol.TypeWatcher, c.cfg.Host, protocol.Watcher{ViewerID: c.cfg.Self.ID, Username: c.cfg.Self.Username}); err != nil {
		c.log.Warn().Err(err).Msg("watcher announce not delivered")
	}
	c.armWatch()
}

// armWatch fails the primary path if no offer shows up in time.
func (c *Coordinator) armWatch() {
	c.stopWatch()
	c.watchTimer = c.clock.AfterFunc(c.cfg.ConnectTimeout, func() {
		c.exec.Post(func() {
			if c.closed || c.selfSeated() {
				return
			}
			if _, ok := c.upstream(); ok {
				return
			}
			c.primaryLost(c.cfg.Host, true)
		})
	})
}

func (c *Coordinator) stopWatch() {
	if c.watchTimer != nil {
		c.watchTimer.Stop()
		c.watchTimer = nil
	}
}

// upstream returns the viewer's link to the broadcaster.
func (c *Coordinator) upstream() (*peer.Link, bool) {
	for _, l := range c.links.Of(peer.Star) {
		return l, true
	}
	return nil, false
}

// HandleWatcher creates an offering link for a newly announced viewer.
func (c *Coordinator) HandleWatcher(m protocol.Message) {
	if !c.broadcaster() || c.closed {
		return
	}
	var w protocol.Watcher
	if err := m.Decode(&w); err != nil || w.ViewerID == "" {
		w.ViewerID = m.From
	}
	viewer := w.ViewerID
	if viewer == "" || viewer == c.cfg.Self.ID {
		return
	}
	if c.seated(viewer) {
		c.log.Debug().Str("peer", string(viewer)).Msg("seated guest uses the mesh")
		return
	}
	if c.seats != nil {
		if err := c.seats.SendState(viewer); err != nil {
			c.log.Warn().Err(err).Str("peer", string(viewer)).Msg("seat state not sent")
		}
	}
	c.links.Remove(viewer)
	link := c.newLink(viewer, peer.Star)
	if link == nil {
		return
	}
	c.offer(link)
	c.publishCount()
}

// HandleOffer answers an offer on the star (viewer side) or the mesh.
func (c *Coordinator) HandleOffer(m protocol.Message) {
	if c.closed {
		return
	}
	from := m.From
	var p protocol.SDP
	if err := m.Decode(&p); err != nil {
		c.log.Warn().Err(err).Str("peer", string(from)).Msg("bad offer")
		return
	}
	sd := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}
	switch {
	case c.selfSeated() && c.seated(from):
		c.answerMesh(from, sd)
	case !c.broadcaster() && (c.cfg.Host == "" || from == c.cfg.Host):
		if c.cfg.Host == "" {
			c.cfg.Host = from
		}
		c.answerStar(from, sd)
	default:
		err := &core.SignalingError{Type: protocol.TypeOffer, Peer: from, Reason: "unexpected offer"}
		c.log.Warn().Err(err).Msg("offer ignored")
	}
}

func (c *Coordinator) answerStar(from domain.UserID, sd webrtc.SessionDescription) {
	c.stopWatch()
	link, ok := c.links.Get(from)
	if !ok || link.Topology() != peer.Star {
		link = c.newLink(from, peer.Star)
		if link == nil {
			return
		}
	}
	c.answer(link, sd)
}

func (c *Coordinator) answerMesh(from domain.UserID, sd webrtc.SessionDescription) {
	link, ok := c.links.Get(from)
	if ok && link.AwaitingAnswer() {
		if c.shouldOffer(from) {
			c.log.Info().Str("peer", string(from)).Msg("glare: keeping our offer")
			return
		}
		c.log.Info().Str("peer", string(from)).Msg("glare: yielding to peer offer")
		c.links.Remove(from)
		ok = false
	}
	if !ok || link.Topology() != peer.Mesh {
		link = c.newLink(from, peer.Mesh)
		if link == nil {
			return
		}
	}
	c.attach(link)
	c.answer(link, sd)
}

func (c *Coordinator) answer(link *peer.Link, sd webrtc.SessionDescription) {
	answer, err := link.HandleOffer(sd)
	if err != nil {
		c.fail(link, &core.SignalingError{Type: protocol.TypeOffer, Peer: link.Remote(), Reason: "apply offer", Err: err}, false)
		return
	}
	if err := c.out.Send(protocol.TypeAnswer, link.Remote(), protocol.SDP{SDP: answer.SDP}); err != nil {
		c.log.Warn().Err(err).Str("peer", string(link.Remote())).Msg("answer not delivered")
	}
}

func (c *Coordinator) HandleAnswer(m protocol.Message) {
	link, ok := c.links.Get(m.From)
	if !ok {
		c.log.Debug().Str("peer", string(m.From)).Msg("answer for unknown link ignored")
		return
	}
	var p protocol.SDP
	if err := m.Decode(&p); err != nil {
		c.log.Warn().Err(err).Str("peer", string(m.From)).Msg("bad answer")
		return
	}
	if err := link.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		c.log.Warn().Err(err).Str("peer", string(m.From)).Msg("answer rejected")
	}
}

func (c *Coordinator) HandleCandidate(m protocol.Message) {
	if c.closed {
		return
	}
	var p protocol.Candidate
	if err := m.Decode(&p); err != nil {
		c.log.Warn().Err(err).Str("peer", string(m.From)).Msg("bad candidate")
		return
	}
	ci := webrtc.ICECandidateInit{Candidate: p.Candidate, SDPMid: p.SDPMid, SDPMLineIndex: p.SDPMLineIndex}
	if link, ok := c.links.Get(m.From); ok {
		if err := link.AddCandidate(ci); err != nil {
			c.log.Warn().Err(err).Str("peer", string(m.From)).Msg("candidate rejected")
		}
		return
	}
	if !c.expectsOfferFrom(m.From) {
		c.log.Debug().Str("peer", string(m.From)).Msg("candidate for unknown link ignored")
		return
	}
	q := c.orphans[m.From]
	if len(q) >= c.cfg.MaxOrphans {
		q = q[1:]
	}
	c.orphans[m.From] = append(q, ci)
}

// expectsOfferFrom reports whether remote may open a link to us.
func (c *Coordinator) expectsOfferFrom(remote domain.UserID) bool {
	if c.selfSeated() && c.seated(remote) {
		return !c.shouldOffer(remote)
	}
	return !c.broadcaster() && (c.cfg.Host == "" || remote == c.cfg.Host)
}

// HandleDeparture drops the link to a participant who left the room or
// stopped watching.
func (c *Coordinator) HandleDeparture(user domain.UserID) {
	delete(c.orphans, user)
	delete(c.attempts, user)
	delete(c.ready, user)
	l, ok := c.links.Get(user)
	if !ok {
		return
	}
	c.links.Remove(user)
	c.publishPeer(l)
	if c.broadcaster() {
		c.publishCount()
	}
}

func (c *Coordinator) HandleViewerCount(m protocol.Message) {
	if c.broadcaster() {
		return
	}
	var p protocol.ViewerCount
	if err := m.Decode(&p); err != nil {
		c.log.Warn().Err(err).Msg("bad viewer count")
		return
	}
	c.viewerCount = p.Count
	c.publishCount()
}

// ViewerCount is the broadcaster's own star size, or the room's last report.
func (c *Coordinator) ViewerCount() int {
	if c.broadcaster() {
		return c.links.Count(peer.Star)
	}
	return c.viewerCount
}

func (c *Coordinator) HandleGuestReady(m protocol.Message) {
	from := m.From
	if from == "" {
		var p protocol.GuestReady
		if err := m.Decode(&p); err != nil {
			c.log.Debug().Err(err).Msg("guest_ready without sender")
			return
		}
		from = p.User.ID
	}
	if from == c.cfg.Self.ID || !c.seated(from) {
		return
	}
	c.ready[from] = true
	if !c.selfReady || !c.selfSeated() {
		return
	}
	if _, ok := c.links.Get(from); ok {
		return
	}
	switch {
	case c.shouldOffer(from):
		c.offerMesh(from)
	case m.To == "" && !c.broadcaster():
		// A later joiner never saw our broadcast; tell it directly so it offers.
		if err := c.out.Send(protocol.TypeGuestReady, from, protocol.GuestReady{SeatID: c.mySeat(), User: c.cfg.Self}); err != nil {
			c.log.Warn().Err(err).Str("peer", string(from)).Msg("guest_ready reply not delivered")
		}
	}
}

// OnSeatChange reconciles links with the seat table.
func (c *Coordinator) OnSeatChange(ch seats.Change) {
	if c.closed {
		return
	}
	switch {
	case ch.Kind == seats.Occupied && ch.Local:
		c.stopWatch()
		if l, ok := c.upstream(); ok {
			c.links.Remove(l.Remote())
		}
		c.acquireForSeat()
	case ch.Kind == seats.Occupied:
		if l, ok := c.links.Get(ch.User.ID); ok {
			c.links.Remove(l.Remote())
			if c.broadcaster() {
				c.publishCount()
			}
		}
		c.ready[ch.User.ID] = false
	case ch.Kind == seats.Vacated && ch.Local:
		c.leaveMesh(ch.Reason)
	case ch.Kind == seats.Vacated:
		delete(c.ready, ch.User.ID)
		delete(c.attempts, ch.User.ID)
		if l, ok := c.links.Get(ch.User.ID); ok && l.Topology() == peer.Mesh {
			c.links.Remove(ch.User.ID)
			c.publishPeer(l)
		}
	case ch.Kind == seats.MuteChanged && ch.Local:
		c.media.SetAudioEnabled(!ch.Muted)
		c.log.Info().Bool("muted", ch.Muted).Msg("local microphone muted by host")
	}
}

func (c *Coordinator) acquireForSeat() {
	if c.acquiring || c.selfReady {
		return
	}
	c.acquiring = true
	mode := c.cfg.Mode
	c.exec.Go(func() {
		_, err := c.media.Acquire(context.Background(), mode)
		c.exec.Post(func() { c.onSeatMedia(err) })
	})
}

func (c *Coordinator) onSeatMedia(err error) {
	c.acquiring = false
	if c.closed || !c.selfSeated() {
		if err == nil && !c.broadcaster() {
			c.media.Release()
		}
		return
	}
	if err != nil {
		c.publishError(err)
		if lerr := c.seats.LeaveSeat(); lerr != nil {
			c.log.Warn().Err(lerr).Msg("could not give the seat back")
		}
		return
	}
	c.selfReady = true
	if err := c.out.Send(protocol.TypeGuestReady, "", protocol.GuestReady{SeatID: c.mySeat(), User: c.cfg.Self}); err != nil {
		c.log.Warn().Err(err).Msg("guest_ready not delivered")
	}
	for _, u := range c.seats.Occupants() {
		if u.ID == c.cfg.Self.ID || !c.peerReady(u.ID) || !c.shouldOffer(u.ID) {
			continue
		}
		if _, ok := c.links.Get(u.ID); !ok {
			c.offerMesh(u.ID)
		}
	}
}

func (c *Coordinator) leaveMesh(reason string) {
	for _, l := range c.links.Of(peer.Mesh) {
		c.links.Remove(l.Remote())
		c.publishPeer(l)
	}
	clear(c.ready)
	c.selfReady = false
	if c.broadcaster() {
		return
	}
	c.media.Release()
	c.log.Info().Str("reason", reason).Msg("left seat, watching again")
	if c.started {
		c.watch()
	}
}

func (c *Coordinator) peerReady(id domain.UserID) bool {
	return id == c.cfg.Host || c.ready[id]
}

func (c *Coordinator) seated(id domain.UserID) bool {
	if c.seats == nil || id == "" {
		return false
	}
	_, ok := c.seats.SeatOf(id)
	return ok
}

func (c *Coordinator) selfSeated() bool { return c.seated(c.cfg.Self.ID) }

func (c *Coordinator) mySeat() int {
	i, _ := c.seats.SeatOf(c.cfg.Self.ID)
	return i
}

// shouldOffer reports whether the local side offers to remote in the mesh.
func (c *Coordinator) shouldOffer(remote domain.UserID) bool {
	if c.seats == nil {
		return false
	}
	mine, ok1 := c.seats.Order(c.cfg.Self.ID)
	theirs, ok2 := c.seats.Order(remote)
	if !ok1 || !ok2 {
		return false
	}
	if mine != theirs {
		return mine > theirs
	}
	return c.cfg.Self.ID > remote
}

func (c *Coordinator) offerMesh(remote domain.UserID) {
	link := c.newLink(remote, peer.Mesh)
	if link == nil {
		return
	}
	c.offer(link)
}

func (c *Coordinator) attach(link *peer.Link) {
	if err := link.AttachTracks(c.media.LocalTracks()); err != nil {
		c.log.Warn().Err(err).Str("peer", string(link.Remote())).Msg("attach local tracks")
	}
}

func (c *Coordinator) offer(link *peer.Link) {
	c.attach(link)
	sd, err := link.Offer()
	if err != nil {
		c.fail(link, &core.SignalingError{Type: protocol.TypeOffer, Peer: link.Remote(), Reason: "create offer", Err: err}, false)
		return
	}
	if err := c.out.Send(protocol.TypeOffer, link.Remote(), protocol.SDP{SDP: sd.SDP}); err != nil {
		c.log.Warn().Err(err).Str("peer", string(link.Remote())).Msg("offer not delivered")
	}
}

// newLink creates, wires and registers a link. Orphaned candidates are handed over.
func (c *Coordinator) newLink(remote domain.UserID, topo peer.Topology) *peer.Link {
	conn, err := c.factory.NewConnection(remote)
	if err != nil {
		cerr := &core.ConnectionError{Peer: remote, Err: err}
		c.log.Error().Err(err).Str("peer", string(remote)).Msg("create connection")
		if topo == peer.Star && !c.broadcaster() {
			c.publishError(cerr)
		}
		return nil
	}
	link := peer.NewLink(remote, topo, conn)
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		c.exec.Post(func() { c.sendCandidate(link, ci) })
	})
	conn.OnStateChange(func(s webrtc.PeerConnectionState) {
		c.exec.Post(func() { c.onState(link, s) })
	})
	conn.OnTrack(func(rt core.RemoteTrack) {
		rt.Peer = remote
		c.exec.Post(func() {
			if c.current(link) {
				c.events.Publish(core.Event{Kind: core.EventRemoteTrack, Room: c.out.Room(), Data: rt, At: c.clock.Now()})
			}
		})
	})
	c.links.Put(link)
	for _, ci := range c.orphans[remote] {
		_ = link.AddCandidate(ci)
	}
	delete(c.orphans, remote)
	link.Timer = c.clock.AfterFunc(c.cfg.ConnectTimeout, func() {
		c.exec.Post(func() {
			if c.current(link) && link.State() == peer.StateNegotiating {
				c.fail(link, nil, true)
			}
		})
	})
	c.publishPeer(link)
	return link
}

func (c *Coordinator) current(link *peer.Link) bool {
	l, ok := c.links.Get(link.Remote())
	return ok && l == link && !c.closed
}

func (c *Coordinator) sendCandidate(link *peer.Link, ci webrtc.ICECandidateInit) {
	if !c.current(link) {
		return
	}
	p := protocol.Candidate{Candidate: ci.Candidate, SDPMid: ci.SDPMid, SDPMLineIndex: ci.SDPMLineIndex}
	if err := c.out.Send(protocol.TypeCandidate, link.Remote(), p); err != nil {
		c.log.Debug().Err(err).Str("peer", string(link.Remote())).Msg("candidate not delivered")
	}
}

func (c *Coordinator) onState(link *peer.Link, s webrtc.PeerConnectionState) {
	if !c.current(link) || !link.Apply(s) {
		return
	}
	c.log.Info().Str("peer", string(link.Remote())).Str("state", link.State().String()).Msg("link state")
	switch link.State() {
	case peer.StateConnected:
		if link.Timer != nil {
			link.Timer.Stop()
			link.Timer = nil
		}
		delete(c.attempts, link.Remote())
		c.publishPeer(link)
	case peer.StateFailed, peer.StateClosed:
		c.fail(link, nil, false)
	}
}

// fail removes a link and applies the failure policy. It never panics or
// propagates: a single peer's failure is reconciled locally.
func (c *Coordinator) fail(link *peer.Link, cause error, timeout bool) {
	remote := link.Remote()
	link.Fail()
	c.publishPeer(link)
	c.links.Forget(link)
	link.Close()

	if link.Topology() == peer.Star && !c.broadcaster() {
		c.primaryLost(remote, timeout)
		return
	}
	cerr := &core.ConnectionError{Peer: remote, Timeout: timeout, Err: cause}
	f := peer.Failure{
		Remote:   remote,
		Topology: link.Topology(),
		Relevant: link.Topology() == peer.Mesh && c.selfSeated() && c.seated(remote),
		Offerer:  c.shouldOffer(remote),
		Attempts: c.attempts[remote],
	}
	action := c.policy.OnFailure(f)
	c.log.Warn().Err(cerr).Str("action", action.String()).Msg("peer link lost")
	switch action {
	case peer.Recreate:
		c.attempts[remote]++
		c.offerMesh(remote)
	default:
		delete(c.attempts, remote)
	}
	if link.Topology() == peer.Star {
		c.publishCount()
	}
}

// primaryLost handles the viewer's own path to the broadcaster.
func (c *Coordinator) primaryLost(remote domain.UserID, timeout bool) {
	cerr := &core.ConnectionError{Peer: remote, Timeout: timeout}
	action := c.policy.OnFailure(peer.Failure{Remote: remote, Topology: peer.Star, Primary: true, Attempts: c.attempts[remote]})
	c.log.Warn().Err(cerr).Str("action", action.String()).Msg("primary link lost")
	c.publishError(cerr)
	if action == peer.Reannounce {
		c.attempts[remote]++
		c.watch()
	}
}

func (c *Coordinator) publishPeer(l *peer.Link) {
	c.events.Publish(core.Event{
		Kind: core.EventPeer,
		Room: c.out.Room(),
		Data: PeerEvent{Peer: l.Remote(), Topology: l.Topology().String(), State: l.State().String()},
		At:   c.clock.Now(),
	})
}

func (c *Coordinator) publishCount() {
	c.events.Publish(core.Event{Kind: core.EventViewerCount, Room: c.out.Room(), Data: c.ViewerCount(), At: c.clock.Now()})
}

func (c *Coordinator) publishError(err error) {
	c.events.Publish(core.Event{Kind: core.EventError, Room: c.out.Room(), Data: core.NewErrorView(err), At: c.clock.Now()})
}

// Links is a snapshot of every live link.
func (c *Coordinator) Links() []peer.View { return c.links.Snapshot() }

// Link returns the current link to remote.
func (c *Coordinator) Link(remote domain.UserID) (*peer.Link, bool) { return c.links.Get(remote) }

// Close tears every link down synchronously. Idempotent.
func (c *Coordinator) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.stopWatch()
	c.links.CloseAll()
	clear(c.orphans)
	clear(c.attempts)
	clear(c.ready)
	c.selfReady = false
}
