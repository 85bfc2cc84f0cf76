// Package session drives one live session through
// Idle → Starting → Live → Ending → Ended.
package session

import (
	"context"
	"time"

	"github.com/dkeye/LiveStudio/internal/app/loop"
	"github.com/dkeye/LiveStudio/internal/app/media"
	"github.com/dkeye/LiveStudio/internal/app/signaling"
	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/dkeye/LiveStudio/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultEndAckTimeout = 3 * time.Second

type Config struct {
	Session       domain.Session
	Self          domain.User
	Title         string
	EndAckTimeout time.Duration
}

// View is the payload of core.EventLifecycle and the session snapshot.
type View struct {
	domain.Session
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

type Deps struct {
	Out     *core.Outbox
	Media   *media.Source
	Coord   *signaling.Coordinator
	Streams core.StreamRegistry
	Exec    loop.Executor
	Clock   loop.Clock
	Events  core.EventSink
}

// Lifecycle is confined to the session loop. Completion callbacks passed to
// Start and Stop run on the loop.
type Lifecycle struct {
	cfg     Config
	out     *core.Outbox
	media   *media.Source
	coord   *signaling.Coordinator
	streams core.StreamRegistry
	exec    loop.Executor
	clock   loop.Clock
	events  core.EventSink
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state     domain.LifecycleState
	startDone func(error)
	stopDone  []func(error)
	ackTimer  loop.Timer
	reason    string
	cleanups  []func()
	cleaned   bool
}

func New(cfg Config, d Deps) *Lifecycle {
	if cfg.EndAckTimeout <= 0 {
		cfg.EndAckTimeout = DefaultEndAckTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Lifecycle{
		cfg:     cfg,
		out:     d.Out,
		media:   d.Media,
		coord:   d.Coord,
		streams: d.Streams,
		exec:    d.Exec,
		clock:   d.Clock,
		events:  d.Events,
		log: log.With().Str("module", "app.session").
			Str("room", string(cfg.Session.RoomID)).
			Str("role", string(cfg.Session.Role)).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (l *Lifecycle) State() domain.LifecycleState { return l.state }

func (l *Lifecycle) View() View {
	s := l.cfg.Session
	s.Lifecycle = l.state
	return View{Session: s, State: l.state.String()}
}

// OnCleanup registers fn to run once on every exit path, newest first.
func (l *Lifecycle) OnCleanup(fn func()) { l.cleanups = append(l.cleanups, fn) }

// Start moves Idle → Starting → Live. Publishing roles acquire media first;
// a device failure returns to Idle with a DeviceError.
func (l *Lifecycle) Start(done func(error)) {
	if l.state != domain.StateIdle || l.cleaned {
		done(core.ErrInvalidTransition)
		return
	}
	l.startDone = done
	l.setState(domain.StateStarting, "")
	if !l.cfg.Session.Role.Publishes() {
		l.announce()
		return
	}
	ctx, mode := l.ctx, l.cfg.Session.Mode
	l.exec.Go(func() {
		_, err := l.media.Acquire(ctx, mode)
		l.exec.Post(func() { l.onAcquired(err) })
	})
}

func (l *Lifecycle) onAcquired(err error) {
	if l.state != domain.StateStarting {
		if err == nil {
			l.media.Release()
		}
		return
	}
	if err != nil {
		l.media.Release()
		l.log.Warn().Err(err).Msg("device acquisition failed")
		l.publishError(err)
		l.setState(domain.StateIdle, "device")
		l.finishStart(err)
		return
	}
	l.announce()
}

func (l *Lifecycle) announce() {
	s := l.cfg.Session
	var err error
	if s.Role == domain.RoleBroadcaster {
		err = l.out.Send(protocol.TypeStartBroadcast, "", protocol.StartBroadcast{
			Host:     l.cfg.Self,
			Mode:     s.Mode,
			MaxSeats: s.MaxSeats,
			Title:    l.cfg.Title,
		})
	} else {
		err = l.out.Send(protocol.TypeJoinStream, "", protocol.Watcher{ViewerID: l.cfg.Self.ID, Username: l.cfg.Self.Username})
	}
	if err != nil {
		l.log.Error().Err(err).Msg("announce failed")
		l.cleanup()
		l.publishError(err)
		l.setState(domain.StateIdle, "signaling")
		l.finishStart(err)
		return
	}
	l.cfg.Session.StartedAt = l.clock.Now()
	l.setState(domain.StateLive, "")
	l.coord.Begin()
	if s.Role == domain.RoleBroadcaster && l.streams != nil {
		info := domain.StreamInfo{RoomID: s.RoomID, Host: l.cfg.Self, Mode: s.Mode, MaxSeats: s.MaxSeats, Title: l.cfg.Title}
		ctx := l.ctx
		l.exec.Go(func() {
			if err := l.streams.StartStream(ctx, info); err != nil {
				log.Warn().Err(err).Str("module", "app.session").Str("room", string(info.RoomID)).Msg("stream record not created")
			}
		})
	}
	l.finishStart(nil)
}

func (l *Lifecycle) finishStart(err error) {
	if done := l.startDone; done != nil {
		l.startDone = nil
		done(err)
	}
}

// Stop ends a live session. It completes after the room acknowledges or
// EndAckTimeout passes, whichever is first. Stopping an idle or ended
// session is a no-op.
func (l *Lifecycle) Stop(done func(error)) {
	switch l.state {
	case domain.StateIdle, domain.StateEnded:
		done(nil)
	case domain.StateStarting:
		l.cleanup()
		l.setState(domain.StateIdle, "aborted")
		l.finishStart(core.ErrAborted)
		done(nil)
	case domain.StateEnding:
		l.stopDone = append(l.stopDone, done)
	case domain.StateLive:
		l.stopDone = append(l.stopDone, done)
		l.beginEnding("stopped", true)
	}
}

func (l *Lifecycle) beginEnding(reason string, notify bool) {
	l.reason = reason
	l.setState(domain.StateEnding, reason)
	l.cleanup()
	s := l.cfg.Session
	if s.Role == domain.RoleBroadcaster && l.streams != nil {
		room := s.RoomID
		l.exec.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.streams.EndStream(ctx, room); err != nil {
				log.Warn().Err(err).Str("module", "app.session").Str("room", string(room)).Msg("stream record not closed")
			}
		})
	}
	if !notify {
		l.finishEnding(reason)
		return
	}
	typ := protocol.TypeLeaveStream
	if s.Role == domain.RoleBroadcaster {
		typ = protocol.TypeStopBroadcast
	}
	if err := l.out.Send(typ, "", protocol.Departure{UserID: l.cfg.Self.ID}); err != nil {
		l.log.Warn().Err(err).Msg("end notice not delivered")
		l.finishEnding(reason)
		return
	}
	l.ackTimer = l.clock.AfterFunc(l.cfg.EndAckTimeout, func() {
		l.exec.Post(func() {
			if l.state == domain.StateEnding {
				l.log.Info().Msg("no end acknowledgment, ending anyway")
				l.finishEnding(reason)
			}
		})
	})
}

func (l *Lifecycle) finishEnding(reason string) {
	l.stopAck()
	l.setState(domain.StateEnded, reason)
	l.cancel()
	waiting := l.stopDone
	l.stopDone = nil
	for _, done := range waiting {
		done(nil)
	}
}

func (l *Lifecycle) stopAck() {
	if l.ackTimer != nil {
		l.ackTimer.Stop()
		l.ackTimer = nil
	}
}

// HandleStreamEnded covers stream_ended and broadcaster_disconnected: an
// acknowledgment while Ending, a remote end while Live.
func (l *Lifecycle) HandleStreamEnded(m protocol.Message) {
	var p protocol.StreamEnded
	if err := m.Decode(&p); err != nil {
		l.log.Debug().Err(err).Str("type", m.Type).Msg("end notice without readable reason")
	}
	reason := p.Reason
	if reason == "" {
		reason = m.Type
	}
	switch l.state {
	case domain.StateEnding:
		l.finishEnding(l.reason)
	case domain.StateLive:
		if l.cfg.Session.Role == domain.RoleBroadcaster && m.Type == protocol.TypeBroadcasterOff {
			return
		}
		l.log.Info().Str("reason", reason).Msg("stream ended by room")
		l.beginEnding(reason, false)
	}
}

// HandleLeft acknowledges our own leave_stream.
func (l *Lifecycle) HandleLeft(m protocol.Message) {
	var p protocol.Departure
	if err := m.Decode(&p); err != nil || p.UserID == "" {
		p.UserID = m.From
	}
	if p.UserID == l.cfg.Self.ID && l.state == domain.StateEnding {
		l.finishEnding(l.reason)
	}
}

// HandleTransportDown is fatal: everything is released and the session
// returns to Idle.
func (l *Lifecycle) HandleTransportDown(m protocol.Message) {
	if l.state == domain.StateIdle || l.state == domain.StateEnded {
		return
	}
	var p protocol.TransportDown
	if err := m.Decode(&p); err != nil {
		l.log.Debug().Err(err).Msg("transport notice without readable reason")
	}
	err := &core.SignalingError{Type: protocol.TypeTransportDown, Reason: p.Reason, Err: core.ErrTransportClosed}
	l.log.Error().Err(err).Msg("transport lost")
	l.stopAck()
	l.cleanup()
	l.cancel()
	l.publishError(err)
	l.setState(domain.StateIdle, "transport")
	l.finishStart(err)
	waiting := l.stopDone
	l.stopDone = nil
	for _, done := range waiting {
		done(nil)
	}
}

// Teardown releases everything synchronously. It is valid in every state and
// idempotent.
func (l *Lifecycle) Teardown() {
	l.stopAck()
	l.cleanup()
	l.cancel()
	switch l.state {
	case domain.StateStarting:
		l.setState(domain.StateIdle, "teardown")
		l.finishStart(core.ErrAborted)
	case domain.StateLive, domain.StateEnding:
		l.finishEnding("teardown")
	}
}

// cleanup closes links, releases media and runs hooks. Runs once.
func (l *Lifecycle) cleanup() {
	if l.cleaned {
		return
	}
	l.cleaned = true
	l.coord.Close()
	l.media.Release()
	for i := len(l.cleanups) - 1; i >= 0; i-- {
		l.cleanups[i]()
	}
	l.cleanups = nil
}

func (l *Lifecycle) setState(s domain.LifecycleState, reason string) {
	if l.state == s {
		return
	}
	l.log.Info().Str("from", l.state.String()).Str("to", s.String()).Str("reason", reason).Msg("lifecycle")
	l.state = s
	v := l.View()
	v.Reason = reason
	l.events.Publish(core.Event{Kind: core.EventLifecycle, Room: l.cfg.Session.RoomID, Data: v, At: l.clock.Now()})
}

func (l *Lifecycle) publishError(err error) {
	l.events.Publish(core.Event{Kind: core.EventError, Room: l.cfg.Session.RoomID, Data: core.NewErrorView(err), At: l.clock.Now()})
}
