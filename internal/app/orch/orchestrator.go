// Package orch owns the one live session a client may hold and wires the
// transport, devices and collaborators into it.
package orch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/LiveStudio/internal/app/loop"
	"github.com/dkeye/LiveStudio/internal/app/peer"
	"github.com/dkeye/LiveStudio/internal/app/seats"
	"github.com/dkeye/LiveStudio/internal/app/session"
	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Settings are the tunables of every session the orchestrator builds.
type Settings struct {
	ConnectTimeout     time.Duration
	EndAckTimeout      time.Duration
	AcquireTimeout     time.Duration
	SeatRequestTimeout time.Duration
	MaxReconnects      int
	PKAcceptWindow     time.Duration
	PKTick             time.Duration
	ChatCap            int
	GiftCap            int
	ChatRate           int
	ChatWindow         time.Duration
	MetadataTimeout    time.Duration
}

type Deps struct {
	Transport   core.Transport
	Connections core.ConnectionFactory
	Devices     core.DeviceProvider
	// Collaborators are optional.
	Streams core.StreamRegistry
	Ledger  core.GiftLedger
	PKStore core.PKStore
	Cache   core.StreamCache
	Events  core.EventSink
	Clock   loop.Clock

	Self     domain.User
	Device   domain.DeviceClass
	Settings Settings
}

type Orchestrator struct {
	deps Deps

	mu      sync.Mutex
	rt      *runtime
	flights singleflight.Group
}

func New(d Deps) *Orchestrator {
	if d.Events == nil {
		d.Events = core.Discard
	}
	if d.Clock == nil {
		d.Clock = loop.SystemClock{}
	}
	if d.Device == "" {
		d.Device = domain.DeviceDesktop
	}
	if d.Settings.MetadataTimeout <= 0 {
		d.Settings.MetadataTimeout = 5 * time.Second
	}
	return &Orchestrator{deps: d}
}

func (o *Orchestrator) Self() domain.User { return o.deps.Self }

// StartBroadcast goes live in room as the broadcaster (host of seat 0 in
// multi-guest mode). It returns once the session is live or failed.
func (o *Orchestrator) StartBroadcast(ctx context.Context, room domain.RoomID, mode domain.Mode, maxSeats int, title string) (session.View, error) {
	if room == "" || !mode.Valid() {
		return session.View{}, fmt.Errorf("%w: room and mode are required", core.ErrInvalidInput)
	}
	if mode == domain.ModeMulti {
		if maxSeats == 0 {
			maxSeats = domain.DefaultMaxSeats
		}
		if err := domain.ValidateMaxSeats(maxSeats); err != nil {
			return session.View{}, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
		}
	} else {
		maxSeats = 0
	}
	info := domain.StreamInfo{RoomID: room, Host: o.deps.Self, Mode: mode, MaxSeats: maxSeats, Title: title}
	v, err := o.launch(ctx, info, domain.RoleBroadcaster)
	if err == nil {
		o.remember(info)
	}
	return v, err
}

// Watch joins room as a viewer. Missing metadata degrades to a solo
// viewer session.
func (o *Orchestrator) Watch(ctx context.Context, room domain.RoomID) (session.View, error) {
	if room == "" {
		return session.View{}, fmt.Errorf("%w: room is required", core.ErrInvalidInput)
	}
	if err := o.claim(); err != nil {
		return session.View{}, err
	}
	info := o.metadata(ctx, room)
	return o.launch(ctx, info, domain.RoleViewer)
}

func (o *Orchestrator) claim() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rt != nil {
		return core.ErrSessionActive
	}
	return nil
}

func (o *Orchestrator) launch(ctx context.Context, info domain.StreamInfo, role domain.Role) (session.View, error) {
	o.mu.Lock()
	if o.rt != nil {
		o.mu.Unlock()
		return session.View{}, core.ErrSessionActive
	}
	rt, err := o.build(info, role)
	if err != nil {
		o.mu.Unlock()
		return session.View{}, err
	}
	o.rt = rt
	o.mu.Unlock()

	res := make(chan error, 1)
	if !rt.loop.Post(func() { rt.life.Start(func(err error) { res <- err }) }) {
		o.retire(rt)
		return session.View{}, loop.ErrClosed
	}
	select {
	case err = <-res:
	case <-ctx.Done():
		err = ctx.Err()
		_ = rt.loop.Do(context.Background(), func() error { rt.life.Teardown(); return nil })
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("room", string(info.RoomID)).Msg("session did not start")
		o.retire(rt)
		return session.View{}, err
	}
	log.Info().Str("module", "app.orch").Str("room", string(info.RoomID)).Str("role", string(role)).Msg("session live")
	return o.view(ctx, rt)
}

// Stop ends the active session. Without one it is a no-op.
func (o *Orchestrator) Stop(ctx context.Context) error {
	rt := o.current()
	if rt == nil {
		return nil
	}
	res := make(chan error, 1)
	if rt.loop.Post(func() { rt.life.Stop(func(err error) { res <- err }) }) {
		select {
		case err := <-res:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			_ = rt.loop.Do(context.Background(), func() error { rt.life.Teardown(); return nil })
		}
	}
	o.retire(rt)
	return nil
}

// Close tears the active session down without waiting for the room.
func (o *Orchestrator) Close() {
	rt := o.current()
	if rt == nil {
		return
	}
	_ = rt.loop.Do(context.Background(), func() error { rt.life.Teardown(); return nil })
	o.retire(rt)
}

func (o *Orchestrator) current() *runtime {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rt
}

// retire detaches rt if it is still current and stops its loop.
func (o *Orchestrator) retire(rt *runtime) {
	o.mu.Lock()
	detached := o.rt == rt
	if detached {
		o.rt = nil
	}
	o.mu.Unlock()
	rt.shutdown()
	if detached && rt.host == rt.self.ID {
		o.forget(rt.out.Room())
	}
}

// Snapshot is the read model of the active session.
type Snapshot struct {
	Session     session.View            `json:"session"`
	Links       []peer.View             `json:"links"`
	ViewerCount int                     `json:"viewerCount"`
	Seats       []domain.Seat           `json:"seats,omitempty"`
	Requests    *seats.RequestsView     `json:"requests,omitempty"`
	Chat        []domain.ChatMessage    `json:"chat"`
	Gifts       []domain.GiftEvent      `json:"gifts"`
	GiftTotals  map[domain.UserID]int64 `json:"giftTotals,omitempty"`
	PK          *domain.PKChallenge     `json:"pk,omitempty"`
}

func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	rt := o.current()
	if rt == nil {
		return Snapshot{}, core.ErrNoSession
	}
	var s Snapshot
	err := rt.loop.Do(ctx, func() error {
		s = rt.snapshot()
		return nil
	})
	return s, err
}

func (o *Orchestrator) view(ctx context.Context, rt *runtime) (session.View, error) {
	var v session.View
	err := rt.loop.Do(ctx, func() error {
		v = rt.sessionView()
		return nil
	})
	return v, err
}
