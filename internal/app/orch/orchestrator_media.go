package orch

import (
	"context"
	"sync"

	"github.com/dkeye/LiveStudio/internal/app/loop"
	"github.com/dkeye/LiveStudio/internal/app/media"
	"github.com/dkeye/LiveStudio/internal/app/overlay"
	"github.com/dkeye/LiveStudio/internal/app/peer"
	"github.com/dkeye/LiveStudio/internal/app/pk"
	"github.com/dkeye/LiveStudio/internal/app/seats"
	"github.com/dkeye/LiveStudio/internal/app/session"
	"github.com/dkeye/LiveStudio/internal/app/signaling"
	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/dkeye/LiveStudio/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// runtime is one session: its loop and every component confined to it.
type runtime struct {
	loop   *loop.Loop
	self   domain.User
	host   domain.UserID
	out    *core.Outbox
	media  *media.Source
	coord  *signaling.Coordinator
	seats  *seats.Table
	life   *session.Lifecycle
	chat   *overlay.Chat
	gifts  *overlay.Gifts
	pk     *pk.Service
	subs   core.SubscriptionSet
	closer sync.Once
}

func (o *Orchestrator) build(info domain.StreamInfo, role domain.Role) (*runtime, error) {
	d, st := o.deps, o.deps.Settings
	self := d.Self
	host := info.Host
	if role == domain.RoleBroadcaster {
		host = self
	}
	rt := &runtime{
		loop: loop.New(),
		self: self,
		host: host.ID,
		out:  core.NewOutbox(d.Transport, info.RoomID, self.ID),
	}
	rt.media = media.NewSource(d.Devices, d.Device, st.AcquireTimeout)

	if info.Mode == domain.ModeMulti && info.MaxSeats > 0 {
		tbl, err := seats.New(seats.Config{
			Self:           self,
			Host:           host,
			MaxSeats:       info.MaxSeats,
			RequestTimeout: st.SeatRequestTimeout,
		}, rt.out, rt.loop, d.Clock, d.Events)
		if err != nil {
			return nil, err
		}
		rt.seats = tbl
	}
	rt.coord = signaling.New(signaling.Config{
		Self:           self,
		Role:           role,
		Mode:           info.Mode,
		Host:           host.ID,
		ConnectTimeout: st.ConnectTimeout,
	}, signaling.Deps{
		Out:     rt.out,
		Factory: d.Connections,
		Media:   rt.media,
		Seats:   rt.seats,
		Policy:  peer.RetryPolicy{MaxAttempts: max(st.MaxReconnects, 0)},
		Exec:    rt.loop,
		Clock:   d.Clock,
		Events:  d.Events,
	})
	if rt.seats != nil {
		rt.seats.OnChange(rt.coord.OnSeatChange)
	}
	rt.chat = overlay.NewChat(overlay.ChatConfig{
		Self:       self,
		Host:       host.ID,
		Cap:        st.ChatCap,
		RateLimit:  st.ChatRate,
		RateWindow: st.ChatWindow,
	}, rt.out, d.Clock, d.Events)
	rt.gifts = overlay.NewGifts(overlay.GiftConfig{Self: self, Cap: st.GiftCap}, rt.out, d.Ledger, rt.loop, d.Clock, d.Events)
	rt.pk = pk.NewService(pk.Config{Self: self, AcceptWindow: st.PKAcceptWindow, Tick: st.PKTick}, rt.out, d.PKStore, rt.loop, d.Clock, d.Events)

	rt.life = session.New(session.Config{
		Session: domain.Session{
			ID:       domain.SessionID(uuid.NewString()),
			RoomID:   info.RoomID,
			Mode:     info.Mode,
			Role:     role,
			Host:     host.ID,
			MaxSeats: info.MaxSeats,
		},
		Self:          self,
		Title:         info.Title,
		EndAckTimeout: st.EndAckTimeout,
	}, session.Deps{
		Out:     rt.out,
		Media:   rt.media,
		Coord:   rt.coord,
		Streams: d.Streams,
		Exec:    rt.loop,
		Clock:   d.Clock,
		Events:  d.Events,
	})
	rt.life.OnCleanup(rt.subs.Release)
	rt.life.OnCleanup(rt.chat.Close)
	rt.life.OnCleanup(rt.gifts.Close)
	rt.life.OnCleanup(rt.pk.Close)
	if rt.seats != nil {
		rt.life.OnCleanup(rt.seats.Close)
	}

	o.route(rt)
	go rt.loop.Run(context.Background())
	return rt, nil
}

// route subscribes every message type the session consumes. Handlers only
// filter and post; all state changes happen on the loop.
func (o *Orchestrator) route(rt *runtime) {
	on := func(typ string, fn func(protocol.Message)) {
		rt.subs.Add(o.deps.Transport.Subscribe(typ, func(m protocol.Message) {
			if !rt.accepts(m) {
				return
			}
			rt.loop.Post(func() {
				fn(m)
				if s := rt.life.State(); s == domain.StateEnded || (s == domain.StateIdle && m.Type == protocol.TypeTransportDown) {
					go o.retire(rt)
				}
			})
		}))
	}
	c, life := rt.coord, rt.life

	on(protocol.TypeWatcher, c.HandleWatcher)
	on(protocol.TypeOffer, c.HandleOffer)
	on(protocol.TypeAnswer, c.HandleAnswer)
	on(protocol.TypeCandidate, c.HandleCandidate)
	on(protocol.TypeViewerCount, c.HandleViewerCount)
	on(protocol.TypeRemoveWatcher, func(m protocol.Message) {
		if who := departed(m); who != "" {
			c.HandleDeparture(who)
		}
	})
	on(protocol.TypeLeft, func(m protocol.Message) {
		who := departed(m)
		life.HandleLeft(m)
		if who == "" || who == rt.self.ID {
			return
		}
		if rt.seats != nil {
			rt.seats.HandleDeparture(who, "left")
		}
		c.HandleDeparture(who)
	})
	on(protocol.TypeStreamEnded, life.HandleStreamEnded)
	on(protocol.TypeBroadcasterOff, life.HandleStreamEnded)
	on(protocol.TypeTransportDown, life.HandleTransportDown)

	if t := rt.seats; t != nil {
		on(protocol.TypeRequestSeat, t.HandleRequest)
		on(protocol.TypeSeatApproved, t.HandleApproved)
		on(protocol.TypeSeatRejected, t.HandleRejected)
		on(protocol.TypeGuestReady, c.HandleGuestReady)
		on(protocol.TypeKickFromSeat, t.HandleKick)
		on(protocol.TypeUserMuted, t.HandleMuted)
		on(protocol.TypeSeatState, t.HandleState)
		vacated := func(m protocol.Message) {
			if who := departed(m); who != "" && who != rt.self.ID {
				t.HandleDeparture(who, "left")
			}
		}
		on(protocol.TypeUserLeftSeat, vacated)
		on(protocol.TypeLeaveSeat, vacated)
	}

	on(protocol.TypeChatMessage, rt.chat.Handle)
	on(protocol.TypeGiftSent, rt.gifts.Handle)
	on(protocol.TypeGiftReceived, rt.gifts.Handle)
	on(protocol.TypePKChallenge, rt.pk.HandleChallenge)
	on(protocol.TypePKAccept, rt.pk.HandleAccept)
	on(protocol.TypePKDecline, rt.pk.HandleDecline)
	on(protocol.TypePKCancel, rt.pk.HandleDecline)
}

// accepts drops messages for other rooms or addressed to someone else.
// Local transport notices carry no room.
func (rt *runtime) accepts(m protocol.Message) bool {
	if m.Type == protocol.TypeTransportDown {
		return true
	}
	if m.RoomID != rt.out.Room() {
		return false
	}
	return m.To == "" || m.To == rt.self.ID
}

// departed names who left. Participants only speak for themselves, so a
// sender always wins over the payload; server notices carry no sender.
func departed(m protocol.Message) domain.UserID {
	if m.From != "" {
		return m.From
	}
	var p protocol.Departure
	if err := m.Decode(&p); err != nil {
		log.Debug().Err(err).Str("module", "app.orch").Str("type", m.Type).Msg("departure without payload")
		return ""
	}
	return p.UserID
}

// shutdown tears the session down and stops the loop. Safe to call
// more than once.
func (rt *runtime) shutdown() {
	rt.closer.Do(func() {
		rt.subs.Release()
		rt.loop.Post(rt.life.Teardown)
		rt.loop.Close()
		<-rt.loop.Done()
		rt.loop.Wait()
		log.Debug().Str("module", "app.orch").Str("room", string(rt.out.Room())).Msg("session runtime stopped")
	})
}

func (rt *runtime) sessionView() session.View {
	v := rt.life.View()
	if v.Role == domain.RoleViewer && rt.seats != nil {
		if _, seated := rt.seats.SeatOf(rt.self.ID); seated {
			v.Role = domain.RoleGuest
		}
	}
	return v
}

func (rt *runtime) snapshot() Snapshot {
	s := Snapshot{
		Session:     rt.sessionView(),
		Links:       rt.coord.Links(),
		ViewerCount: rt.coord.ViewerCount(),
		Chat:        rt.chat.Messages(),
		Gifts:       rt.gifts.Recent(),
		GiftTotals:  rt.gifts.Totals(),
		PK:          rt.pk.Active(),
	}
	if rt.seats != nil {
		s.Seats = rt.seats.Seats()
		s.Requests = &seats.RequestsView{Outgoing: rt.seats.Pending(), Incoming: rt.seats.Incoming()}
	}
	return s
}
