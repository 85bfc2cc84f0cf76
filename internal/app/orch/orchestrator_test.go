package orch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/core/coretest"
	"github.com/dkeye/LiveStudio/internal/core/mocks"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/dkeye/LiveStudio/internal/protocol"
	"go.uber.org/mock/gomock"
)

var (
	me   = domain.User{ID: "me", Username: "Me"}
	host = domain.User{ID: "host", Username: "Host"}
)

type harness struct {
	tr      *coretest.Transport
	factory *coretest.Factory
	devices *coretest.Devices
	sink    *coretest.Sink
	o       *Orchestrator
}

func newHarness(t *testing.T, tweak func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		tr:      coretest.NewTransport(),
		factory: coretest.NewFactory(),
		devices: &coretest.Devices{},
		sink:    &coretest.Sink{},
	}
	d := Deps{
		Transport:   h.tr,
		Connections: h.factory,
		Devices:     h.devices,
		Events:      h.sink,
		Self:        me,
		Settings: Settings{
			ConnectTimeout: time.Minute,
			EndAckTimeout:  20 * time.Millisecond,
			AcquireTimeout: time.Second,
			MaxReconnects:  1,
		},
	}
	if tweak != nil {
		tweak(&d)
	}
	h.o = New(d)
	t.Cleanup(h.o.Close)
	return h
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOneSessionAtATime(t *testing.T) {
	h := newHarness(t, nil)
	v, err := h.o.StartBroadcast(ctx(t), "room1", domain.ModeSolo, 0, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if v.State != "live" || v.Role != domain.RoleBroadcaster || v.Host != me.ID {
		t.Fatalf("view = %+v", v)
	}
	if _, err := h.o.StartBroadcast(ctx(t), "room2", domain.ModeSolo, 0, ""); !errors.Is(err, core.ErrSessionActive) {
		t.Fatalf("second broadcast: %v", err)
	}
	if _, err := h.o.Watch(ctx(t), "room2"); !errors.Is(err, core.ErrSessionActive) {
		t.Fatalf("watch while live: %v", err)
	}
	if h.devices.Opens() != 1 {
		t.Fatalf("opens = %d", h.devices.Opens())
	}
}

func TestStartBroadcastValidatesInput(t *testing.T) {
	h := newHarness(t, nil)
	tests := []struct {
		name     string
		room     domain.RoomID
		mode     domain.Mode
		maxSeats int
	}{
		{"no room", "", domain.ModeSolo, 0},
		{"bad mode", "r", domain.Mode("karaoke"), 0},
		{"bad layout", "r", domain.ModeMulti, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.o.StartBroadcast(ctx(t), tt.room, tt.mode, tt.maxSeats, ""); !errors.Is(err, core.ErrInvalidInput) {
				t.Fatalf("err = %v", err)
			}
		})
	}
	if h.devices.Opens() != 0 {
		t.Fatal("devices opened for invalid input")
	}
}

func TestStopReleasesAndAllowsNewSession(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.o.StartBroadcast(ctx(t), "room1", domain.ModeMulti, 0, ""); err != nil {
		t.Fatal(err)
	}
	snap, err := h.o.Snapshot(ctx(t))
	if err != nil || len(snap.Seats) != domain.DefaultMaxSeats || !snap.Seats[0].HeldBy(me.ID) {
		t.Fatalf("snapshot = %+v %v", snap, err)
	}
	if err := h.o.Stop(ctx(t)); err != nil {
		t.Fatal(err)
	}
	if !h.devices.Streams()[0].AllStopped() {
		t.Fatal("media not released")
	}
	if len(h.tr.SentOfType(protocol.TypeStopBroadcast)) != 1 {
		t.Fatal("stop_broadcast not sent")
	}
	if _, err := h.o.Snapshot(ctx(t)); !errors.Is(err, core.ErrNoSession) {
		t.Fatalf("snapshot after stop: %v", err)
	}
	if h.tr.Subscribers(protocol.TypeOffer) != 0 {
		t.Fatal("subscriptions leaked")
	}
	if err := h.o.Stop(ctx(t)); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if _, err := h.o.StartBroadcast(ctx(t), "room1", domain.ModeAudio, 0, ""); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestDeviceFailureLeavesNoSession(t *testing.T) {
	h := newHarness(t, nil)
	h.devices.Err = &core.PlatformError{Name: "NotAllowedError"}
	_, err := h.o.StartBroadcast(ctx(t), "room1", domain.ModeSolo, 0, "")
	var de *core.DeviceError
	if !errors.As(err, &de) || de.Kind != core.DevicePermissionDenied {
		t.Fatalf("err = %v", err)
	}
	if _, err := h.o.Snapshot(ctx(t)); !errors.Is(err, core.ErrNoSession) {
		t.Fatalf("snapshot: %v", err)
	}
	if len(h.tr.SentOfType(protocol.TypeStartBroadcast)) != 0 {
		t.Fatal("announced without media")
	}
	h.devices.Err = nil
	if _, err := h.o.StartBroadcast(ctx(t), "room1", domain.ModeSolo, 0, ""); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestWatchResolvesMetadata(t *testing.T) {
	info := domain.StreamInfo{RoomID: "room1", Host: host, Mode: domain.ModeMulti, MaxSeats: 4, Title: "party"}

	t.Run("cache miss goes to REST and fills cache", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		cache := mocks.NewMockStreamCache(ctrl)
		streams := mocks.NewMockStreamRegistry(ctrl)
		cache.EXPECT().Get(gomock.Any(), domain.RoomID("room1")).Return(domain.StreamInfo{}, false, nil)
		streams.EXPECT().FetchStream(gomock.Any(), domain.RoomID("room1")).Return(info, nil)
		cache.EXPECT().Put(gomock.Any(), info).Return(nil)

		h := newHarness(t, func(d *Deps) { d.Cache, d.Streams = cache, streams })
		v, err := h.o.Watch(ctx(t), "room1")
		if err != nil {
			t.Fatal(err)
		}
		if v.Mode != domain.ModeMulti || v.MaxSeats != 4 || v.Role != domain.RoleViewer || v.Host != host.ID {
			t.Fatalf("view = %+v", v)
		}
		if h.devices.Opens() != 0 {
			t.Fatal("viewer opened devices")
		}
		w := h.tr.SentOfType(protocol.TypeWatcher)
		if len(w) != 1 || w[0].To != host.ID {
			t.Fatalf("watcher = %+v", w)
		}
		h.o.Close()
	})

	t.Run("cache hit skips REST", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		cache := mocks.NewMockStreamCache(ctrl)
		streams := mocks.NewMockStreamRegistry(ctrl)
		cache.EXPECT().Get(gomock.Any(), domain.RoomID("room1")).Return(info, true, nil)

		h := newHarness(t, func(d *Deps) { d.Cache, d.Streams = cache, streams })
		v, err := h.o.Watch(ctx(t), "room1")
		if err != nil || v.Mode != domain.ModeMulti {
			t.Fatalf("view = %+v err = %v", v, err)
		}
		h.o.Close()
	})

	t.Run("failures fall back to minimal viewer", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		cache := mocks.NewMockStreamCache(ctrl)
		streams := mocks.NewMockStreamRegistry(ctrl)
		cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(domain.StreamInfo{}, false, errors.New("redis down"))
		streams.EXPECT().FetchStream(gomock.Any(), gomock.Any()).Return(domain.StreamInfo{}, core.ErrStreamNotFound)

		h := newHarness(t, func(d *Deps) { d.Cache, d.Streams = cache, streams })
		v, err := h.o.Watch(ctx(t), "room1")
		if err != nil {
			t.Fatal(err)
		}
		if v.Mode != domain.ModeSolo || v.MaxSeats != 0 || v.State != "live" {
			t.Fatalf("view = %+v", v)
		}
		snap, _ := h.o.Snapshot(ctx(t))
		if snap.Seats != nil {
			t.Fatal("minimal session has seats")
		}
		h.o.Close()
	})
}

func TestRoutesRoomMessages(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.o.StartBroadcast(ctx(t), "room1", domain.ModeSolo, 0, ""); err != nil {
		t.Fatal(err)
	}
	h.tr.DeliverNew(protocol.TypeWatcher, "room1", "v1", "", protocol.Watcher{ViewerID: "v1"})
	h.tr.DeliverNew(protocol.TypeWatcher, "room2", "v2", "", protocol.Watcher{ViewerID: "v2"})
	h.tr.DeliverNew(protocol.TypeWatcher, "room1", "v3", "someone", protocol.Watcher{ViewerID: "v3"})

	snap, err := h.o.Snapshot(ctx(t))
	if err != nil {
		t.Fatal(err)
	}
	if snap.ViewerCount != 1 || len(snap.Links) != 1 || snap.Links[0].Peer != "v1" {
		t.Fatalf("snapshot = %+v", snap)
	}
	offers := h.tr.SentOfType(protocol.TypeOffer)
	if len(offers) != 1 || offers[0].To != "v1" {
		t.Fatalf("offers = %+v", offers)
	}

	h.tr.DeliverNew(protocol.TypeRemoveWatcher, "room1", "", "", protocol.Departure{UserID: "v1"})
	snap, _ = h.o.Snapshot(ctx(t))
	if snap.ViewerCount != 0 || !h.factory.Last("v1").IsClosed() {
		t.Fatalf("after departure = %+v", snap)
	}
}

func TestRemoteEndRetiresSession(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.o.Watch(ctx(t), "room1"); err != nil {
		t.Fatal(err)
	}
	h.tr.DeliverNew(protocol.TypeStreamEnded, "room1", "", "", protocol.StreamEnded{Reason: "host left"})
	eventually(t, func() bool {
		_, err := h.o.Snapshot(ctx(t))
		return errors.Is(err, core.ErrNoSession)
	})
	if _, err := h.o.Watch(ctx(t), "room1"); err != nil {
		t.Fatalf("watch again: %v", err)
	}
}

func TestTransportDownRetiresSession(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.o.StartBroadcast(ctx(t), "room1", domain.ModeSolo, 0, ""); err != nil {
		t.Fatal(err)
	}
	h.tr.DeliverNew(protocol.TypeTransportDown, "", "", "", protocol.TransportDown{Reason: "gave up"})
	eventually(t, func() bool {
		_, err := h.o.Snapshot(ctx(t))
		return errors.Is(err, core.ErrNoSession)
	})
	if !h.devices.Streams()[0].AllStopped() {
		t.Fatal("media held after fatal transport loss")
	}
	var kinds []string
	for _, e := range h.sink.Errors() {
		kinds = append(kinds, e.Kind)
	}
	if len(kinds) != 1 || kinds[0] != "signaling" {
		t.Fatalf("errors = %v", kinds)
	}
}

func TestOperationsNeedALiveSession(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.o.SendChat(ctx(t), "hello"); !errors.Is(err, core.ErrNoSession) {
		t.Fatalf("chat: %v", err)
	}
	if err := h.o.RequestSeat(ctx(t), 1); !errors.Is(err, core.ErrNoSession) {
		t.Fatalf("seat: %v", err)
	}
	if _, err := h.o.Watch(ctx(t), "room1"); err != nil {
		t.Fatal(err)
	}
	if err := h.o.RequestSeat(ctx(t), 1); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("seat in solo room: %v", err)
	}
	if _, err := h.o.ChallengePK(ctx(t), "rival", 5*time.Minute); !errors.Is(err, core.ErrNotHost) {
		t.Fatalf("viewer pk: %v", err)
	}
}

func TestOverlaysThroughOrchestrator(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockGiftLedger(ctrl)
	posted := make(chan domain.GiftEvent, 1)
	ledger.EXPECT().PostGift(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, g domain.GiftEvent) error {
		posted <- g
		return nil
	})

	h := newHarness(t, func(d *Deps) { d.Ledger = ledger })
	if _, err := h.o.StartBroadcast(ctx(t), "room1", domain.ModeSolo, 0, ""); err != nil {
		t.Fatal(err)
	}
	msg, err := h.o.SendChat(ctx(t), "  hello room  ")
	if err != nil || msg.Text != "hello room" || !msg.IsHost {
		t.Fatalf("chat = %+v %v", msg, err)
	}
	ev, err := h.o.SendGift(ctx(t), "v1", "rose", 3)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case g := <-posted:
		if g.ID != ev.ID {
			t.Fatalf("ledger got %+v", g)
		}
	case <-time.After(time.Second):
		t.Fatal("gift never reached the ledger")
	}
	snap, _ := h.o.Snapshot(ctx(t))
	if len(snap.Chat) != 1 || len(snap.Gifts) != 1 || snap.GiftTotals["v1"] != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if _, err := h.o.SendChat(ctx(t), "   "); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("blank chat: %v", err)
	}
}

func TestPKChallengeFromBroadcaster(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Settings.PKAcceptWindow = time.Minute })
	if _, err := h.o.StartBroadcast(ctx(t), "room1", domain.ModeSolo, 0, ""); err != nil {
		t.Fatal(err)
	}
	c, err := h.o.ChallengePK(ctx(t), "rival", 3*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != domain.PKPending || c.Opponent != "rival" {
		t.Fatalf("challenge = %+v", c)
	}
	sent := h.tr.SentOfType(protocol.TypePKChallenge)
	if len(sent) != 1 || sent[0].To != "rival" {
		t.Fatalf("sent = %+v", sent)
	}
	if err := h.o.CancelPK(ctx(t)); err != nil {
		t.Fatal(err)
	}
	snap, _ := h.o.Snapshot(ctx(t))
	if snap.PK == nil || snap.PK.Status != domain.PKDeclined {
		t.Fatalf("pk after cancel = %+v", snap.PK)
	}
	if _, err := h.o.ChallengePK(ctx(t), "rival", 7*time.Minute); err == nil {
		t.Fatal("duration outside the allowed set accepted")
	}
}

func TestSeatDepartureNamesTheSender(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.o.StartBroadcast(ctx(t), "room1", domain.ModeMulti, 4, ""); err != nil {
		t.Fatal(err)
	}
	for i, id := range []domain.UserID{"g1", "g2"} {
		h.tr.DeliverNew(protocol.TypeRequestSeat, "room1", string(id), "", protocol.SeatRequest{SeatID: i + 1, User: domain.User{ID: id}})
		if err := h.o.ApproveSeat(ctx(t), i+1, id); err != nil {
			t.Fatalf("approve %s: %v", id, err)
		}
	}
	h.tr.DeliverNew(protocol.TypeLeaveSeat, "room1", "g2", "", protocol.Departure{UserID: "g1"})

	snap, err := h.o.Snapshot(ctx(t))
	if err != nil {
		t.Fatal(err)
	}
	occupants := map[int]domain.UserID{}
	for _, s := range snap.Seats {
		if s.Occupant != nil {
			occupants[s.Index] = s.Occupant.ID
		}
	}
	if occupants[1] != "g1" {
		t.Fatalf("g1 vacated by another guest's leave: %v", occupants)
	}
	if _, ok := occupants[2]; ok {
		t.Fatalf("g2 still seated: %v", occupants)
	}
}

func TestDeparted(t *testing.T) {
	tests := []struct {
		name string
		from domain.UserID
		body any
		want domain.UserID
	}{
		{"sender wins over payload", "g2", protocol.Departure{UserID: "g1"}, "g2"},
		{"server notice uses payload", "", protocol.Departure{UserID: "g1"}, "g1"},
		{"server notice without user", "", protocol.Departure{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := protocol.New(protocol.TypeLeft, "room1", tt.from, "", tt.body)
			if err != nil {
				t.Fatal(err)
			}
			if got := departed(m); got != tt.want {
				t.Fatalf("departed = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBroadcastCachesMetadataUntilStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockStreamCache(ctrl)
	gomock.InOrder(
		cache.EXPECT().Put(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, info domain.StreamInfo) error {
			if info.RoomID != "room1" || info.Host.ID != me.ID {
				t.Errorf("cached %+v", info)
			}
			return nil
		}),
		cache.EXPECT().Forget(gomock.Any(), domain.RoomID("room1")).Return(nil),
	)

	h := newHarness(t, func(d *Deps) { d.Cache = cache })
	if _, err := h.o.StartBroadcast(ctx(t), "room1", domain.ModeSolo, 0, ""); err != nil {
		t.Fatal(err)
	}
	if err := h.o.Stop(ctx(t)); err != nil {
		t.Fatal(err)
	}
	if err := h.o.Stop(ctx(t)); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
