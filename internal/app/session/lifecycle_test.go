package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/LiveStudio/internal/app/loop"
	"github.com/dkeye/LiveStudio/internal/app/media"
	"github.com/dkeye/LiveStudio/internal/app/signaling"
	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/core/coretest"
	"github.com/dkeye/LiveStudio/internal/core/mocks"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/dkeye/LiveStudio/internal/protocol"
	"go.uber.org/mock/gomock"
)

var (
	host   = domain.User{ID: "host", Username: "Host"}
	viewer = domain.User{ID: "v1", Username: "Viewer"}
)

type fixture struct {
	tr      *coretest.Transport
	exec    *loop.Manual
	clock   *loop.FakeClock
	sink    *coretest.Sink
	factory *coretest.Factory
	devices *coretest.Devices
	coord   *signaling.Coordinator
	life    *Lifecycle
}

func newFixture(t *testing.T, self domain.User, role domain.Role, streams core.StreamRegistry) *fixture {
	t.Helper()
	f := &fixture{
		tr:      coretest.NewTransport(),
		exec:    loop.NewManual(),
		clock:   loop.NewFakeClock(time.Unix(2000, 0)),
		sink:    &coretest.Sink{},
		factory: coretest.NewFactory(),
		devices: &coretest.Devices{},
	}
	out := core.NewOutbox(f.tr, "room1", self.ID)
	src := media.NewSource(f.devices, domain.DeviceDesktop, time.Second)
	f.coord = signaling.New(signaling.Config{Self: self, Role: role, Mode: domain.ModeSolo, Host: host.ID}, signaling.Deps{
		Out:     out,
		Factory: f.factory,
		Media:   src,
		Exec:    f.exec,
		Clock:   f.clock,
		Events:  f.sink,
	})
	sess := domain.Session{ID: "s1", RoomID: "room1", Mode: domain.ModeSolo, Role: role, Host: host.ID}
	f.life = New(Config{Session: sess, Self: self, Title: "hello"}, Deps{
		Out:     out,
		Media:   src,
		Coord:   f.coord,
		Streams: streams,
		Exec:    f.exec,
		Clock:   f.clock,
		Events:  f.sink,
	})
	return f
}

// start runs Start to completion and returns its result.
func (f *fixture) start(t *testing.T) error {
	t.Helper()
	var (
		got    error
		called int
	)
	f.life.Start(func(err error) { got = err; called++ })
	f.exec.Drain()
	if called != 1 {
		t.Fatalf("start completion called %d times", called)
	}
	return got
}

func TestBroadcasterStartAcquiresAndAnnounces(t *testing.T) {
	ctrl := gomock.NewController(t)
	streams := mocks.NewMockStreamRegistry(ctrl)
	streams.EXPECT().StartStream(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, info domain.StreamInfo) error {
		if info.RoomID != "room1" || info.Host.ID != host.ID || info.Title != "hello" {
			t.Errorf("stream info = %+v", info)
		}
		return errors.New("rest down")
	})

	f := newFixture(t, host, domain.RoleBroadcaster, streams)
	if err := f.start(t); err != nil {
		t.Fatal(err)
	}
	if f.life.State() != domain.StateLive {
		t.Fatalf("state = %s", f.life.State())
	}
	if f.devices.Opens() != 1 {
		t.Fatalf("opens = %d", f.devices.Opens())
	}
	sent := f.tr.SentOfType(protocol.TypeStartBroadcast)
	if len(sent) != 1 {
		t.Fatal("start_broadcast not sent")
	}
	var p protocol.StartBroadcast
	if err := sent[0].Decode(&p); err != nil || p.Mode != domain.ModeSolo || p.Host.ID != host.ID {
		t.Fatalf("payload = %+v %v", p, err)
	}
	if v := f.life.View(); v.State != "live" || v.StartedAt.IsZero() {
		t.Fatalf("view = %+v", v)
	}
}

func TestStartTwiceIsRejected(t *testing.T) {
	f := newFixture(t, host, domain.RoleBroadcaster, nil)
	if err := f.start(t); err != nil {
		t.Fatal(err)
	}
	if err := f.start(t); !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("second start: %v", err)
	}
	if f.devices.Opens() != 1 {
		t.Fatalf("devices opened %d times", f.devices.Opens())
	}
}

func TestStartDeviceFailureReturnsToIdle(t *testing.T) {
	f := newFixture(t, host, domain.RoleBroadcaster, nil)
	f.devices.Err = &core.PlatformError{Name: "NotFoundError", Message: "no camera"}

	err := f.start(t)
	var de *core.DeviceError
	if !errors.As(err, &de) || de.Kind != core.DeviceNotFound {
		t.Fatalf("err = %v", err)
	}
	if f.life.State() != domain.StateIdle {
		t.Fatalf("state = %s", f.life.State())
	}
	if len(f.tr.SentOfType(protocol.TypeStartBroadcast)) != 0 {
		t.Fatal("announced without media")
	}
	for _, e := range f.sink.Of(core.EventLifecycle) {
		if e.Data.(View).State == "live" {
			t.Fatal("reached live")
		}
	}
	if errs := f.sink.Errors(); len(errs) != 1 || errs[0].Kind != "device.not_found" {
		t.Fatalf("errors = %+v", errs)
	}
}

func TestViewerStartAcquiresNothing(t *testing.T) {
	f := newFixture(t, viewer, domain.RoleViewer, nil)
	if err := f.start(t); err != nil {
		t.Fatal(err)
	}
	if f.devices.Opens() != 0 {
		t.Fatal("viewer opened devices")
	}
	if len(f.tr.SentOfType(protocol.TypeJoinStream)) != 1 || len(f.tr.SentOfType(protocol.TypeWatcher)) != 1 {
		t.Fatalf("sent = %+v", f.tr.Sent())
	}
}

func TestAnnounceFailureReturnsToIdle(t *testing.T) {
	f := newFixture(t, viewer, domain.RoleViewer, nil)
	f.tr.SendErr = core.ErrTransportClosed
	err := f.start(t)
	var se *core.SignalingError
	if !errors.As(err, &se) || !errors.Is(err, core.ErrTransportClosed) {
		t.Fatalf("err = %v", err)
	}
	if f.life.State() != domain.StateIdle {
		t.Fatalf("state = %s", f.life.State())
	}
}

func TestStopReleasesAndAwaitsAck(t *testing.T) {
	ctrl := gomock.NewController(t)
	streams := mocks.NewMockStreamRegistry(ctrl)
	streams.EXPECT().StartStream(gomock.Any(), gomock.Any()).Return(nil)
	streams.EXPECT().EndStream(gomock.Any(), domain.RoomID("room1")).Return(nil)

	f := newFixture(t, host, domain.RoleBroadcaster, streams)
	if err := f.start(t); err != nil {
		t.Fatal(err)
	}
	hooks := 0
	f.life.OnCleanup(func() { hooks++ })
	m, _ := protocol.New(protocol.TypeWatcher, "room1", viewer.ID, "", protocol.Watcher{ViewerID: viewer.ID})
	f.coord.HandleWatcher(m)
	conn := f.factory.Last(viewer.ID)

	stops := 0
	f.life.Stop(func(err error) {
		if err != nil {
			t.Errorf("stop: %v", err)
		}
		stops++
	})
	f.exec.Drain()
	if f.life.State() != domain.StateEnding {
		t.Fatalf("state = %s", f.life.State())
	}
	if !conn.IsClosed() || !f.devices.Streams()[0].AllStopped() || hooks != 1 {
		t.Fatal("links, media or hooks not released on ending")
	}
	if len(f.tr.SentOfType(protocol.TypeStopBroadcast)) != 1 {
		t.Fatal("stop_broadcast not sent")
	}
	if stops != 0 {
		t.Fatal("stop completed before acknowledgment")
	}

	ack, _ := protocol.New(protocol.TypeStreamEnded, "room1", "", "", protocol.StreamEnded{})
	f.life.HandleStreamEnded(ack)
	f.life.HandleStreamEnded(ack)
	if f.life.State() != domain.StateEnded || stops != 1 {
		t.Fatalf("state = %s stops = %d", f.life.State(), stops)
	}
	f.life.Teardown()
	if hooks != 1 {
		t.Fatal("cleanup ran twice")
	}
}

func TestStopTimeoutCountsAsSuccess(t *testing.T) {
	f := newFixture(t, viewer, domain.RoleViewer, nil)
	if err := f.start(t); err != nil {
		t.Fatal(err)
	}
	var result error = errors.New("pending")
	f.life.Stop(func(err error) { result = err })
	if len(f.tr.SentOfType(protocol.TypeLeaveStream)) != 1 {
		t.Fatal("leave_stream not sent")
	}
	f.clock.Advance(DefaultEndAckTimeout)
	f.exec.Drain()
	if result != nil || f.life.State() != domain.StateEnded {
		t.Fatalf("result = %v state = %s", result, f.life.State())
	}
}

func TestViewerLeftAckEnds(t *testing.T) {
	f := newFixture(t, viewer, domain.RoleViewer, nil)
	if err := f.start(t); err != nil {
		t.Fatal(err)
	}
	f.life.Stop(func(error) {})
	other, _ := protocol.New(protocol.TypeLeft, "room1", "v9", "", protocol.Departure{UserID: "v9"})
	f.life.HandleLeft(other)
	if f.life.State() != domain.StateEnding {
		t.Fatal("someone else's departure ended the session")
	}
	mine, _ := protocol.New(protocol.TypeLeft, "room1", viewer.ID, "", protocol.Departure{UserID: viewer.ID})
	f.life.HandleLeft(mine)
	if f.life.State() != domain.StateEnded {
		t.Fatalf("state = %s", f.life.State())
	}
}

func TestRemoteEndEndsViewer(t *testing.T) {
	f := newFixture(t, viewer, domain.RoleViewer, nil)
	if err := f.start(t); err != nil {
		t.Fatal(err)
	}
	offer, _ := protocol.New(protocol.TypeOffer, "room1", host.ID, viewer.ID, protocol.SDP{SDP: "o"})
	f.coord.HandleOffer(offer)
	conn := f.factory.Last(host.ID)

	m, _ := protocol.New(protocol.TypeBroadcasterOff, "room1", "", "", nil)
	f.life.HandleStreamEnded(m)
	if f.life.State() != domain.StateEnded {
		t.Fatalf("state = %s", f.life.State())
	}
	if !conn.IsClosed() {
		t.Fatal("link to broadcaster left open")
	}
	if len(f.tr.SentOfType(protocol.TypeLeaveStream)) != 0 {
		t.Fatal("leave_stream sent after remote end")
	}
}

func TestTransportDownIsFatal(t *testing.T) {
	f := newFixture(t, host, domain.RoleBroadcaster, nil)
	if err := f.start(t); err != nil {
		t.Fatal(err)
	}
	m, _ := protocol.New(protocol.TypeWatcher, "room1", viewer.ID, "", protocol.Watcher{ViewerID: viewer.ID})
	f.coord.HandleWatcher(m)

	down, _ := protocol.New(protocol.TypeTransportDown, "room1", "", "", protocol.TransportDown{Reason: "gave up"})
	f.life.HandleTransportDown(down)
	if f.life.State() != domain.StateIdle {
		t.Fatalf("state = %s", f.life.State())
	}
	if !f.factory.Last(viewer.ID).IsClosed() || !f.devices.Streams()[0].AllStopped() {
		t.Fatal("resources leaked")
	}
	if errs := f.sink.Errors(); len(errs) != 1 || errs[0].Kind != "signaling" {
		t.Fatalf("errors = %+v", errs)
	}
	if err := f.start(t); !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("restart after fatal: %v", err)
	}
}

func TestTeardownInEveryState(t *testing.T) {
	t.Run("idle", func(t *testing.T) {
		f := newFixture(t, viewer, domain.RoleViewer, nil)
		f.life.Teardown()
		f.life.Teardown()
		if f.life.State() != domain.StateIdle {
			t.Fatalf("state = %s", f.life.State())
		}
	})
	t.Run("live", func(t *testing.T) {
		f := newFixture(t, host, domain.RoleBroadcaster, nil)
		if err := f.start(t); err != nil {
			t.Fatal(err)
		}
		f.life.Teardown()
		f.life.Teardown()
		if f.life.State() != domain.StateEnded || !f.devices.Streams()[0].AllStopped() {
			t.Fatal("teardown did not end the session")
		}
		if f.clock.Armed() != 0 {
			t.Fatalf("%d timers left armed", f.clock.Armed())
		}
	})
	t.Run("ending", func(t *testing.T) {
		f := newFixture(t, host, domain.RoleBroadcaster, nil)
		if err := f.start(t); err != nil {
			t.Fatal(err)
		}
		done := false
		f.life.Stop(func(error) { done = true })
		f.life.Teardown()
		if !done || f.clock.Armed() != 0 {
			t.Fatal("pending stop not completed by teardown")
		}
	})
}
