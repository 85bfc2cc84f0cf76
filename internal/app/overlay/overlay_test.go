package overlay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/LiveStudio/internal/app/loop"
	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/core/coretest"
	"github.com/dkeye/LiveStudio/internal/core/mocks"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/dkeye/LiveStudio/internal/protocol"
	"go.uber.org/mock/gomock"
)

var (
	hostUser = domain.User{ID: "host", Username: "Host"}
	viewer   = domain.User{ID: "v1", Username: "Viewer"}
)

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 3; i++ {
		if _, ev := r.Push(i); ev {
			t.Fatalf("evicted while filling at %d", i)
		}
	}
	old, ev := r.Push(4)
	if !ev || old != 1 {
		t.Fatalf("evicted %d %v", old, ev)
	}
	got := r.Items()
	if len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Fatalf("items %v", got)
	}
	r.Reset()
	if r.Len() != 0 || r.Cap() != 3 {
		t.Fatal("reset failed")
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, 10*time.Second)
	now := time.Unix(0, 0)
	if !rl.Allow("a", now) || !rl.Allow("a", now.Add(time.Second)) {
		t.Fatal("first two must pass")
	}
	if rl.Allow("a", now.Add(2*time.Second)) {
		t.Fatal("third within window passed")
	}
	if !rl.Allow("b", now.Add(2*time.Second)) {
		t.Fatal("limit is per sender")
	}
	if !rl.Allow("a", now.Add(11*time.Second)) {
		t.Fatal("window did not slide")
	}
	rl.Forget(now.Add(time.Hour))
	if len(rl.history) != 0 {
		t.Fatal("idle senders kept")
	}
}

type chatFixture struct {
	tr    *coretest.Transport
	clock *loop.FakeClock
	sink  *coretest.Sink
	chat  *Chat
}

func newChat(t *testing.T, self domain.User, cap int) *chatFixture {
	f := &chatFixture{tr: coretest.NewTransport(), clock: loop.NewFakeClock(time.Unix(100, 0)), sink: &coretest.Sink{}}
	out := core.NewOutbox(f.tr, "room1", self.ID)
	f.chat = NewChat(ChatConfig{Self: self, Host: hostUser.ID, Cap: cap, RateLimit: 5, RateWindow: 10 * time.Second}, out, f.clock, f.sink)
	return f
}

func chatMsg(t *testing.T, from domain.User, id, text string) protocol.Message {
	m, err := protocol.New(protocol.TypeChatMessage, "room1", from.ID, "", protocol.Chat{ID: id, Sender: from, Text: text, IsHost: true})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestChatSendValidates(t *testing.T) {
	f := newChat(t, viewer, 10)
	for _, text := range []string{"", "   ", strings.Repeat("é", MaxChatRunes+1)} {
		if _, err := f.chat.Send(text); !errors.Is(err, core.ErrInvalidInput) {
			t.Fatalf("Send(%q...) = %v", text[:min(len(text), 5)], err)
		}
	}
	msg, err := f.chat.Send("  hello  ")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Text != "hello" || msg.IsHost {
		t.Fatalf("msg %+v", msg)
	}
	if n := len(f.tr.SentOfType(protocol.TypeChatMessage)); n != 1 {
		t.Fatalf("sent %d", n)
	}
}

func TestChatSendRateLimited(t *testing.T) {
	f := newChat(t, viewer, 10)
	for i := range 5 {
		if _, err := f.chat.Send(fmt.Sprintf("m%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.chat.Send("spam"); !errors.Is(err, core.ErrRateLimited) {
		t.Fatalf("got %v", err)
	}
	f.clock.Advance(11 * time.Second)
	if _, err := f.chat.Send("later"); err != nil {
		t.Fatal(err)
	}
}

func TestChatBufferBoundedAndDeduped(t *testing.T) {
	f := newChat(t, hostUser, 3)
	mine, err := f.chat.Send("welcome")
	if err != nil {
		t.Fatal(err)
	}
	if !mine.IsHost {
		t.Fatal("host message not flagged")
	}
	f.chat.Handle(chatMsg(t, hostUser, mine.ID, "welcome"))
	if len(f.chat.Messages()) != 1 {
		t.Fatal("echo duplicated")
	}

	for i := range 4 {
		f.chat.Handle(chatMsg(t, domain.User{ID: domain.UserID(fmt.Sprintf("u%d", i))}, fmt.Sprintf("id%d", i), "hi"))
	}
	got := f.chat.Messages()
	if len(got) != 3 || got[0].ID != "id1" || got[2].ID != "id3" {
		t.Fatalf("buffer %+v", got)
	}
	if got[0].IsHost {
		t.Fatal("viewer claimed host badge")
	}
	f.chat.Handle(chatMsg(t, hostUser, mine.ID, "welcome"))
	if got := f.chat.Messages(); got[2].ID != mine.ID {
		t.Fatal("evicted id must be accepted again")
	}
}

func TestChatDropsFlood(t *testing.T) {
	f := newChat(t, hostUser, 50)
	for i := range 8 {
		f.chat.Handle(chatMsg(t, viewer, fmt.Sprintf("f%d", i), "flood"))
	}
	if n := len(f.chat.Messages()); n != 5 {
		t.Fatalf("kept %d flood messages", n)
	}
}

func TestGiftsTotalsAndLedger(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockGiftLedger(ctrl)
	ledger.EXPECT().PostGift(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, g domain.GiftEvent) error {
		if g.Recipient != hostUser.ID || g.Amount != 10 {
			t.Errorf("posted %+v", g)
		}
		return errors.New("ledger unavailable")
	})

	tr := coretest.NewTransport()
	sink := &coretest.Sink{}
	out := core.NewOutbox(tr, "room1", viewer.ID)
	g := NewGifts(GiftConfig{Self: viewer, Cap: 2}, out, ledger, loop.NewManual(), loop.NewFakeClock(time.Unix(0, 0)), sink)

	if _, err := g.Send(hostUser.ID, "rose", 0); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("zero amount: %v", err)
	}
	sent, err := g.Send(hostUser.ID, "rose", 10)
	if err != nil {
		t.Fatalf("ledger failure must not fail the send: %v", err)
	}

	recv := func(id string, amount int64) {
		m, _ := protocol.New(protocol.TypeGiftReceived, "room1", "v2", "", protocol.Gift{ID: id, Sender: domain.User{ID: "v2"}, Recipient: hostUser.ID, Item: "car", Amount: amount})
		g.Handle(m)
	}
	recv(sent.ID, 10)
	recv("g2", 100)
	recv("g3", 5)

	if got := g.Totals()[hostUser.ID]; got != 115 {
		t.Fatalf("total %d", got)
	}
	recent := g.Recent()
	if len(recent) != 2 || recent[0].ID != "g2" {
		t.Fatalf("recent %+v", recent)
	}
	if n := len(sink.Of(core.EventGift)); n != 3 {
		t.Fatalf("gift events %d", n)
	}
}

func TestGiftAmountsBounded(t *testing.T) {
	tr := coretest.NewTransport()
	sink := &coretest.Sink{}
	out := core.NewOutbox(tr, "room1", viewer.ID)
	g := NewGifts(GiftConfig{Self: viewer}, out, nil, loop.NewManual(), loop.NewFakeClock(time.Unix(0, 0)), sink)

	if _, err := g.Send(hostUser.ID, "rose", MaxGiftAmount+1); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("oversized send: %v", err)
	}
	recv := func(id string, amount int64) {
		m, _ := protocol.New(protocol.TypeGiftReceived, "room1", "v2", "", protocol.Gift{ID: id, Sender: domain.User{ID: "v2"}, Recipient: hostUser.ID, Item: "car", Amount: amount})
		g.Handle(m)
	}
	recv("huge", math.MaxInt64)
	if len(g.Recent()) != 0 || g.Totals()[hostUser.ID] != 0 {
		t.Fatalf("oversized gift accepted: %+v", g.Recent())
	}

	g.totals[hostUser.ID] = math.MaxInt64 - 5
	recv("top", MaxGiftAmount)
	if got := g.Totals()[hostUser.ID]; got != math.MaxInt64 {
		t.Fatalf("total %d, want saturation", got)
	}
	if len(tr.SentOfType(protocol.TypeGiftSent)) != 0 {
		t.Fatal("refused gift was broadcast")
	}
}
