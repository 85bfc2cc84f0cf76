package overlay

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/dkeye/LiveStudio/internal/app/loop"
	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/dkeye/LiveStudio/internal/protocol"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultGiftCap = 20
	// MaxGiftAmount bounds a single gift; larger amounts are refused.
	MaxGiftAmount = 1_000_000
	ledgerTimeout = 5 * time.Second
)

type GiftConfig struct {
	Self domain.User
	Cap  int
}

// Gifts is the gift overlay. Balances live in the external ledger; Totals is
// a display figure only.
type Gifts struct {
	cfg    GiftConfig
	out    *core.Outbox
	ledger core.GiftLedger
	exec   loop.Executor
	clock  loop.Clock
	events core.EventSink
	buf    *Ring[domain.GiftEvent]
	seen   map[string]struct{}
	totals map[domain.UserID]int64
	log    zerolog.Logger
}

func NewGifts(cfg GiftConfig, out *core.Outbox, ledger core.GiftLedger, exec loop.Executor, clock loop.Clock, events core.EventSink) *Gifts {
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultGiftCap
	}
	return &Gifts{
		cfg:    cfg,
		out:    out,
		ledger: ledger,
		exec:   exec,
		clock:  clock,
		events: events,
		buf:    NewRing[domain.GiftEvent](cfg.Cap),
		seen:   make(map[string]struct{}),
		totals: make(map[domain.UserID]int64),
		log:    log.With().Str("module", "app.overlay").Str("room", string(out.Room())).Logger(),
	}
}

func (g *Gifts) Send(recipient domain.UserID, item string, amount int64) (domain.GiftEvent, error) {
	item = strings.TrimSpace(item)
	if recipient == "" || item == "" || amount <= 0 || amount > MaxGiftAmount {
		return domain.GiftEvent{}, core.ErrInvalidInput
	}
	ev := domain.GiftEvent{
		ID:        ulid.Make().String(),
		RoomID:    g.out.Room(),
		Sender:    g.cfg.Self,
		Recipient: recipient,
		Item:      item,
		Amount:    amount,
		SentAt:    g.clock.Now(),
	}
	payload := protocol.Gift{ID: ev.ID, Sender: ev.Sender, Recipient: recipient, Item: item, Amount: amount, SentAt: ev.SentAt}
	if err := g.out.Send(protocol.TypeGiftSent, "", payload); err != nil {
		return domain.GiftEvent{}, err
	}
	g.post(ev)
	g.append(ev)
	return ev, nil
}

func (g *Gifts) post(ev domain.GiftEvent) {
	if g.ledger == nil {
		return
	}
	g.exec.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
		defer cancel()
		if err := g.ledger.PostGift(ctx, ev); err != nil {
			log.Warn().Err(err).Str("module", "app.overlay").Str("gift", ev.ID).Msg("gift ledger post failed")
		}
	})
}

// Handle appends a gift announced by the room.
func (g *Gifts) Handle(m protocol.Message) {
	var p protocol.Gift
	if err := m.Decode(&p); err != nil {
		g.log.Warn().Err(err).Msg("bad gift event")
		return
	}
	if p.ID != "" {
		if _, dup := g.seen[p.ID]; dup {
			return
		}
	} else {
		p.ID = ulid.Make().String()
	}
	if p.Amount <= 0 || p.Amount > MaxGiftAmount || p.Item == "" {
		g.log.Debug().Str("gift", p.ID).Int64("amount", p.Amount).Msg("gift event dropped")
		return
	}
	if p.Sender.ID == "" {
		p.Sender.ID = m.From
	}
	sentAt := p.SentAt
	if sentAt.IsZero() {
		sentAt = g.clock.Now()
	}
	g.append(domain.GiftEvent{
		ID:        p.ID,
		RoomID:    g.out.Room(),
		Sender:    p.Sender,
		Recipient: p.Recipient,
		Item:      p.Item,
		Amount:    p.Amount,
		SentAt:    sentAt,
	})
}

func (g *Gifts) append(ev domain.GiftEvent) {
	if old, evicted := g.buf.Push(ev); evicted {
		delete(g.seen, old.ID)
	}
	g.seen[ev.ID] = struct{}{}
	if t := g.totals[ev.Recipient]; t > math.MaxInt64-ev.Amount {
		g.totals[ev.Recipient] = math.MaxInt64
	} else {
		g.totals[ev.Recipient] = t + ev.Amount
	}
	g.events.Publish(core.Event{Kind: core.EventGift, Room: g.out.Room(), Data: ev, At: g.clock.Now()})
}

func (g *Gifts) Recent() []domain.GiftEvent { return g.buf.Items() }

// Totals returns gift amounts per recipient since the session started.
func (g *Gifts) Totals() map[domain.UserID]int64 {
	out := make(map[domain.UserID]int64, len(g.totals))
	for k, v := range g.totals {
		out[k] = v
	}
	return out
}

func (g *Gifts) Close() {
	g.buf.Reset()
	clear(g.seen)
}
