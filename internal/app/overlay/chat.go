package overlay

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dkeye/LiveStudio/internal/app/loop"
	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/dkeye/LiveStudio/internal/protocol"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	MaxChatRunes      = 500
	DefaultChatCap    = 100
	DefaultRateLimit  = 5
	DefaultRateWindow = 10 * time.Second
)

type ChatConfig struct {
	Self       domain.User
	Host       domain.UserID
	Cap        int
	RateLimit  int
	RateWindow time.Duration
}

type Chat struct {
	cfg     ChatConfig
	out     *core.Outbox
	clock   loop.Clock
	events  core.EventSink
	limiter *RateLimiter
	buf     *Ring[domain.ChatMessage]
	seen    map[string]struct{}
	log     zerolog.Logger
}

func NewChat(cfg ChatConfig, out *core.Outbox, clock loop.Clock, events core.EventSink) *Chat {
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultChatCap
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = DefaultRateWindow
	}
	return &Chat{
		cfg:     cfg,
		out:     out,
		clock:   clock,
		events:  events,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		buf:     NewRing[domain.ChatMessage](cfg.Cap),
		seen:    make(map[string]struct{}),
		log:     log.With().Str("module", "app.overlay").Str("room", string(out.Room())).Logger(),
	}
}

// Normalize trims text and checks its length.
func Normalize(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > MaxChatRunes || !utf8.ValidString(text) {
		return "", core.ErrInvalidInput
	}
	return text, nil
}

// Send posts a chat message as the local user.
func (c *Chat) Send(text string) (domain.ChatMessage, error) {
	text, err := Normalize(text)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	now := c.clock.Now()
	if !c.limiter.Allow(c.cfg.Self.ID, now) {
		return domain.ChatMessage{}, core.ErrRateLimited
	}
	msg := domain.ChatMessage{
		ID:     ulid.Make().String(),
		RoomID: c.out.Room(),
		Sender: c.cfg.Self,
		Text:   text,
		IsHost: c.cfg.Self.ID == c.cfg.Host,
		SentAt: now,
	}
	payload := protocol.Chat{ID: msg.ID, Sender: msg.Sender, Text: msg.Text, IsHost: msg.IsHost, SentAt: msg.SentAt}
	if err := c.out.Send(protocol.TypeChatMessage, "", payload); err != nil {
		return domain.ChatMessage{}, err
	}
	c.append(msg)
	return msg, nil
}

// Handle appends a message from the room. Echoes of our own messages,
// invalid text and senders over the rate limit are dropped.
func (c *Chat) Handle(m protocol.Message) {
	var p protocol.Chat
	if err := m.Decode(&p); err != nil {
		c.log.Warn().Err(err).Msg("bad chat message")
		return
	}
	if p.ID == "" {
		p.ID = ulid.Make().String()
	}
	if _, dup := c.seen[p.ID]; dup {
		return
	}
	if p.Sender.ID == "" {
		p.Sender.ID = m.From
	}
	text, err := Normalize(p.Text)
	if err != nil {
		c.log.Debug().Str("sender", string(p.Sender.ID)).Msg("invalid chat text dropped")
		return
	}
	now := c.clock.Now()
	if !c.limiter.Allow(p.Sender.ID, now) {
		c.log.Debug().Str("sender", string(p.Sender.ID)).Msg("chat flood dropped")
		return
	}
	sentAt := p.SentAt
	if sentAt.IsZero() {
		sentAt = now
	}
	c.append(domain.ChatMessage{
		ID:     p.ID,
		RoomID: c.out.Room(),
		Sender: p.Sender,
		Text:   text,
		IsHost: c.cfg.Host != "" && p.Sender.ID == c.cfg.Host,
		SentAt: sentAt,
	})
}

func (c *Chat) append(msg domain.ChatMessage) {
	if old, evicted := c.buf.Push(msg); evicted {
		delete(c.seen, old.ID)
	}
	c.seen[msg.ID] = struct{}{}
	c.limiter.Forget(c.clock.Now())
	c.events.Publish(core.Event{Kind: core.EventChat, Room: c.out.Room(), Data: msg, At: c.clock.Now()})
}

// Messages returns the buffer oldest first.
func (c *Chat) Messages() []domain.ChatMessage { return c.buf.Items() }

func (c *Chat) Close() {
	c.buf.Reset()
	clear(c.seen)
}
