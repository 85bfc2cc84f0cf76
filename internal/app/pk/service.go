package pk

import (
	"context"
	"time"

	"github.com/dkeye/LiveStudio/internal/app/loop"
	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/dkeye/LiveStudio/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTick  = time.Second
	storeTimeout = 5 * time.Second

	ReasonExpired  = "expired"
	ReasonBusy     = "busy"
	ReasonDeclined = "declined"
	ReasonCanceled = "canceled"
)

type Config struct {
	Self         domain.User
	AcceptWindow time.Duration
	Tick         time.Duration
}

// Service holds at most one challenge at a time, sent or received.
type Service struct {
	cfg    Config
	out    *core.Outbox
	store  core.PKStore
	exec   loop.Executor
	clock  loop.Clock
	events core.EventSink
	log    zerolog.Logger

	active *Challenge
	timer  *Timer
	ticker loop.Timer
	closed bool
}

func NewService(cfg Config, out *core.Outbox, store core.PKStore, exec loop.Executor, clock loop.Clock, events core.EventSink) *Service {
	if cfg.AcceptWindow <= 0 {
		cfg.AcceptWindow = DefaultAcceptWindow
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	return &Service{
		cfg:    cfg,
		out:    out,
		store:  store,
		exec:   exec,
		clock:  clock,
		events: events,
		log:    log.With().Str("module", "app.pk").Str("room", string(out.Room())).Logger(),
	}
}

// Active returns the current challenge, if any.
func (s *Service) Active() *domain.PKChallenge {
	if s.active == nil {
		return nil
	}
	c := s.active.Snapshot()
	return &c
}

func (s *Service) busy() bool {
	return s.active != nil && s.timer != nil && !s.timer.Stopped()
}

// Challenge invites opponent to a battle of length d (zero picks the default).
func (s *Service) Challenge(opponent domain.UserID, d time.Duration) (domain.PKChallenge, error) {
	if s.closed {
		return domain.PKChallenge{}, core.ErrNotLive
	}
	if d == 0 {
		d = domain.DefaultPKDuration
	}
	if opponent == "" || opponent == s.cfg.Self.ID {
		return domain.PKChallenge{}, core.ErrInvalidInput
	}
	if s.busy() {
		return domain.PKChallenge{}, core.ErrInvalidTransition
	}
	ch, err := NewChallenge(domain.PKID(uuid.NewString()), s.cfg.Self, opponent, d, s.clock.Now(), s.cfg.AcceptWindow)
	if err != nil {
		return domain.PKChallenge{}, err
	}
	c := ch.Snapshot()
	payload := protocol.PKChallenge{
		PKID:           c.ID,
		Challenger:     c.Challenger,
		Opponent:       c.Opponent,
		DurationSec:    int(d / time.Second),
		AcceptDeadline: c.AcceptDeadline,
	}
	if err := s.out.Send(protocol.TypePKChallenge, opponent, payload); err != nil {
		return domain.PKChallenge{}, err
	}
	s.start(ch)
	s.log.Info().Str("pk_id", string(c.ID)).Str("opponent", string(opponent)).Dur("duration", d).Msg("challenge sent")
	return c, nil
}

func (s *Service) HandleChallenge(m protocol.Message) {
	if s.closed {
		return
	}
	var p protocol.PKChallenge
	if err := m.Decode(&p); err != nil {
		s.log.Warn().Err(err).Msg("bad pk challenge")
		return
	}
	if p.Opponent != s.cfg.Self.ID {
		return
	}
	if p.Challenger.ID == "" {
		p.Challenger.ID = m.From
	}
	if s.busy() {
		s.reply(protocol.TypePKDecline, p.Challenger.ID, p.PKID, ReasonBusy)
		return
	}
	ch, err := NewChallenge(p.PKID, p.Challenger, p.Opponent, time.Duration(p.DurationSec)*time.Second, s.clock.Now(), s.cfg.AcceptWindow)
	if err != nil {
		s.log.Warn().Err(err).Str("pk_id", string(p.PKID)).Msg("invalid challenge declined")
		s.reply(protocol.TypePKDecline, p.Challenger.ID, p.PKID, ReasonDeclined)
		return
	}
	s.start(ch)
	s.log.Info().Str("pk_id", string(p.PKID)).Str("challenger", string(p.Challenger.ID)).Msg("challenge received")
}

// Accept answers the received challenge.
func (s *Service) Accept() error {
	ch, err := s.received()
	if err != nil {
		return err
	}
	s.timer.Tick(s.clock.Now())
	if err := ch.Accept(s.clock.Now()); err != nil {
		return err
	}
	c := ch.Snapshot()
	s.reply(protocol.TypePKAccept, c.Challenger.ID, c.ID, "")
	s.resolved(c)
	s.timer.Tick(s.clock.Now())
	return nil
}

func (s *Service) Decline() error {
	ch, err := s.received()
	if err != nil {
		return err
	}
	s.timer.Tick(s.clock.Now())
	if !ch.Decline(s.clock.Now()) {
		return s.terminalErr(ch)
	}
	c := ch.Snapshot()
	s.reply(protocol.TypePKDecline, c.Challenger.ID, c.ID, ReasonDeclined)
	s.finish(c)
	return nil
}

// Cancel withdraws a challenge the local user sent.
func (s *Service) Cancel() error {
	if s.active == nil || s.active.Snapshot().Challenger.ID != s.cfg.Self.ID {
		return core.ErrInvalidTransition
	}
	ch := s.active
	s.timer.Tick(s.clock.Now())
	if !ch.Decline(s.clock.Now()) {
		return s.terminalErr(ch)
	}
	c := ch.Snapshot()
	s.reply(protocol.TypePKCancel, c.Opponent, c.ID, ReasonCanceled)
	s.finish(c)
	return nil
}

func (s *Service) HandleAccept(m protocol.Message) {
	ch, ok := s.match(m)
	if !ok || ch.Snapshot().Challenger.ID != s.cfg.Self.ID {
		return
	}
	s.timer.Tick(s.clock.Now())
	if err := ch.Accept(s.clock.Now()); err != nil {
		c := ch.Snapshot()
		s.log.Info().Err(err).Str("pk_id", string(c.ID)).Msg("late accept ignored")
		return
	}
	s.resolved(ch.Snapshot())
	s.timer.Tick(s.clock.Now())
}

// HandleDecline also covers pk_cancel from the challenger.
func (s *Service) HandleDecline(m protocol.Message) {
	ch, ok := s.match(m)
	if !ok {
		return
	}
	if ch.Decline(s.clock.Now()) {
		s.finish(ch.Snapshot())
	}
}

func (s *Service) match(m protocol.Message) (*Challenge, bool) {
	var p protocol.PKResponse
	if err := m.Decode(&p); err != nil {
		s.log.Warn().Err(err).Str("type", m.Type).Msg("bad pk response")
		return nil, false
	}
	if s.active == nil || s.active.ID() != p.PKID {
		s.log.Debug().Str("pk_id", string(p.PKID)).Msg("response for unknown challenge")
		return nil, false
	}
	return s.active, true
}

func (s *Service) received() (*Challenge, error) {
	if s.active == nil || s.active.Snapshot().Opponent != s.cfg.Self.ID {
		return nil, core.ErrInvalidTransition
	}
	return s.active, nil
}

func (s *Service) terminalErr(ch *Challenge) error {
	if ch.Snapshot().Status == domain.PKExpired {
		return core.ErrChallengeExpired
	}
	return core.ErrInvalidTransition
}

func (s *Service) start(ch *Challenge) {
	s.stopTimer()
	s.active = ch
	t := NewTimer(ch)
	t.OnTick = func(c Countdown) {
		s.events.Publish(core.Event{Kind: core.EventPKTick, Room: s.out.Room(), Data: c, At: s.clock.Now()})
	}
	t.OnExpire = s.expired
	t.OnBattleEnd = func(c domain.PKChallenge) {
		s.log.Info().Str("pk_id", string(c.ID)).Msg("battle window over")
		s.stopTimer()
	}
	s.timer = t
	s.publish(ch.Snapshot())
	s.persist(ch.Snapshot())
	s.arm()
}

func (s *Service) arm() {
	s.ticker = s.clock.AfterFunc(s.cfg.Tick, func() {
		s.exec.Post(s.onTick)
	})
}

func (s *Service) onTick() {
	if s.timer == nil || s.timer.Stopped() {
		return
	}
	s.timer.Tick(s.clock.Now())
	if !s.timer.Stopped() {
		s.arm()
	}
}

func (s *Service) expired(c domain.PKChallenge) {
	s.log.Info().Str("pk_id", string(c.ID)).Msg("challenge expired")
	if c.Opponent == s.cfg.Self.ID {
		s.reply(protocol.TypePKDecline, c.Challenger.ID, c.ID, ReasonExpired)
	}
	s.finish(c)
}

// resolved publishes an acceptance; the timer moves on to the battle window.
func (s *Service) resolved(c domain.PKChallenge) {
	s.log.Info().Str("pk_id", string(c.ID)).Msg("challenge accepted")
	s.publish(c)
	s.persist(c)
}

func (s *Service) finish(c domain.PKChallenge) {
	s.stopTimer()
	s.publish(c)
	s.persist(c)
}

func (s *Service) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Service) reply(typ string, to domain.UserID, id domain.PKID, reason string) {
	if err := s.out.Send(typ, to, protocol.PKResponse{PKID: id, Reason: reason}); err != nil {
		s.log.Warn().Err(err).Str("type", typ).Str("pk_id", string(id)).Msg("pk reply not delivered")
	}
}

func (s *Service) publish(c domain.PKChallenge) {
	s.events.Publish(core.Event{Kind: core.EventPK, Room: s.out.Room(), Data: c, At: s.clock.Now()})
}

func (s *Service) persist(c domain.PKChallenge) {
	if s.store == nil {
		return
	}
	s.exec.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := s.store.SavePK(ctx, c); err != nil {
			log.Warn().Err(err).Str("module", "app.pk").Str("pk_id", string(c.ID)).Msg("pk persistence failed")
		}
	})
}

// Close stops and detaches every countdown.
func (s *Service) Close() {
	s.closed = true
	s.stopTimer()
}
