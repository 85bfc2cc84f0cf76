package pk

import (
	"time"

	"github.com/dkeye/LiveStudio/internal/domain"
)

type Phase string

const (
	PhaseAccept Phase = "accept"
	PhaseBattle Phase = "battle"
	PhaseDone   Phase = "done"
)

// Countdown is what the UI renders on every tick.
type Countdown struct {
	PKID      domain.PKID   `json:"pkId"`
	Phase     Phase         `json:"phase"`
	Remaining time.Duration `json:"remaining"`
}

// Timer drives both windows of one challenge from a single tick source.
// Once stopped it never calls back again.
type Timer struct {
	ch         *Challenge
	phase      Phase
	battleEnds time.Time
	stopped    bool

	OnTick      func(Countdown)
	OnExpire    func(domain.PKChallenge)
	OnBattleEnd func(domain.PKChallenge)
}

func NewTimer(ch *Challenge) *Timer {
	return &Timer{ch: ch, phase: PhaseAccept}
}

func (t *Timer) Phase() Phase { return t.phase }
func (t *Timer) Stopped() bool { return t.stopped }

// Tick advances the countdowns to now.
func (t *Timer) Tick(now time.Time) {
	if t.stopped {
		return
	}
	c := t.ch.Snapshot()
	if t.phase == PhaseAccept {
		switch c.Status {
		case domain.PKPending:
			if t.ch.Expire(now) {
				t.Stop()
				if t.OnExpire != nil {
					t.OnExpire(t.ch.Snapshot())
				}
				return
			}
			t.tick(c.AcceptDeadline.Sub(now))
			return
		case domain.PKAccepted:
			t.phase = PhaseBattle
			t.battleEnds = c.ResolvedAt.Add(c.Duration)
		default:
			t.Stop()
			return
		}
	}
	if t.phase == PhaseBattle {
		left := t.battleEnds.Sub(now)
		if left <= 0 {
			t.phase = PhaseDone
			t.tick(0)
			t.Stop()
			if t.OnBattleEnd != nil {
				t.OnBattleEnd(c)
			}
			return
		}
		t.tick(left)
	}
}

func (t *Timer) tick(left time.Duration) {
	if t.OnTick != nil {
		t.OnTick(Countdown{PKID: t.ch.ID(), Phase: t.phase, Remaining: left.Truncate(time.Second)})
	}
}

// Stop detaches the timer.
func (t *Timer) Stop() { t.stopped = true }
