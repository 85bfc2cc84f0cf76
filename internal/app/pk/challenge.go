// Package pk runs PK battle invitations: a short acceptance window followed
// by a display countdown for the battle itself.
package pk

import (
	"time"

	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
)

const DefaultAcceptWindow = 30 * time.Second

// Challenge guards a domain.PKChallenge so it resolves exactly once.
type Challenge struct {
	c domain.PKChallenge
}

func NewChallenge(id domain.PKID, challenger domain.User, opponent domain.UserID, d time.Duration, now time.Time, window time.Duration) (*Challenge, error) {
	if err := domain.ValidatePKDuration(d); err != nil {
		return nil, err
	}
	if window <= 0 {
		window = DefaultAcceptWindow
	}
	return &Challenge{c: domain.PKChallenge{
		ID:             id,
		Challenger:     challenger,
		Opponent:       opponent,
		Duration:       d,
		AcceptDeadline: now.Add(window),
		Status:         domain.PKPending,
	}}, nil
}

// Snapshot returns a copy of the current value.
func (ch *Challenge) Snapshot() domain.PKChallenge { return ch.c }

func (ch *Challenge) ID() domain.PKID { return ch.c.ID }

func (ch *Challenge) Pending() bool { return ch.c.Status == domain.PKPending }

func (ch *Challenge) resolve(s domain.PKStatus, now time.Time) bool {
	if ch.c.Status.Terminal() {
		return false
	}
	ch.c.Status = s
	ch.c.ResolvedAt = now
	return true
}

// Accept resolves the challenge as accepted if the window is still open.
func (ch *Challenge) Accept(now time.Time) error {
	if ch.c.Status == domain.PKExpired || (ch.Pending() && !now.Before(ch.c.AcceptDeadline)) {
		ch.resolve(domain.PKExpired, now)
		return core.ErrChallengeExpired
	}
	if !ch.resolve(domain.PKAccepted, now) {
		return core.ErrInvalidTransition
	}
	return nil
}

// Decline reports whether this call resolved the challenge.
func (ch *Challenge) Decline(now time.Time) bool { return ch.resolve(domain.PKDeclined, now) }

// Expire resolves the challenge once its deadline has passed.
func (ch *Challenge) Expire(now time.Time) bool {
	if now.Before(ch.c.AcceptDeadline) {
		return false
	}
	return ch.resolve(domain.PKExpired, now)
}
