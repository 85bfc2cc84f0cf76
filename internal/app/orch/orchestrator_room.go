package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
)

// onLive runs fn on the session loop once the session is live.
func (o *Orchestrator) onLive(ctx context.Context, fn func(rt *runtime) error) error {
	rt := o.current()
	if rt == nil {
		return core.ErrNoSession
	}
	return rt.loop.Do(ctx, func() error {
		if rt.life.State() != domain.StateLive {
			return core.ErrNotLive
		}
		return fn(rt)
	})
}

func (o *Orchestrator) onSeats(ctx context.Context, fn func(rt *runtime) error) error {
	return o.onLive(ctx, func(rt *runtime) error {
		if rt.seats == nil {
			return fmt.Errorf("%w: not a multi-guest room", core.ErrInvalidInput)
		}
		return fn(rt)
	})
}

func (o *Orchestrator) RequestSeat(ctx context.Context, seatID int) error {
	return o.onSeats(ctx, func(rt *runtime) error { return rt.seats.RequestSeat(seatID) })
}

func (o *Orchestrator) LeaveSeat(ctx context.Context) error {
	return o.onSeats(ctx, func(rt *runtime) error { return rt.seats.LeaveSeat() })
}

func (o *Orchestrator) ApproveSeat(ctx context.Context, seatID int, user domain.UserID) error {
	return o.onSeats(ctx, func(rt *runtime) error { return rt.seats.Approve(seatID, user) })
}

func (o *Orchestrator) RejectSeat(ctx context.Context, user domain.UserID, reason string) error {
	return o.onSeats(ctx, func(rt *runtime) error { return rt.seats.Reject(user, reason) })
}

func (o *Orchestrator) Kick(ctx context.Context, user domain.UserID) error {
	return o.onSeats(ctx, func(rt *runtime) error { return rt.seats.Kick(user) })
}

func (o *Orchestrator) Mute(ctx context.Context, user domain.UserID, muted bool) error {
	return o.onSeats(ctx, func(rt *runtime) error { return rt.seats.Mute(user, muted) })
}

func (o *Orchestrator) SendChat(ctx context.Context, text string) (domain.ChatMessage, error) {
	var msg domain.ChatMessage
	err := o.onLive(ctx, func(rt *runtime) error {
		var err error
		msg, err = rt.chat.Send(text)
		return err
	})
	return msg, err
}

func (o *Orchestrator) SendGift(ctx context.Context, recipient domain.UserID, item string, amount int64) (domain.GiftEvent, error) {
	var ev domain.GiftEvent
	err := o.onLive(ctx, func(rt *runtime) error {
		var err error
		ev, err = rt.gifts.Send(recipient, item, amount)
		return err
	})
	return ev, err
}

// ChallengePK challenges another live broadcaster. Only broadcasters can.
func (o *Orchestrator) ChallengePK(ctx context.Context, opponent domain.UserID, d time.Duration) (domain.PKChallenge, error) {
	var c domain.PKChallenge
	err := o.onLive(ctx, func(rt *runtime) error {
		if rt.host != rt.self.ID {
			return core.ErrNotHost
		}
		var err error
		c, err = rt.pk.Challenge(opponent, d)
		return err
	})
	return c, err
}

func (o *Orchestrator) AcceptPK(ctx context.Context) error {
	return o.onLive(ctx, func(rt *runtime) error { return rt.pk.Accept() })
}

func (o *Orchestrator) DeclinePK(ctx context.Context) error {
	return o.onLive(ctx, func(rt *runtime) error { return rt.pk.Decline() })
}

func (o *Orchestrator) CancelPK(ctx context.Context) error {
	return o.onLive(ctx, func(rt *runtime) error { return rt.pk.Cancel() })
}
