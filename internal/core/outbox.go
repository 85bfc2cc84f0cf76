package core

import (
	"context"
	"time"

	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/dkeye/LiveStudio/internal/protocol"
)

const sendTimeout = 5 * time.Second

// Outbox stamps room and sender on outgoing messages.
type Outbox struct {
	tr   Transport
	room domain.RoomID
	self domain.UserID
}

func NewOutbox(tr Transport, room domain.RoomID, self domain.UserID) *Outbox {
	return &Outbox{tr: tr, room: room, self: self}
}

func (o *Outbox) Room() domain.RoomID { return o.room }
func (o *Outbox) Self() domain.UserID { return o.self }

// Send addresses payload to one peer, or to the whole room when to is empty.
func (o *Outbox) Send(typ string, to domain.UserID, payload any) error {
	m, err := protocol.New(typ, o.room, o.self, to, payload)
	if err != nil {
		return &SignalingError{Type: typ, Peer: to, Reason: "encode", Err: err}
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := o.tr.Send(ctx, m); err != nil {
		return &SignalingError{Type: typ, Peer: to, Reason: "send", Err: err}
	}
	return nil
}
