// Package protocol holds the wire format of every message that rides the
// room event bus: signaling, seats, overlays and PK challenges.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/LiveStudio/internal/domain"
)

// Message types. Aliases accepted from older clients are listed in Aliases.
const (
	TypeStartBroadcast = "start_broadcast"
	TypeStopBroadcast  = "stop_broadcast"
	TypeJoinStream     = "join_stream"
	TypeWatcher        = "watcher"
	TypeLeaveStream    = "leave_stream"
	TypeLeft           = "left"
	TypeStreamEnded    = "stream_ended"
	TypeBroadcasterOff = "broadcaster_disconnected"

	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"

	TypeViewerCount   = "viewer_count"
	TypeRemoveWatcher = "remove_watcher"

	TypeRequestSeat  = "request_seat"
	TypeApproveSeat  = "approve_seat"
	TypeRejectSeat   = "reject_seat"
	TypeSeatApproved = "seat_approved"
	TypeSeatRejected = "seat_rejected"
	TypeGuestReady   = "guest_ready"
	TypeLeaveSeat    = "leave_seat"
	TypeUserLeftSeat = "user_left_seat"
	TypeKickFromSeat = "kick_from_seat"
	TypeUserMuted    = "user_muted"
	TypeSeatState    = "seat_state"

	TypeChatMessage  = "chat_message"
	TypeGiftSent     = "gift_sent"
	TypeGiftReceived = "gift_received"

	TypePKChallenge = "pk_challenge"
	TypePKAccept    = "pk_accept"
	TypePKDecline   = "pk_decline"
	TypePKCancel    = "pk_cancel"

	// TypeTransportDown is produced locally by the transport when it gives
	// up reconnecting; it never crosses the wire.
	TypeTransportDown = "transport_down"
)

// Aliases maps legacy event names onto the canonical ones.
var Aliases = map[string]string{
	"join_room":           TypeJoinStream,
	"viewerCount":         TypeViewerCount,
	"multi_offer":         TypeOffer,
	"multi_answer":        TypeAnswer,
	"multi_ice_candidate": TypeCandidate,
	"multi_live_ended":    TypeStreamEnded,
	"pk:accept":           TypePKAccept,
	"pk:decline":          TypePKDecline,
	"pk:challenge":        TypePKChallenge,
	"pk:cancel":           TypePKCancel,
}

// Canonical returns the canonical name of a message type.
func Canonical(t string) string {
	if c, ok := Aliases[t]; ok {
		return c
	}
	return t
}

// Message is the envelope of everything on the bus.
type Message struct {
	Type   string          `json:"type"`
	RoomID domain.RoomID   `json:"roomId,omitempty"`
	From   domain.UserID   `json:"from,omitempty"`
	To     domain.UserID   `json:"to,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// New builds a message with payload encoded as JSON. A nil payload leaves
// Data empty.
func New(typ string, room domain.RoomID, from, to domain.UserID, payload any) (Message, error) {
	m := Message{Type: typ, RoomID: room, From: from, To: to}
	if payload == nil {
		return m, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	m.Data = b
	return m, nil
}

// Decode unmarshals Data into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%s: bad payload: %w", m.Type, err)
	}
	return nil
}

// Marshal encodes the envelope for the wire.
func (m Message) Marshal() ([]byte, error) { return json.Marshal(m) }

// Unmarshal decodes an envelope and canonicalizes its type.
func Unmarshal(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, err
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("message without type")
	}
	m.Type = Canonical(m.Type)
	return m, nil
}

type StartBroadcast struct {
	Host     domain.User `json:"host"`
	Mode     domain.Mode `json:"mode"`
	MaxSeats int         `json:"maxSeats,omitempty"`
	Title    string      `json:"title,omitempty"`
}

type Watcher struct {
	ViewerID domain.UserID `json:"viewerId"`
	Username string        `json:"username,omitempty"`
}

// SDP carries an offer or an answer.
type SDP struct {
	SDP string `json:"sdp"`
}

type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type ViewerCount struct {
	Count int `json:"count"`
}

// Departure is the payload of remove_watcher and user_left_seat.
type Departure struct {
	UserID domain.UserID `json:"userId"`
	SeatID *int          `json:"seatId,omitempty"`
}

type SeatRequest struct {
	SeatID int         `json:"seatId"`
	User   domain.User `json:"user"`
}

// SeatDecision is the payload of approve/reject and their authoritative echoes.
type SeatDecision struct {
	SeatID int         `json:"seatId"`
	User   domain.User `json:"user"`
	Seq    uint64      `json:"seq,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

type GuestReady struct {
	SeatID int         `json:"seatId"`
	User   domain.User `json:"user"`
}

// SeatAction is the payload of kick_from_seat and user_muted.
type SeatAction struct {
	Target domain.UserID `json:"target"`
	SeatID int           `json:"seatId"`
	Muted  bool          `json:"muted,omitempty"`
}

// SeatState is the host's full table, sent to newcomers.
type SeatState struct {
	Seats []domain.Seat `json:"seats"`
}

type Chat struct {
	ID     string      `json:"id"`
	Sender domain.User `json:"sender"`
	Text   string      `json:"text"`
	IsHost bool        `json:"isHost"`
	SentAt time.Time   `json:"sentAt"`
}

type Gift struct {
	ID        string        `json:"id"`
	Sender    domain.User   `json:"sender"`
	Recipient domain.UserID `json:"recipient"`
	Item      string        `json:"item"`
	Amount    int64         `json:"amount"`
	SentAt    time.Time     `json:"sentAt"`
}

type PKChallenge struct {
	PKID           domain.PKID   `json:"pkId"`
	Challenger     domain.User   `json:"challenger"`
	Opponent       domain.UserID `json:"opponent"`
	DurationSec    int           `json:"duration"`
	AcceptDeadline time.Time     `json:"acceptDeadline"`
}

// PKResponse is the payload of accept/decline/cancel.
type PKResponse struct {
	PKID   domain.PKID `json:"pkId"`
	Reason string      `json:"reason,omitempty"`
}

type StreamEnded struct {
	Reason string `json:"reason,omitempty"`
}

type TransportDown struct {
	Reason string `json:"reason"`
}
