package domain

import "time"

// Seat is a slot in a multi-guest room. Index 0 belongs to the host.
type Seat struct {
	Index    int   `json:"index"`
	Occupant *User `json:"occupant,omitempty"`
	IsHost   bool  `json:"isHost"`
	Muted    bool  `json:"muted"`
	// Seq is the approval sequence that put the current occupant here.
	Seq uint64 `json:"seq"`
}

func (s Seat) Empty() bool { return s.Occupant == nil }

func (s Seat) HeldBy(id UserID) bool { return s.Occupant != nil && s.Occupant.ID == id }

type SeatRequest struct {
	SeatID    int       `json:"seatId"`
	Requester User      `json:"requester"`
	CreatedAt time.Time `json:"createdAt"`
}
