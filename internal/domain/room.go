package domain

import (
	"fmt"
	"slices"
)

type RoomID string

// Mode is the kind of live session held in a room.
type Mode string

const (
	ModeSolo  Mode = "solo"
	ModeMulti Mode = "multi"
	ModeAudio Mode = "audio"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeSolo, ModeMulti, ModeAudio:
		return true
	}
	return false
}

// VideoEnabled reports whether publishers in this mode send a camera track.
func (m Mode) VideoEnabled() bool { return m != ModeAudio }

// SeatLayouts lists the seat counts a multi-guest room may be created with.
var SeatLayouts = []int{4, 6, 9, 12}

const DefaultMaxSeats = 12

func ValidateMaxSeats(n int) error {
	if !slices.Contains(SeatLayouts, n) {
		return fmt.Errorf("max seats %d not in %v", n, SeatLayouts)
	}
	return nil
}

// StreamInfo is the stream metadata owned by the REST collaborator.
type StreamInfo struct {
	RoomID   RoomID `json:"roomId"`
	Host     User   `json:"host"`
	Mode     Mode   `json:"mode"`
	MaxSeats int    `json:"maxSeats,omitempty"`
	Title    string `json:"title,omitempty"`
}

// MinimalStreamInfo is what a viewer falls back to when metadata cannot be
// fetched: a plain solo stream with unknown host.
func MinimalStreamInfo(room RoomID) StreamInfo {
	return StreamInfo{RoomID: room, Mode: ModeSolo}
}
