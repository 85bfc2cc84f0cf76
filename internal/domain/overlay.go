package domain

import "time"

type ChatMessage struct {
	ID     string    `json:"id"`
	RoomID RoomID    `json:"roomId"`
	Sender User      `json:"sender"`
	Text   string    `json:"text"`
	IsHost bool      `json:"isHost"`
	SentAt time.Time `json:"sentAt"`
}

type GiftEvent struct {
	ID        string    `json:"id"`
	RoomID    RoomID    `json:"roomId"`
	Sender    User      `json:"sender"`
	Recipient UserID    `json:"recipient"`
	Item      string    `json:"item"`
	Amount    int64     `json:"amount"`
	SentAt    time.Time `json:"sentAt"`
}
