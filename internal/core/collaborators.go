package core

//go:generate mockgen -source=collaborators.go -destination=mocks/collaborators.go -package=mocks

import (
	"context"
	"errors"

	"github.com/dkeye/LiveStudio/internal/domain"
)

var ErrStreamNotFound = errors.New("stream not found")

// StreamRegistry is the REST record of streams. Every call is best effort.
type StreamRegistry interface {
	StartStream(ctx context.Context, info domain.StreamInfo) error
	EndStream(ctx context.Context, room domain.RoomID) error
	FetchStream(ctx context.Context, room domain.RoomID) (domain.StreamInfo, error)
}

type GiftLedger interface {
	PostGift(ctx context.Context, g domain.GiftEvent) error
}

type PKStore interface {
	SavePK(ctx context.Context, c domain.PKChallenge) error
}

// StreamCache keeps recently fetched stream metadata.
type StreamCache interface {
	Get(ctx context.Context, room domain.RoomID) (domain.StreamInfo, bool, error)
	Put(ctx context.Context, info domain.StreamInfo) error
	Forget(ctx context.Context, room domain.RoomID) error
}
