package orch

import (
	"context"
	"errors"

	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/rs/zerolog/log"
)

// metadata resolves a room's stream info: cache first, then the REST record.
// Concurrent lookups for one room share a single fetch. Any failure falls
// back to a minimal solo viewer session.
func (o *Orchestrator) metadata(ctx context.Context, room domain.RoomID) domain.StreamInfo {
	ctx, cancel := context.WithTimeout(ctx, o.deps.Settings.MetadataTimeout)
	defer cancel()

	if o.deps.Cache != nil {
		info, ok, err := o.deps.Cache.Get(ctx, room)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("module", "app.orch").Str("room", string(room)).Msg("metadata cache read failed")
		case ok:
			return info
		}
	}
	if o.deps.Streams == nil {
		return domain.MinimalStreamInfo(room)
	}
	v, err, shared := o.flights.Do(string(room), func() (any, error) {
		return o.deps.Streams.FetchStream(ctx, room)
	})
	if err != nil {
		ev := log.Warn().Err(err).Str("module", "app.orch").Str("room", string(room))
		if errors.Is(err, core.ErrStreamNotFound) {
			ev = log.Info().Str("module", "app.orch").Str("room", string(room))
		}
		ev.Msg("stream metadata unavailable, watching as minimal viewer")
		return domain.MinimalStreamInfo(room)
	}
	info := v.(domain.StreamInfo)
	if info.RoomID == "" {
		info.RoomID = room
	}
	if !shared {
		o.remember(info)
	}
	return info
}

// remember writes info to the cache. Failures are only logged.
func (o *Orchestrator) remember(info domain.StreamInfo) {
	if o.deps.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.deps.Settings.MetadataTimeout)
	defer cancel()
	if err := o.deps.Cache.Put(ctx, info); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("room", string(info.RoomID)).Msg("metadata cache write failed")
	}
}

// forget drops a room whose broadcast has ended.
func (o *Orchestrator) forget(room domain.RoomID) {
	if o.deps.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.deps.Settings.MetadataTimeout)
	defer cancel()
	if err := o.deps.Cache.Forget(ctx, room); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("room", string(room)).Msg("metadata cache evict failed")
	}
}
