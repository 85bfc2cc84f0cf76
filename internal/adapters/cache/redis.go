// Package cache keeps stream metadata in Redis so viewers can still join
// with full room details while the REST backend is slow or down.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements core.StreamCache with one JSON value per room.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore builds a cache backed by Redis. Prefix is optional.
func NewRedisStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "livecore"
	}
	return &RedisStore{rdb: rdb, prefix: p, ttl: ttl}
}

func (s *RedisStore) key(room domain.RoomID) string {
	return fmt.Sprintf("%s:stream:%s", s.prefix, room)
}

func (s *RedisStore) Get(ctx context.Context, room domain.RoomID) (domain.StreamInfo, bool, error) {
	raw, err := s.rdb.Get(ctx, s.key(room)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.StreamInfo{}, false, nil
	}
	if err != nil {
		return domain.StreamInfo{}, false, err
	}
	var info domain.StreamInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return domain.StreamInfo{}, false, fmt.Errorf("decode cached stream %s: %w", room, err)
	}
	return info, true, nil
}

func (s *RedisStore) Put(ctx context.Context, info domain.StreamInfo) error {
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(info.RoomID), b, s.ttl).Err()
}

// Forget drops a room, used when its stream ends.
func (s *RedisStore) Forget(ctx context.Context, room domain.RoomID) error {
	return s.rdb.Del(ctx, s.key(room)).Err()
}
