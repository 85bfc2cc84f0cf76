package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/redis/go-redis/v9"
)

func newStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "test:", ttl), mr
}

func TestPutGet(t *testing.T) {
	s, mr := newStore(t, time.Minute)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "r1"); err != nil || ok {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}

	info := domain.StreamInfo{RoomID: "r1", Host: domain.User{ID: "h", Username: "host"}, Mode: domain.ModeMulti, MaxSeats: 4}
	if err := s.Put(ctx, info); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("test:stream:r1") {
		t.Fatalf("keys = %v", mr.Keys())
	}
	got, ok, err := s.Get(ctx, "r1")
	if err != nil || !ok || got != info {
		t.Fatalf("got %+v ok=%v err=%v", got, ok, err)
	}

	if err := s.Forget(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "r1"); ok {
		t.Fatal("forgotten room still cached")
	}
}

func TestExpiry(t *testing.T) {
	s, mr := newStore(t, 30*time.Second)
	ctx := context.Background()
	if err := s.Put(ctx, domain.StreamInfo{RoomID: "r1", Mode: domain.ModeSolo}); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("test:stream:r1"); ttl != 30*time.Second {
		t.Fatalf("ttl = %s", ttl)
	}
	mr.FastForward(31 * time.Second)
	if _, ok, _ := s.Get(ctx, "r1"); ok {
		t.Fatal("entry survived its ttl")
	}
}

func TestCorruptEntry(t *testing.T) {
	s, mr := newStore(t, 0)
	if err := mr.Set("test:stream:r1", "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Get(context.Background(), "r1"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRedisDown(t *testing.T) {
	s, mr := newStore(t, time.Minute)
	mr.Close()
	if _, _, err := s.Get(context.Background(), "r1"); err == nil {
		t.Fatal("expected connection error")
	}
}
