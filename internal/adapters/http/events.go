package http

import (
	"io"
	"sync"

	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Broker fans session events out to SSE clients. Publish never blocks: a
// client that falls behind loses events rather than stalling the session.
type Broker struct {
	mu   sync.Mutex
	subs map[chan core.Event]struct{}
	buf  int
}

func NewBroker(buf int) *Broker {
	if buf <= 0 {
		buf = 64
	}
	return &Broker{subs: make(map[chan core.Event]struct{}), buf: buf}
}

func (b *Broker) Publish(e core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			log.Debug().Str("module", "adapters.http").Str("kind", string(e.Kind)).Msg("sse client lagging, event dropped")
		}
	}
}

func (b *Broker) Subscribe() (<-chan core.Event, func()) {
	ch := make(chan core.Event, b.buf)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
		})
	}
}

func (b *Broker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Serve streams events as SSE until the client goes away. The first event,
// ready, confirms the subscription.
func (b *Broker) Serve(c *gin.Context) {
	ch, cancel := b.Subscribe()
	defer cancel()
	log.Info().Str("module", "adapters.http").Str("sid", c.GetString(clientTokenKey)).Msg("sse client connected")

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"ok": true})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e := <-ch:
			c.SSEvent(string(e.Kind), e)
			return true
		}
	})
}
