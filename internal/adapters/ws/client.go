// Package ws is the room event bus client: one WebSocket to the signaling
// server shared by every session the process runs.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Config struct {
	URL               string
	Header            http.Header
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	// ReconnectAttempts is how many consecutive failed dials are tolerated
	// before transport_down is published. Zero retries forever.
	ReconnectAttempts int
	SendBuffer        int
	PingPeriod        time.Duration
	WriteTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 500 * time.Millisecond
	}
	if c.ReconnectMaxDelay < c.ReconnectDelay {
		c.ReconnectMaxDelay = 10 * c.ReconnectDelay
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 20 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Client implements core.Transport. Outbound messages are queued and survive
// reconnects; Send fails fast with core.ErrBackpressure when the queue is full.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	send chan []byte

	mu     sync.Mutex
	subs   map[string]map[uint64]core.Handler
	nextID uint64
	conn   *websocket.Conn
	closed bool

	connected atomic.Bool
	stop      chan struct{}
	stopOnce  sync.Once
}

func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		send:   make(chan []byte, cfg.SendBuffer),
		subs:   make(map[string]map[uint64]core.Handler),
		stop:   make(chan struct{}),
	}
}

func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) Send(ctx context.Context, m protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Type, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrTransportClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *Client) Subscribe(msgType string, h core.Handler) core.Subscription {
	msgType = protocol.Canonical(msgType)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.subs[msgType] == nil {
		c.subs[msgType] = make(map[uint64]core.Handler)
	}
	c.subs[msgType][id] = h
	return core.SubscriptionFunc(func() {
		c.mu.Lock()
		delete(c.subs[msgType], id)
		c.mu.Unlock()
	})
}

func (c *Client) dispatch(m protocol.Message) {
	c.mu.Lock()
	hs := make([]core.Handler, 0, len(c.subs[m.Type]))
	for _, h := range c.subs[m.Type] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	if len(hs) == 0 {
		log.Debug().Str("module", "ws").Str("type", m.Type).Msg("no subscribers")
	}
	for _, h := range hs {
		h(m)
	}
}

// Run keeps the connection up until ctx ends or Close is called. After
// ReconnectAttempts consecutive failed dials it publishes transport_down
// and returns core.ErrTransportClosed.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	delay := c.cfg.ReconnectDelay
	failures := 0
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		if err == nil {
			log.Info().Str("module", "ws").Str("url", c.cfg.URL).Msg("connected")
			failures = 0
			delay = c.cfg.ReconnectDelay
			c.serve(ctx, conn)
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			log.Warn().Err(err).Str("module", "ws").Int("attempt", failures).Msg("dial failed")
			if c.cfg.ReconnectAttempts > 0 && failures >= c.cfg.ReconnectAttempts {
				log.Error().Str("module", "ws").Int("attempts", failures).Msg("giving up, transport down")
				c.dispatch(protocol.Message{Type: protocol.TypeTransportDown})
				c.shutdown()
				return core.ErrTransportClosed
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.cfg.ReconnectMaxDelay {
			delay = c.cfg.ReconnectMaxDelay
		}
	}
}

// serve runs the pumps for one connection and returns when it drops.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		c.writePump(connCtx, conn)
	}()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()
	c.readPump(conn)
	cancel()
	wg.Wait()
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn) {
	ping := time.NewTicker(c.cfg.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warn().Err(err).Str("module", "ws").Msg("ping failed")
				return
			}
		}
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	wait := 2 * c.cfg.PingPeriod
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, websocket.ErrCloseSent) {
				log.Warn().Err(err).Str("module", "ws").Msg("readPump read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		m, err := protocol.Unmarshal(data)
		if err != nil {
			log.Error().Err(err).Str("module", "ws").Msg("bad json")
			continue
		}
		c.dispatch(m)
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Close stops Run and rejects further sends.
func (c *Client) Close() error {
	c.shutdown()
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}
