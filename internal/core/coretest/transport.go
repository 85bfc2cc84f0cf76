// Package coretest provides in-memory fakes of the core interfaces.
package coretest

import (
	"context"
	"sync"

	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/protocol"
)

// Transport records sent messages and lets tests inject inbound ones.
type Transport struct {
	mu      sync.Mutex
	sent    []protocol.Message
	subs    map[string]map[int]core.Handler
	next    int
	SendErr error
}

func NewTransport() *Transport {
	return &Transport{subs: make(map[string]map[int]core.Handler)}
}

func (t *Transport) Send(_ context.Context, m protocol.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	t.sent = append(t.sent, m)
	return nil
}

func (t *Transport) Subscribe(msgType string, h core.Handler) core.Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	id := t.next
	if t.subs[msgType] == nil {
		t.subs[msgType] = make(map[int]core.Handler)
	}
	t.subs[msgType][id] = h
	return core.SubscriptionFunc(func() {
		t.mu.Lock()
		delete(t.subs[msgType], id)
		t.mu.Unlock()
	})
}

// Deliver dispatches m to current subscribers of its type.
func (t *Transport) Deliver(m protocol.Message) {
	t.mu.Lock()
	hs := make([]core.Handler, 0, len(t.subs[m.Type]))
	for _, h := range t.subs[m.Type] {
		hs = append(hs, h)
	}
	t.mu.Unlock()
	for _, h := range hs {
		h(m)
	}
}

// DeliverNew builds and delivers a message; it panics on encode errors.
func (t *Transport) DeliverNew(typ string, room, from, to string, payload any) {
	m, err := protocol.New(typ, domainRoom(room), domainUser(from), domainUser(to), payload)
	if err != nil {
		panic(err)
	}
	t.Deliver(m)
}

func (t *Transport) Subscribers(msgType string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs[msgType])
}

func (t *Transport) Sent() []protocol.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Message(nil), t.sent...)
}

func (t *Transport) SentOfType(typ string) []protocol.Message {
	var out []protocol.Message
	for _, m := range t.Sent() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (t *Transport) Reset() {
	t.mu.Lock()
	t.sent = nil
	t.mu.Unlock()
}
