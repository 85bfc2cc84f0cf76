package core

import (
	"context"
	"sync"

	"github.com/dkeye/LiveStudio/internal/protocol"
)

// Handler receives bus messages. It runs on the transport's reader and must
// not block; session code posts into its loop from here.
type Handler func(protocol.Message)

// Subscription is the handle returned by Transport.Subscribe.
type Subscription interface {
	Unsubscribe()
}

// Transport is the shared room event bus. Its connect/reconnect lifecycle is
// owned by the application shell, never by a session.
type Transport interface {
	Send(ctx context.Context, m protocol.Message) error
	Subscribe(msgType string, h Handler) Subscription
}

// SubscriptionSet releases a group of subscriptions in one call.
type SubscriptionSet struct {
	mu   sync.Mutex
	subs []Subscription
}

func (s *SubscriptionSet) Add(sub Subscription) {
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

// Release unsubscribes everything added so far. Safe to call repeatedly.
func (s *SubscriptionSet) Release() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// SubscriptionFunc adapts a plain func to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }
