package realtime

import (
	"context"
	"sync"

	"carechat-service/internal/models"
)

// Broker is the in-process Feed implementation. Deliveries are synchronous:
// Publish invokes each live subscriber's callback before returning.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[*brokerSub]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*brokerSub]struct{})}
}

type brokerSub struct {
	broker         *Broker
	conversationID string
	fn             func(models.Message)

	mu     sync.Mutex
	closed bool
}

// Subscribe registers a callback for new messages in the conversation.
func (b *Broker) Subscribe(conversationID string, fn func(models.Message)) (Subscription, error) {
	sub := &brokerSub{broker: b, conversationID: conversationID, fn: fn}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[conversationID]; !ok {
		b.subs[conversationID] = make(map[*brokerSub]struct{})
	}
	b.subs[conversationID][sub] = struct{}{}
	return sub, nil
}

// Publish delivers the message to every subscriber of its conversation.
func (b *Broker) Publish(ctx context.Context, msg models.Message) error {
	b.mu.RLock()
	subs := make([]*brokerSub, 0, len(b.subs[msg.ConversationID]))
	for sub := range b.subs[msg.ConversationID] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(msg)
	}
	return nil
}

// SubscriberCount reports the live subscriptions for a conversation.
func (b *Broker) SubscriberCount(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[conversationID])
}

func (s *brokerSub) deliver(msg models.Message) {
	// The per-subscription lock makes Close block until an in-flight
	// delivery returns, and drops deliveries that lost the race with Close.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fn(msg)
}

// Close detaches the subscription. After Close returns no further callbacks run.
func (s *brokerSub) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[s.conversationID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.subs, s.conversationID)
		}
	}
}
