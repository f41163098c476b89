package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventTransactionProcessed    EventType = "transaction.processed"
	EventTransactionUnresolvable EventType = "transaction.unresolvable"
	EventBatchAnchored           EventType = "batch.anchored"
	EventReorgDetected           EventType = "reorg.detected"
	EventOperationQueued         EventType = "operation.queued"
)

// Event represents a node event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// subscriberBuffer is how many undelivered events a subscriber may lag
// behind before it starts losing them. Pipeline events are advisory; the
// observer and batch writer must never block on a slow consumer.
const subscriberBuffer = 64

// Subscription is one subscriber's filtered view of the event stream.
// Events are received from Events(); a subscription that falls behind
// loses events rather than stalling the publisher, and Dropped reports how
// many were lost.
type Subscription struct {
	ch      chan Event
	types   map[EventType]bool // nil subscribes to everything
	dropped atomic.Uint64
}

// Events returns the subscription's receive channel. It is closed when the
// subscription is cancelled or the broker shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events this subscription has lost to
// backpressure
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) wants(eventType EventType) bool {
	return s.types == nil || s.types[eventType]
}

// Broker fans node events out to subscribers. Delivery is synchronous in
// Publish and never blocks: each subscriber has a bounded buffer and drops
// on overflow.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*Subscription]bool
	closed bool
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{subs: make(map[*Subscription]bool)}
}

// Subscribe registers a subscriber for the given event types. With no
// types, every event is delivered.
func (b *Broker) Subscribe(types ...EventType) *Subscription {
	sub := &Subscription{ch: make(chan Event, subscriberBuffer)}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = true
	return sub
}

// Unsubscribe cancels a subscription and closes its channel
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sub] {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish stamps and delivers an event to every matching subscriber
func (b *Broker) Publish(eventType EventType, message string, metadata map[string]string) {
	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Message:   message,
		Metadata:  metadata,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Close stops delivery and closes every subscriber channel
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of active subscriptions
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
