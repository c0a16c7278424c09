package pipeline

import (
	"slices"
	"sync"
	"sync/atomic"
)

// EventBus fans risk transitions out to subscribers. Subscribers are served
// in registration order and each one sees events in publish order.
// Handlers must not subscribe or unsubscribe from within OnRiskTransition.
type EventBus struct {
	mu      sync.RWMutex
	subs    []*eventSubscription
	closed  bool
	dropped atomic.Uint64
}

type eventSubscription struct {
	minLevel WarningLevel // only transitions into minLevel or above
	handler  RiskEventHandler
	channel  chan RiskTransitionEvent
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a handler for all risk transitions and returns an
// unsubscribe function
func (b *EventBus) Subscribe(handler RiskEventHandler) func() {
	return b.add(&eventSubscription{handler: handler})
}

// SubscribeLevel registers a handler for transitions into level or above
func (b *EventBus) SubscribeLevel(level WarningLevel, handler RiskEventHandler) func() {
	return b.add(&eventSubscription{minLevel: level, handler: handler})
}

// SubscribeChannel returns a channel receiving risk transitions. Delivery
// never blocks the publisher: events are dropped while the channel is full.
// The channel is closed on unsubscribe or when the bus closes.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan RiskTransitionEvent, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}
	sub := &eventSubscription{channel: make(chan RiskTransitionEvent, bufferSize)}
	return sub.channel, b.add(sub)
}

func (b *EventBus) add(sub *eventSubscription) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		if sub.channel != nil {
			close(sub.channel)
		}
		return func() {}
	}
	b.subs = append(b.subs, sub)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

func (b *EventBus) remove(sub *eventSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.Index(b.subs, sub)
	if i < 0 {
		return
	}
	b.subs = slices.Delete(b.subs, i, i+1)
	if sub.channel != nil {
		close(sub.channel)
	}
}

// Publish delivers event to every subscriber. Handlers run synchronously on
// the publishing goroutine.
func (b *EventBus) Publish(event RiskTransitionEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if event.Current < sub.minLevel {
			continue
		}
		if sub.handler != nil {
			sub.handler.OnRiskTransition(event)
			continue
		}
		select {
		case sub.channel <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many channel deliveries were skipped because the
// subscriber was not keeping up
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close removes all subscribers and closes their channels. Later
// subscriptions receive an already closed channel.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		if sub.channel != nil {
			close(sub.channel)
		}
	}
	b.subs = nil
}
