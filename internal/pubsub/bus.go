// Package pubsub provides an in-process channel-based fan-out bus. Handlers
// are invoked synchronously on the publishing call stack, in subscription
// order; a handler that panics is caught and logged without affecting the
// other handlers or the publisher. Room broadcasts are mirrored onto bus
// channels (room:<name>) so non-local listeners such as the NATS bridge can
// observe them.
package pubsub

import (
	"log"
	"sync"
)

// Handler receives a published message. The channel name is passed so that
// wildcard subscribers can route on it.
type Handler func(channel string, data []byte)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous in-process publish/subscribe bus.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	channels map[string][]subscription
	taps     []subscription // wildcard subscribers, invoked for every channel
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		channels: make(map[string][]subscription),
	}
}

// Subscribe registers a handler on a named channel and returns its
// unsubscribe function. Unsubscribing twice is harmless.
func (b *Bus) Subscribe(channel string, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.channels[channel] = append(b.channels[channel], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.channels[channel]
		for i, s := range subs {
			if s.id == id {
				b.channels[channel] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.channels[channel]) == 0 {
			delete(b.channels, channel)
		}
	}
}

// SubscribeAll registers a wildcard handler invoked for every publish on any
// channel, after that channel's own handlers. Returns an unsubscribe
// function.
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.taps = append(b.taps, subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.taps {
			if s.id == id {
				b.taps = append(b.taps[:i:i], b.taps[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers data to every current subscriber of the channel plus all
// wildcard subscribers, synchronously and in subscription order. It returns
// the number of handlers invoked. Publishing on a channel with no
// subscribers returns zero.
func (b *Bus) Publish(channel string, data []byte) int {
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.channels[channel])+len(b.taps))
	subs = append(subs, b.channels[channel]...)
	subs = append(subs, b.taps...)
	b.mu.RUnlock()

	for _, s := range subs {
		invoke(channel, data, s.handler)
	}
	return len(subs)
}

// invoke runs a handler, containing any panic so one failing subscriber
// cannot break the rest of the fan-out or the publisher.
func invoke(channel string, data []byte, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[pubsub] handler panic on channel %s: %v", channel, r)
		}
	}()
	h(channel, data)
}

// Subscribers returns the number of handlers registered on a channel,
// excluding wildcard taps. For diagnostics.
func (b *Bus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}
