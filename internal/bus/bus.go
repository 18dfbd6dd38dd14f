// Package bus implements the event pub/sub collaborator described in
// spec §6: publish/subscribe/close with per-channel FIFO delivery order.
// It backs both engagement state-change fan-out and the kill switch's
// broadcast path.
package bus

import (
	"errors"
	"sync"
)

// Callback receives a published message. It must not block; a slow or
// panicking callback only affects its own channel's delivery loop.
type Callback func(message any)

// ErrClosed is returned by Publish/Subscribe after Close.
var ErrClosed = errors.New("bus: closed")

type subscriber struct {
	id string
	cb Callback
}

// Bus is a simple in-process, per-channel FIFO pub/sub bus. Publish
// delivers synchronously to every current subscriber of a channel, in
// subscription order, so ordering within one channel matches call order.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]subscriber
	closed bool
	nextID uint64
}

func New() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Subscribe registers cb on channel and returns an id usable with
// Unsubscribe. Safe to call concurrently with Publish.
func (b *Bus) Subscribe(channel string, cb Callback) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}
	b.nextID++
	id := formatSubID(b.nextID)
	b.subs[channel] = append(b.subs[channel], subscriber{id: id, cb: cb})
	return id, nil
}

// Unsubscribe removes a previously subscribed callback. Idempotent.
func (b *Bus) Unsubscribe(channel, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[channel]
	for i, s := range list {
		if s.id == id {
			b.subs[channel] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers message to every current subscriber of channel, in
// registration order. Panicking callbacks are recovered and evicted so a
// failing client does not stop delivery to the others; callbacks run
// synchronously, so one that blocks delays every later subscriber. The
// snapshot-then-evict pattern avoids mutating the subscriber table while
// iterating it.
func (b *Bus) Publish(channel string, message any) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	snapshot := append([]subscriber{}, b.subs[channel]...)
	b.mu.Unlock()

	var dead []string
	for _, s := range snapshot {
		if !invoke(s.cb, message) {
			dead = append(dead, s.id)
		}
	}
	if len(dead) > 0 {
		b.mu.Lock()
		list := b.subs[channel]
		for _, id := range dead {
			for i, s := range list {
				if s.id == id {
					list = append(list[:i], list[i+1:]...)
					break
				}
			}
		}
		b.subs[channel] = list
		b.mu.Unlock()
	}
	return nil
}

func invoke(cb Callback, message any) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	cb(message)
	return true
}

// Close marks the bus closed; subsequent Publish/Subscribe calls fail.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string][]subscriber)
}
