package session

import (
	"sync"

	"github.com/avchat/roomkit/core"
)

// Listener receives normalized session events. Payloads are immutable;
// listeners must not hold onto adapter internals.
type Listener func(core.Event)

type subscription struct {
	id int64
	fn Listener
}

// listenerBus delivers events synchronously and in order to a snapshot of
// the subscriber set. Subscribing or unsubscribing is safe at any time,
// including from within a listener callback: a listener removed during
// delivery still sees the in-flight event but none after it.
type listenerBus struct {
	mu   sync.Mutex
	next int64
	subs []subscription
}

func newListenerBus() *listenerBus {
	return &listenerBus{}
}

// subscribe registers fn and returns its unsubscribe function. Calling the
// returned function more than once is a no-op.
func (b *listenerBus) subscribe(fn Listener) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()
	return func() { b.unsubscribe(id) }
}

func (b *listenerBus) unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *listenerBus) emit(ev core.Event) {
	b.mu.Lock()
	snapshot := make([]subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()
	for _, s := range snapshot {
		s.fn(ev)
	}
}

func (b *listenerBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
