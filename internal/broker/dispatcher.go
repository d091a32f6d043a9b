package broker

import (
	"sync"
)

// Dispatcher fans inbound messages out to subscribers keyed by message kind.
type Dispatcher struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscriber
}

type subscriber struct {
	kind    MessageKind
	handler Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subs: make(map[uint64]subscriber),
	}
}

// Subscribe registers h for messages of the given kind.
func (d *Dispatcher) Subscribe(kind MessageKind, h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.subs[d.nextID] = subscriber{kind: kind, handler: h}

	return Subscription{id: d.nextID, kind: kind}
}

// Unsubscribe removes a subscription. Unknown handles are ignored.
func (d *Dispatcher) Unsubscribe(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, sub.id)
}

// Dispatch delivers msg to every subscriber of msg.Kind and reports how many received it.
func (d *Dispatcher) Dispatch(msg Message) int {
	d.mu.RLock()
	handlers := make([]Handler, 0, 2)
	for _, s := range d.subs {
		if s.kind == msg.Kind {
			handlers = append(handlers, s.handler)
		}
	}
	d.mu.RUnlock()

	// Handlers are called outside the lock so they may unsubscribe themselves.
	for _, h := range handlers {
		h(msg)
	}

	return len(handlers)
}

// Count returns the number of active subscriptions.
func (d *Dispatcher) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// CountKind returns the number of active subscriptions for kind.
func (d *Dispatcher) CountKind(kind MessageKind) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, s := range d.subs {
		if s.kind == kind {
			n++
		}
	}
	return n
}
