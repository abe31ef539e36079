package subcache

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

// Handle identifies a subscriber. Subscribing the same handle twice to a key is a no-op.
type Handle struct{ id uuid.UUID }

// NewHandle returns a fresh random handle.
func NewHandle() Handle { return Handle{id: uuid.New()} }

func (h Handle) String() string { return h.id.String() }

// notifier is the type-erased side of a Subscriber, stored in entries.
type notifier interface {
	handle() Handle
	// differs reports whether v is not what the subscriber last saw for the entry.
	differs(entryID uint64, v Value[any]) bool
	deliver(d delivery)
	// forget drops what the subscriber remembers about the entry.
	forget(entryID uint64)
}

type delivery struct {
	to    notifier
	entry uint64
	seq   uint64
	value Value[any]
}

func deliverAll(ds []delivery) {
	for _, d := range ds {
		d.to.deliver(d)
	}
}

type slot struct {
	seen  bool
	seq   uint64
	value Value[any]
}

// Subscriber receives the values of every entry it is subscribed to.
//
// Deliveries run outside the cache lock. For a given entry a subscriber never sees
// an older broadcast after a newer one (intermediate values may be coalesced), and
// notify is never called concurrently for the same subscriber. notify may call
// back into the cache.
type Subscriber[V any] struct {
	h      Handle
	notify func(Value[V])

	mu       sync.Mutex
	slots    map[uint64]*slot // last delivered, per subscribed entry
	pending  map[uint64]delivery
	draining bool
}

// NewSubscriber returns a subscriber with a fresh handle.
func NewSubscriber[V any](notify func(Value[V])) *Subscriber[V] {
	return NewSubscriberWithHandle(NewHandle(), notify)
}

// NewSubscriberWithHandle returns a subscriber identified by h.
func NewSubscriberWithHandle[V any](h Handle, notify func(Value[V])) *Subscriber[V] {
	return &Subscriber[V]{
		h:       h,
		notify:  notify,
		slots:   make(map[uint64]*slot),
		pending: make(map[uint64]delivery),
	}
}

func (s *Subscriber[V]) Handle() Handle { return s.h }

func (s *Subscriber[V]) handle() Handle { return s.h }

func (s *Subscriber[V]) differs(entryID uint64, v Value[any]) bool {
	s.mu.Lock()
	last := Value[any]{}
	if sl, ok := s.slots[entryID]; ok {
		last = sl.value
	}
	if p, ok := s.pending[entryID]; ok {
		last = p.value
	}
	s.mu.Unlock()
	return !equalValues(last, v)
}

func (s *Subscriber[V]) forget(entryID uint64) {
	s.mu.Lock()
	delete(s.slots, entryID)
	delete(s.pending, entryID)
	s.mu.Unlock()
}

func (s *Subscriber[V]) deliver(d delivery) {
	s.mu.Lock()
	if sl, ok := s.slots[d.entry]; ok && sl.seen && d.seq <= sl.seq {
		s.mu.Unlock()
		return
	}
	if p, ok := s.pending[d.entry]; ok && d.seq < p.seq {
		s.mu.Unlock()
		return
	}
	s.pending[d.entry] = d
	if s.draining {
		// The goroutine already draining picks it up.
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		var next delivery
		for id, p := range s.pending {
			next = p
			delete(s.pending, id)
			break
		}
		s.slots[next.entry] = &slot{seen: true, seq: next.seq, value: next.value}
		s.mu.Unlock()
		s.call(next)
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (s *Subscriber[V]) call(d delivery) {
	v, ok := Downcast[V](d.value)
	if !ok {
		var want V
		panic(fmt.Sprintf("subcache: subscriber for %T received %T", want, d.value.data))
	}
	s.notify(v)
}

var exportAll = cmp.Exporter(func(reflect.Type) bool { return true })

func equalValues(a, b Value[any]) bool {
	if a.valid != b.valid || a.present != b.present {
		return false
	}
	if !a.present {
		return true
	}
	return cmp.Equal(a.data, b.data, exportAll)
}
