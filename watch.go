package subcache

import "sync"

// Watcher is a subscription whose values land in a latest-wins channel.
// Consumers that only render the newest value never block the cache.
type Watcher[V any] struct {
	sub   *Subscriber[V]
	unsub func()

	mu     sync.Mutex
	cur    Value[V]
	ch     chan Value[V]
	closed bool
}

// Watch subscribes to req. Call Close to unsubscribe.
func Watch[R Request[R, M, V], M, V any](c *Cache[M], req R) (*Watcher[V], error) {
	w := &Watcher[V]{ch: make(chan Value[V], 1)}
	w.sub = NewSubscriber(w.push)
	if err := Subscribe(c, req, w.sub); err != nil {
		return nil, err
	}
	w.unsub = func() { Unsubscribe(c, req, w.sub.Handle()) }
	return w, nil
}

// Values yields every new value, dropping ones the reader was too slow to take.
// It is closed by Close.
func (w *Watcher[V]) Values() <-chan Value[V] { return w.ch }

// Current returns the last delivered value; the zero Value before the first delivery.
func (w *Watcher[V]) Current() Value[V] {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cur
}

func (w *Watcher[V]) Handle() Handle { return w.sub.Handle() }

func (w *Watcher[V]) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()
	w.unsub()
}

func (w *Watcher[V]) push(v Value[V]) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.cur = v
	select {
	case <-w.ch:
	default:
	}
	w.ch <- v
}
