// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/subcache"
//	"github.com/unkn0wn-root/subcache/hooks/async"
//	"github.com/unkn0wn-root/subcache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    FetchFailedEvery: 10, // sample logs: ~every 10th failed fetch
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := subcache.New[Mutation](subcache.Options{
//	    Hooks: hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/subcache"
)

// Hooks forwards events to inner on worker goroutines. When the queue is full
// events are dropped and counted.
type Hooks struct {
	inner   subcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

var _ subcache.Hooks = (*Hooks)(nil)

func New(inner subcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events arriving after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns the number of events lost to a full queue or a closed hook.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) FetchStarted(k string, d time.Duration) {
	h.try(func() { h.inner.FetchStarted(k, d) })
}
func (h *Hooks) FetchSucceeded(k string, took time.Duration) {
	h.try(func() { h.inner.FetchSucceeded(k, took) })
}
func (h *Hooks) FetchFailed(k string, attempt int, next time.Duration, err error) {
	h.try(func() { h.inner.FetchFailed(k, attempt, next, err) })
}
func (h *Hooks) Invalidated(n int)             { h.try(func() { h.inner.Invalidated(n) }) }
func (h *Hooks) SupersetHit(k, superset string) { h.try(func() { h.inner.SupersetHit(k, superset) }) }
