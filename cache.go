package subcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const btreeDegree = 16

// entry ids are unique across caches so one Subscriber can watch several caches.
var entryIDs atomic.Uint64

// Cache maps type-erased keys to entries. A *Cache is the shared handle: pass
// it around freely, it is safe for concurrent use. M is the mutation event type.
type Cache[M any] struct {
	log    Logger
	hooks  Hooks
	tracer trace.Tracer
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // fetch goroutines

	mu       sync.Mutex
	tree     *btree.BTreeG[*entry[M]]
	closed   bool
	poisoned bool
}

// New builds a cache. Zero Options are valid.
func New[M any](opts Options) (*Cache[M], error) {
	if opts.InitialDelay < 0 || opts.MaxDelay < 0 {
		return nil, fmt.Errorf("%w: negative delay", ErrInvalidOptions)
	}
	if opts.Multiplier != 0 && opts.Multiplier < 1 {
		return nil, fmt.Errorf("%w: multiplier %v is below 1", ErrInvalidOptions, opts.Multiplier)
	}
	opts.InitialDelay = coalesce(opts.InitialDelay, defaultInitialDelay)
	opts.Multiplier = coalesce(opts.Multiplier, defaultMultiplier)
	if opts.MaxDelay > 0 && opts.MaxDelay < opts.InitialDelay {
		return nil, fmt.Errorf("%w: max delay %s is below initial delay %s", ErrInvalidOptions, opts.MaxDelay, opts.InitialDelay)
	}

	c := &Cache[M]{
		log:    coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:  coalesce[Hooks](opts.Hooks, NopHooks{}),
		tracer: opts.Tracer,
		opts:   opts,
		tree: btree.NewG[*entry[M]](btreeDegree, func(a, b *entry[M]) bool {
			return a.key.Compare(b.key) < 0
		}),
	}
	if c.tracer == nil {
		c.tracer = noop.NewTracerProvider().Tracer("subcache")
	}
	parent := opts.Context
	if parent == nil {
		parent = context.Background()
	}
	c.ctx, c.cancel = context.WithCancel(parent)
	return c, nil
}

// Close stops new fetches, cancels delays and in-flight Sends and waits for
// fetch goroutines until ctx is done. Entries stay readable.
func (c *Cache[M]) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of entries.
func (c *Cache[M]) Len() int {
	n := 0
	c.withLock(func() { n = c.tree.Len() })
	return n
}

// Keys returns every key in cache order.
func (c *Cache[M]) Keys() []Key[M] {
	var out []Key[M]
	c.withLock(func() {
		out = make([]Key[M], 0, c.tree.Len())
		c.tree.Ascend(func(e *entry[M]) bool {
			out = append(out, e.key)
			return true
		})
	})
	return out
}

// Lookup returns a snapshot of the entry for key without subscribing.
func (c *Cache[M]) Lookup(key Key[M]) (Snapshot[any], bool) {
	var (
		s  Snapshot[any]
		ok bool
	)
	c.withLock(func() {
		var e *entry[M]
		if e, ok = c.find(key); ok {
			s = e.snapshot()
		}
	})
	return s, ok
}

// Invalidate marks every entry whose key is invalidated by m as stale and
// broadcasts it. Entries are never removed. Returns the number of matches.
func (c *Cache[M]) Invalidate(m M) int {
	return c.invalidateWhere(func(k Key[M]) bool { return k.InvalidatedBy(m) })
}

// InvalidateAll marks every entry stale.
func (c *Cache[M]) InvalidateAll() int {
	return c.invalidateWhere(func(Key[M]) bool { return true })
}

// InvalidateFrom applies every mutation reported by src.
func (c *Cache[M]) InvalidateFrom(src Invalidator[M]) int {
	n := 0
	for _, m := range src.Mutations() {
		n += c.Invalidate(m)
	}
	return n
}

func (c *Cache[M]) invalidateKey(key Key[M]) bool {
	var (
		ds    []delivery
		start *entry[M]
		found bool
	)
	c.withLock(func() {
		e, ok := c.find(key)
		if !ok {
			return
		}
		found = true
		ds = c.markStale(e)
		if c.shouldRefetch(e) {
			start = e
		}
	})
	deliverAll(ds)
	if found {
		c.hooks.Invalidated(1)
	}
	if start != nil {
		c.start(start, start.retryDelay)
	}
	return found
}

func (c *Cache[M]) invalidateWhere(match func(Key[M]) bool) int {
	var (
		ds      []delivery
		refetch []*entry[M]
		n       int
	)
	c.withLock(func() {
		c.tree.Ascend(func(e *entry[M]) bool {
			if !match(e.key) {
				return true
			}
			n++
			ds = append(ds, c.markStale(e)...)
			if c.shouldRefetch(e) {
				refetch = append(refetch, e)
			}
			return true
		})
	})
	deliverAll(ds)
	c.log.Debug("invalidated entries", Fields{"matched": n})
	c.hooks.Invalidated(n)
	for _, e := range refetch {
		c.start(e, e.retryDelay)
	}
	return n
}

func (c *Cache[M]) markStale(e *entry[M]) []delivery {
	e.value.Invalidate()
	return e.broadcast()
}

// withLock runs fn under the cache lock. A panic escaping fn poisons the cache.
func (c *Cache[M]) withLock(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poisoned {
		panic(ErrPoisoned)
	}
	ok := false
	defer func() {
		if !ok {
			c.poisoned = true
		}
	}()
	fn()
	ok = true
}

// find must be called with c.mu held.
func (c *Cache[M]) find(key Key[M]) (*entry[M], bool) {
	return c.tree.Get(&entry[M]{key: key})
}

// insert must be called with c.mu held.
func (c *Cache[M]) insert(key Key[M], send sendFunc) *entry[M] {
	e := &entry[M]{
		id:   entryIDs.Add(1),
		key:  key,
		send: send,
		bo:   newBackoff(c.opts),
	}
	c.tree.ReplaceOrInsert(e)
	return e
}

// claim marks e in progress and registers a fetch goroutine.
// Must be called with c.mu held.
func (c *Cache[M]) claim(e *entry[M]) bool {
	if c.closed {
		return false
	}
	e.inProgress = true
	c.wg.Add(1)
	return true
}

// shouldRefetch claims e when AutoRefetch applies. Must be called with c.mu held.
func (c *Cache[M]) shouldRefetch(e *entry[M]) bool {
	if !c.opts.AutoRefetch || len(e.subs) == 0 || !e.needsFetch() {
		return false
	}
	return c.claim(e)
}

// start runs a claimed fetch.
func (c *Cache[M]) start(e *entry[M], delay time.Duration) {
	c.hooks.FetchStarted(e.key.String(), delay)
	go c.fetch(e, delay)
}

func (c *Cache[M]) fetch(e *entry[M], delay time.Duration) {
	defer c.wg.Done()
	key := e.key.String()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-c.ctx.Done():
			t.Stop()
			c.withLock(func() { e.inProgress = false })
			c.log.Debug("fetch abandoned, cache closed", Fields{"key": key})
			return
		}
	}

	ctx, span := c.tracer.Start(c.ctx, "subcache.fetch", trace.WithAttributes(
		attribute.String("subcache.key", key),
		attribute.Int64("subcache.delay_ms", delay.Milliseconds()),
	))
	began := time.Now()
	v, err := callSend(ctx, e.send)
	took := time.Since(began)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if err != nil {
		c.failure(e, key, err)
		return
	}
	c.success(e, key, v, took)
}

func callSend(ctx context.Context, send sendFunc) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return send(ctx)
}

func (c *Cache[M]) success(e *entry[M], key string, v any, took time.Duration) {
	var ds []delivery
	c.withLock(func() {
		e.delayReset()
		e.value = NewValue(v)
		e.inProgress = false
		ds = e.broadcast()
	})
	deliverAll(ds)
	c.log.Debug("fetched", Fields{"key": key, "took": took})
	c.hooks.FetchSucceeded(key, took)
}

func (c *Cache[M]) failure(e *entry[M], key string, err error) {
	var (
		ds    []delivery
		fe    *FetchError
		again bool
	)
	c.withLock(func() {
		e.delayUpdate()
		e.inProgress = false
		fe = &FetchError{Key: key, Attempt: e.failures, NextDelay: e.retryDelay, Err: err}
		ds = e.broadcast()
		again = c.shouldRefetch(e)
	})
	deliverAll(ds)
	c.log.Warn("fetch failed", Fields{"key": key, "attempt": fe.Attempt, "retry_in": fe.NextDelay, "err": err})
	c.hooks.FetchFailed(key, fe.Attempt, fe.NextDelay, fe)
	if again {
		c.start(e, fe.NextDelay)
	}
}
