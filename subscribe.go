package subcache

import (
	"context"
	"time"
)

// Subscribe registers sub for req.
//
// A never-seen request gets a new pending entry and its fetch starts right away
// (or the entry is seeded from a cached superset, see Subsumer). For a known
// request sub is notified at once if its last seen value differs from the cached
// one, and a fetch starts only if the value is stale and no fetch is in flight,
// after the entry's current retry delay. At most one fetch per key is in flight.
// Subscribing the same handle twice is a no-op.
func Subscribe[R Request[R, M, V], M, V any](c *Cache[M], req R, sub *Subscriber[V]) error {
	key := KeyOf[R, M](req)
	_, subsumes := any(req).(Subsumer[R, V])
	var (
		e       *entry[M]
		created bool
		cur     delivery
		offer   bool
		fetch   *entry[M]
		delay   time.Duration
		err     error
	)
	c.withLock(func() {
		if c.closed {
			err = ErrClosed
			return
		}
		var ok bool
		if e, ok = c.find(key); !ok {
			stored := key.Clone()
			e = c.insert(stored, sendOf[R, M, V](stored.Unwrap().(R)))
			e.subscribe(sub)
			created = true
			if !subsumes && c.claim(e) {
				fetch = e
			}
			return
		}

		e.subscribe(sub)
		cur, offer = delivery{to: sub, entry: e.id, seq: e.seq, value: e.value}, true
		if e.needsFetch() && c.claim(e) {
			fetch, delay = e, e.retryDelay
		}
	})
	if err != nil {
		return err
	}

	// A newer broadcast racing this one wins: deliver drops older sequence numbers.
	if offer && sub.differs(cur.entry, cur.value) {
		sub.deliver(cur)
	}
	if created && subsumes {
		fetch = seedFromSuperset[R, M, V](c, req, e)
	}
	if fetch != nil {
		c.start(fetch, delay)
	}
	return nil
}

// Unsubscribe removes h from the subscribers of k. The entry stays cached and an
// in-flight fetch runs to completion. Reports whether h was subscribed.
func Unsubscribe[K Keyable[K, M], M any](c *Cache[M], k K, h Handle) bool {
	key := KeyOf[K, M](k)
	var (
		gone notifier
		id   uint64
	)
	c.withLock(func() {
		if e, ok := c.find(key); ok {
			gone, id = e.unsubscribe(h), e.id
		}
	})
	if gone == nil {
		return false
	}
	gone.forget(id)
	return true
}

// Get returns a snapshot of the entry for k without subscribing. It reports false
// when k was never subscribed or its value is not a V.
func Get[V any, K Keyable[K, M], M any](c *Cache[M], k K) (Snapshot[V], bool) {
	s, ok := c.Lookup(KeyOf[K, M](k))
	if !ok {
		return Snapshot[V]{}, false
	}
	return downcastSnapshot[V](s)
}

// InvalidateKey marks the entry for k stale and broadcasts it. Reports whether k
// was cached.
func InvalidateKey[K Keyable[K, M], M any](c *Cache[M], k K) bool {
	return c.invalidateKey(KeyOf[K, M](k))
}

func sendOf[R Request[R, M, V], M, V any](req R) sendFunc {
	return func(ctx context.Context) (any, error) {
		v, err := req.Send(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

type supersetValue[R, M, V any] struct {
	req  R
	key  Key[M]
	data V
}

// seedFromSuperset fills the freshly inserted entry e from a cached superset of
// req. Superset and Narrow run without the cache lock. When no superset serves,
// e is claimed and returned for a fetch, unless a concurrent Subscribe already
// did that.
func seedFromSuperset[R Request[R, M, V], M, V any](c *Cache[M], req R, e *entry[M]) *entry[M] {
	s := any(req).(Subsumer[R, V])
	var cands []supersetValue[R, M, V]
	if supersets := s.Superset(); len(supersets) > 0 {
		c.withLock(func() {
			for _, sr := range supersets {
				se, ok := c.find(KeyOf[R, M](sr))
				if !ok || !se.value.Valid() {
					continue
				}
				typed, ok := Downcast[V](se.value)
				if !ok {
					continue
				}
				if data, ok := typed.Data(); ok {
					cands = append(cands, supersetValue[R, M, V]{req: sr, key: se.key, data: data})
				}
			}
		})
	}

	var (
		from   Key[M]
		v      V
		narrow bool
	)
	for _, cd := range cands {
		if v, narrow = s.Narrow(cd.req, cd.data); narrow {
			from = cd.key
			break
		}
	}

	var (
		ds     []delivery
		fetch  *entry[M]
		seeded bool
	)
	c.withLock(func() {
		// seq stays 0 until the entry is first broadcast, so an invalidation or a
		// finished fetch since insert means the narrowed value may be outdated.
		if narrow && e.seq == 0 && !e.inProgress {
			e.value = NewValue[any](v)
			ds = e.broadcast()
			seeded = true
			return
		}
		if e.needsFetch() && c.claim(e) {
			fetch = e
		}
	})
	deliverAll(ds)
	if seeded {
		key, superset := e.key.String(), from.String()
		c.log.Debug("entry seeded from superset", Fields{"key": key, "superset": superset})
		c.hooks.SupersetHit(key, superset)
	}
	return fetch
}
