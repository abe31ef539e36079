package subcache

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type sendFunc func(ctx context.Context) (any, error)

// entry is the per-key state. id, key and send never change after insert; every
// other field is guarded by Cache.mu.
type entry[M any] struct {
	id   uint64
	key  Key[M]
	send sendFunc

	value      Value[any]
	inProgress bool
	retryDelay time.Duration // 0 => no failure since the last success
	failures   int           // consecutive
	bo         *backoff.ExponentialBackOff

	subs []notifier
	seq  uint64 // bumped on every broadcast
}

// Snapshot is a read-only copy of an entry.
type Snapshot[V any] struct {
	Value       Value[V]
	InProgress  bool
	RetryDelay  time.Duration // zero when no failure happened since the last success
	Failures    int           // consecutive failed fetches
	Subscribers int
}

func (e *entry[M]) needsFetch() bool {
	return !e.value.Valid() && !e.inProgress
}

func (e *entry[M]) subscribe(n notifier) bool {
	for _, s := range e.subs {
		if s.handle() == n.handle() {
			return false
		}
	}
	e.subs = append(e.subs, n)
	return true
}

// unsubscribe removes h and returns its notifier, nil when h was not subscribed.
func (e *entry[M]) unsubscribe(h Handle) notifier {
	for i, s := range e.subs {
		if s.handle() == h {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return s
		}
	}
	return nil
}

// delayUpdate advances the backoff: d0 after the first failure, then times the
// multiplier.
func (e *entry[M]) delayUpdate() {
	e.failures++
	e.retryDelay = e.bo.NextBackOff()
}

func (e *entry[M]) delayReset() {
	e.failures = 0
	e.retryDelay = 0
	e.bo.Reset()
}

// broadcast stamps the current value and returns the deliveries to run once
// the cache lock is released.
func (e *entry[M]) broadcast() []delivery {
	e.seq++
	if len(e.subs) == 0 {
		return nil
	}
	out := make([]delivery, 0, len(e.subs))
	for _, s := range e.subs {
		out = append(out, delivery{to: s, entry: e.id, seq: e.seq, value: e.value})
	}
	return out
}

func (e *entry[M]) snapshot() Snapshot[any] {
	return Snapshot[any]{
		Value:       e.value,
		InProgress:  e.inProgress,
		RetryDelay:  e.retryDelay,
		Failures:    e.failures,
		Subscribers: len(e.subs),
	}
}

func downcastSnapshot[V any](s Snapshot[any]) (Snapshot[V], bool) {
	v, ok := Downcast[V](s.Value)
	if !ok {
		return Snapshot[V]{}, false
	}
	return Snapshot[V]{
		Value:       v,
		InProgress:  s.InProgress,
		RetryDelay:  s.RetryDelay,
		Failures:    s.Failures,
		Subscribers: s.Subscribers,
	}, true
}

func newBackoff(o Options) *backoff.ExponentialBackOff {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     o.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          o.Multiplier,
		MaxInterval:         o.MaxDelay,
	}
	if bo.MaxInterval <= 0 {
		bo.MaxInterval = maxDelay
	}
	bo.Reset()
	return bo
}
