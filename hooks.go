package subcache

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; wrap slow ones with hooks/async.
// They are never called with the cache lock held.
type Hooks interface {
	// A fetch goroutine was started; delay is the backoff applied before Send.
	FetchStarted(key string, delay time.Duration)

	// Send returned a value.
	FetchSucceeded(key string, took time.Duration)

	// Send failed. attempt counts consecutive failures, nextDelay is the
	// backoff the next attempt will wait.
	FetchFailed(key string, attempt int, nextDelay time.Duration, err error)

	// An invalidation pass marked matched entries stale.
	Invalidated(matched int)

	// A new entry was seeded from a cached superset instead of fetching.
	SupersetHit(key, superset string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) FetchStarted(string, time.Duration)            {}
func (NopHooks) FetchSucceeded(string, time.Duration)          {}
func (NopHooks) FetchFailed(string, int, time.Duration, error) {}
func (NopHooks) Invalidated(int)                               {}
func (NopHooks) SupersetHit(string, string)                    {}
