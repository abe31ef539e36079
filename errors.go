package subcache

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("subcache: cache closed")
	// ErrPoisoned is the panic value of every operation after a panic escaped
	// while the cache lock was held (e.g. from a key's Compare).
	ErrPoisoned = errors.New("subcache: cache state poisoned by an earlier panic")
	// ErrInvalidOptions wraps option validation failures from New.
	ErrInvalidOptions = errors.New("subcache: invalid options")
)

// FetchError describes a failed fetch attempt. Subscribers never see it; it goes
// to the Logger and Hooks.
type FetchError struct {
	Key       string
	Attempt   int           // consecutive failures including this one
	NextDelay time.Duration // delay applied to the next attempt
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed (attempt %d, retry in %s): %v", e.Key, e.Attempt, e.NextDelay, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PanicError is the error recorded when a request's Send panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("send panicked: %v", e.Value) }
