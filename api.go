package subcache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const (
	defaultInitialDelay = 100 * time.Millisecond
	defaultMultiplier   = 1.5

	maxDelay = time.Duration(1<<63 - 1)
)

// Options tune a Cache. The zero value is ready to use.
type Options struct {
	Logger Logger       // nil => NopLogger
	Hooks  Hooks        // nil => NopHooks
	Tracer trace.Tracer // nil => no-op tracer

	// Backoff after failed fetches: InitialDelay after the first failure, then
	// multiplied by Multiplier for every consecutive failure.
	InitialDelay time.Duration // 0 => 100ms
	Multiplier   float64       // 0 => 1.5; must be >= 1
	MaxDelay     time.Duration // 0 => uncapped

	// AutoRefetch refetches an entry that turned stale or failed while it still
	// has subscribers, instead of waiting for the next Subscribe. Failed fetches
	// are retried after the entry's retry delay.
	AutoRefetch bool

	// Context is the parent of every fetch context. Close cancels the derived context.
	Context context.Context // nil => context.Background()
}
