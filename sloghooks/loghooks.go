package sloghooks

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/subcache"
	"github.com/unkn0wn-root/subcache/internal/util"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	FetchFailedEvery uint64
	InvalidatedEvery uint64
	// Log FetchStarted/FetchSucceeded at Debug. Off by default: one line per fetch.
	LogFetches bool
	// Optional key redactor. Defaults to a SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	failedCtr      atomic.Uint64
	invalidatedCtr atomic.Uint64
}

var _ subcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	return util.Fingerprint(k)
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) FetchStarted(key string, delay time.Duration) {
	if h.l == nil || !h.opts.LogFetches {
		return
	}
	h.l.Debug("subcache.fetch_started",
		"key", h.redact(key),
		"delay", delay)
}

func (h *Hooks) FetchSucceeded(key string, took time.Duration) {
	if h.l == nil || !h.opts.LogFetches {
		return
	}
	h.l.Debug("subcache.fetch_succeeded",
		"key", h.redact(key),
		"took", took)
}

func (h *Hooks) FetchFailed(key string, attempt int, nextDelay time.Duration, err error) {
	if h.l == nil || !sample(h.opts.FetchFailedEvery, &h.failedCtr) {
		return
	}
	h.l.Warn("subcache.fetch_failed",
		"key", h.redact(key),
		"attempt", attempt,
		"retry_in", nextDelay,
		"err", err)
}

func (h *Hooks) Invalidated(matched int) {
	if h.l == nil || matched == 0 || !sample(h.opts.InvalidatedEvery, &h.invalidatedCtr) {
		return
	}
	h.l.Info("subcache.invalidated",
		"matched", matched)
}

func (h *Hooks) SupersetHit(key, superset string) {
	if h.l == nil {
		return
	}
	h.l.Debug("subcache.superset_hit",
		"key", h.redact(key),
		"superset", h.redact(superset))
}
