// Package promhooks records cache events as Prometheus metrics.
//
//	reg := prometheus.NewRegistry()
//	hooks := promhooks.New(reg, promhooks.Options{Namespace: "app"})
//	cache, _ := subcache.New[Mutation](subcache.Options{Hooks: hooks})
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package promhooks

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/subcache"
)

// Default histogram buckets for fetch duration and retry delay (in seconds)
var defaultBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

type Options struct {
	Namespace string
	Buckets   []float64 // nil => defaultBuckets
	// KeyLabel maps a key to the "kind" label. Must have low cardinality.
	// Defaults to the key's type name, e.g. "main.userByID".
	KeyLabel func(key string) string
}

type Hooks struct {
	label func(string) string

	// Counters
	started       *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	invalidations prometheus.Counter
	invalidated   prometheus.Counter
	supersetHits  *prometheus.CounterVec

	// Histograms
	fetchDuration *prometheus.HistogramVec
	retryDelay    *prometheus.HistogramVec
}

var _ subcache.Hooks = (*Hooks)(nil)

// New registers the collectors on reg and returns hooks feeding them.
func New(reg prometheus.Registerer, opts Options) *Hooks {
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}
	h := &Hooks{
		label: opts.KeyLabel,

		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Subsystem: "subcache",
				Name:      "fetches_started_total",
				Help:      "Fetches started, including retries",
			},
			[]string{"kind"},
		),

		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Subsystem: "subcache",
				Name:      "fetches_total",
				Help:      "Completed fetches by result",
			},
			[]string{"kind", "result"},
		),

		invalidations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Subsystem: "subcache",
				Name:      "invalidations_total",
				Help:      "Invalidation passes",
			},
		),

		invalidated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Subsystem: "subcache",
				Name:      "invalidated_entries_total",
				Help:      "Entries marked stale by invalidation",
			},
		),

		supersetHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Subsystem: "subcache",
				Name:      "superset_hits_total",
				Help:      "Entries seeded from a cached superset instead of fetched",
			},
			[]string{"kind"},
		),

		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: opts.Namespace,
				Subsystem: "subcache",
				Name:      "fetch_duration_seconds",
				Help:      "Duration of successful fetches",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		retryDelay: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: opts.Namespace,
				Subsystem: "subcache",
				Name:      "retry_delay_seconds",
				Help:      "Backoff scheduled after failed fetches",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
	}
	if h.label == nil {
		h.label = TypeLabel
	}
	reg.MustRegister(h.started, h.fetches, h.invalidations, h.invalidated, h.supersetHits, h.fetchDuration, h.retryDelay)
	return h
}

// TypeLabel returns the type part of a key string ("main.userByID(7)" -> "main.userByID").
func TypeLabel(key string) string {
	if i := strings.IndexByte(key, '('); i > 0 {
		return key[:i]
	}
	return key
}

func (h *Hooks) FetchStarted(key string, _ time.Duration) {
	h.started.WithLabelValues(h.label(key)).Inc()
}

func (h *Hooks) FetchSucceeded(key string, took time.Duration) {
	kind := h.label(key)
	h.fetches.WithLabelValues(kind, "ok").Inc()
	h.fetchDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (h *Hooks) FetchFailed(key string, _ int, nextDelay time.Duration, _ error) {
	kind := h.label(key)
	h.fetches.WithLabelValues(kind, "error").Inc()
	h.retryDelay.WithLabelValues(kind).Observe(nextDelay.Seconds())
}

func (h *Hooks) Invalidated(matched int) {
	h.invalidations.Inc()
	h.invalidated.Add(float64(matched))
}

func (h *Hooks) SupersetHit(key, _ string) {
	h.supersetHits.WithLabelValues(h.label(key)).Inc()
}
