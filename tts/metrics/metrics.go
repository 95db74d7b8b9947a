// Package metrics provides Prometheus collectors for the speech layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "readaloud"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeShared  = "shared"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	cacheLookups  *prometheus.CounterVec
	cacheFetches  *prometheus.CounterVec
	cacheEntries  prometheus.Gauge
	cacheBytes    prometheus.Gauge
	prefetchWords prometheus.Counter
	tokenFetches  *prometheus.CounterVec
	synthesis     *prometheus.CounterVec
	fallbacks     prometheus.Counter
	speakDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Audio cache lookups by result",
			},
			[]string{"result"}, // result: hit, miss
		),
		cacheFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_fetches_total",
				Help:      "Audio cache network fetches by outcome",
			},
			[]string{"outcome"}, // outcome: success, error, shared
		),
		cacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Number of cached audio entries",
			},
		),
		cacheBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_bytes",
				Help:      "Decoded audio bytes held by the cache",
			},
		),
		prefetchWords: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prefetch_words_total",
				Help:      "Words scheduled for background synthesis",
			},
		),
		tokenFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_fetches_total",
				Help:      "Authorization token exchanges by outcome",
			},
			[]string{"outcome"},
		),
		synthesis: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "speak_total",
				Help:      "Speak calls by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		fallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Cloud failures rerouted to the local synthesizer",
			},
		),
		speakDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "speak_duration_seconds",
				Help:      "Duration of speak calls in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.cacheLookups,
			m.cacheFetches,
			m.cacheEntries,
			m.cacheBytes,
			m.prefetchWords,
			m.tokenFetches,
			m.synthesis,
			m.fallbacks,
			m.speakDuration,
		)
	}
	return m
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// CacheFetch records the outcome of a cache fetch.
func (m *Metrics) CacheFetch(outcome string) {
	if m == nil {
		return
	}
	m.cacheFetches.WithLabelValues(outcome).Inc()
}

// CacheSize records the current cache occupancy.
func (m *Metrics) CacheSize(entries int, bytes int64) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(entries))
	m.cacheBytes.Set(float64(bytes))
}

// Prefetch records words scheduled for warm-up.
func (m *Metrics) Prefetch(words int) {
	if m == nil {
		return
	}
	m.prefetchWords.Add(float64(words))
}

// TokenFetch records a token exchange.
func (m *Metrics) TokenFetch(err error) {
	if m == nil {
		return
	}
	m.tokenFetches.WithLabelValues(outcome(err)).Inc()
}

// Speak records a finished speak call.
func (m *Metrics) Speak(provider string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.synthesis.WithLabelValues(provider, outcome(err)).Inc()
	m.speakDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// Fallback records a reroute to the local synthesizer.
func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
