package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.CacheFetch(OutcomeSuccess)
	m.CacheSize(3, 4096)
	m.Prefetch(5)
	m.TokenFetch(nil)
	m.TokenFetch(errors.New("boom"))
	m.Speak("cloud", nil, 250*time.Millisecond)
	m.Fallback()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheFetches.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.cacheEntries))
	assert.Equal(t, 4096.0, testutil.ToFloat64(m.cacheBytes))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.prefetchWords))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenFetches.WithLabelValues(OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.synthesis.WithLabelValues("cloud", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheLookup(true)
		m.CacheFetch(OutcomeError)
		m.CacheSize(1, 1)
		m.Prefetch(1)
		m.TokenFetch(nil)
		m.Speak("local", nil, time.Second)
		m.Fallback()
	})
}

func TestNewWithoutRegistry(t *testing.T) {
	m := New(nil)
	require.NotNil(t, m)
	m.Fallback()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks))
}
