// Package cache holds synthesized single-word audio in memory and warms it
// ahead of playback.
package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/tts/audio"
	"github.com/learntoreadsa/readaloud/tts/metrics"
)

// Pre-fetch defaults.
const (
	DefaultLookahead    = 10
	DefaultBatchSize    = 5
	DefaultFetchTimeout = 15 * time.Second
)

// FetchFunc synthesizes the audio for a key.
type FetchFunc func(ctx context.Context, key string) (*audio.Handle, error)

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits     int64
	Misses   int64
	Fetches  int64
	Failures int64
	Entries  int
	Bytes    int64
}

// String formats the stats for logs.
func (s Stats) String() string {
	return strconv.Itoa(s.Entries) + " entries, " + humanize.Bytes(uint64(s.Bytes)) +
		", " + strconv.FormatInt(s.Hits, 10) + " hits, " + strconv.FormatInt(s.Misses, 10) + " misses"
}

// Option configures a Cache.
type Option func(*Cache)

// WithLookahead sets the pre-fetch window.
func WithLookahead(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.lookahead = n
		}
	}
}

// WithBatchSize sets how many pre-fetches run concurrently.
func WithBatchSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithFetchTimeout bounds each network fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics mirrors activity into prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithTracer sets the tracer used for fetch spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Cache) {
		if t != nil {
			c.tracer = t
		}
	}
}

// Cache maps trimmed words to decoded audio. A key is at any time either
// cached, pending (one fetch in flight) or absent. Handles handed out by
// Acquire stay valid until returned, even across Clear.
type Cache struct {
	fetch        FetchFunc
	lookahead    int
	batchSize    int
	fetchTimeout time.Duration
	logger       *log.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*audio.Handle
	owned   map[*audio.Handle]struct{}
	pending map[string]struct{}
	leases  map[*audio.Handle]int
	gen     uint64 // bumped by Clear
	stats   Stats
}

// New creates an empty cache that fills itself with fetch.
func New(fetch FetchFunc, opts ...Option) *Cache {
	c := &Cache{
		fetch:        fetch,
		lookahead:    DefaultLookahead,
		batchSize:    DefaultBatchSize,
		fetchTimeout: DefaultFetchTimeout,
		logger:       log.WithPrefix("cache"),
		tracer:       otel.Tracer("github.com/learntoreadsa/readaloud/tts/cache"),
		entries:      make(map[string]*audio.Handle),
		owned:        make(map[*audio.Handle]struct{}),
		pending:      make(map[string]struct{}),
		leases:       make(map[*audio.Handle]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key normalizes text into a cache key.
func Key(text string) string {
	return strings.TrimSpace(text)
}

// IsSingleWord reports whether text holds exactly one word.
func IsSingleWord(text string) bool {
	return len(strings.Fields(text)) == 1
}

// Lookup returns the cached handle for text, if any.
func (c *Cache) Lookup(text string) (*audio.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.entries[Key(text)]
	return h, ok
}

// Owns reports whether h is held by the cache. Owned handles must not be
// released by callers.
func (c *Cache) Owns(h *audio.Handle) bool {
	if h == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.owned[h]
	return ok
}

// SynthesizeToCache returns the audio for text, fetching it at most once
// however many callers ask concurrently. The fetch itself is not cancelled
// with ctx; a cancelled caller simply stops waiting. Multi-word text is
// fetched but never stored.
func (c *Cache) SynthesizeToCache(ctx context.Context, text string) (*audio.Handle, error) {
	key := Key(text)
	if key == "" {
		return nil, tts.ErrEmptyText
	}

	c.mu.Lock()
	if h, ok := c.entries[key]; ok {
		c.stats.Hits++
		c.mu.Unlock()
		c.metrics.CacheLookup(true)
		return h, nil
	}
	c.stats.Misses++
	c.metrics.CacheLookup(false)

	if !IsSingleWord(key) {
		c.mu.Unlock()
		return c.fetchDetached(ctx, key)
	}

	gen := c.gen
	c.pending[key] = struct{}{}
	ch := c.group.DoChan(flightKey(gen, key), func() (any, error) {
		return c.load(ctx, gen, key)
	})
	c.mu.Unlock()

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.CacheFetch(metrics.OutcomeShared)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*audio.Handle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// acquireAttempts bounds how often Acquire refetches a handle that a
// concurrent Clear released before it could be leased.
const acquireAttempts = 3

// Acquire is SynthesizeToCache for a caller that is going to read the
// audio. The handle is leased: Clear will not release it, and the caller
// must hand it back with Return exactly once.
func (c *Cache) Acquire(ctx context.Context, text string) (*audio.Handle, error) {
	for range acquireAttempts {
		h, err := c.SynthesizeToCache(ctx, text)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if !h.Released() {
			c.leases[h]++
			c.mu.Unlock()
			return h, nil
		}
		c.mu.Unlock()
	}
	return nil, tts.ErrHandleReleased
}

// Return ends a lease taken by Acquire. The last lease on a handle the
// cache no longer holds releases it.
func (c *Cache) Return(h *audio.Handle) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.leases[h]
	if !ok {
		return
	}
	if n > 1 {
		c.leases[h] = n - 1
		return
	}
	delete(c.leases, h)
	if _, owned := c.owned[h]; !owned {
		h.Release()
	}
}

// Leased reports whether h is out on a lease.
func (c *Cache) Leased(h *audio.Handle) bool {
	if h == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leases[h] > 0
}

// load runs the single fetch for key and stores the result unless the
// cache was cleared in the meantime.
func (c *Cache) load(ctx context.Context, gen uint64, key string) (*audio.Handle, error) {
	h, err := c.fetchDetached(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	stale := c.gen != gen
	if !stale {
		delete(c.pending, key)
	}
	if err != nil {
		c.stats.Failures++
		return nil, err
	}
	if stale {
		// Cleared while in flight: hand the audio to the waiters only.
		c.logger.Debug("discarding fetch started before clear", "key", key)
		return h, nil
	}

	c.entries[key] = h
	c.owned[h] = struct{}{}
	c.stats.Bytes += int64(h.Size())
	c.metrics.CacheSize(len(c.entries), c.stats.Bytes)
	return h, nil
}

func (c *Cache) fetchDetached(parent context.Context, key string) (*audio.Handle, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.fetchTimeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "readaloud.cache.fetch",
		trace.WithAttributes(attribute.Int("text.length", len(key))))
	defer span.End()

	c.mu.Lock()
	c.stats.Fetches++
	c.mu.Unlock()

	h, err := c.fetch(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.CacheFetch(metrics.OutcomeError)
		return nil, err
	}
	c.metrics.CacheFetch(metrics.OutcomeSuccess)
	return h, nil
}

// PreSynthesize warms the cache for the words following start. It fetches
// up to the look-ahead window in sequential batches, skipping blank,
// duplicate, cached and pending words. Failures are logged and otherwise
// ignored. It returns the number of words it scheduled.
func (c *Cache) PreSynthesize(ctx context.Context, words []string, start int) int {
	keys := c.plan(words, start)
	if len(keys) == 0 {
		return 0
	}
	c.metrics.Prefetch(len(keys))
	c.logger.Debug("pre-synthesizing", "words", len(keys), "start", start)

	for i := 0; i < len(keys); i += c.batchSize {
		if ctx.Err() != nil {
			c.logger.Debug("pre-synthesis stopped", "remaining", len(keys)-i)
			break
		}
		batch := keys[i:min(i+c.batchSize, len(keys))]

		var g errgroup.Group
		for _, key := range batch {
			g.Go(func() error {
				h, err := c.Acquire(ctx, key)
				if err != nil {
					c.logger.Debug("pre-synthesis failed", "key", key, "err", err)
					return nil
				}
				// Frees audio fetched across a Clear.
				c.Return(h)
				return nil
			})
		}
		_ = g.Wait()
	}
	return len(keys)
}

func (c *Cache) plan(words []string, start int) []string {
	start = max(start, 0)
	end := min(start+c.lookahead, len(words))

	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	seen := make(map[string]struct{})
	for i := start; i < end; i++ {
		key := Key(words[i])
		if key == "" || !IsSingleWord(key) {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		if _, ok := c.entries[key]; ok {
			continue
		}
		if _, ok := c.pending[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// Clear releases every cached handle and forgets in-flight fetches. Fetches
// already running complete, but their results are not stored. Leased
// handles are dropped from the cache and released by their last Return.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range c.entries {
		if c.leases[h] == 0 {
			h.Release()
		}
	}
	for key := range c.pending {
		c.group.Forget(flightKey(c.gen, key))
	}
	if len(c.entries) > 0 {
		c.logger.Debug("cache cleared", "entries", len(c.entries), "size", humanize.Bytes(uint64(c.stats.Bytes)))
	}

	c.entries = make(map[string]*audio.Handle)
	c.owned = make(map[*audio.Handle]struct{})
	c.pending = make(map[string]struct{})
	c.gen++
	c.stats.Bytes = 0
	c.metrics.CacheSize(0, 0)
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// Pending reports whether a fetch for text is in flight.
func (c *Cache) Pending(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[Key(text)]
	return ok
}

func flightKey(gen uint64, key string) string {
	return strconv.FormatUint(gen, 10) + "\x00" + key
}
