package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/tts/audio"
)

// fakeSynth counts fetches per key and can hold them until released.
type fakeSynth struct {
	mu      sync.Mutex
	calls   map[string]int
	order   []string
	gate    chan struct{}
	fail    map[string]error
	started chan string
	made    []*audio.Handle
}

func newFakeSynth() *fakeSynth {
	return &fakeSynth{
		calls:   make(map[string]int),
		fail:    make(map[string]error),
		started: make(chan string, 100),
	}
}

func (f *fakeSynth) fetch(ctx context.Context, key string) (*audio.Handle, error) {
	f.mu.Lock()
	f.calls[key]++
	f.order = append(f.order, key)
	gate := f.gate
	err := f.fail[key]
	f.mu.Unlock()

	f.started <- key
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	h := audio.NewHandle(make([]byte, 400), 24000, 2)
	f.mu.Lock()
	f.made = append(f.made, h)
	f.mu.Unlock()
	return h, nil
}

func (f *fakeSynth) handles() []*audio.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*audio.Handle(nil), f.made...)
}

func (f *fakeSynth) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeSynth) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

func TestSynthesizeToCacheHit(t *testing.T) {
	synth := newFakeSynth()
	c := New(synth.fetch)
	ctx := context.Background()

	h1, err := c.SynthesizeToCache(ctx, " cat ")
	require.NoError(t, err)
	h2, err := c.SynthesizeToCache(ctx, "cat")
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, 1, synth.count("cat"))
	assert.True(t, c.Owns(h1))

	looked, ok := c.Lookup("cat ")
	require.True(t, ok)
	assert.Same(t, h1, looked)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(400), stats.Bytes)
}

func TestSynthesizeToCacheDeduplicatesConcurrentCallers(t *testing.T) {
	synth := newFakeSynth()
	synth.gate = make(chan struct{})
	c := New(synth.fetch)

	const callers = 5
	results := make([]*audio.Handle, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := c.SynthesizeToCache(context.Background(), "hello")
			assert.NoError(t, err)
			results[i] = h
		}()
	}

	<-synth.started
	require.Eventually(t, func() bool { return c.Stats().Misses == callers }, time.Second, time.Millisecond)
	assert.True(t, c.Pending("hello"))
	_, cached := c.Lookup("hello")
	assert.False(t, cached, "a pending key is never also cached")

	close(synth.gate)
	wg.Wait()

	assert.Equal(t, 1, synth.count("hello"))
	for _, h := range results {
		assert.Same(t, results[0], h)
	}
	assert.False(t, c.Pending("hello"))
}

func TestSynthesizeToCacheFailurePropagates(t *testing.T) {
	synth := newFakeSynth()
	boom := tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "cloud", "synthesize").WithStatus(500)
	synth.fail["oops"] = boom
	c := New(synth.fetch)

	_, err := c.SynthesizeToCache(context.Background(), "oops")
	assert.ErrorIs(t, err, tts.ErrSynthesisRequestFailed)
	assert.False(t, c.Pending("oops"))
	_, ok := c.Lookup("oops")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Failures)

	delete(synth.fail, "oops")
	_, err = c.SynthesizeToCache(context.Background(), "oops")
	require.NoError(t, err)
	assert.Equal(t, 2, synth.count("oops"), "failures are not cached")
}

func TestSynthesizeToCacheMultiWordNotStored(t *testing.T) {
	synth := newFakeSynth()
	c := New(synth.fetch)

	h, err := c.SynthesizeToCache(context.Background(), "the cat sat")
	require.NoError(t, err)
	assert.False(t, c.Owns(h))
	assert.Zero(t, c.Stats().Entries)
}

func TestSynthesizeToCacheEmpty(t *testing.T) {
	c := New(newFakeSynth().fetch)
	_, err := c.SynthesizeToCache(context.Background(), "   ")
	assert.ErrorIs(t, err, tts.ErrEmptyText)
}

func TestSynthesizeToCacheCallerCancelDoesNotAbortFetch(t *testing.T) {
	synth := newFakeSynth()
	synth.gate = make(chan struct{})
	c := New(synth.fetch)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.SynthesizeToCache(ctx, "word")
		errCh <- err
	}()
	<-synth.started
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(synth.gate)
	require.Eventually(t, func() bool {
		_, ok := c.Lookup("word")
		return ok
	}, time.Second, time.Millisecond, "detached fetch should still populate the cache")
}

func TestClearInvalidates(t *testing.T) {
	synth := newFakeSynth()
	c := New(synth.fetch)
	ctx := context.Background()

	h, err := c.SynthesizeToCache(ctx, "cat")
	require.NoError(t, err)

	c.Clear()
	assert.True(t, h.Released(), "clear releases cached handles")
	assert.False(t, c.Owns(h))
	_, ok := c.Lookup("cat")
	assert.False(t, ok)

	_, err = c.SynthesizeToCache(ctx, "cat")
	require.NoError(t, err)
	assert.Equal(t, 2, synth.count("cat"), "next request fetches again")
}

func TestClearDuringFetchDiscardsResult(t *testing.T) {
	synth := newFakeSynth()
	synth.gate = make(chan struct{})
	c := New(synth.fetch)

	type result struct {
		h   *audio.Handle
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		h, err := c.SynthesizeToCache(context.Background(), "dog")
		resCh <- result{h, err}
	}()
	<-synth.started

	c.Clear()
	assert.False(t, c.Pending("dog"))

	close(synth.gate)
	res := <-resCh
	require.NoError(t, res.err)
	assert.False(t, c.Owns(res.h), "results from before the clear are not stored")
	_, ok := c.Lookup("dog")
	assert.False(t, ok)
}

func TestClearKeepsLeasedHandles(t *testing.T) {
	synth := newFakeSynth()
	c := New(synth.fetch)
	ctx := context.Background()

	h, err := c.Acquire(ctx, "cat")
	require.NoError(t, err)
	assert.True(t, c.Leased(h))

	c.Clear()
	assert.False(t, h.Released(), "a leased handle survives clear")
	assert.False(t, c.Owns(h))
	_, ok := c.Lookup("cat")
	assert.False(t, ok)

	c.Return(h)
	assert.True(t, h.Released(), "the last return frees a dropped handle")
	assert.False(t, c.Leased(h))

	c.Return(h)
}

func TestReturnKeepsCachedHandles(t *testing.T) {
	c := New(newFakeSynth().fetch)
	ctx := context.Background()

	h1, err := c.Acquire(ctx, "cat")
	require.NoError(t, err)
	h2, err := c.Acquire(ctx, "cat")
	require.NoError(t, err)
	require.Same(t, h1, h2)

	c.Return(h1)
	assert.True(t, c.Leased(h1), "one lease is still out")
	c.Return(h2)
	assert.False(t, c.Leased(h1))
	assert.False(t, h1.Released(), "cached audio outlives its leases")
	assert.True(t, c.Owns(h1))
}

func TestAcquireMultiWordReleasedOnReturn(t *testing.T) {
	c := New(newFakeSynth().fetch)

	h, err := c.Acquire(context.Background(), "the cat sat")
	require.NoError(t, err)
	c.Return(h)
	assert.True(t, h.Released())
}

func TestPreSynthesizeReleasesResultFetchedAcrossClear(t *testing.T) {
	synth := newFakeSynth()
	synth.gate = make(chan struct{})
	c := New(synth.fetch)

	done := make(chan int, 1)
	go func() { done <- c.PreSynthesize(context.Background(), []string{"dog"}, 0) }()
	<-synth.started

	c.Clear()
	close(synth.gate)
	assert.Equal(t, 1, <-done)

	made := synth.handles()
	require.Len(t, made, 1)
	assert.True(t, made[0].Released(), "audio nobody will play is freed")
	assert.Zero(t, c.Stats().Entries)
}

func TestPreSynthesizeWindowAndSkips(t *testing.T) {
	synth := newFakeSynth()
	c := New(synth.fetch)
	ctx := context.Background()

	_, err := c.SynthesizeToCache(ctx, "w2")
	require.NoError(t, err)

	words := []string{"w0", "w1", "w2", "", "w1", "w5", "w6", "w7", "w8", "w9", "w10", "w11", "w12"}
	n := c.PreSynthesize(ctx, words, 1)

	// Window covers indexes 1..10: w1, w2(cached), "", w1(dup), w5..w10.
	assert.Equal(t, 7, n)
	for _, w := range []string{"w1", "w5", "w6", "w7", "w8", "w9", "w10"} {
		assert.Equal(t, 1, synth.count(w), w)
	}
	for _, w := range []string{"w0", "w11", "w12"} {
		assert.Zero(t, synth.count(w), w)
	}
	assert.Equal(t, 1, synth.count("w2"))
}

func TestPreSynthesizeBatchesSequentially(t *testing.T) {
	synth := newFakeSynth()
	synth.gate = make(chan struct{})
	c := New(synth.fetch, WithBatchSize(2), WithLookahead(5))

	words := []string{"a", "b", "c", "d", "e"}
	done := make(chan int, 1)
	go func() { done <- c.PreSynthesize(context.Background(), words, 0) }()

	first := []string{<-synth.started, <-synth.started}
	sort.Strings(first)
	assert.Equal(t, []string{"a", "b"}, first)

	select {
	case k := <-synth.started:
		t.Fatalf("second batch started (%s) before the first finished", k)
	case <-time.After(30 * time.Millisecond):
	}

	close(synth.gate)
	assert.Equal(t, 5, <-done)
	assert.Equal(t, 5, synth.total())
}

func TestPreSynthesizeSwallowsFailures(t *testing.T) {
	synth := newFakeSynth()
	synth.fail["bad"] = errors.New("network down")
	c := New(synth.fetch)

	n := c.PreSynthesize(context.Background(), []string{"good", "bad", "fine"}, 0)
	assert.Equal(t, 3, n)
	_, ok := c.Lookup("good")
	assert.True(t, ok)
	_, ok = c.Lookup("bad")
	assert.False(t, ok)
}

func TestPreSynthesizeStopsWhenCancelled(t *testing.T) {
	synth := newFakeSynth()
	c := New(synth.fetch, WithBatchSize(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.PreSynthesize(ctx, []string{"a", "b", "c"}, 0)
	assert.Zero(t, synth.total())
}

func TestStatsString(t *testing.T) {
	s := Stats{Hits: 3, Misses: 1, Entries: 2, Bytes: 2048}
	assert.Equal(t, "2 entries, 2.0 kB, 3 hits, 1 misses", s.String())
}
