package sync_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/learntoreadsa/readaloud/tts"
	ttssync "github.com/learntoreadsa/readaloud/tts/sync"
)

// fakeClock is a position source advanced by the test.
type fakeClock struct {
	pos atomic.Int64
}

func (c *fakeClock) Position() time.Duration { return time.Duration(c.pos.Load()) }
func (c *fakeClock) Set(d time.Duration)     { c.pos.Store(int64(d)) }

type recorder struct {
	mu    sync.Mutex
	words []int
}

func (r *recorder) add(b tts.WordBoundary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.words = append(r.words, b.WordIndex)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.words)
}

func boundaries() []tts.WordBoundary {
	return []tts.WordBoundary{
		{WordIndex: 0, Word: "The", AudioOffsetMs: 0},
		{WordIndex: 1, Word: "cat", AudioOffsetMs: 100},
		{WordIndex: 2, Word: "sat", AudioOffsetMs: 200},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestManagerFollowsPosition tests that boundaries fire as the position
// passes their offsets.
func TestManagerFollowsPosition(t *testing.T) {
	clock := &fakeClock{}
	rec := &recorder{}
	m := ttssync.NewManager(time.Millisecond)
	m.OnBoundary(rec.add)

	m.Start(boundaries(), clock.Position)
	defer m.Stop()

	waitFor(t, func() bool { return rec.count() == 1 })

	clock.Set(150 * time.Millisecond)
	waitFor(t, func() bool { return rec.count() == 2 })

	time.Sleep(10 * time.Millisecond)
	if rec.count() != 2 {
		t.Errorf("Expected word 2 to wait for its offset, got %d events", rec.count())
	}

	clock.Set(time.Second)
	waitFor(t, func() bool { return rec.count() == 3 })

	for i, w := range rec.words {
		if w != i {
			t.Errorf("Event %d: expected word %d, got %d", i, i, w)
		}
	}
}

// TestManagerFlush tests that completion delivers the remaining words.
func TestManagerFlush(t *testing.T) {
	clock := &fakeClock{}
	rec := &recorder{}
	m := ttssync.NewManager(time.Millisecond)
	m.OnBoundary(rec.add)

	m.Start(boundaries(), clock.Position)
	m.Flush()

	if rec.count() != 3 {
		t.Errorf("Expected 3 events after Flush, got %d", rec.count())
	}
	if m.IsRunning() {
		t.Error("Manager should not be running after Flush")
	}
}

// TestManagerStop tests that Stop drops undelivered words.
func TestManagerStop(t *testing.T) {
	clock := &fakeClock{}
	rec := &recorder{}
	m := ttssync.NewManager(time.Millisecond)
	m.OnBoundary(rec.add)

	m.Start(boundaries(), clock.Position)
	waitFor(t, func() bool { return rec.count() == 1 })
	m.Stop()
	m.Stop() // idempotent

	clock.Set(time.Second)
	time.Sleep(10 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("Expected no events after Stop, got %d", rec.count())
	}
	if m.Delivered() != 1 {
		t.Errorf("Expected 1 delivered, got %d", m.Delivered())
	}
}

// TestEstimate tests proportional boundary estimation.
func TestEstimate(t *testing.T) {
	got := ttssync.Estimate("I  like cats", 1200*time.Millisecond)
	if len(got) != 3 {
		t.Fatalf("Expected 3 boundaries, got %d", len(got))
	}

	// Shares are (1+1):(4+1):(4+1) of 12 units, 100ms each.
	wantOffsets := []float64{0, 200, 700}
	wantText := []int{0, 3, 8}
	for i, b := range got {
		if b.WordIndex != i {
			t.Errorf("Boundary %d: word index %d", i, b.WordIndex)
		}
		if b.AudioOffsetMs != wantOffsets[i] {
			t.Errorf("Boundary %d: expected offset %v, got %v", i, wantOffsets[i], b.AudioOffsetMs)
		}
		if b.TextOffset != wantText[i] {
			t.Errorf("Boundary %d: expected text offset %d, got %d", i, wantText[i], b.TextOffset)
		}
	}

	if ttssync.Estimate("   ", time.Second) != nil {
		t.Error("Expected no boundaries for blank text")
	}
}
