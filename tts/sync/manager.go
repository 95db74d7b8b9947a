// Package sync delivers word-boundary events in step with audio playback.
package sync

import (
	"sync"
	"time"

	"github.com/learntoreadsa/readaloud/tts"
)

// DefaultUpdateRate is how often the playback position is sampled.
const DefaultUpdateRate = 10 * time.Millisecond

// PositionFunc reports how far playback has progressed.
type PositionFunc func() time.Duration

// Manager dispatches word boundaries as the playback position passes their
// audio offsets. Callbacks run on the manager's goroutine in word order.
type Manager struct {
	// Current state
	boundaries []tts.WordBoundary
	next       int
	mu         sync.Mutex

	// Timing
	updateRate time.Duration

	// Callbacks
	onBoundary []func(tts.WordBoundary)

	// Control
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewManager creates a new synchronization manager.
func NewManager(updateRate time.Duration) *Manager {
	if updateRate <= 0 {
		updateRate = DefaultUpdateRate
	}
	return &Manager{updateRate: updateRate}
}

// OnBoundary registers a callback for word boundaries.
func (m *Manager) OnBoundary(fn func(tts.WordBoundary)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn != nil {
		m.onBoundary = append(m.onBoundary, fn)
	}
}

// Start begins tracking position against boundaries, which must be sorted
// by audio offset.
func (m *Manager) Start(boundaries []tts.WordBoundary, position PositionFunc) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.Stop()
		m.mu.Lock()
	}
	m.boundaries = boundaries
	m.next = 0
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.running = true
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	go m.syncLoop(position, stopCh, doneCh)
}

// Stop halts tracking without delivering the remaining boundaries. It
// waits for an in-progress callback to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	doneCh := m.doneCh
	m.mu.Unlock()
	<-doneCh
}

// Flush stops tracking and delivers every boundary not yet delivered.
// It is used when playback completed normally.
func (m *Manager) Flush() {
	m.Stop()
	m.deliver(func(tts.WordBoundary) bool { return true })
}

// Delivered returns the number of boundaries delivered so far.
func (m *Manager) Delivered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

// IsRunning reports whether the manager is tracking playback.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// syncLoop samples the position until stopped.
func (m *Manager) syncLoop(position PositionFunc, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.updateRate)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.update(position())
		}
	}
}

// update delivers every boundary whose offset has been reached.
func (m *Manager) update(pos time.Duration) {
	ms := float64(pos) / float64(time.Millisecond)
	m.deliver(func(b tts.WordBoundary) bool { return b.AudioOffsetMs <= ms })
}

func (m *Manager) deliver(due func(tts.WordBoundary) bool) {
	for {
		m.mu.Lock()
		if m.next >= len(m.boundaries) || !due(m.boundaries[m.next]) {
			m.mu.Unlock()
			return
		}
		b := m.boundaries[m.next]
		m.next++
		callbacks := m.onBoundary
		m.mu.Unlock()

		for _, fn := range callbacks {
			fn(b)
		}
	}
}

// Estimate spreads boundaries for text over total, giving each word a
// share proportional to its length. It is used when the provider reports
// no timing.
func Estimate(text string, total time.Duration) []tts.WordBoundary {
	mapper := tts.NewWordMapper(text)
	words := mapper.Words()
	if len(words) == 0 {
		return nil
	}

	runes := 0
	for _, w := range words {
		runes += len([]rune(w)) + 1
	}
	perRune := float64(total) / float64(time.Millisecond) / float64(runes)

	out := make([]tts.WordBoundary, 0, len(words))
	offset := 0.0
	for i, w := range words {
		d := float64(len([]rune(w))+1) * perRune
		out = append(out, tts.WordBoundary{
			WordIndex:     i,
			Word:          w,
			AudioOffsetMs: offset,
			TextOffset:    mapper.Start(i),
			DurationMs:    d,
		})
		offset += d
	}
	return out
}
