package speech

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/tts/audio"
	wordsync "github.com/learntoreadsa/readaloud/tts/sync"
)

// Lender hands out cached handles on lease. A leased handle goes back to
// its lender after playback instead of being released.
type Lender interface {
	Leased(h *audio.Handle) bool
	Return(h *audio.Handle)
}

// engineKind is the engine driving the active session.
type engineKind int

const (
	engineNone engineKind = iota
	enginePlayer
	engineLocal
)

// Session is one speak call. At most one session is live at a time.
type Session struct {
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled atomic.Bool

	// Guarded by Controller.mu.
	engine  engineKind
	handles []*audio.Handle
	ended   bool
}

// Context is cancelled when the session is stopped.
func (s *Session) Context() context.Context { return s.ctx }

// Cancelled reports whether Stop tore the session down.
func (s *Session) Cancelled() bool { return s.cancelled.Load() }

// Done is closed once the session has settled.
func (s *Session) Done() <-chan struct{} { return s.done }

// Controller owns the playback state machine and the live session.
// State-change callbacks run while the controller lock is held and must
// not call back into the controller.
type Controller struct {
	player audio.Player
	local  tts.LocalEngine
	lender Lender
	logger *log.Logger

	machine *tts.StateMachine

	beginMu sync.Mutex
	mu      sync.Mutex
	sess    *Session
}

// NewController creates a controller. local and lender may be nil.
func NewController(player audio.Player, local tts.LocalEngine, lender Lender, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.WithPrefix("playback")
	}
	return &Controller{
		player:  player,
		local:   local,
		lender:  lender,
		logger:  logger,
		machine: tts.NewStateMachine(),
	}
}

// State returns the current playback state.
func (c *Controller) State() tts.StateType {
	return c.machine.Current()
}

// OnStateChange registers a callback for every transition.
func (c *Controller) OnStateChange(fn func(from, to tts.StateType)) {
	c.machine.OnChange(fn)
}

// Begin tears down the previous session, waits for it to settle and starts
// a new one in the Loading state.
func (c *Controller) Begin(ctx context.Context) (*Session, error) {
	c.beginMu.Lock()
	defer c.beginMu.Unlock()

	c.mu.Lock()
	prev := c.sess
	c.mu.Unlock()
	if prev != nil {
		c.Stop()
		select {
		case <-prev.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{ctx: sctx, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.machine.Transition(tts.StateLoading) {
		cancel()
		return nil, tts.NewSpeechError(tts.ErrInvalidState, "playback", "begin")
	}
	c.sess = s
	return s, nil
}

// End settles s. A session that was not stopped returns to Idle.
func (c *Controller) End(s *Session) {
	c.mu.Lock()
	if s.ended {
		c.mu.Unlock()
		return
	}
	s.ended = true
	if !s.Cancelled() && c.sess == s {
		c.machine.Transition(tts.StateIdle)
	}
	handles := s.handles
	s.handles = nil
	s.engine = engineNone
	if c.sess == s {
		c.sess = nil
	}
	c.mu.Unlock()

	c.release(handles)
	s.cancel()
	close(s.done)
}

// PlayHandle plays h for s, dispatching boundaries to onBoundary as the
// playback position passes them. Afterwards a leased h is returned to the
// lender and any other h is released. A stopped session returns
// tts.ErrUserCancelled.
func (c *Controller) PlayHandle(s *Session, h *audio.Handle, boundaries []tts.WordBoundary, onBoundary func(tts.WordBoundary)) error {
	leased := c.lender != nil && c.lender.Leased(h)
	done := func() {
		if leased {
			c.lender.Return(h)
		} else {
			h.Release()
		}
	}

	c.mu.Lock()
	if s.Cancelled() {
		c.mu.Unlock()
		done()
		return tts.ErrUserCancelled
	}
	if !leased {
		s.handles = append(s.handles, h)
	}
	c.machine.Transition(tts.StatePlaying)
	s.engine = enginePlayer
	c.mu.Unlock()

	var m *wordsync.Manager
	if onBoundary != nil && len(boundaries) > 0 {
		m = wordsync.NewManager(wordsync.DefaultUpdateRate)
		m.OnBoundary(onBoundary)
		m.Start(boundaries, c.player.Position)
	}

	err := c.player.Play(s.ctx, h)

	if m != nil {
		if err == nil {
			m.Flush()
		} else {
			m.Stop()
		}
	}
	done()

	switch {
	case err == nil:
		return nil
	case s.Cancelled() || tts.IsCancellation(err):
		return tts.ErrUserCancelled
	default:
		var se *tts.SpeechError
		if errors.As(err, &se) {
			return err
		}
		return tts.NewSpeechError(tts.ErrPlaybackFailed, "playback", "play").WithCause(err)
	}
}

// PlayLocal speaks text with the local engine for s. When cloud playback
// had already started, the session moves back to Loading first.
func (c *Controller) PlayLocal(s *Session, text string, opts tts.LocalOptions) error {
	if c.local == nil {
		return tts.NewSpeechError(tts.ErrConfigurationMissing, "local", "speak").
			WithCause(errors.New("no local synthesizer"))
	}

	c.mu.Lock()
	if s.Cancelled() {
		c.mu.Unlock()
		return tts.ErrUserCancelled
	}
	if c.machine.Current() == tts.StatePlaying {
		c.machine.Transition(tts.StateLoading)
	}
	c.machine.Transition(tts.StatePlaying)
	s.engine = engineLocal
	c.mu.Unlock()

	err := c.local.Speak(s.ctx, text, opts)
	switch {
	case err == nil:
		return nil
	case s.Cancelled() && tts.IsCancellation(err):
		// The stop interrupted the utterance; that is a completion.
		return tts.ErrUserCancelled
	default:
		return err
	}
}

// Stop tears the live session down: the session context is cancelled,
// engines are halted, unleased handles are released and the state
// returns to Idle through Cancelled.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.sess
	if s == nil || s.Cancelled() {
		c.mu.Unlock()
		return
	}
	s.cancelled.Store(true)
	s.cancel()
	engine := s.engine
	handles := s.handles
	s.handles = nil
	if c.machine.CanTransition(tts.StateCancelled) {
		c.machine.Transition(tts.StateCancelled)
	}
	c.machine.Transition(tts.StateIdle)
	c.mu.Unlock()

	switch engine {
	case enginePlayer:
		if err := c.player.Stop(); err != nil {
			c.logger.Debug("player stop failed", "err", err)
		}
	case engineLocal:
		if err := c.local.Cancel(); err != nil {
			c.logger.Debug("local cancel failed", "err", err)
		}
	}
	c.release(handles)
}

// Pause suspends the active engine. It is only valid while playing.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || !c.machine.CanTransition(tts.StatePaused) {
		return tts.ErrInvalidState
	}
	if err := c.pauseEngine(c.sess.engine); err != nil {
		return err
	}
	c.machine.Transition(tts.StatePaused)
	return nil
}

// Resume continues the active engine. It is only valid while paused.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.machine.Current() != tts.StatePaused {
		return tts.ErrInvalidState
	}
	if err := c.resumeEngine(c.sess.engine); err != nil {
		return err
	}
	c.machine.Transition(tts.StatePlaying)
	return nil
}

func (c *Controller) pauseEngine(e engineKind) error {
	switch e {
	case enginePlayer:
		return c.player.Pause()
	case engineLocal:
		return c.local.Pause()
	}
	return tts.ErrInvalidState
}

func (c *Controller) resumeEngine(e engineKind) error {
	switch e {
	case enginePlayer:
		return c.player.Resume()
	case engineLocal:
		return c.local.Resume()
	}
	return tts.ErrInvalidState
}

// release frees the session's own handles. Leased handles are never
// tracked here.
func (c *Controller) release(handles []*audio.Handle) {
	for _, h := range handles {
		h.Release()
	}
}
