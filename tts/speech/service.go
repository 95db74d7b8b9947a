// Package speech is the public surface of the speech layer. It decides
// between the cloud and local synthesizers, keeps the audio cache warm and
// drives playback with word-boundary timing.
package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/tts/audio"
	"github.com/learntoreadsa/readaloud/tts/cache"
	"github.com/learntoreadsa/readaloud/tts/metrics"
	"github.com/learntoreadsa/readaloud/tts/provider"
	wordsync "github.com/learntoreadsa/readaloud/tts/sync"
	"github.com/learntoreadsa/readaloud/tts/voices"
)

// TokenStore is the part of the token cache the service tears down.
type TokenStore interface {
	Clear()
}

// Dependencies holds the process-scoped collaborators of a Service. Only
// Player is required.
type Dependencies struct {
	Config tts.Config

	Cloud  tts.CloudSynthesizer
	Stream tts.StreamSynthesizer
	Status tts.StatusChecker
	Local  tts.LocalEngine
	Player audio.Player
	Tokens TokenStore

	// Decode turns synthesized bytes into a playable handle. Defaults to
	// audio.DecodeMP3.
	Decode func([]byte) (*audio.Handle, error)

	Logger  *log.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// Reset drops process-wide state held by the dependencies.
func (d *Dependencies) Reset() {
	if d.Tokens != nil {
		d.Tokens.Clear()
	}
}

// Service orchestrates speech for one user.
type Service struct {
	deps    Dependencies
	logger  *log.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	decode  func([]byte) (*audio.Handle, error)

	selector *provider.Selector
	cache    *cache.Cache
	ctrl     *Controller

	mu          sync.RWMutex
	language    string
	rate        float64
	pitch       float64
	selected    *tts.Voice
	available   []tts.Voice
	localVoices []tts.Voice
	errMsg      string

	queueMu  sync.Mutex
	queue    []string
	draining bool
	queueWG  sync.WaitGroup

	prefetchMu     sync.Mutex
	prefetchCancel context.CancelFunc
	prefetchWG     sync.WaitGroup

	closed atomic.Bool
}

// New creates a service. Call Initialize before speaking.
func New(deps Dependencies) *Service {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = log.WithPrefix("speech")
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/learntoreadsa/readaloud/tts/speech")
	}
	decode := deps.Decode
	if decode == nil {
		decode = audio.DecodeMP3
	}
	rate, pitch := cfg.Rate, cfg.Pitch
	if rate == 0 {
		rate = tts.DefaultRate
	}
	if pitch == 0 {
		pitch = tts.DefaultPitch
	}

	s := &Service{
		deps:     deps,
		logger:   logger,
		metrics:  deps.Metrics,
		tracer:   tracer,
		decode:   decode,
		selector: provider.NewSelector(logger.WithPrefix("provider"), deps.Metrics),
		language: voices.Normalize(cfg.Language),
		rate:     tts.ClampProsody(rate),
		pitch:    tts.ClampProsody(pitch),
	}
	s.cache = cache.New(s.fetchWord,
		cache.WithLookahead(cfg.Cache.Lookahead),
		cache.WithBatchSize(cfg.Cache.BatchSize),
		cache.WithFetchTimeout(cfg.Cache.FetchTimeout),
		cache.WithLogger(logger.WithPrefix("cache")),
		cache.WithMetrics(deps.Metrics),
		cache.WithTracer(tracer),
	)
	s.ctrl = NewController(deps.Player, deps.Local, s.cache, logger.WithPrefix("playback"))
	return s
}

// Initialize probes the cloud backend, loads the local voices and picks
// the default voice.
func (s *Service) Initialize(ctx context.Context) error {
	if s.cloudAllowed() {
		s.selector.Probe(ctx, s.deps.Status)
	} else {
		s.selector.SetCloudAvailable(false)
	}

	var local []tts.Voice
	if s.deps.Local != nil && s.deps.Local.IsAvailable() && s.deps.Config.Engine != tts.EngineCloud {
		vs, err := s.deps.Local.Voices(ctx)
		if err != nil {
			s.logger.Warn("could not list local voices", "err", err)
		}
		local = vs
	}

	s.mu.Lock()
	s.localVoices = local
	s.selected = nil
	s.recomputeVoicesLocked()
	if name := s.deps.Config.Voice; name != "" {
		if v, ok := findVoice(s.available, name); ok {
			s.selected = &v
		} else {
			s.logger.Warn("configured voice not available", "voice", name, "language", s.language)
		}
	}
	sel := s.selected
	n := len(s.available)
	s.mu.Unlock()

	if sel != nil {
		s.logger.Info("speech ready", "language", s.Language(), "voice", sel.Name, "provider", sel.Provider, "voices", n)
	} else {
		s.logger.Warn("no voices available", "language", s.Language())
	}
	return nil
}

// cloudAllowed reports whether configuration permits cloud synthesis.
func (s *Service) cloudAllowed() bool {
	if s.deps.Cloud == nil && s.deps.Stream == nil {
		return false
	}
	return s.deps.Config.Engine != tts.EngineLocal
}

// recomputeVoicesLocked rebuilds the voice list for the current language
// and keeps the selection when it is still offered. Callers hold mu.
func (s *Service) recomputeVoicesLocked() {
	s.available = voices.Available(s.language, s.selector.CloudAvailable(), s.localVoices)
	if s.selected != nil {
		if v, ok := findVoice(s.available, s.selected.Name); ok {
			s.selected = &v
		} else {
			s.selected = nil
		}
	}
	s.selected = voices.SelectDefault(s.available, s.selected)
}

func findVoice(vs []tts.Voice, name string) (tts.Voice, bool) {
	for _, v := range vs {
		if strings.EqualFold(v.Name, name) {
			return v, true
		}
	}
	return tts.Voice{}, false
}

// Speak says opts.Text and blocks until playback settles. A stop ends the
// call with OnComplete and a nil error. Failures set Error, call OnError
// and are returned. After Close it returns tts.ErrServiceClosed.
func (s *Service) Speak(ctx context.Context, opts tts.SpeakOptions) error {
	if s.closed.Load() {
		return tts.ErrServiceClosed
	}
	text := strings.TrimSpace(opts.Text)
	if text == "" {
		if opts.OnComplete != nil {
			opts.OnComplete()
		}
		return nil
	}
	s.setError("")

	s.mu.RLock()
	lang, rate, pitch := s.language, s.rate, s.pitch
	var voice *tts.Voice
	if s.selected != nil {
		v := *s.selected
		voice = &v
	}
	sessionVoice := cloudVoice(voice, lang)
	available := s.available
	s.mu.RUnlock()

	opts.Text = text
	if opts.Language == "" {
		opts.Language = lang
	}
	opts.Language = voices.Normalize(opts.Language)
	if opts.Rate == 0 {
		opts.Rate = rate
	}
	if opts.Pitch == 0 {
		opts.Pitch = pitch
	}
	opts = opts.WithDefaults()
	if opts.Voice != "" {
		if v, ok := findVoice(available, opts.Voice); ok {
			voice = &v
		} else if info, ok := voices.Lookup(opts.Voice); ok {
			v := info.Voice(opts.Language)
			voice = &v
		} else {
			voice = &tts.Voice{Name: opts.Voice, Language: opts.Language, Provider: tts.ProviderLocal}
		}
	}

	ctx, span := s.tracer.Start(ctx, "readaloud.speech.speak", trace.WithAttributes(
		attribute.Int("text.length", len(text)),
		attribute.String("language", opts.Language),
	))
	defer span.End()

	sess, err := s.ctrl.Begin(ctx)
	if err != nil {
		return s.fail(span, opts, err)
	}

	useCloud := s.cloudAllowed() && s.selector.Choose(opts.Language, voice) == tts.ProviderCloud
	if !useCloud && s.deps.Config.Engine == tts.EngineCloud {
		s.ctrl.End(sess)
		return s.fail(span, opts, tts.NewSpeechError(tts.ErrCloudUnavailable, "speech", "speak"))
	}
	// The cache holds words spoken with the session settings only.
	cached := cache.IsSingleWord(text) && opts.Language == lang &&
		opts.Rate == rate && opts.Pitch == pitch &&
		cloudVoice(voice, opts.Language) == sessionVoice

	start := time.Now()
	out, err := s.selector.Run(sess.Context(), useCloud,
		func(context.Context) error { return s.speakCloud(sess, opts, voice, cached) },
		func(context.Context) error { return s.ctrl.PlayLocal(sess, text, localOptions(opts, voice)) },
	)
	cancelled := sess.Cancelled()
	s.ctrl.End(sess)

	used := out.Provider.String()
	span.SetAttributes(attribute.String("provider", used))
	if err == nil || cancelled || tts.IsCancellation(err) {
		s.metrics.Speak(used, nil, time.Since(start))
		if err == nil && out.Rerouted() {
			// The text was heard, but the cloud failure is still reported.
			s.setError(tts.Message(tts.ErrSynthesisRequestFailed))
		}
		if opts.OnComplete != nil {
			opts.OnComplete()
		}
		return nil
	}
	s.metrics.Speak(used, err, time.Since(start))
	return s.fail(span, opts, err)
}

func (s *Service) fail(span trace.Span, opts tts.SpeakOptions, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.setError(tts.Message(err))
	s.logger.Error("speak failed", "err", err)
	if opts.OnError != nil {
		opts.OnError(err)
	}
	return err
}

func localOptions(opts tts.SpeakOptions, voice *tts.Voice) tts.LocalOptions {
	lo := tts.LocalOptions{Language: opts.Language, Rate: opts.Rate, Pitch: opts.Pitch}
	if voice != nil && !voice.IsCloud() {
		lo.Voice = voice.Name
	}
	return lo
}

// cloudVoice is the cloud voice name to use for voice in lang.
func cloudVoice(voice *tts.Voice, lang string) string {
	if voice != nil && voice.IsCloud() {
		return voice.Name
	}
	return voices.DefaultVoice(lang)
}

// speakCloud plays opts.Text from cloud audio. cached selects the word
// cache, which is only valid for the session language, voice and prosody.
func (s *Service) speakCloud(sess *Session, opts tts.SpeakOptions, voice *tts.Voice, cached bool) error {
	if opts.OnWordBoundary != nil && s.deps.Stream != nil {
		return s.speakStream(sess, opts, voice)
	}

	ctx := sess.Context()
	var (
		h   *audio.Handle
		err error
	)
	if cached {
		h, err = s.cache.Acquire(ctx, opts.Text)
	} else {
		h, err = s.synthesizeDetached(ctx, tts.SynthesisRequest{
			Text:     opts.Text,
			Language: opts.Language,
			Voice:    cloudVoice(voice, opts.Language),
			Rate:     opts.Rate,
			Pitch:    opts.Pitch,
		})
	}
	if err != nil {
		return err
	}

	var bounds []tts.WordBoundary
	if opts.OnWordBoundary != nil {
		bounds = wordsync.Estimate(opts.Text, h.Duration())
	}
	return s.ctrl.PlayHandle(sess, h, bounds, opts.OnWordBoundary)
}

// speakStream synthesizes over the direct connection, collecting provider
// word timings, then plays the audio with those timings.
func (s *Service) speakStream(sess *Session, opts tts.SpeakOptions, voice *tts.Voice) error {
	name := cloudVoice(voice, opts.Language)
	stream, err := s.deps.Stream.SynthesizeStream(sess.Context(), tts.StreamRequest{
		Text:  opts.Text,
		SSML:  tts.BuildSSML(opts.Text, name, opts.Rate, opts.Pitch),
		Voice: name,
	})
	if err != nil {
		return err
	}

	mapper := tts.NewWordMapper(opts.Text)
	var bounds []tts.WordBoundary
	for ev := range stream.Boundaries {
		bounds = append(bounds, mapper.Event(ev))
	}
	out := <-stream.Result
	if err := out.Err(); err != nil {
		return err
	}

	h, err := s.decode(out.Audio)
	if err != nil {
		return err
	}
	if len(bounds) == 0 {
		bounds = wordsync.Estimate(opts.Text, h.Duration())
	}
	return s.ctrl.PlayHandle(sess, h, bounds, opts.OnWordBoundary)
}

// synthesizeDetached runs one synthesis that a stop does not abort. When
// the caller has gone by the time the audio arrives it is released.
func (s *Service) synthesizeDetached(ctx context.Context, req tts.SynthesisRequest) (*audio.Handle, error) {
	type result struct {
		h   *audio.Handle
		err error
	}
	ch := make(chan result, 1)
	go func() {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout())
		defer cancel()
		h, err := s.synthesize(fctx, req)
		ch <- result{h, err}
	}()

	select {
	case r := <-ch:
		return r.h, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.h != nil {
				s.logger.Debug("discarding synthesis finished after stop")
				r.h.Release()
			}
		}()
		return nil, ctx.Err()
	}
}

func (s *Service) fetchTimeout() time.Duration {
	if d := s.deps.Config.Cache.FetchTimeout; d > 0 {
		return d
	}
	return cache.DefaultFetchTimeout
}

func (s *Service) synthesize(ctx context.Context, req tts.SynthesisRequest) (*audio.Handle, error) {
	if s.deps.Cloud == nil {
		return nil, tts.NewSpeechError(tts.ErrConfigurationMissing, "speech", "synthesize")
	}
	res, err := s.deps.Cloud.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.decode(res.Audio)
}

// fetchWord fills the audio cache using the session language and voice.
func (s *Service) fetchWord(ctx context.Context, key string) (*audio.Handle, error) {
	s.mu.RLock()
	req := tts.SynthesisRequest{
		Text:     key,
		Language: s.language,
		Voice:    cloudVoice(s.selected, s.language),
		Rate:     s.rate,
		Pitch:    s.pitch,
	}
	s.mu.RUnlock()
	return s.synthesize(ctx, req)
}

// QueueSpeak appends text to the speech queue. Queued texts are spoken one
// after another; Stop empties the queue.
func (s *Service) QueueSpeak(text string) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.queue = append(s.queue, text)
	if s.draining {
		return
	}
	s.draining = true
	s.queueWG.Add(1)
	go s.drainQueue()
}

func (s *Service) drainQueue() {
	defer s.queueWG.Done()
	for {
		s.queueMu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.queueMu.Unlock()
			return
		}
		text := s.queue[0]
		s.queue = s.queue[1:]
		s.queueMu.Unlock()

		if err := s.Speak(context.Background(), tts.SpeakOptions{Text: text}); err != nil {
			s.logger.Warn("queued speech failed", "err", err)
		}
	}
}

// QueueLen returns the number of texts waiting to be spoken.
func (s *Service) QueueLen() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue)
}

// Stop ends the current playback and drops queued texts. The interrupted
// Speak call returns nil.
func (s *Service) Stop() {
	s.queueMu.Lock()
	s.queue = nil
	s.queueMu.Unlock()
	s.ctrl.Stop()
}

// Pause suspends playback. It fails with tts.ErrInvalidState unless
// something is playing.
func (s *Service) Pause() error {
	return s.ctrl.Pause()
}

// Resume continues paused playback.
func (s *Service) Resume() error {
	return s.ctrl.Resume()
}

// preSynthesizeAllowed gates pre-fetch on a usable cloud voice.
func (s *Service) preSynthesizeAllowed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deps.Cloud != nil && s.cloudAllowed() && s.selector.CloudAvailable() &&
		s.selected != nil && s.selected.IsCloud()
}

// PreSynthesize warms the cache for the words after start and returns the
// number of words it fetched. It does nothing unless a cloud voice is
// selected.
func (s *Service) PreSynthesize(ctx context.Context, words []string, start int) int {
	if !s.preSynthesizeAllowed() {
		return 0
	}
	return s.cache.PreSynthesize(ctx, words, start)
}

// Prefetch runs PreSynthesize in the background, replacing any pre-fetch
// still running.
func (s *Service) Prefetch(words []string, start int) {
	if !s.preSynthesizeAllowed() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())

	s.prefetchMu.Lock()
	if s.prefetchCancel != nil {
		s.prefetchCancel()
	}
	s.prefetchCancel = cancel
	s.prefetchWG.Add(1)
	s.prefetchMu.Unlock()

	go func() {
		defer s.prefetchWG.Done()
		defer cancel()
		s.cache.PreSynthesize(ctx, words, start)
	}()
}

func (s *Service) cancelPrefetch() {
	s.prefetchMu.Lock()
	defer s.prefetchMu.Unlock()
	if s.prefetchCancel != nil {
		s.prefetchCancel()
		s.prefetchCancel = nil
	}
}

// ClearCache stops background pre-fetch and empties the audio cache.
func (s *Service) ClearCache() {
	s.cancelPrefetch()
	s.cache.Clear()
}

// SetLanguage switches the session language. The cache is cleared and the
// voice list recomputed; the selected voice is kept when still offered.
func (s *Service) SetLanguage(lang string) {
	lang = voices.Normalize(lang)

	s.mu.Lock()
	if lang == s.language {
		s.mu.Unlock()
		return
	}
	s.language = lang
	s.recomputeVoicesLocked()
	s.mu.Unlock()

	s.ClearCache()
	s.logger.Info("language changed", "language", lang)
}

// SetVoice selects v. Switching between two cloud voices clears the cache
// since cached audio was spoken by the old voice.
func (s *Service) SetVoice(v tts.Voice) {
	s.mu.Lock()
	prev := s.selected
	s.selected = &v
	s.mu.Unlock()

	if prev != nil && prev.IsCloud() && v.IsCloud() && prev.Name != v.Name {
		s.ClearCache()
	}
	s.logger.Debug("voice changed", "voice", v.Name, "provider", v.Provider)
}

// SelectVoice selects the available voice called name.
func (s *Service) SelectVoice(name string) error {
	s.mu.RLock()
	v, ok := findVoice(s.available, name)
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("voice %q is not available for %s", name, s.Language())
	}
	s.SetVoice(v)
	return nil
}

// SetProsody changes the default rate and pitch.
func (s *Service) SetProsody(rate, pitch float64) {
	s.mu.Lock()
	changed := rate != s.rate || pitch != s.pitch
	s.rate = tts.ClampProsody(rate)
	s.pitch = tts.ClampProsody(pitch)
	s.mu.Unlock()
	if changed {
		s.ClearCache()
	}
}

// OnStateChange registers a callback for playback state transitions. It
// must not call back into the service.
func (s *Service) OnStateChange(fn func(from, to tts.StateType)) {
	s.ctrl.OnStateChange(fn)
}

// State returns the playback state.
func (s *Service) State() tts.StateType {
	return s.ctrl.State()
}

// Error returns the message of the last failed Speak, or "".
func (s *Service) Error() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = msg
}

// ActiveProvider returns the provider of the most recent speak call.
func (s *Service) ActiveProvider() tts.ProviderKind {
	return s.selector.Active()
}

// CloudAvailable reports whether the cloud backend answered the probe.
func (s *Service) CloudAvailable() bool {
	return s.selector.CloudAvailable()
}

// StatusMessage returns the message of the last cloud probe.
func (s *Service) StatusMessage() string {
	return s.selector.StatusMessage()
}

// Language returns the session language.
func (s *Service) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

// AvailableVoices lists the voices offered for the session language.
func (s *Service) AvailableVoices() []tts.Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tts.Voice, len(s.available))
	copy(out, s.available)
	return out
}

// SelectedVoice returns the selected voice, if any.
func (s *Service) SelectedVoice() (tts.Voice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return tts.Voice{}, false
	}
	return *s.selected, true
}

// CacheStats returns a snapshot of audio cache activity.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// Close stops playback, waits for background work and drops cached audio
// and tokens. Later calls do nothing.
func (s *Service) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.Stop()
	s.cancelPrefetch()
	s.queueWG.Wait()
	s.prefetchWG.Wait()
	s.cache.Clear()
	s.deps.Reset()
	s.logger.Debug("speech service closed", "cache", s.cache.Stats())
	return nil
}
