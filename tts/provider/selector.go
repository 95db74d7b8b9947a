// Package provider decides between the cloud and local synthesizers and
// reroutes failed cloud calls to the local one.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/tts/metrics"
	"github.com/learntoreadsa/readaloud/tts/voices"
)

// ShouldUseCloud reports whether a call should go to the cloud: the
// backend must be available, the language must have cloud voices and the
// selected voice must be a cloud voice.
func ShouldUseCloud(cloudAvailable, langHasCloudVoices bool, selected *tts.Voice) bool {
	return cloudAvailable && langHasCloudVoices && selected != nil && selected.IsCloud()
}

// Selector tracks cloud availability and the provider used last.
type Selector struct {
	logger  *log.Logger
	metrics *metrics.Metrics

	mu             sync.RWMutex
	cloudAvailable bool
	statusMessage  string
	active         tts.ProviderKind
}

// NewSelector creates a selector. The cloud is considered unavailable
// until Probe or SetCloudAvailable says otherwise.
func NewSelector(logger *log.Logger, m *metrics.Metrics) *Selector {
	if logger == nil {
		logger = log.WithPrefix("provider")
	}
	return &Selector{logger: logger, metrics: m, active: tts.ProviderLocal}
}

// Probe asks the status endpoint whether the cloud is configured. A nil
// checker leaves the cloud unavailable.
func (s *Selector) Probe(ctx context.Context, checker tts.StatusChecker) bool {
	status := tts.Status{Message: "cloud speech disabled"}
	if checker != nil {
		status = checker.Status(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cloudAvailable = status.Available
	s.statusMessage = status.Message
	if status.Available {
		s.active = tts.ProviderCloud
		s.logger.Info("cloud speech available")
	} else {
		s.active = tts.ProviderLocal
		s.logger.Info("cloud speech not available", "reason", status.Message)
	}
	return status.Available
}

// SetCloudAvailable overrides the availability flag.
func (s *Selector) SetCloudAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cloudAvailable = available
}

// CloudAvailable reports the last probed availability.
func (s *Selector) CloudAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloudAvailable
}

// StatusMessage returns the message from the last probe.
func (s *Selector) StatusMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusMessage
}

// Active returns the provider used by the most recent call.
func (s *Selector) Active() tts.ProviderKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Choose picks the provider for lang and the selected voice.
func (s *Selector) Choose(lang string, selected *tts.Voice) tts.ProviderKind {
	if ShouldUseCloud(s.CloudAvailable(), voices.HasCloudVoices(lang), selected) {
		return tts.ProviderCloud
	}
	return tts.ProviderLocal
}

// Outcome describes how Run served a call.
type Outcome struct {
	Provider tts.ProviderKind
	// CloudErr is the cloud failure that was rerouted to the local engine.
	CloudErr error
}

// Rerouted reports whether the call fell back to the local engine.
func (o Outcome) Rerouted() bool { return o.CloudErr != nil }

// Run executes cloudFn when useCloud is set, otherwise localFn. A cloud
// failure other than a cancellation is rerouted to localFn exactly once;
// a local failure is final and wrapped with tts.ErrFallbackExhausted.
func (s *Selector) Run(ctx context.Context, useCloud bool, cloudFn, localFn func(context.Context) error) (Outcome, error) {
	if !useCloud {
		s.setActive(tts.ProviderLocal)
		return Outcome{Provider: tts.ProviderLocal}, localFn(ctx)
	}

	s.setActive(tts.ProviderCloud)
	err := cloudFn(ctx)
	if err == nil || tts.IsCancellation(err) || ctx.Err() != nil {
		return Outcome{Provider: tts.ProviderCloud}, err
	}
	if !tts.IsRecoverableError(err) {
		return Outcome{Provider: tts.ProviderCloud}, err
	}

	s.logger.Warn("cloud speech failed, falling back to local", "err", err)
	s.metrics.Fallback()
	s.setActive(tts.ProviderLocal)

	out := Outcome{Provider: tts.ProviderLocal, CloudErr: err}
	if lerr := localFn(ctx); lerr != nil {
		if tts.IsCancellation(lerr) {
			return out, lerr
		}
		return out, fmt.Errorf("%w: %w (cloud: %w)", tts.ErrFallbackExhausted, lerr, err)
	}
	return out, nil
}

func (s *Selector) setActive(p tts.ProviderKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = p
}

// IsFallbackExhausted reports whether err is a failed fallback.
func IsFallbackExhausted(err error) bool {
	return errors.Is(err, tts.ErrFallbackExhausted)
}
