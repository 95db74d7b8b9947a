// Package configwatch reloads the configuration file while a read-along
// session runs and reports the speech settings that changed.
package configwatch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/learntoreadsa/readaloud/tts"
)

// DefaultDebounce coalesces the burst of events editors produce on save.
const DefaultDebounce = 100 * time.Millisecond

// LoadFunc re-reads the configuration after the file changed.
type LoadFunc func() (tts.Config, error)

// Hooks are called, in this order, for each setting that changed.
type Hooks struct {
	OnLanguage func(lang string)
	OnVoice    func(voice string)
	OnProsody  func(rate, pitch float64)
}

// Watcher watches one configuration file.
type Watcher struct {
	path     string
	load     LoadFunc
	hooks    Hooks
	debounce time.Duration
	logger   *log.Logger

	watcher *fsnotify.Watcher
	current tts.Config
}

// New starts watching the directory holding path. current is the
// configuration in effect, against which changes are detected.
func New(path string, current tts.Config, load LoadFunc, hooks Hooks) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("error creating fsnotify watcher: %w", err)
	}
	// Editors often replace the file on save, so watch its directory.
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("error adding dir to fsnotify watcher: %w", err)
	}

	return &Watcher{
		path:     abs,
		load:     load,
		hooks:    hooks,
		debounce: DefaultDebounce,
		logger:   log.WithPrefix("configwatch"),
		watcher:  fw,
		current:  current,
	}, nil
}

// SetDebounce changes how long the watcher waits for writes to settle.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run dispatches changes until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watching config", "file", w.path)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Debug("fsnotify error", "error", err)
		case <-timer.C:
			w.reload()
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		w.logger.Warn("ignoring config change", "error", err)
		return
	}
	w.apply(cfg)
}

// apply calls the hooks for every setting that differs from the current
// configuration.
func (w *Watcher) apply(cfg tts.Config) {
	prev := w.current
	w.current = cfg

	if cfg.Language != prev.Language && w.hooks.OnLanguage != nil {
		w.logger.Info("language changed", "from", prev.Language, "to", cfg.Language)
		w.hooks.OnLanguage(cfg.Language)
	}
	if cfg.Voice != prev.Voice && cfg.Voice != "" && w.hooks.OnVoice != nil {
		w.logger.Info("voice changed", "from", prev.Voice, "to", cfg.Voice)
		w.hooks.OnVoice(cfg.Voice)
	}
	if (cfg.Rate != prev.Rate || cfg.Pitch != prev.Pitch) && w.hooks.OnProsody != nil {
		w.hooks.OnProsody(cfg.Rate, cfg.Pitch)
	}
}
