// Package local drives the operating system speech synthesizer (espeak-ng
// or macOS say) as a subprocess. It is the fallback when cloud voices are
// unavailable.
package local

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/text/language"

	"github.com/learntoreadsa/readaloud/tts"
)

// Words per minute at rate 1.0 for both synthesizers.
const baseWPM = 175

// flavour is the command-line dialect of a synthesizer binary.
type flavour int

const (
	flavourEspeak flavour = iota
	flavourSay
)

// candidates are tried in order when no binary is configured.
var candidates = []string{"espeak-ng", "espeak", "say"}

// Engine implements tts.LocalEngine.
type Engine struct {
	binary  string
	flavour flavour
	timeout time.Duration
	logger  *log.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	paused    bool
	cancelled bool
}

// New creates an engine for binary, or the first synthesizer found on the
// PATH when binary is empty. The engine is returned even when nothing is
// installed; IsAvailable reports that case.
func New(binary string, timeout time.Duration, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.WithPrefix("local")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if binary == "" {
		binary = findBinary()
	}
	e := &Engine{binary: binary, timeout: timeout, logger: logger}
	if strings.TrimSuffix(filepath.Base(binary), filepath.Ext(binary)) == "say" {
		e.flavour = flavourSay
	}
	return e
}

func findBinary() string {
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// Binary returns the synthesizer in use, or "" when none was found.
func (e *Engine) Binary() string {
	return e.binary
}

// IsAvailable checks if the synthesizer binary can be used.
func (e *Engine) IsAvailable() bool {
	if e.binary == "" {
		return false
	}
	_, err := exec.LookPath(e.binary)
	return err == nil
}

// args builds the command line for one utterance.
func (e *Engine) args(text string, opts tts.LocalOptions) []string {
	rate := opts.Rate
	if rate == 0 {
		rate = tts.DefaultRate
	}
	wpm := strconv.Itoa(int(math.Round(baseWPM * tts.ClampProsody(rate))))

	switch e.flavour {
	case flavourSay:
		args := []string{"-r", wpm}
		if opts.Voice != "" {
			args = append(args, "-v", opts.Voice)
		}
		return append(args, "--", text)
	default:
		pitch := opts.Pitch
		if pitch == 0 {
			pitch = tts.DefaultPitch
		}
		p := min(99, int(math.Round(50*tts.ClampProsody(pitch))))
		args := []string{"-s", wpm, "-p", strconv.Itoa(p)}
		switch {
		case opts.Voice != "":
			args = append(args, "-v", opts.Voice)
		case opts.Language != "":
			args = append(args, "-v", strings.ToLower(opts.Language))
		}
		return append(args, "--", text)
	}
}

// Speak blocks until the utterance finishes. It returns tts.ErrInterrupted
// when Cancel or ctx stopped it.
func (e *Engine) Speak(ctx context.Context, text string, opts tts.LocalOptions) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !e.IsAvailable() {
		return tts.NewSpeechError(tts.ErrPlaybackFailed, "local", "speak").
			WithCause(errors.New("no speech synthesizer installed"))
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.binary, e.args(text, opts)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	e.mu.Lock()
	if e.cmd != nil {
		e.mu.Unlock()
		return tts.NewSpeechError(tts.ErrInvalidState, "local", "speak").
			WithCause(errors.New("an utterance is already playing"))
	}
	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		return tts.NewSpeechError(tts.ErrPlaybackFailed, "local", "start").WithCause(err)
	}
	e.cmd = cmd
	e.paused = false
	e.cancelled = false
	e.mu.Unlock()

	e.logger.Debug("speaking", "binary", filepath.Base(e.binary), "chars", len(text))
	err := cmd.Wait()

	e.mu.Lock()
	cancelled := e.cancelled
	e.cmd = nil
	e.paused = false
	e.mu.Unlock()

	switch {
	case cancelled || errors.Is(ctx.Err(), context.Canceled):
		return tts.ErrInterrupted
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return tts.NewSpeechError(tts.ErrPlaybackFailed, "local", "speak").
			WithCause(fmt.Errorf("utterance exceeded %v", e.timeout))
	case err != nil:
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return tts.NewSpeechError(tts.ErrPlaybackFailed, "local", "speak").WithCause(err)
	}
	return nil
}

// Pause suspends the current utterance.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd == nil || e.cmd.Process == nil {
		return tts.ErrInvalidState
	}
	if e.paused {
		return nil
	}
	if err := suspend(e.cmd.Process); err != nil {
		return err
	}
	e.paused = true
	return nil
}

// Resume continues a paused utterance.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd == nil || e.cmd.Process == nil {
		return tts.ErrInvalidState
	}
	if !e.paused {
		return nil
	}
	if err := resume(e.cmd.Process); err != nil {
		return err
	}
	e.paused = false
	return nil
}

// Cancel interrupts the current utterance, if any.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd == nil || e.cmd.Process == nil {
		return nil
	}
	e.cancelled = true
	if e.paused {
		// A stopped process cannot act on the kill until continued.
		_ = resume(e.cmd.Process)
		e.paused = false
	}
	if err := e.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to stop synthesizer: %w", err)
	}
	return nil
}

// Voices lists the voices installed on this machine.
func (e *Engine) Voices(ctx context.Context) ([]tts.Voice, error) {
	if !e.IsAvailable() {
		return nil, nil
	}
	var args []string
	if e.flavour == flavourSay {
		args = []string{"-v", "?"}
	} else {
		args = []string{"--voices"}
	}
	out, err := exec.CommandContext(ctx, e.binary, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list voices: %w", err)
	}
	if e.flavour == flavourSay {
		return parseSayVoices(out), nil
	}
	return parseEspeakVoices(out), nil
}

// parseEspeakVoices reads the table printed by espeak --voices:
//
//	Pty Language       Age/Gender VoiceName          File          Other Languages
//	 5  af              --/M      Afrikaans          gmw/af
func parseEspeakVoices(out []byte) []tts.Voice {
	var list []tts.Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		gender := ""
		if _, g, ok := strings.Cut(fields[2], "/"); ok {
			switch strings.ToUpper(g) {
			case "M":
				gender = "male"
			case "F":
				gender = "female"
			}
		}
		list = append(list, tts.Voice{
			Name:     fields[1],
			Language: canonicalLocale(fields[1]),
			Gender:   gender,
			Provider: tts.ProviderLocal,
		})
	}
	return list
}

var sayLine = regexp.MustCompile(`^(.+?)\s+([a-z]{2,3}[_-][A-Za-z0-9]+)\s+#`)

// parseSayVoices reads the list printed by say -v '?':
//
//	Alex                en_US    # Most people recognize me by my voice.
func parseSayVoices(out []byte) []tts.Voice {
	var list []tts.Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		m := sayLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		list = append(list, tts.Voice{
			Name:     strings.TrimSpace(m[1]),
			Language: canonicalLocale(m[2]),
			Provider: tts.ProviderLocal,
		})
	}
	return list
}

// canonicalLocale turns "en-za" or "en_ZA" into "en-ZA". Names that are
// not BCP 47 tags only get their case fixed.
func canonicalLocale(s string) string {
	s = strings.ReplaceAll(s, "_", "-")
	if tag, err := language.Parse(s); err == nil {
		return tag.String()
	}
	lang, region, ok := strings.Cut(s, "-")
	if !ok {
		return strings.ToLower(s)
	}
	return strings.ToLower(lang) + "-" + strings.ToUpper(region)
}
