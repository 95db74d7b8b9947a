//go:build unix

package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learntoreadsa/readaloud/tts"
)

// fakeSynth writes a shell script named name that records its arguments
// and then sleeps for $FAKE_SLEEP seconds.
func fakeSynth(t *testing.T, name string) (binary, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	binary = filepath.Join(dir, name)
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"--voices\" ]; then\n" +
		"  echo 'Pty Language       Age/Gender VoiceName          File          Other Languages'\n" +
		"  echo ' 5  af              --/M      Afrikaans          gmw/af'\n" +
		"  echo ' 5  en-za           --/F      English_(SA)       gmw/en-ZA'\n" +
		"  exit 0\n" +
		"fi\n" +
		"echo \"$@\" > " + argsFile + "\n" +
		"if [ -n \"$FAKE_FAIL\" ]; then echo 'bad voice' >&2; exit 1; fi\n" +
		"exec sleep ${FAKE_SLEEP:-0}\n"
	require.NoError(t, os.WriteFile(binary, []byte(script), 0o755))
	return binary, argsFile
}

func TestSpeakPassesProsodyAndVoice(t *testing.T) {
	bin, argsFile := fakeSynth(t, "espeak-ng")
	e := New(bin, time.Minute, nil)
	require.True(t, e.IsAvailable())

	err := e.Speak(context.Background(), " Sawubona ", tts.LocalOptions{Language: "ZU", Rate: 2, Pitch: 0.5})
	require.NoError(t, err)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "-s 350 -p 25 -v zu -- Sawubona", strings.TrimSpace(string(args)))
}

func TestSayArgs(t *testing.T) {
	e := &Engine{flavour: flavourSay}
	assert.Equal(t, []string{"-r", "149", "-v", "Tessa", "--", "hello"},
		e.args("hello", tts.LocalOptions{Voice: "Tessa"}))
}

func TestSpeakEmptyTextIsNoop(t *testing.T) {
	e := New("/does/not/exist", time.Minute, nil)
	assert.NoError(t, e.Speak(context.Background(), "   ", tts.LocalOptions{}))
}

func TestSpeakUnavailable(t *testing.T) {
	e := New("/does/not/exist", time.Minute, nil)
	assert.False(t, e.IsAvailable())
	err := e.Speak(context.Background(), "hello", tts.LocalOptions{})
	assert.ErrorIs(t, err, tts.ErrPlaybackFailed)
}

func TestSpeakFailureIncludesStderr(t *testing.T) {
	bin, _ := fakeSynth(t, "espeak-ng")
	t.Setenv("FAKE_FAIL", "1")
	err := New(bin, time.Minute, nil).Speak(context.Background(), "hello", tts.LocalOptions{})
	require.ErrorIs(t, err, tts.ErrPlaybackFailed)
	assert.Contains(t, err.Error(), "bad voice")
}

func TestCancelInterrupts(t *testing.T) {
	bin, _ := fakeSynth(t, "espeak-ng")
	t.Setenv("FAKE_SLEEP", "10")
	e := New(bin, time.Minute, nil)

	done := make(chan error, 1)
	go func() { done <- e.Speak(context.Background(), "a long sentence", tts.LocalOptions{}) }()

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.cmd != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e.Pause())
	require.NoError(t, e.Cancel())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, tts.ErrInterrupted))
	case <-time.After(5 * time.Second):
		t.Fatal("Speak did not return after Cancel")
	}
	assert.ErrorIs(t, e.Pause(), tts.ErrInvalidState)
	assert.NoError(t, e.Cancel(), "cancel without an utterance is a no-op")
}

func TestContextCancelInterrupts(t *testing.T) {
	bin, _ := fakeSynth(t, "espeak-ng")
	t.Setenv("FAKE_SLEEP", "10")
	e := New(bin, time.Minute, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := e.Speak(ctx, "hello", tts.LocalOptions{})
	// The deadline belongs to the caller, so it surfaces as a timeout of
	// the utterance rather than an interruption.
	assert.Error(t, err)

	ctx2, cancel2 := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel2()
	}()
	assert.ErrorIs(t, e.Speak(ctx2, "hello", tts.LocalOptions{}), tts.ErrInterrupted)
}

func TestVoices(t *testing.T) {
	bin, _ := fakeSynth(t, "espeak-ng")
	list, err := New(bin, time.Minute, nil).Voices(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, tts.Voice{Name: "af", Language: "af", Gender: "male", Provider: tts.ProviderLocal}, list[0])
	assert.Equal(t, "en-ZA", list[1].Language)
	assert.Equal(t, "female", list[1].Gender)
}

func TestCanonicalLocale(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"en-za", "en-ZA"},
		{"en_ZA", "en-ZA"},
		{"AF", "af"},
		{"zu", "zu"},
		{"EN-us", "en-US"},
		{"abcdefghij", "abcdefghij"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, canonicalLocale(tt.in))
		})
	}
}

func TestParseSayVoices(t *testing.T) {
	out := []byte("Alex                en_US    # Most people recognize me by my voice.\n" +
		"Bad News            en_US    # The light you see at the end of the tunnel.\n" +
		"Tessa               en_ZA    # Hello, my name is Tessa.\n" +
		"garbage\n")
	list := parseSayVoices(out)
	require.Len(t, list, 3)
	assert.Equal(t, "Bad News", list[1].Name)
	assert.Equal(t, "en-ZA", list[2].Language)
}
