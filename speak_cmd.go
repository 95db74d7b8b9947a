package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/tts/sentence"
)

var (
	fromClipboard bool
	followWords   bool

	speakCmd = &cobra.Command{
		Use:   "speak [TEXT]",
		Short: "Speak text from the arguments, the clipboard or stdin",
		Example: paragraph("readaloud speak \"Sawubona, unjani?\" --lang zu\n" +
			"readaloud speak --clipboard --follow\n" +
			"cat lesson.md | readaloud speak"),
		Args: cobra.ArbitraryArgs,
		RunE: runSpeak,
	}
)

// speakInput picks the text to speak: arguments first, then the
// clipboard when asked, then piped stdin.
func speakInput(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if fromClipboard {
		text, err := clipboard.ReadAll()
		if err != nil {
			return "", fmt.Errorf("unable to read clipboard: %w", err)
		}
		return text, nil
	}
	if stdinIsPipe() {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("unable to read from stdin: %w", err)
		}
		return string(b), nil
	}
	return "", nil
}

func runSpeak(cmd *cobra.Command, args []string) error {
	text, err := speakInput(args, os.Stdin)
	if err != nil {
		return err
	}
	sentences := sentence.NewParser().Parse(text)
	if len(sentences) == 0 {
		return errors.New("nothing to say")
	}

	cfg, err := loadSpeechConfig()
	if err != nil {
		return err
	}

	return withTelemetry(cmd, func(ctx context.Context, t *telemetry) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()

		rt, err := newSpeechRuntime(ctx, cfg, t.metrics)
		if err != nil {
			return err
		}
		defer rt.svc.Close() //nolint:errcheck

		return speakSentences(ctx, rt.svc, sentences, cmd.OutOrStdout())
	})
}

// sentenceSpeaker is what speakSentences needs from the speech service.
type sentenceSpeaker interface {
	Speak(ctx context.Context, opts tts.SpeakOptions) error
}

// speakSentences reads sentences in order. Whole sentences never go
// through the word cache, so nothing is warmed ahead. With --follow each
// word is echoed as it is spoken.
func speakSentences(ctx context.Context, s sentenceSpeaker, sentences []sentence.Sentence, w io.Writer) error {
	for _, sn := range sentences {
		if ctx.Err() != nil {
			return nil
		}
		opts := tts.SpeakOptions{Text: sn.Text}
		if followWords {
			words := sn.Words()
			last := -1
			opts.OnWordBoundary = func(b tts.WordBoundary) {
				// Catch up on words the provider reported together.
				for ; last < b.WordIndex && last+1 < len(words); last++ {
					_, _ = fmt.Fprint(w, words[last+1]+" ")
				}
			}
		}

		err := s.Speak(ctx, opts)
		if followWords {
			_, _ = fmt.Fprintln(w)
		}
		if errors.Is(err, tts.ErrUserCancelled) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Error("Speak failed", "sentence", sn.Index, "error", err)
			return errors.New(tts.Message(err))
		}
	}
	return nil
}

func init() {
	speakCmd.Flags().BoolVarP(&fromClipboard, "clipboard", "c", false, "speak the clipboard contents")
	speakCmd.Flags().BoolVarP(&followWords, "follow", "f", false, "print each word as it is spoken")
	rootCmd.Flags().BoolVarP(&fromClipboard, "clipboard", "c", false, "speak the clipboard contents")
}
