package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/tts/cache"
	"github.com/learntoreadsa/readaloud/tts/voices"
)

var (
	warmWords string

	statusCmd = &cobra.Command{
		Use:     "status",
		Short:   "Show which engine and voice would speak, and whether the cloud is reachable",
		Example: paragraph("readaloud status\nreadaloud status --lang zu\nreadaloud status --warm \"the cat sat on the mat\""),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadSpeechConfig()
			if err != nil {
				return err
			}
			return withTelemetry(cmd, func(ctx context.Context, t *telemetry) error {
				rt, err := newSpeechRuntime(ctx, cfg, t.metrics)
				if err != nil {
					return err
				}
				defer rt.svc.Close() //nolint:errcheck

				r := statusReport{cfg: cfg}
				if words := strings.Fields(warmWords); len(words) > 0 {
					start := time.Now()
					r.warmed = rt.svc.PreSynthesize(ctx, words, 0)
					r.warmTook = time.Since(start)
				}
				r.collect(rt)
				r.write(cmd.OutOrStdout())
				return nil
			})
		},
	}
)

// statusReport is what the status command prints.
type statusReport struct {
	cfg tts.Config

	cloudAvailable bool
	cloudMessage   string
	provider       tts.ProviderKind
	language       string
	voice          *tts.Voice
	voiceCount     int
	voiceProblem   string
	localBinary    string
	tokenExpiry    time.Time

	warmed   int
	warmTook time.Duration
	cache    cache.Stats
}

func (r *statusReport) collect(rt *speechRuntime) {
	svc := rt.svc
	r.cloudAvailable = svc.CloudAvailable()
	r.cloudMessage = svc.StatusMessage()
	r.provider = svc.ActiveProvider()
	r.language = svc.Language()
	if v, ok := svc.SelectedVoice(); ok {
		r.voice = &v
	}
	available := svc.AvailableVoices()
	r.voiceCount = len(available)
	r.voiceProblem = checkVoice(r.cfg.Voice, available)
	if rt.local != nil && rt.local.IsAvailable() {
		r.localBinary = "available"
		if b, ok := rt.local.(interface{ Binary() string }); ok {
			r.localBinary = b.Binary()
		}
	}
	if rt.tokens != nil {
		if exp, ok := rt.tokens.Expiry(); ok {
			r.tokenExpiry = exp
		}
	}
	r.cache = svc.CacheStats()
}

func (r statusReport) write(w io.Writer) {
	line := func(label, value string) {
		_, _ = fmt.Fprintf(w, "%-10s %s\n", label+":", value)
	}

	line("Engine", r.cfg.Engine)

	cloud := r.cfg.Cloud.Mode
	switch {
	case !r.cfg.CloudEnabled():
		cloud = faint("off")
	case r.cloudAvailable:
		cloud = keyword("available") + faint(" ("+r.cfg.Cloud.Mode+", "+r.cfg.Cloud.Region+")")
	default:
		cloud = bad("unavailable") + faint(" ("+r.cfg.Cloud.Mode+")")
		if r.cloudMessage != "" {
			cloud += " " + r.cloudMessage
		}
	}
	line("Cloud", cloud)
	if !r.tokenExpiry.IsZero() {
		line("Token", "expires "+humanize.Time(r.tokenExpiry))
	}

	line("Language", fmt.Sprintf("%s (%s)", r.language, voices.Locale(r.language)))
	if r.voice != nil {
		line("Voice", fmt.Sprintf("%s (%s), %d available", r.voice.Name, r.voice.Provider, r.voiceCount))
	} else {
		line("Voice", bad("none available"))
	}
	if r.voiceProblem != "" {
		line("", bad(r.voiceProblem))
	}
	line("Provider", r.provider.String())

	if r.localBinary != "" {
		line("Local", r.localBinary)
	} else {
		line("Local", faint("no synthesizer installed"))
	}

	if r.warmed > 0 || r.cache.Fetches > 0 {
		line("Cache", fmt.Sprintf("%s in %s %s, %d hits, %d misses",
			humanize.Bytes(uint64(max(r.cache.Bytes, 0))), //nolint:gosec
			humanize.Comma(int64(r.cache.Entries)), plural(r.cache.Entries, "entry", "entries"),
			r.cache.Hits, r.cache.Misses,
		))
		if r.warmed > 0 {
			line("", faint(fmt.Sprintf("warmed %d %s in %s",
				r.warmed, plural(r.warmed, "word", "words"), r.warmTook.Round(time.Millisecond))))
		}
		if r.cache.Failures > 0 {
			line("", bad(fmt.Sprintf("%d fetches failed", r.cache.Failures)))
		}
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	statusCmd.Flags().StringVar(&warmWords, "warm", "", "pre-synthesize these words and report the cache")
}
