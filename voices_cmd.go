package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/log"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/tts/engines/local"
	"github.com/learntoreadsa/readaloud/tts/voices"
)

var voicesCmd = &cobra.Command{
	Use:     "voices [QUERY]",
	Short:   "List the cloud and local voices",
	Example: paragraph("readaloud voices\nreadaloud voices zulu\nreadaloud voices --lang af"),
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSpeechConfig()
		if err != nil {
			return err
		}

		var localVoices []tts.Voice
		if cfg.Engine != tts.EngineCloud {
			eng := local.New(cfg.Local.Binary, cfg.Local.Timeout, log.WithPrefix("local"))
			if eng.IsAvailable() {
				if localVoices, err = eng.Voices(cmd.Context()); err != nil {
					log.Warn("Could not list local voices", "error", err)
				}
			}
		}

		lang := ""
		if cmd.Flags().Changed("lang") {
			lang = viper.GetString("speech.language")
		}
		query := ""
		if len(args) > 0 {
			query = args[0]
		}

		rows := voiceRows(cloudVoices(cmd.Context(), cfg, lang), localVoices, lang, query)
		if len(rows) == 0 {
			return fmt.Errorf("no voices match %q", query)
		}
		printVoices(cmd.OutOrStdout(), rows)
		return nil
	},
}

type voiceRow struct {
	name      string
	locale    string
	language  string
	gender    string
	engine    string
	isDefault bool
}

func (r voiceRow) cells() []string {
	name := r.name
	if r.isDefault {
		name += " *"
	}
	return []string{name, r.locale, r.language, r.gender, r.engine}
}

// voiceList adapts rows to fuzzy.Source.
type voiceList []voiceRow

func (l voiceList) String(i int) string {
	r := l[i]
	return strings.Join([]string{r.name, r.locale, r.language}, " ")
}

func (l voiceList) Len() int { return len(l) }

// cloudVoices asks the proxy which voices it offers and falls back to the
// built-in catalog when it cannot be reached.
func cloudVoices(ctx context.Context, cfg tts.Config, lang string) []voices.Info {
	if !cfg.CloudEnabled() || cfg.Cloud.Mode != tts.CloudModeProxy || cfg.Engine == tts.EngineMock {
		return voices.All()
	}
	list, err := newProxyClient(cfg).Voices(ctx, lang)
	if err != nil {
		log.Warn("Could not list server voices, using the catalog", "error", err)
		return voices.All()
	}
	return list
}

// voiceRows lists cloud voices followed by local ones, restricted to lang
// when set and fuzzy matched against query, best match first.
func voiceRows(remote []voices.Info, localVoices []tts.Voice, lang, query string) []voiceRow {
	lang = voices.Normalize(lang)
	var rows voiceList
	for _, v := range remote {
		if lang != "" && voices.Normalize(v.Locale) != lang {
			continue
		}
		rows = append(rows, voiceRow{
			name:      v.Name,
			locale:    v.Locale,
			language:  v.LanguageName,
			gender:    v.Gender,
			engine:    tts.ProviderCloud.String(),
			isDefault: v.Name == voices.DefaultVoice(v.Locale),
		})
	}
	for _, v := range localVoices {
		if lang != "" && voices.Normalize(v.Language) != lang {
			continue
		}
		rows = append(rows, voiceRow{
			name:     v.Name,
			locale:   v.Language,
			language: v.Language,
			gender:   v.Gender,
			engine:   tts.ProviderLocal.String(),
		})
	}

	if strings.TrimSpace(query) == "" {
		return rows
	}
	matches := fuzzy.FindFrom(query, rows)
	out := make([]voiceRow, 0, len(matches))
	for _, m := range matches {
		out = append(out, rows[m.Index])
	}
	return out
}

func printVoices(w io.Writer, rows []voiceRow) {
	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers("VOICE", "LOCALE", "LANGUAGE", "GENDER", "ENGINE").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, r := range rows {
		t.Row(r.cells()...)
	}
	_, _ = fmt.Fprintln(w, t)
	_, _ = fmt.Fprintln(w, faint("* default voice for the language"))
}

// checkVoice is used by status to explain a configured voice that is not
// offered.
func checkVoice(name string, available []tts.Voice) string {
	if name == "" {
		return ""
	}
	for _, v := range available {
		if strings.EqualFold(v.Name, name) {
			return ""
		}
	}
	if info, ok := voices.Lookup(name); ok {
		return fmt.Sprintf("%s is a %s cloud voice, which is not available right now", name, info.LanguageName)
	}
	return fmt.Sprintf("%s is not a known voice", name)
}
