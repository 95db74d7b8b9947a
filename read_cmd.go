package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/learntoreadsa/readaloud/internal/configwatch"
	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/ui"
)

var (
	mouse    bool
	autoPlay bool
	width    uint

	readCmd = &cobra.Command{
		Use:   "read [FILE]",
		Short: "Open a lesson in the read-along view",
		Long: paragraph(fmt.Sprintf("\n%s a markdown lesson sentence by sentence, highlighting each word as it is spoken. "+
			"Changes to the config file apply while the lesson is open.", keyword("Read"))),
		Example: paragraph("readaloud read lesson.md\nreadaloud read lesson.md --lang zu --autoplay\ncat lesson.md | readaloud read -"),
		Args:    cobra.MaximumNArgs(1),
		RunE:    runRead,
	}
)

// readLesson loads the lesson from a file, or from stdin for "-" or a
// pipe.
func readLesson(args []string) (content, path string, fromStdin bool, err error) {
	if (len(args) == 0 && stdinIsPipe()) || (len(args) == 1 && args[0] == "-") {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", false, fmt.Errorf("unable to read from stdin: %w", err)
		}
		return string(b), "", true, nil
	}
	if len(args) == 0 {
		return "", "", false, errors.New("missing lesson file")
	}

	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", false, fmt.Errorf("unable to open file: %w", err)
	}
	abs, err := filepath.Abs(args[0])
	if err != nil {
		return "", "", false, fmt.Errorf("unable to get absolute path: %w", err)
	}
	return string(b), abs, false, nil
}

// reloadSpeechConfig re-reads the config file for the watcher.
func reloadSpeechConfig() (tts.Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		return tts.Config{}, err
	}
	return tts.LoadConfig()
}

// settingsHooks applies config file changes to the running service and
// tells the view about them.
func settingsHooks(svc settingsTarget, send func(tea.Msg)) configwatch.Hooks {
	return configwatch.Hooks{
		OnLanguage: func(lang string) {
			svc.SetLanguage(lang)
			send(ui.SettingsChangedMsg{})
		},
		OnVoice: func(voice string) {
			if err := svc.SelectVoice(voice); err != nil {
				log.Warn("Ignoring voice from config", "voice", voice, "error", err)
				return
			}
			send(ui.SettingsChangedMsg{})
		},
		OnProsody: func(rate, pitch float64) {
			svc.SetProsody(rate, pitch)
			send(ui.SettingsChangedMsg{Rate: rate, Pitch: pitch})
		},
	}
}

// settingsTarget is the part of the speech service a config reload
// changes.
type settingsTarget interface {
	SetLanguage(lang string)
	SelectVoice(name string) error
	SetProsody(rate, pitch float64)
}

func runRead(cmd *cobra.Command, args []string) error {
	content, path, fromStdin, err := readLesson(args)
	if err != nil {
		return err
	}

	cfg, err := loadSpeechConfig()
	if err != nil {
		return err
	}

	// Read environment to get view settings
	uiCfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}
	uiCfg.Path = path
	uiCfg.EnableMouse = mouse
	uiCfg.AutoPlay = autoPlay
	uiCfg.Rate = cfg.Rate
	uiCfg.Pitch = cfg.Pitch
	if cmd.Flags().Changed("width") {
		uiCfg.MaxWidth = width
	}

	return withTelemetry(cmd, func(ctx context.Context, t *telemetry) error {
		rt, err := newSpeechRuntime(ctx, cfg, t.metrics)
		if err != nil {
			return err
		}
		defer rt.svc.Close() //nolint:errcheck

		var opts []tea.ProgramOption
		if fromStdin {
			opts = append(opts, tea.WithInputTTY())
		}
		p := ui.NewProgram(ui.NewModel(ctx, uiCfg, rt.svc, content), opts...)

		if used := viper.ConfigFileUsed(); used != "" {
			w, err := configwatch.New(used, cfg, reloadSpeechConfig, settingsHooks(rt.svc, p.Send))
			if err != nil {
				log.Warn("Config changes will not apply until restart", "error", err)
			} else {
				defer w.Close() //nolint:errcheck
				wctx, cancel := context.WithCancel(ctx)
				defer cancel()
				go func() { _ = w.Run(wctx) }()
			}
		}

		if _, err := p.Run(); err != nil {
			return fmt.Errorf("unable to run tui program: %w", err)
		}
		return nil
	})
}

func init() {
	readCmd.Flags().BoolVarP(&mouse, "mouse", "m", false, "enable mouse wheel")
	readCmd.Flags().BoolVarP(&autoPlay, "autoplay", "a", false, "start reading straight away")
	readCmd.Flags().UintVarP(&width, "width", "w", 0, "word-wrap at width (0 follows the terminal)")
}
