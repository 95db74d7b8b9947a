// Package main provides the entry point for the readaloud CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/learntoreadsa/readaloud/tts"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile  string
	metricsAddr string
	traceSpans  bool

	rootCmd = &cobra.Command{
		Use:   "readaloud [TEXT]",
		Short: "Read text aloud, word by word",
		Long: paragraph(
			fmt.Sprintf("\nRead lessons aloud in South African languages, %s.", keyword("one word at a time")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return readConfigFlag(cmd)
		},
		RunE: execute,
	}
)

// readConfigFlag switches to the file given with --config.
func readConfigFlag(cmd *cobra.Command) error {
	if !cmd.Flags().Changed("config") {
		return nil
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("unable to read config file: %w", err)
	}
	log.Debug("Using configuration file", "path", configFile)
	return nil
}

// loadSpeechConfig reads the effective configuration: defaults, then the
// environment, then the config file and flags.
func loadSpeechConfig() (tts.Config, error) {
	cfg, err := tts.LoadConfig()
	if err != nil {
		return cfg, err
	}
	applyLogLevel(cfg.Log.Level)
	return cfg, nil
}

// withTelemetry runs fn with the exporters requested on the command line.
func withTelemetry(cmd *cobra.Command, fn func(context.Context, *telemetry) error) error {
	var traceOut io.Writer
	if traceSpans {
		traceOut = cmd.ErrOrStderr()
	}
	t, err := setupTelemetry(metricsAddr, traceOut)
	if err != nil {
		return fmt.Errorf("unable to set up telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.shutdown(ctx); err != nil {
			log.Warn("Telemetry shutdown failed", "error", err)
		}
	}()
	return fn(cmd.Context(), t)
}

func stdinIsPipe() bool {
	return !term.IsTerminal(int(os.Stdin.Fd())) //nolint:gosec
}

// execute speaks the arguments, or piped input, like the speak command.
func execute(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !fromClipboard && !stdinIsPipe() {
		return cmd.Help()
	}
	return runSpeak(cmd, args)
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	flags.String("engine", "", "speech engine: auto, cloud, local or mock")
	flags.StringP("lang", "l", "", "language of the text (en, zu, xh, af, st, tn, sw, ha)")
	flags.String("voice", "", "voice name (see readaloud voices)")
	flags.Float64P("rate", "r", 0, "speaking rate, 0.5 to 2.0")
	flags.Float64("pitch", 0, "voice pitch, 0.5 to 2.0")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	flags.BoolVar(&traceSpans, "trace", false, "print tracing spans to stderr")

	// Config bindings
	_ = viper.BindPFlag("speech.engine", flags.Lookup("engine"))
	_ = viper.BindPFlag("speech.language", flags.Lookup("lang"))
	_ = viper.BindPFlag("speech.voice", flags.Lookup("voice"))
	_ = viper.BindPFlag("speech.rate", flags.Lookup("rate"))
	_ = viper.BindPFlag("speech.pitch", flags.Lookup("pitch"))

	rootCmd.AddCommand(speakCmd, readCmd, voicesCmd, statusCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "readaloud")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "readaloud")}, dirs...)
	}

	if c := os.Getenv("READALOUD_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("readaloud")
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "readaloud.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
