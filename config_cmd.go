package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/learntoreadsa/readaloud/tts"
)

const defaultConfig = `speech:
  # language of the lesson text: en, zu, xh, af, st, tn, sw or ha
  language: "en"
  # voice name; empty picks the default voice for the language
  voice: ""
  # speaking rate and pitch multipliers (0.5 to 2.0)
  rate: 0.85
  pitch: 1.0
  # auto, cloud, local or mock
  engine: "auto"

  cloud:
    # proxy: synthesize through the application endpoints
    # direct: talk to the speech backend with a subscription key or Entra ID
    # off: local voices only
    mode: "proxy"
    endpoint: "http://localhost:3000/api/speech"
    region: "southafricanorth"
    # key or entra (direct mode)
    auth: "key"
    # key: "" # prefer AZURE_SPEECH_KEY
    # resource_id: "" # required for entra
    timeout: "15s"
    requests_per_minute: 120

  token:
    # refresh this long before the token expires
    safety_buffer: "60s"

  cache:
    # words fetched ahead of the reader and how many at a time
    lookahead: 10
    batch_size: 5
    fetch_timeout: "15s"

  local:
    # empty picks espeak-ng or say
    binary: ""
    timeout: "2m"

  log:
    level: "info"
`

var showConfig bool

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the readaloud config file",
	Long:    paragraph(fmt.Sprintf("\n%s the readaloud config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("readaloud config\nreadaloud config --show\nreadaloud config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if showConfig {
			cfg, err := tts.LoadConfig()
			if err != nil {
				return err
			}
			return writeConfig(cmd.OutOrStdout(), cfg)
		}

		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("readaloud", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

// writeConfig prints the effective configuration with secrets masked.
func writeConfig(w io.Writer, cfg tts.Config) error {
	if cfg.Cloud.Key != "" {
		cfg.Cloud.Key = "********"
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]tts.Config{"speech": cfg}); err != nil {
		return fmt.Errorf("unable to encode config: %w", err)
	}
	return enc.Close()
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}

func init() {
	configCmd.Flags().BoolVar(&showConfig, "show", false, "print the effective configuration")
}
