package tts

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Config contains all speech configuration options.
type Config struct {
	// Session settings
	Language string  `yaml:"language" env:"READALOUD_LANGUAGE" envDefault:"en"`
	Voice    string  `yaml:"voice" env:"READALOUD_VOICE"`
	Rate     float64 `yaml:"rate" env:"READALOUD_RATE" envDefault:"0.85"`
	Pitch    float64 `yaml:"pitch" env:"READALOUD_PITCH" envDefault:"1.0"`

	// Engine forces a provider: auto, cloud, local or mock.
	Engine string `yaml:"engine" env:"READALOUD_ENGINE" envDefault:"auto"`

	Cloud CloudConfig `yaml:"cloud"`
	Token TokenConfig `yaml:"token"`
	Cache CacheConfig `yaml:"cache"`
	Local LocalConfig `yaml:"local"`
	Log   LogConfig   `yaml:"log"`
}

// CloudConfig contains the cloud voice backend settings.
type CloudConfig struct {
	// Mode is proxy (synthesize through the application endpoints),
	// direct (connect to the speech backend with a token) or off.
	Mode              string        `yaml:"mode" env:"READALOUD_CLOUD_MODE" envDefault:"proxy"`
	Endpoint          string        `yaml:"endpoint" env:"READALOUD_CLOUD_ENDPOINT" envDefault:"http://localhost:3000/api/speech"`
	Region            string        `yaml:"region" env:"AZURE_SPEECH_REGION" envDefault:"southafricanorth"`
	Key               string        `yaml:"key" env:"AZURE_SPEECH_KEY"`
	Auth              string        `yaml:"auth" env:"READALOUD_CLOUD_AUTH" envDefault:"key"`
	ResourceID        string        `yaml:"resource_id" env:"READALOUD_CLOUD_RESOURCE_ID"`
	OutputFormat      string        `yaml:"output_format" env:"READALOUD_CLOUD_OUTPUT_FORMAT" envDefault:"audio-24khz-96kbitrate-mono-mp3"`
	Timeout           time.Duration `yaml:"timeout" env:"READALOUD_CLOUD_TIMEOUT" envDefault:"15s"`
	RequestsPerMinute int           `yaml:"requests_per_minute" env:"READALOUD_CLOUD_REQUESTS_PER_MINUTE" envDefault:"120"`
}

// TokenConfig contains authorization token settings.
type TokenConfig struct {
	SafetyBuffer time.Duration `yaml:"safety_buffer" env:"READALOUD_TOKEN_SAFETY_BUFFER" envDefault:"60s"`
	Validity     time.Duration `yaml:"validity" env:"READALOUD_TOKEN_VALIDITY" envDefault:"9m"`
}

// CacheConfig contains audio cache and pre-fetch settings.
type CacheConfig struct {
	Lookahead    int           `yaml:"lookahead" env:"READALOUD_CACHE_LOOKAHEAD" envDefault:"10"`
	BatchSize    int           `yaml:"batch_size" env:"READALOUD_CACHE_BATCH_SIZE" envDefault:"5"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"READALOUD_CACHE_FETCH_TIMEOUT" envDefault:"15s"`
}

// LocalConfig contains local synthesizer settings.
type LocalConfig struct {
	// Binary overrides the synthesizer; empty picks espeak-ng or say.
	Binary  string        `yaml:"binary" env:"READALOUD_LOCAL_BINARY"`
	Timeout time.Duration `yaml:"timeout" env:"READALOUD_LOCAL_TIMEOUT" envDefault:"2m"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `yaml:"level" env:"READALOUD_LOG_LEVEL" envDefault:"info"`
	File  string `yaml:"file" env:"READALOUD_LOG_FILE"`
}

// Cloud modes.
const (
	CloudModeProxy  = "proxy"
	CloudModeDirect = "direct"
	CloudModeOff    = "off"
)

// Cloud authentication schemes for direct mode.
const (
	AuthKey   = "key"
	AuthEntra = "entra"
)

// Engine choices.
const (
	EngineAuto  = "auto"
	EngineCloud = "cloud"
	EngineLocal = "local"
	EngineMock  = "mock"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Language: "en",
		Rate:     DefaultRate,
		Pitch:    DefaultPitch,
		Engine:   EngineAuto,
		Cloud:    DefaultCloudConfig(),
		Token:    DefaultTokenConfig(),
		Cache:    DefaultCacheConfig(),
		Local:    DefaultLocalConfig(),
		Log:      LogConfig{Level: "info"},
	}
}

// DefaultCloudConfig returns default cloud configuration.
func DefaultCloudConfig() CloudConfig {
	return CloudConfig{
		Mode:              CloudModeProxy,
		Endpoint:          "http://localhost:3000/api/speech",
		Region:            "southafricanorth",
		Auth:              AuthKey,
		OutputFormat:      "audio-24khz-96kbitrate-mono-mp3",
		Timeout:           15 * time.Second,
		RequestsPerMinute: 120,
	}
}

// DefaultTokenConfig returns default token configuration.
func DefaultTokenConfig() TokenConfig {
	return TokenConfig{
		SafetyBuffer: 60 * time.Second,
		Validity:     9 * time.Minute,
	}
}

// DefaultCacheConfig returns default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Lookahead:    10,
		BatchSize:    5,
		FetchTimeout: 15 * time.Second,
	}
}

// DefaultLocalConfig returns default local synthesizer configuration.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{Timeout: 2 * time.Minute}
}

// Validate checks if the configuration is valid. Failures wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Language) == "" {
		return fmt.Errorf("language cannot be empty")
	}
	c.Language = strings.ToLower(strings.TrimSpace(c.Language))

	if c.Rate < MinProsody || c.Rate > MaxProsody {
		return fmt.Errorf("rate must be between %.1f and %.1f, got %f", MinProsody, MaxProsody, c.Rate)
	}
	if c.Pitch < MinProsody || c.Pitch > MaxProsody {
		return fmt.Errorf("pitch must be between %.1f and %.1f, got %f", MinProsody, MaxProsody, c.Pitch)
	}

	validEngines := []string{EngineAuto, EngineCloud, EngineLocal, EngineMock}
	c.Engine = strings.ToLower(c.Engine)
	if !slices.Contains(validEngines, c.Engine) {
		return fmt.Errorf("invalid engine '%s': must be one of %v", c.Engine, validEngines)
	}

	if err := c.Cloud.Validate(); err != nil {
		return fmt.Errorf("cloud config: %w", err)
	}
	if err := c.Token.Validate(); err != nil {
		return fmt.Errorf("token config: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}
	if c.Local.Timeout < time.Second {
		return fmt.Errorf("local config: timeout must be at least 1 second, got %v", c.Local.Timeout)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if !slices.Contains(validLevels, c.Log.Level) {
		return fmt.Errorf("invalid log level '%s': must be one of %v", c.Log.Level, validLevels)
	}
	return nil
}

// Validate checks if the cloud configuration is valid.
func (c *CloudConfig) Validate() error {
	validModes := []string{CloudModeProxy, CloudModeDirect, CloudModeOff}
	c.Mode = strings.ToLower(c.Mode)
	if !slices.Contains(validModes, c.Mode) {
		return fmt.Errorf("invalid mode '%s': must be one of %v", c.Mode, validModes)
	}

	validAuth := []string{AuthKey, AuthEntra}
	c.Auth = strings.ToLower(c.Auth)
	if !slices.Contains(validAuth, c.Auth) {
		return fmt.Errorf("invalid auth '%s': must be one of %v", c.Auth, validAuth)
	}

	switch c.Mode {
	case CloudModeProxy:
		if c.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty in proxy mode")
		}
	case CloudModeDirect:
		if c.Region == "" {
			return fmt.Errorf("region cannot be empty in direct mode")
		}
		if c.Auth == AuthEntra && c.ResourceID == "" {
			return fmt.Errorf("resource_id is required for entra auth")
		}
	}

	if c.Timeout < time.Second {
		return fmt.Errorf("timeout must be at least 1 second, got %v", c.Timeout)
	}
	if c.RequestsPerMinute < 1 {
		return fmt.Errorf("requests_per_minute must be positive, got %d", c.RequestsPerMinute)
	}
	return nil
}

// Validate checks if the token configuration is valid.
func (c *TokenConfig) Validate() error {
	if c.SafetyBuffer < 0 {
		return fmt.Errorf("safety_buffer cannot be negative, got %v", c.SafetyBuffer)
	}
	if c.Validity <= c.SafetyBuffer {
		return fmt.Errorf("validity %v must exceed safety_buffer %v", c.Validity, c.SafetyBuffer)
	}
	return nil
}

// Validate checks if the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	if c.Lookahead < 1 || c.Lookahead > 100 {
		return fmt.Errorf("lookahead must be between 1 and 100, got %d", c.Lookahead)
	}
	if c.BatchSize < 1 || c.BatchSize > c.Lookahead {
		return fmt.Errorf("batch_size must be between 1 and lookahead (%d), got %d", c.Lookahead, c.BatchSize)
	}
	if c.FetchTimeout < time.Second {
		return fmt.Errorf("fetch_timeout must be at least 1 second, got %v", c.FetchTimeout)
	}
	return nil
}

// CloudEnabled reports whether any cloud path may be used.
func (c *Config) CloudEnabled() bool {
	return c.Cloud.Mode != CloudModeOff && c.Engine != EngineLocal
}
