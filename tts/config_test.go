package tts

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// TestDefaultConfig tests that default configuration is valid.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
	if cfg.Rate != 0.85 {
		t.Errorf("Default rate should be 0.85, got %f", cfg.Rate)
	}
	if cfg.Cache.Lookahead != 10 || cfg.Cache.BatchSize != 5 {
		t.Errorf("Unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Token.SafetyBuffer != time.Minute {
		t.Errorf("Default safety buffer should be 60s, got %v", cfg.Token.SafetyBuffer)
	}
	if cfg.Cloud.Region != "southafricanorth" {
		t.Errorf("Default region should be southafricanorth, got %s", cfg.Cloud.Region)
	}
}

// TestConfigValidation tests configuration validation.
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty language",
			modify:  func(c *Config) { c.Language = "  " },
			wantErr: true,
			errMsg:  "language cannot be empty",
		},
		{
			name:    "rate too high",
			modify:  func(c *Config) { c.Rate = 2.5 },
			wantErr: true,
			errMsg:  "rate must be between",
		},
		{
			name:    "pitch too low",
			modify:  func(c *Config) { c.Pitch = 0.1 },
			wantErr: true,
			errMsg:  "pitch must be between",
		},
		{
			name:    "invalid engine",
			modify:  func(c *Config) { c.Engine = "festival" },
			wantErr: true,
			errMsg:  "invalid engine",
		},
		{
			name:    "engine is case insensitive",
			modify:  func(c *Config) { c.Engine = "LOCAL" },
			wantErr: false,
		},
		{
			name:    "invalid cloud mode",
			modify:  func(c *Config) { c.Cloud.Mode = "carrier-pigeon" },
			wantErr: true,
			errMsg:  "invalid mode",
		},
		{
			name:    "proxy mode requires endpoint",
			modify:  func(c *Config) { c.Cloud.Endpoint = "" },
			wantErr: true,
			errMsg:  "endpoint cannot be empty",
		},
		{
			name: "direct mode requires region",
			modify: func(c *Config) {
				c.Cloud.Mode = CloudModeDirect
				c.Cloud.Region = ""
			},
			wantErr: true,
			errMsg:  "region cannot be empty",
		},
		{
			name: "entra auth requires resource id",
			modify: func(c *Config) {
				c.Cloud.Mode = CloudModeDirect
				c.Cloud.Auth = AuthEntra
			},
			wantErr: true,
			errMsg:  "resource_id is required",
		},
		{
			name:    "off mode needs nothing",
			modify:  func(c *Config) { c.Cloud.Mode = CloudModeOff; c.Cloud.Endpoint = "" },
			wantErr: false,
		},
		{
			name:    "validity must exceed buffer",
			modify:  func(c *Config) { c.Token.Validity = 30 * time.Second },
			wantErr: true,
			errMsg:  "must exceed safety_buffer",
		},
		{
			name:    "batch larger than lookahead",
			modify:  func(c *Config) { c.Cache.BatchSize = 11 },
			wantErr: true,
			errMsg:  "batch_size must be between",
		},
		{
			name:    "zero lookahead",
			modify:  func(c *Config) { c.Cache.Lookahead = 0 },
			wantErr: true,
			errMsg:  "lookahead must be between",
		},
		{
			name:    "short fetch timeout",
			modify:  func(c *Config) { c.Cache.FetchTimeout = time.Millisecond },
			wantErr: true,
			errMsg:  "fetch_timeout must be at least",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "chatty" },
			wantErr: true,
			errMsg:  "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want wrapped ErrInvalidConfig", err)
			}
		})
	}
}

// TestLoadConfigFromViper tests loading configuration from viper keys.
func TestLoadConfigFromViper(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("speech.language", "ZU")
	viper.Set("speech.voice", "zu-ZA-ThembaNeural")
	viper.Set("speech.rate", 1.2)
	viper.Set("speech.cloud.mode", "direct")
	viper.Set("speech.cloud.region", "westeurope")
	viper.Set("speech.token.safety_buffer", "30s")
	viper.Set("speech.cache.lookahead", 20)
	viper.Set("speech.cache.batch_size", 4)
	viper.Set("speech.local.timeout", "not-a-duration")

	cfg, err := LoadConfigFromViper()
	if err != nil {
		t.Fatalf("LoadConfigFromViper() error = %v", err)
	}

	if cfg.Language != "zu" {
		t.Errorf("Language = %q, want zu", cfg.Language)
	}
	if cfg.Voice != "zu-ZA-ThembaNeural" {
		t.Errorf("Voice = %q", cfg.Voice)
	}
	if cfg.Rate != 1.2 {
		t.Errorf("Rate = %f, want 1.2", cfg.Rate)
	}
	if cfg.Cloud.Mode != CloudModeDirect || cfg.Cloud.Region != "westeurope" {
		t.Errorf("Cloud = %+v", cfg.Cloud)
	}
	if cfg.Token.SafetyBuffer != 30*time.Second {
		t.Errorf("SafetyBuffer = %v, want 30s", cfg.Token.SafetyBuffer)
	}
	if cfg.Cache.Lookahead != 20 || cfg.Cache.BatchSize != 4 {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Local.Timeout != DefaultLocalConfig().Timeout {
		t.Errorf("unparseable duration should keep default, got %v", cfg.Local.Timeout)
	}
}

// TestLoadConfigFromViperInvalid tests that invalid values are reported.
func TestLoadConfigFromViperInvalid(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("speech.pitch", 9.0)
	if _, err := LoadConfigFromViper(); err == nil {
		t.Error("expected an error for pitch out of range")
	}
}

// TestLoadConfigEnvironment tests environment parsing with viper overrides.
func TestLoadConfigEnvironment(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	t.Setenv("READALOUD_LANGUAGE", "af")
	t.Setenv("READALOUD_RATE", "1.0")
	t.Setenv("AZURE_SPEECH_REGION", "eastus")
	t.Setenv("READALOUD_CACHE_LOOKAHEAD", "12")
	viper.Set("speech.rate", 1.5)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Language != "af" {
		t.Errorf("Language = %q, want af", cfg.Language)
	}
	if cfg.Rate != 1.5 {
		t.Errorf("viper should override the environment, got rate %f", cfg.Rate)
	}
	if cfg.Cloud.Region != "eastus" {
		t.Errorf("Region = %q, want eastus", cfg.Cloud.Region)
	}
	if cfg.Cache.Lookahead != 12 {
		t.Errorf("Lookahead = %d, want 12", cfg.Cache.Lookahead)
	}
	if cfg.Cache.BatchSize != 5 {
		t.Errorf("BatchSize = %d, want default 5", cfg.Cache.BatchSize)
	}
}

// TestSetDefaults tests that viper defaults match DefaultConfig.
func TestSetDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	SetDefaults()
	cfg, err := LoadConfigFromViper()
	if err != nil {
		t.Fatalf("LoadConfigFromViper() error = %v", err)
	}
	def := DefaultConfig()
	if cfg.Language != def.Language || cfg.Rate != def.Rate || cfg.Cloud != def.Cloud ||
		cfg.Cache != def.Cache || cfg.Token != def.Token {
		t.Errorf("defaults drifted:\n got %+v\nwant %+v", cfg, def)
	}
}

// TestSpeakOptionsWithDefaults tests default and clamped prosody.
func TestSpeakOptionsWithDefaults(t *testing.T) {
	o := SpeakOptions{Text: "hi"}.WithDefaults()
	if o.Rate != DefaultRate || o.Pitch != DefaultPitch {
		t.Errorf("defaults not applied: %+v", o)
	}
	o = SpeakOptions{Rate: 5, Pitch: 0.1}.WithDefaults()
	if o.Rate != MaxProsody || o.Pitch != MinProsody {
		t.Errorf("prosody not clamped: %+v", o)
	}
}
