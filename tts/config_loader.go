package tts

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// LoadConfig reads the environment first and lets keys set in viper (config
// file or bound flags) override it.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return cfg, fmt.Errorf("could not parse environment: %w", err)
	}
	applyViper(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadConfigFromViper loads speech configuration from viper on top of the
// defaults.
func LoadConfigFromViper() (Config, error) {
	cfg := DefaultConfig()
	applyViper(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyViper(cfg *Config) {
	// Session settings
	setString("speech.language", &cfg.Language)
	setString("speech.voice", &cfg.Voice)
	setFloat("speech.rate", &cfg.Rate)
	setFloat("speech.pitch", &cfg.Pitch)
	setString("speech.engine", &cfg.Engine)

	// Cloud settings
	setString("speech.cloud.mode", &cfg.Cloud.Mode)
	setString("speech.cloud.endpoint", &cfg.Cloud.Endpoint)
	setString("speech.cloud.region", &cfg.Cloud.Region)
	setString("speech.cloud.key", &cfg.Cloud.Key)
	setString("speech.cloud.auth", &cfg.Cloud.Auth)
	setString("speech.cloud.resource_id", &cfg.Cloud.ResourceID)
	setString("speech.cloud.output_format", &cfg.Cloud.OutputFormat)
	setDuration("speech.cloud.timeout", &cfg.Cloud.Timeout)
	if viper.IsSet("speech.cloud.requests_per_minute") {
		cfg.Cloud.RequestsPerMinute = viper.GetInt("speech.cloud.requests_per_minute")
	}

	// Token settings
	setDuration("speech.token.safety_buffer", &cfg.Token.SafetyBuffer)
	setDuration("speech.token.validity", &cfg.Token.Validity)

	// Cache settings
	if viper.IsSet("speech.cache.lookahead") {
		cfg.Cache.Lookahead = viper.GetInt("speech.cache.lookahead")
	}
	if viper.IsSet("speech.cache.batch_size") {
		cfg.Cache.BatchSize = viper.GetInt("speech.cache.batch_size")
	}
	setDuration("speech.cache.fetch_timeout", &cfg.Cache.FetchTimeout)

	// Local settings
	setString("speech.local.binary", &cfg.Local.Binary)
	setDuration("speech.local.timeout", &cfg.Local.Timeout)

	// Log settings
	setString("speech.log.level", &cfg.Log.Level)
	setString("speech.log.file", &cfg.Log.File)
}

func setString(key string, dst *string) {
	if viper.IsSet(key) {
		*dst = viper.GetString(key)
	}
}

func setFloat(key string, dst *float64) {
	if viper.IsSet(key) {
		*dst = viper.GetFloat64(key)
	}
}

func setDuration(key string, dst *time.Duration) {
	if viper.IsSet(key) {
		if d, err := time.ParseDuration(viper.GetString(key)); err == nil {
			*dst = d
		}
	}
}

// SetDefaults sets default values in viper for speech configuration.
func SetDefaults() {
	defaults := DefaultConfig()

	viper.SetDefault("speech.language", defaults.Language)
	viper.SetDefault("speech.rate", defaults.Rate)
	viper.SetDefault("speech.pitch", defaults.Pitch)
	viper.SetDefault("speech.engine", defaults.Engine)

	viper.SetDefault("speech.cloud.mode", defaults.Cloud.Mode)
	viper.SetDefault("speech.cloud.endpoint", defaults.Cloud.Endpoint)
	viper.SetDefault("speech.cloud.region", defaults.Cloud.Region)
	viper.SetDefault("speech.cloud.auth", defaults.Cloud.Auth)
	viper.SetDefault("speech.cloud.output_format", defaults.Cloud.OutputFormat)
	viper.SetDefault("speech.cloud.timeout", defaults.Cloud.Timeout.String())
	viper.SetDefault("speech.cloud.requests_per_minute", defaults.Cloud.RequestsPerMinute)

	viper.SetDefault("speech.token.safety_buffer", defaults.Token.SafetyBuffer.String())
	viper.SetDefault("speech.token.validity", defaults.Token.Validity.String())

	viper.SetDefault("speech.cache.lookahead", defaults.Cache.Lookahead)
	viper.SetDefault("speech.cache.batch_size", defaults.Cache.BatchSize)
	viper.SetDefault("speech.cache.fetch_timeout", defaults.Cache.FetchTimeout.String())

	viper.SetDefault("speech.local.timeout", defaults.Local.Timeout.String())
	viper.SetDefault("speech.log.level", defaults.Log.Level)
}
