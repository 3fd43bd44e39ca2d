// Package config provides configuration management for hlsplay using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultRequesterPlaylistTimeout = 10 * time.Second
	defaultRequesterSegmentTimeout  = 10 * time.Second
	defaultRequesterMaxAttempts     = 3
	defaultRequesterRetryBase       = 500 * time.Millisecond
	defaultRequesterRetryMax        = 8 * time.Second

	defaultBufferGoal       = 30 * time.Second
	defaultMinBufferTimeLow = 3 * time.Second
	defaultMinBufferTimeHi  = 8 * time.Second

	defaultEWMAHalfLifeFast = 2.0
	defaultEWMAHalfLifeSlow = 10.0

	defaultHTTPTimeout      = 30 * time.Second
	defaultCircuitThreshold = 5
	defaultCircuitTimeout   = 30 * time.Second

	defaultHTTPAPIPort = 8088
)

// Config holds all configuration for the application.
type Config struct {
	Requester    RequesterConfig    `mapstructure:"requester"`
	MediaElement MediaElementConfig `mapstructure:"media_element"`
	Adaptive     AdaptiveConfig     `mapstructure:"adaptive"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Storage      StorageConfig      `mapstructure:"storage"`
	HTTPAPI      HTTPAPIConfig      `mapstructure:"http_api"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// RequesterConfig holds playlist/segment scheduling configuration.
type RequesterConfig struct {
	PlaylistTimeout time.Duration `mapstructure:"playlist_timeout"`
	SegmentTimeout  time.Duration `mapstructure:"segment_timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
}

// MediaElementConfig holds buffering/rebuffering configuration.
type MediaElementConfig struct {
	// BufferGoal is how far ahead of the wanted position segments are requested.
	BufferGoal time.Duration `mapstructure:"buffer_goal"`
	// MinBufferTimeLow / MinBufferTimeHigh bound the computed min_buffer_time
	// (clamped to [3, target_duration-1] <= 8 per spec).
	MinBufferTimeLow  time.Duration `mapstructure:"min_buffer_time_low"`
	MinBufferTimeHigh time.Duration `mapstructure:"min_buffer_time_high"`
	// MaxBufferSize bounds the in-memory inventory footprint tracked for diagnostics.
	MaxBufferSize ByteSize `mapstructure:"max_buffer_size"`
}

// AdaptiveConfig holds bandwidth-estimation configuration.
type AdaptiveConfig struct {
	// EWMAHalfLifeFast / Slow are half-lives in seconds of transfer time
	// for the fast- and slow-reacting bandwidth estimators.
	EWMAHalfLifeFast float64 `mapstructure:"ewma_half_life_fast"`
	EWMAHalfLifeSlow float64 `mapstructure:"ewma_half_life_slow"`
}

// HTTPConfig holds the resilient fetcher configuration.
type HTTPConfig struct {
	Timeout              time.Duration `mapstructure:"timeout"`
	UserAgent            string        `mapstructure:"user_agent"`
	EnableDecompression  bool          `mapstructure:"enable_decompression"`
	CircuitThreshold     int           `mapstructure:"circuit_threshold"`
	CircuitTimeout       time.Duration `mapstructure:"circuit_timeout"`
}

// StorageConfig holds playback-diagnostics persistence configuration.
type StorageConfig struct {
	DSN      string `mapstructure:"dsn"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// HTTPAPIConfig holds the debug/status HTTP server configuration.
type HTTPAPIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with HLSPLAY_ and use underscores for nesting.
// Example: HLSPLAY_HTTP_API_PORT=8088.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hlsplay")
		v.AddConfigPath("$HOME/.hlsplay")
	}

	v.SetEnvPrefix("HLSPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("requester.playlist_timeout", defaultRequesterPlaylistTimeout)
	v.SetDefault("requester.segment_timeout", defaultRequesterSegmentTimeout)
	v.SetDefault("requester.max_attempts", defaultRequesterMaxAttempts)
	v.SetDefault("requester.retry_base_delay", defaultRequesterRetryBase)
	v.SetDefault("requester.retry_max_delay", defaultRequesterRetryMax)

	v.SetDefault("media_element.buffer_goal", defaultBufferGoal)
	v.SetDefault("media_element.min_buffer_time_low", defaultMinBufferTimeLow)
	v.SetDefault("media_element.min_buffer_time_high", defaultMinBufferTimeHi)
	v.SetDefault("media_element.max_buffer_size", 100*1024*1024)

	v.SetDefault("adaptive.ewma_half_life_fast", defaultEWMAHalfLifeFast)
	v.SetDefault("adaptive.ewma_half_life_slow", defaultEWMAHalfLifeSlow)

	v.SetDefault("http.timeout", defaultHTTPTimeout)
	v.SetDefault("http.user_agent", "hlsplay/1.0")
	v.SetDefault("http.enable_decompression", true)
	v.SetDefault("http.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("http.circuit_timeout", defaultCircuitTimeout)

	v.SetDefault("storage.dsn", "hlsplay.db")
	v.SetDefault("storage.log_level", "warn")

	v.SetDefault("http_api.enabled", true)
	v.SetDefault("http_api.host", "127.0.0.1")
	v.SetDefault("http_api.port", defaultHTTPAPIPort)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Requester.MaxAttempts < 1 {
		return fmt.Errorf("requester.max_attempts must be at least 1")
	}
	if c.Requester.RetryMaxDelay < c.Requester.RetryBaseDelay {
		return fmt.Errorf("requester.retry_max_delay must be >= requester.retry_base_delay")
	}

	if c.MediaElement.MinBufferTimeLow > c.MediaElement.MinBufferTimeHigh {
		return fmt.Errorf("media_element.min_buffer_time_low must be <= min_buffer_time_high")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	const maxPort = 65535
	if c.HTTPAPI.Port < 1 || c.HTTPAPI.Port > maxPort {
		return fmt.Errorf("http_api.port must be between 1 and %d", maxPort)
	}

	return nil
}

// Address returns the debug HTTP API address in host:port format.
func (c *HTTPAPIConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
