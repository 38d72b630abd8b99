// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Static errors for configuration validation.
var (
	// ErrInvalidPort is returned when PORT is outside 1-65535.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
	// ErrInvalidAssetTTL is returned when ASSET_TTL_SEC is not positive.
	ErrInvalidAssetTTL = errors.New("config: ASSET_TTL_SEC must be positive")
	// ErrInvalidAdvertisedExpiry is returned when ADVERTISED_EXPIRY_SEC is not positive.
	ErrInvalidAdvertisedExpiry = errors.New("config: ADVERTISED_EXPIRY_SEC must be positive")
	// ErrInvalidRemoteLimits is returned when the remote image fetch limits are not positive.
	ErrInvalidRemoteLimits = errors.New("config: REMOTE_FETCH_TIMEOUT_SEC and MAX_REMOTE_IMAGE_MB must be positive")
)

const (
	logFileMaxSizeMB  = 10
	logFileMaxBackups = 3
	logFileMaxAgeDays = 28
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port               int    `env:"PORT, default=8080" json:"port"`
	PublicURL          string `env:"PUBLIC_URL" json:"public_url,omitempty"`
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE, default=60" json:"rate_limit_per_minute"` // 0 disables

	// Asset settings
	AssetDir            string `env:"ASSET_DIR, default=/tmp/postframe" json:"asset_dir"`
	AssetTTLSec         int    `env:"ASSET_TTL_SEC, default=20" json:"asset_ttl_sec"`
	AdvertisedExpirySec int    `env:"ADVERTISED_EXPIRY_SEC, default=200" json:"advertised_expiry_sec"`

	// Rendering settings
	StaticDir             string `env:"STATIC_DIR, default=." json:"static_dir"`
	FontRegularPath       string `env:"FONT_REGULAR_PATH" json:"font_regular_path,omitempty"`
	FontBoldPath          string `env:"FONT_BOLD_PATH" json:"font_bold_path,omitempty"`
	RemoteFetchTimeoutSec int    `env:"REMOTE_FETCH_TIMEOUT_SEC, default=10" json:"remote_fetch_timeout_sec"`
	MaxRemoteImageMB      int    `env:"MAX_REMOTE_IMAGE_MB, default=15" json:"max_remote_image_mb"`

	// Video settings
	FFmpegPath string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"` // empty searches PATH

	// Optional S3 mirror settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
	LogFile   string `env:"LOG_FILE" json:"log_file,omitempty"`        // rotated copy of stdout logs
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// AssetTTL returns how long stored assets stay on disk.
func (c *Config) AssetTTL() time.Duration {
	return time.Duration(c.AssetTTLSec) * time.Second
}

// RemoteFetchTimeout returns the per-request timeout for remote images.
func (c *Config) RemoteFetchTimeout() time.Duration {
	return time.Duration(c.RemoteFetchTimeoutSec) * time.Second
}

// MaxRemoteImageBytes returns the download cap for remote images.
func (c *Config) MaxRemoteImageBytes() int64 {
	return int64(c.MaxRemoteImageMB) << 20
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that numeric settings are usable.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.AssetTTLSec <= 0 {
		return ErrInvalidAssetTTL
	}
	if c.AdvertisedExpirySec <= 0 {
		return ErrInvalidAdvertisedExpiry
	}
	if c.RemoteFetchTimeoutSec <= 0 || c.MaxRemoteImageMB <= 0 {
		return ErrInvalidRemoteLimits
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs. When LogFile is set the
// same records are also written to a size-rotated file; the returned Closer
// releases it.
func (c *Config) NewLogger() (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if c.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    logFileMaxSizeMB,
			MaxBackups: logFileMaxBackups,
			MaxAge:     logFileMaxAgeDays,
		}
		out = io.MultiWriter(os.Stdout, lj)
		closer = lj
	}

	return slog.New(c.newHandler(out)), closer
}

func (c *Config) newHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}
	if strings.ToLower(c.LogFormat) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, PublicURL: %s, AssetDir: %s, AssetTTLSec: %d, AdvertisedExpirySec: %d, StaticDir: %s, FFmpegPath: %s, RateLimitPerMinute: %d, S3Bucket: %s, S3Region: %s, S3Endpoint: %s, LogFormat: %s, LogLevel: %s, LogFile: %s}",
		c.Port,
		c.PublicURL,
		c.AssetDir,
		c.AssetTTLSec,
		c.AdvertisedExpirySec,
		c.StaticDir,
		c.FFmpegPath,
		c.RateLimitPerMinute,
		c.S3Bucket,
		c.S3Region,
		c.S3Endpoint,
		c.LogFormat,
		c.LogLevel,
		c.LogFile,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
