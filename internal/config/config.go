// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Synthesis providers.
const (
	ProviderHTTP = "http"
	ProviderExec = "exec"
)

// Static errors for configuration validation.
var (
	// ErrUnknownProvider is returned when SYNTH_PROVIDER is neither http nor exec.
	ErrUnknownProvider = errors.New("config: SYNTH_PROVIDER must be http or exec")
	// ErrSynthEndpointRequired is returned when the http provider has no SYNTH_ENDPOINT.
	ErrSynthEndpointRequired = errors.New("config: SYNTH_ENDPOINT is required for the http provider")
	// ErrSynthCommandRequired is returned when the exec provider has no SYNTH_COMMAND.
	ErrSynthCommandRequired = errors.New("config: SYNTH_COMMAND is required for the exec provider")
	// ErrInvalidConcurrency is returned when MAX_CONCURRENT_CHUNKS is below 1.
	ErrInvalidConcurrency = errors.New("config: MAX_CONCURRENT_CHUNKS must be at least 1")
	// ErrInvalidChunkChars is returned when MAX_CHUNK_CHARS is below 1.
	ErrInvalidChunkChars = errors.New("config: MAX_CHUNK_CHARS must be at least 1")
	// ErrInvalidTolerance is returned when ALIGN_TOLERANCE is outside [0, 1).
	ErrInvalidTolerance = errors.New("config: ALIGN_TOLERANCE must be in [0, 1)")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Storage settings
	TempDir      string `env:"TEMP_DIR, default=/tmp/voicetrack" json:"temp_dir"`
	DatabasePath string `env:"DATABASE_PATH" json:"database_path,omitempty"` // Empty keeps jobs in memory

	// Segmentation and synthesis settings
	MaxConcurrentChunks int           `env:"MAX_CONCURRENT_CHUNKS, default=3" json:"max_concurrent_chunks"`
	MaxChunkChars       int           `env:"MAX_CHUNK_CHARS, default=2000" json:"max_chunk_chars"`
	MaxChunkHardCap     int           `env:"MAX_CHUNK_HARD_CAP, default=0" json:"max_chunk_hard_cap"`
	SynthProvider       string        `env:"SYNTH_PROVIDER, default=http" json:"synth_provider"` // "http" or "exec"
	SynthEndpoint       string        `env:"SYNTH_ENDPOINT" json:"synth_endpoint,omitempty"`
	SynthAPIKey         string        `env:"SYNTH_API_KEY" json:"-"` // Masked in JSON
	SynthCommand        string        `env:"SYNTH_COMMAND" json:"synth_command,omitempty"`
	SynthTimeout        time.Duration `env:"SYNTH_TIMEOUT, default=5m" json:"synth_timeout"`

	// Audio settings
	EngineTimeout      time.Duration `env:"ENGINE_TIMEOUT, default=60s" json:"engine_timeout"`
	FFmpegPath         string        `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	FFprobePath        string        `env:"FFPROBE_PATH" json:"ffprobe_path,omitempty"`
	PauseBetweenChunks float64       `env:"PAUSE_BETWEEN_CHUNKS, default=0" json:"pause_between_chunks"`
	AlignTolerance     float64       `env:"ALIGN_TOLERANCE, default=0.1" json:"align_tolerance"`
	AutoAssemble       bool          `env:"AUTO_ASSEMBLE, default=true" json:"auto_assemble"`
	IntroFadeSec       float64       `env:"INTRO_FADE_SEC, default=3" json:"intro_fade_sec"`
	OutroFadeSec       float64       `env:"OUTRO_FADE_SEC, default=10" json:"outro_fade_sec"`
	OutroExtendSec     float64       `env:"OUTRO_EXTEND_SEC, default=5" json:"outro_extend_sec"`

	// Voice settings
	DefaultVoiceProvider string `env:"DEFAULT_VOICE_PROVIDER" json:"default_voice_provider,omitempty"`
	DefaultVoiceID       string `env:"DEFAULT_VOICE_ID" json:"default_voice_id,omitempty"`
	DefaultVoiceGender   string `env:"DEFAULT_VOICE_GENDER" json:"default_voice_gender,omitempty"`
	VoicesFile           string `env:"VOICES_FILE" json:"voices_file,omitempty"`

	// Optional NATS settings
	NATSURL     string `env:"NATS_URL" json:"nats_url,omitempty"`
	NATSSubject string `env:"NATS_SUBJECT, default=voicetrack.jobs" json:"nats_subject"`

	// Metrics settings
	MetricsEnabled bool `env:"METRICS_ENABLED, default=false" json:"metrics_enabled"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// NATSEnabled returns true if a NATS server is configured.
func (c *Config) NATSEnabled() bool {
	return c.NATSURL != ""
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

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	switch strings.ToLower(c.SynthProvider) {
	case ProviderHTTP:
		if c.SynthEndpoint == "" {
			return ErrSynthEndpointRequired
		}
	case ProviderExec:
		if c.SynthCommand == "" {
			return ErrSynthCommandRequired
		}
	default:
		return ErrUnknownProvider
	}
	if c.MaxConcurrentChunks < 1 {
		return ErrInvalidConcurrency
	}
	if c.MaxChunkChars < 1 {
		return ErrInvalidChunkChars
	}
	if c.AlignTolerance < 0 || c.AlignTolerance >= 1 {
		return ErrInvalidTolerance
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, DatabasePath: %s, SynthProvider: %s, SynthEndpoint: %s, SynthAPIKey: %s, MaxConcurrentChunks: %d, MaxChunkChars: %d, NATSURL: %s, S3Bucket: %s, S3Region: %s, AWSAccessKeyID: %s, AWSSecretAccessKey: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.DatabasePath,
		c.SynthProvider,
		c.SynthEndpoint,
		mask(c.SynthAPIKey),
		c.MaxConcurrentChunks,
		c.MaxChunkChars,
		c.NATSURL,
		c.S3Bucket,
		c.S3Region,
		mask(c.AWSAccessKeyID),
		mask(c.AWSSecretAccessKey),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
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
