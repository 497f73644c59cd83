package stt

import (
	"log/slog"
	"time"
)

// Config holds recognizer configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	APIKey   string
	Region   string
	Endpoint string // overrides the regional WebSocket endpoint

	Language string

	// SilenceTimeout ends a phrase after this much trailing silence.
	// Zero leaves the service default.
	SilenceTimeout time.Duration

	// SampleRate is the rate audio is sent at; sources are resampled.
	SampleRate int

	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Option is a functional option for configuring recognizers.
type Option func(*Config)

// WithAPIKey sets the subscription key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithRegion sets the service region.
func WithRegion(region string) Option {
	return func(c *Config) { c.Region = region }
}

// WithEndpoint overrides the WebSocket endpoint, e.g. "ws://localhost:8080".
func WithEndpoint(url string) Option {
	return func(c *Config) { c.Endpoint = url }
}

// WithLanguage sets the recognition language, e.g. "en-US".
func WithLanguage(lang string) Option {
	return func(c *Config) { c.Language = lang }
}

// WithSilenceTimeout sets the segmentation silence timeout.
func WithSilenceTimeout(d time.Duration) Option {
	return func(c *Config) { c.SilenceTimeout = d }
}

// WithHandshakeTimeout bounds the WebSocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) { c.HandshakeTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SampleRate:       16000,
		HandshakeTimeout: 10 * time.Second,
		Logger:           slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	if c.Region == "" && c.Endpoint == "" {
		return ErrNoRegion
	}
	if c.Language == "" {
		return ErrNoLanguage
	}
	return nil
}
