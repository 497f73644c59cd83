package tts

import (
	"log/slog"
	"time"
)

// Config holds TTS provider configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Service credentials and location
	APIKey  string
	Region  string
	BaseURL string // overrides the regional endpoint, e.g. for a proxy

	// Audio output
	OutputFormat Encoding
	UserAgent    string

	// Timeouts
	Timeout       time.Duration
	StreamTimeout time.Duration

	// Circuit breaker: open after BreakerFailures consecutive failures,
	// probe again after BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring TTS providers.
type Option func(*Config)

// WithAPIKey sets the subscription key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithRegion sets the service region, e.g. "westeurope".
func WithRegion(region string) Option {
	return func(c *Config) {
		c.Region = region
	}
}

// WithBaseURL overrides the regional endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithOutputFormat sets the audio output format.
func WithOutputFormat(format Encoding) Option {
	return func(c *Config) {
		c.OutputFormat = format
	}
}

// WithTimeout sets the request timeout for non-streaming requests.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithStreamTimeout sets the timeout for streaming requests.
func WithStreamTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.StreamTimeout = timeout
	}
}

// WithBreaker configures the circuit breaker.
func WithBreaker(failures uint32, cooldown time.Duration) Option {
	return func(c *Config) {
		c.BreakerFailures = failures
		c.BreakerCooldown = cooldown
	}
}

// WithLogger sets the structured logger for the provider.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		OutputFormat:    EncodingPCM24k,
		UserAgent:       "go-voiceloop",
		Timeout:         30 * time.Second,
		StreamTimeout:   60 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
		Logger:          slog.Default(),
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
	if c.Region == "" && c.BaseURL == "" {
		return ErrNoRegion
	}
	return nil
}
