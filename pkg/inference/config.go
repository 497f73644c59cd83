package inference

import (
	"log/slog"
	"time"
)

// Config holds provider configuration.
type Config struct {
	// Connection
	BaseURL string // OpenAI-compatible base URL, or the Azure resource endpoint
	APIKey  string

	// Azure selects Azure OpenAI routing: deployment-scoped paths, an
	// api-version query parameter and the api-key header.
	Azure      bool
	Deployment string
	APIVersion string

	// Model is the default chat model for OpenAI-compatible endpoints.
	Model string

	// Request defaults
	MaxTokens   int
	Temperature float64

	// Timeouts
	Timeout       time.Duration
	StreamTimeout time.Duration

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithBaseURL sets an OpenAI-compatible API base URL.
// Examples: "https://api.openai.com/v1", "http://localhost:11434/v1"
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
		c.Azure = false
	}
}

// WithAzure targets an Azure OpenAI deployment.
// endpoint is the resource URL, e.g. "https://my-resource.openai.azure.com".
func WithAzure(endpoint, deployment, apiVersion string) Option {
	return func(c *Config) {
		c.BaseURL = endpoint
		c.Azure = true
		c.Deployment = deployment
		if apiVersion != "" {
			c.APIVersion = apiVersion
		}
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the default chat model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithStreamTimeout sets the streaming request timeout.
func WithStreamTimeout(d time.Duration) Option {
	return func(c *Config) { c.StreamTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultAPIVersion is the Azure OpenAI REST API version used when none is set.
const DefaultAPIVersion = "2023-05-15"

// DefaultConfig returns sensible defaults for OpenAI.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "https://api.openai.com/v1",
		APIVersion:    DefaultAPIVersion,
		Model:         "gpt-4o-mini",
		Timeout:       30 * time.Second,
		StreamTimeout: 120 * time.Second,
		Logger:        slog.Default(),
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
	if c.BaseURL == "" {
		return ErrNoEndpoint
	}
	if c.Azure {
		// Azure always requires a key and a deployment.
		if c.APIKey == "" {
			return ErrNoAPIKey
		}
		if c.Deployment == "" {
			return ErrNoDeployment
		}
	}
	return nil
}
