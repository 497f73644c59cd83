// Package assistant turns an utterance into a spoken-style response using
// the completion capability.
//
// A Classifier maps the utterance to one of two configured intent labels
// with a single short completion. A Generator then picks the system prompt
// for that label and opens a streaming completion, exposed as a pull-based
// ResponseStream of text fragments.
package assistant

import (
	"log/slog"
	"time"
)

// Labels are the two intent subcategories a Classifier can return.
type Labels struct {
	Primary   string
	Secondary string
}

// Prompts are the system prompts used for each label.
type Prompts struct {
	Primary   string
	Secondary string
}

// Placeholders substituted into the classification prompt template.
const (
	PlaceholderPrimary   = "{intent_subcategory_1}"
	PlaceholderSecondary = "{intent_subcategory_2}"
)

// Config holds classifier and generator settings.
type Config struct {
	// ClassifyMaxTokens caps the classification answer.
	ClassifyMaxTokens int

	// ResponseMaxTokens caps generated responses. Zero leaves it to the provider.
	ResponseMaxTokens int

	// MaxRetries bounds extra classification attempts on retryable failures.
	MaxRetries int

	// RetryInterval is the first backoff interval between attempts.
	RetryInterval time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring the assistant.
type Option func(*Config)

// WithClassifyMaxTokens sets the classification token cap.
func WithClassifyMaxTokens(n int) Option {
	return func(c *Config) { c.ClassifyMaxTokens = n }
}

// WithResponseMaxTokens sets the response token cap.
func WithResponseMaxTokens(n int) Option {
	return func(c *Config) { c.ResponseMaxTokens = n }
}

// WithRetry configures classification retries.
func WithRetry(maxRetries int, interval time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryInterval = interval
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ClassifyMaxTokens: 50,
		MaxRetries:        2,
		RetryInterval:     200 * time.Millisecond,
		Logger:            slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the labels are usable.
func (l Labels) Validate() error {
	if l.Primary == "" || l.Secondary == "" {
		return ErrEmptyLabel
	}
	if l.Primary == l.Secondary {
		return ErrDuplicateLabel
	}
	return nil
}
