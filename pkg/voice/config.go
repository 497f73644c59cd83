package voice

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teslashibe/go-voiceloop/internal/telemetry"
)

// SynthesisMode selects how sentence units are spoken.
type SynthesisMode string

const (
	// SynthesisStreaming plays audio while it is being synthesized.
	SynthesisStreaming SynthesisMode = "streaming"

	// SynthesisBlocking waits for the complete audio of a unit before
	// playing it.
	SynthesisBlocking SynthesisMode = "blocking"
)

// Config holds the tunable parameters of a Loop.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Turn handling
	StopPhrase    string // ends the loop when recognized on its own (default: "stop")
	FallbackReply string // spoken when the intent is unclassified; empty re-listens silently

	// Synthesis
	SpeechRate string        // prosody rate passed to every synthesis call, e.g. "+10%"
	Mode       SynthesisMode // default: streaming
	QueueDepth int           // sentence units buffered ahead of synthesis; 0 speaks inline (default: 1)

	// Recognition failures back off from RetryInitial up to RetryMax
	// before the next attempt.
	RetryInitial time.Duration
	RetryMax     time.Duration

	Metrics *MetricsCollector
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

// Option is a functional option for configuring a Loop.
type Option func(*Config)

// WithStopPhrase sets the phrase that ends the loop.
func WithStopPhrase(phrase string) Option {
	return func(c *Config) { c.StopPhrase = phrase }
}

// WithFallbackReply sets the reply spoken for unclassified intents.
func WithFallbackReply(reply string) Option {
	return func(c *Config) { c.FallbackReply = reply }
}

// WithSpeechRate sets the prosody rate.
func WithSpeechRate(rate string) Option {
	return func(c *Config) { c.SpeechRate = rate }
}

// WithSynthesisMode selects streaming or blocking synthesis.
func WithSynthesisMode(mode SynthesisMode) Option {
	return func(c *Config) { c.Mode = mode }
}

// WithQueueDepth sets how many sentence units may wait for synthesis
// while generation continues. Zero speaks each unit inline.
func WithQueueDepth(n int) Option {
	return func(c *Config) { c.QueueDepth = n }
}

// WithRecognitionBackoff bounds the pause after a failed recognition.
func WithRecognitionBackoff(initial, max time.Duration) Option {
	return func(c *Config) {
		c.RetryInitial = initial
		c.RetryMax = max
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *MetricsCollector) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithTracer sets the tracer used for turn and stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Config) { c.Tracer = t }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StopPhrase:   "stop",
		SpeechRate:   "+0%",
		Mode:         SynthesisStreaming,
		QueueDepth:   1,
		RetryInitial: 250 * time.Millisecond,
		RetryMax:     5 * time.Second,
		Tracer:       telemetry.Tracer("github.com/teslashibe/go-voiceloop/pkg/voice"),
		Logger:       slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if NormalizePhrase(c.StopPhrase) == "" {
		return ErrNoStopPhrase
	}
	switch c.Mode {
	case SynthesisStreaming, SynthesisBlocking:
	default:
		return fmt.Errorf("voice: unknown synthesis mode %q", c.Mode)
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("voice: queue depth must be >= 0, got %d", c.QueueDepth)
	}
	if c.RetryInitial <= 0 || c.RetryMax < c.RetryInitial {
		return fmt.Errorf("voice: invalid recognition backoff %v..%v", c.RetryInitial, c.RetryMax)
	}
	return nil
}
