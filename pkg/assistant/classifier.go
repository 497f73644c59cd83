package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/teslashibe/go-voiceloop/pkg/inference"
)

// Classifier maps an utterance to an intent label with one short completion.
type Classifier struct {
	provider inference.Provider
	prompt   string
	config   *Config
	logger   *slog.Logger
}

// NewClassifier builds a Classifier. The label placeholders in
// promptTemplate are substituted once, here.
func NewClassifier(provider inference.Provider, labels Labels, promptTemplate string, opts ...Option) (*Classifier, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	if err := labels.Validate(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Apply(opts...)

	return &Classifier{
		provider: provider,
		prompt:   ClassificationPrompt(promptTemplate, labels),
		config:   cfg,
		logger:   cfg.Logger.With("component", "assistant.classifier"),
	}, nil
}

// ClassificationPrompt substitutes the two labels into template.
func ClassificationPrompt(template string, labels Labels) string {
	return strings.NewReplacer(
		PlaceholderPrimary, labels.Primary,
		PlaceholderSecondary, labels.Secondary,
	).Replace(template)
}

// Prompt returns the system prompt sent with every classification.
func (c *Classifier) Prompt() string {
	return c.prompt
}

// Classify returns the trimmed first choice for utterance. Rate limits,
// server errors and network failures are retried with exponential
// backoff up to the configured bound; other failures are returned at once
// as *UpstreamError.
func (c *Classifier) Classify(ctx context.Context, utterance string) (string, error) {
	req := &inference.ChatRequest{
		Messages: []inference.Message{
			inference.NewSystemMessage(c.prompt),
			inference.NewUserMessage(utterance),
		},
		MaxTokens: c.config.ClassifyMaxTokens,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.RetryInterval
	b.MaxInterval = 10 * c.config.RetryInterval

	resp, err := backoff.Retry(ctx, func() (*inference.ChatResponse, error) {
		resp, err := c.provider.Chat(ctx, req)
		if err != nil {
			if !inference.IsRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return resp, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.config.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("classification failed, retrying", "error", err, "backoff", next)
		}),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		return "", &UpstreamError{Op: "classify", Err: err}
	}

	label := strings.TrimSpace(resp.Message.Content)
	c.logger.Debug("classified intent", "label", label, "latency_ms", resp.LatencyMs)
	return label, nil
}
