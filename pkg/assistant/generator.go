package assistant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/teslashibe/go-voiceloop/pkg/inference"
)

// Generator opens streaming responses for classified utterances.
type Generator struct {
	provider inference.Provider
	labels   Labels
	prompts  Prompts
	config   *Config
	logger   *slog.Logger
}

// NewGenerator builds a Generator.
func NewGenerator(provider inference.Provider, labels Labels, prompts Prompts, opts ...Option) (*Generator, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	if err := labels.Validate(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Apply(opts...)

	return &Generator{
		provider: provider,
		labels:   labels,
		prompts:  prompts,
		config:   cfg,
		logger:   cfg.Logger.With("component", "assistant.generator"),
	}, nil
}

// PromptFor returns the system prompt for label, or an
// *UnclassifiedIntentError when label matches neither subcategory exactly.
func (g *Generator) PromptFor(label string) (string, error) {
	switch label {
	case g.labels.Primary:
		return g.prompts.Primary, nil
	case g.labels.Secondary:
		return g.prompts.Secondary, nil
	default:
		return "", &UnclassifiedIntentError{Label: label}
	}
}

// Respond opens a streaming completion for utterance under the prompt
// selected by label. The caller owns the returned stream and must Close it.
func (g *Generator) Respond(ctx context.Context, label, utterance string) (*ResponseStream, error) {
	prompt, err := g.PromptFor(label)
	if err != nil {
		return nil, err
	}

	stream, err := g.provider.Stream(ctx, &inference.ChatRequest{
		Messages: []inference.Message{
			inference.NewSystemMessage(prompt),
			inference.NewUserMessage(utterance),
		},
		MaxTokens: g.config.ResponseMaxTokens,
	})
	if err != nil {
		return nil, &UpstreamError{Op: "generate", Err: err}
	}

	g.logger.Debug("response stream opened", "label", label)
	return &ResponseStream{ctx: ctx, stream: stream}, nil
}

// ResponseStream is a lazy, forward-only sequence of text fragments from
// one completion. It is not safe for concurrent Next calls, but Close may
// be called from any goroutine to abandon it.
type ResponseStream struct {
	ctx    context.Context
	stream inference.Stream

	mu     sync.Mutex
	closed bool
	done   bool
	text   strings.Builder
}

// Next returns the next non-empty fragment. It returns io.EOF once the
// completion has finished and ErrStreamClosed after Close. Chunks without
// content are skipped.
func (r *ResponseStream) Next() (string, error) {
	for {
		if r.isClosed() {
			return "", ErrStreamClosed
		}
		if r.done {
			return "", io.EOF
		}
		if err := r.ctx.Err(); err != nil {
			return "", err
		}

		chunk, err := r.stream.Recv()
		if err != nil {
			if r.isClosed() || errors.Is(err, inference.ErrStreamClosed) {
				return "", ErrStreamClosed
			}
			if ctxErr := r.ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", &UpstreamError{Op: "stream", Err: err}
		}
		if chunk == nil {
			r.done = true
			continue
		}

		r.done = chunk.Done
		if chunk.Delta == "" {
			continue
		}

		r.text.WriteString(chunk.Delta)
		return chunk.Delta, nil
	}
}

// Text returns every fragment returned so far, concatenated.
func (r *ResponseStream) Text() string {
	return r.text.String()
}

// Close abandons the stream and releases its connection. Idempotent.
func (r *ResponseStream) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.stream.Close()
}

func (r *ResponseStream) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
