package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/teslashibe/go-voiceloop/internal/httpc"
)

const providerAzure = "azure"

// Azure implements Provider for the Azure Speech text-to-speech REST API.
type Azure struct {
	config  *Config
	client  *http.Client
	stream  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	baseURL string
}

// NewAzure creates a new Azure TTS provider.
func NewAzure(opts ...Option) (*Azure, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.tts.speech.microsoft.com", cfg.Region)
	}

	logger := cfg.Logger.With("component", "tts.azure")

	a := &Azure{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		stream:  httpc.NewStreamingClient(cfg.StreamTimeout),
		logger:  logger,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}

	failures := cfg.BreakerFailures
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tts-azure",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return a, nil
}

// Synthesize converts a markup document to audio, returning the complete buffer.
func (a *Azure) Synthesize(ctx context.Context, markup string) (*AudioResult, error) {
	start := time.Now()

	resp, err := a.post(ctx, a.client, markup)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var (
		audio     []byte
		firstByte time.Duration
		buf       = make([]byte, StreamBufferSize)
	)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if audio == nil {
				firstByte = time.Since(start)
			}
			audio = append(audio, buf[:n]...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, WrapError(providerAzure, fmt.Errorf("read response: %w", err))
		}
	}
	total := time.Since(start)

	format := FormatFor(a.config.OutputFormat)

	a.logger.Debug("synthesized audio",
		"bytes", len(audio),
		"first_byte_ms", firstByte.Milliseconds(),
		"total_ms", total.Milliseconds(),
	)

	return &AudioResult{
		Audio:     audio,
		Format:    format,
		Duration:  estimateDuration(format, len(audio)),
		LatencyMs: firstByte.Milliseconds(),
		TotalMs:   total.Milliseconds(),
	}, nil
}

// Stream converts a markup document to audio with streaming output.
func (a *Azure) Stream(ctx context.Context, markup string) (AudioStream, error) {
	resp, err := a.post(ctx, a.stream, markup)
	if err != nil {
		return nil, err
	}

	return &httpStream{
		body:   resp.Body,
		format: FormatFor(a.config.OutputFormat),
		buf:    make([]byte, StreamBufferSize),
	}, nil
}

// Health checks connectivity and key validity by listing voices.
func (a *Azure) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/cognitiveservices/voices/list", nil)
	if err != nil {
		return WrapError(providerAzure, err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.config.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return WrapError(providerAzure, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return a.parseError(resp)
	}
	return nil
}

// Close releases resources held by the provider.
func (a *Azure) Close() error {
	a.client.CloseIdleConnections()
	a.stream.CloseIdleConnections()
	return nil
}

// BreakerState returns the circuit breaker state.
func (a *Azure) BreakerState() gobreaker.State {
	return a.breaker.State()
}

// post submits markup through the circuit breaker and returns a response
// with status 200. Server errors, throttling and transport failures count
// against the breaker; client errors and cancellation do not.
func (a *Azure) post(ctx context.Context, client *http.Client, markup string) (*http.Response, error) {
	var callErr error

	out, err := a.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.baseURL+"/cognitiveservices/v1", strings.NewReader(markup))
		if err != nil {
			callErr = WrapError(providerAzure, fmt.Errorf("create request: %w", err))
			return nil, nil
		}
		a.setHeaders(req)

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				callErr = WrapError(providerAzure, ctx.Err())
				return nil, nil
			}
			return nil, WrapError(providerAzure, fmt.Errorf("synthesis request: %w", err))
		}

		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			apiErr := a.parseError(resp)
			if apiErr.IsRetryable() {
				return nil, apiErr
			}
			callErr = apiErr
			return nil, nil
		}
		return resp, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, WrapError(providerAzure, ErrCircuitOpen)
	}
	if err != nil {
		return nil, err
	}
	if callErr != nil {
		return nil, callErr
	}
	return out.(*http.Response), nil
}

// setHeaders sets required HTTP headers.
func (a *Azure) setHeaders(req *http.Request) {
	req.Header.Set("Ocp-Apim-Subscription-Key", a.config.APIKey)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", string(a.config.OutputFormat))
	req.Header.Set("User-Agent", a.config.UserAgent)
}

// parseError reads an error response. The service usually returns an
// empty body, so the status text stands in for the message.
func (a *Azure) parseError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Provider:   providerAzure,
	}
}

// httpStream wraps an HTTP response body as AudioStream.
type httpStream struct {
	body   io.ReadCloser
	format AudioFormat
	buf    []byte
	eof    bool
	closed bool
}

// Read returns the next audio chunk. Every chunk but the last is exactly
// StreamBufferSize bytes.
func (s *httpStream) Read() ([]byte, error) {
	if s.closed {
		return nil, ErrStreamClosed
	}
	if s.eof {
		return nil, nil
	}

	n, err := io.ReadFull(s.body, s.buf)
	switch {
	case errors.Is(err, io.EOF):
		s.eof = true
		return nil, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.eof = true
	case err != nil:
		return nil, WrapError(providerAzure, fmt.Errorf("read stream: %w", err))
	}

	chunk := make([]byte, n)
	copy(chunk, s.buf[:n])
	return chunk, nil
}

// Close stops the stream.
func (s *httpStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// Format returns the audio format.
func (s *httpStream) Format() AudioFormat {
	return s.format
}

// Verify Azure implements Provider at compile time.
var _ Provider = (*Azure)(nil)
