package tts

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
// All methods can be customized via function fields.
type Mock struct {
	// SynthesizeFunc is called when Synthesize is invoked.
	// If nil, returns silent PCM audio sized to the document.
	SynthesizeFunc func(ctx context.Context, markup string) (*AudioResult, error)

	// StreamFunc is called when Stream is invoked.
	// If nil, the Synthesize result is replayed in StreamBufferSize chunks.
	StreamFunc func(ctx context.Context, markup string) (AudioStream, error)

	// HealthFunc is called when Health is invoked.
	// If nil, returns nil (healthy).
	HealthFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	// If nil, returns nil.
	CloseFunc func() error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Markup string
	Time   time.Time
}

// NewMock creates a new mock provider with sensible defaults.
func NewMock() *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, markup string) (*AudioResult, error) {
			// 20ms of 24kHz PCM16 per markup byte
			format := FormatFor(EncodingPCM24k)
			silence := make([]byte, len(markup)*960)

			return &AudioResult{
				Audio:     silence,
				Format:    format,
				Duration:  estimateDuration(format, len(silence)),
				LatencyMs: 10,
				TotalMs:   20,
			}, nil
		},
		HealthFunc: func(ctx context.Context) error {
			return nil
		},
	}
}

// Synthesize calls SynthesizeFunc and records the call.
func (m *Mock) Synthesize(ctx context.Context, markup string) (*AudioResult, error) {
	m.recordCall("Synthesize", markup)
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, markup)
	}
	return nil, WrapError("mock", ErrProviderUnavailable)
}

// Stream calls StreamFunc and records the call.
func (m *Mock) Stream(ctx context.Context, markup string) (AudioStream, error) {
	m.recordCall("Stream", markup)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, markup)
	}
	if m.SynthesizeFunc != nil {
		result, err := m.SynthesizeFunc(ctx, markup)
		if err != nil {
			return nil, err
		}
		return NewBufferStream(result.Audio, result.Format), nil
	}
	return nil, WrapError("mock", ErrProviderUnavailable)
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.recordCall("Health", "")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.recordCall("Close", "")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *Mock) recordCall(method, markup string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Markup: markup,
		Time:   time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// LastCall returns the most recent call, or nil if none.
func (m *Mock) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, markup string) (*AudioResult, error) {
			return nil, err
		},
		StreamFunc: func(ctx context.Context, markup string) (AudioStream, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// WithLatency delays every Synthesize call by delay.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	original := m.SynthesizeFunc
	m.SynthesizeFunc = func(ctx context.Context, markup string) (*AudioResult, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if original != nil {
			return original(ctx, markup)
		}
		return nil, WrapError("mock", ErrProviderUnavailable)
	}
	return m
}

// bufferStream replays an in-memory buffer as an AudioStream.
type bufferStream struct {
	mu     sync.Mutex
	data   []byte
	format AudioFormat
	err    error
	closed bool
}

// NewBufferStream returns an AudioStream over data in StreamBufferSize chunks.
func NewBufferStream(data []byte, format AudioFormat) AudioStream {
	return &bufferStream{data: data, format: format}
}

// NewFailingStream returns an AudioStream that yields data, then fails with err.
func NewFailingStream(data []byte, format AudioFormat, err error) AudioStream {
	return &bufferStream{data: data, format: format, err: err}
}

func (s *bufferStream) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}
	if len(s.data) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, nil
	}

	n := min(len(s.data), StreamBufferSize)
	chunk := s.data[:n]
	s.data = s.data[n:]
	return chunk, nil
}

func (s *bufferStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *bufferStream) Format() AudioFormat {
	return s.format
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
