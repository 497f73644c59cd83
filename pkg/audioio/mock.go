package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is an audio source for tests and headless runs. By default
// it produces silence every BufferDuration until stopped; WithChunks
// replays a fixed script and then reports io.EOF.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	chunks  chan AudioChunk
	stopCh  chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64

	script    []AudioChunk
	scripted  bool
	phase     float64
	frequency float64
	amplitude float64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave generates a tone instead of silence.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithChunks replays chunks in order, without pacing, then ends the
// stream so Read returns io.EOF.
func WithChunks(chunks ...AudioChunk) MockSourceOption {
	return func(m *MockSource) {
		m.script = chunks
		m.scripted = true
	}
}

// NewMockSource creates a mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger.With("component", "audioio.mock_source"),
		chunks:    make(chan AudioChunk, 10),
		stopCh:    make(chan struct{}),
		amplitude: 0.5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins producing audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return io.ErrClosedPipe
	}
	if m.started {
		return nil
	}
	m.started = true

	if m.scripted {
		go m.replayLoop(ctx)
	} else {
		go m.generateLoop(ctx)
	}

	m.logger.Debug("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"scripted", m.scripted,
	)
	return nil
}

// replayLoop owns m.chunks and closes it when the script ends.
func (m *MockSource) replayLoop(ctx context.Context) {
	defer close(m.chunks)

	for _, chunk := range m.script {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case m.chunks <- chunk:
			m.count(chunk)
		}
	}
}

// generateLoop owns m.chunks and closes it on stop.
func (m *MockSource) generateLoop(ctx context.Context) {
	defer close(m.chunks)

	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			chunk := m.generateChunk()
			select {
			case m.chunks <- chunk:
				m.count(chunk)
			default:
				m.overruns.Add(1)
			}
		}
	}
}

func (m *MockSource) count(chunk AudioChunk) {
	m.chunksRead.Add(1)
	m.samplesRead.Add(int64(len(chunk.Samples)))
}

func (m *MockSource) generateChunk() AudioChunk {
	frames := m.cfg.FramesPerBuffer()
	samples := make([]int16, frames*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < frames; i++ {
			v := int16(m.amplitude * 32767 * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = v
			}
			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	return AudioChunk{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
		Captured:   time.Now(),
	}
}

// Stop ends the stream. Reads drain any buffered chunks, then return io.EOF.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true
	close(m.stopCh)
	if !m.started {
		close(m.chunks)
	}

	m.logger.Debug("mock audio source stopped")
	return nil
}

// Read returns the next chunk.
func (m *MockSource) Read(ctx context.Context) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-m.chunks:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return string(BackendMock)
}

// Close stops the source.
func (m *MockSource) Close() error {
	return m.Stop()
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.started && !m.stopped
	m.mu.Unlock()

	return SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Running:     running,
		Backend:     string(BackendMock),
	}
}

var _ SourceWithStats = (*MockSource)(nil)

// MockSink is an audio sink for tests and headless runs. It records
// everything written and never blocks.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	queued   []AudioChunk
	written  []AudioChunk
	writeErr error
	flushes  int
	clears   int

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
}

// NewMockSink creates a mock audio sink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.mock_sink"),
	}
}

// Start begins accepting audio.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	m.running = true
	return nil
}

// Stop halts audio acceptance.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// FailWrites makes every later Write return err. Nil restores success.
func (m *MockSink) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Write records a chunk converted to the sink format.
func (m *MockSink) Write(ctx context.Context, chunk AudioChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.running {
		return io.ErrClosedPipe
	}
	if m.writeErr != nil {
		return m.writeErr
	}

	chunk = Convert(chunk, m.cfg.SampleRate, m.cfg.Channels)
	m.queued = append(m.queued, chunk)
	m.written = append(m.written, chunk)
	m.chunksWritten.Add(1)
	m.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Flush marks queued audio as played.
func (m *MockSink) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = nil
	m.flushes++
	return nil
}

// Clear discards queued audio.
func (m *MockSink) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = nil
	m.clears++
	return nil
}

// Written returns every chunk accepted since creation or Reset.
func (m *MockSink) Written() []AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AudioChunk, len(m.written))
	copy(out, m.written)
	return out
}

// WrittenBytes returns the accepted audio as little-endian PCM16.
func (m *MockSink) WrittenBytes() []byte {
	var out []byte
	for _, c := range m.Written() {
		out = append(out, c.Bytes()...)
	}
	return out
}

// Flushes returns how many times Flush succeeded.
func (m *MockSink) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Clears returns how many times Clear was called.
func (m *MockSink) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// Reset forgets recorded chunks and counters.
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = nil
	m.written = nil
	m.flushes = 0
	m.clears = 0
	m.chunksWritten.Store(0)
	m.samplesWritten.Store(0)
}

// Config returns the audio configuration.
func (m *MockSink) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return string(BackendMock)
}

// Close releases the sink.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.running = false
	return nil
}

// Stats returns sink statistics.
func (m *MockSink) Stats() SinkStats {
	m.mu.Lock()
	running := m.running
	var buffered int64
	for _, c := range m.queued {
		buffered += int64(len(c.Samples))
	}
	m.mu.Unlock()

	return SinkStats{
		ChunksWritten:   m.chunksWritten.Load(),
		SamplesWritten:  m.samplesWritten.Load(),
		Running:         running,
		Backend:         string(BackendMock),
		BufferedSamples: buffered,
	}
}

var _ SinkWithStats = (*MockSink)(nil)
