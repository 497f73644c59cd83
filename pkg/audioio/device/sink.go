package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/teslashibe/go-voiceloop/pkg/audioio"
)

// Sink plays audio on the default output device through PortAudio.
// Writes are queued and played by a background loop.
type Sink struct {
	cfg    audioio.Config
	logger *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	out     []int16
	running bool
	stopped bool
	queue   chan []int16
	stopCh  chan struct{}
	done    chan struct{}

	// pending counts samples accepted by Write and not yet handed to the device.
	pending  atomic.Int64
	clearGen atomic.Uint64

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	underruns      atomic.Int64
}

func newSink(cfg audioio.Config, logger *slog.Logger) (*Sink, error) {
	return &Sink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.portaudio_sink"),
		queue:  make(chan []int16, 64),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start opens the default output stream.
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	if err := acquire(); err != nil {
		return err
	}

	s.out = make([]int16, s.cfg.BufferSamples())
	stream, err := portaudio.OpenDefaultStream(0, s.cfg.Channels, float64(s.cfg.SampleRate), s.cfg.FramesPerBuffer(), s.out)
	if err != nil {
		release()
		return fmt.Errorf("device: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return fmt.Errorf("device: start output stream: %w", err)
	}

	s.stream = stream
	s.running = true
	go s.playbackLoop(stream)

	s.logger.Info("speaker playback started", "sample_rate", s.cfg.SampleRate)
	return nil
}

// Write queues a chunk, converting it to the device format.
func (s *Sink) Write(ctx context.Context, chunk audioio.AudioChunk) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return io.ErrClosedPipe
	}

	samples := audioio.Convert(chunk, s.cfg.SampleRate, s.cfg.Channels).Samples
	if len(samples) == 0 {
		return nil
	}

	n := int64(len(samples))
	s.pending.Add(n)
	select {
	case s.queue <- samples:
		s.chunksWritten.Add(1)
		s.samplesWritten.Add(n)
		return nil
	case <-ctx.Done():
		s.pending.Add(-n)
		return ctx.Err()
	case <-s.stopCh:
		s.pending.Add(-n)
		return io.ErrClosedPipe
	}
}

// playbackLoop feeds the device one buffer at a time. A partial buffer
// is padded with silence once the queue runs dry.
func (s *Sink) playbackLoop(stream *portaudio.Stream) {
	defer close(s.done)

	var buf []int16
	gen := s.clearGen.Load()

	for {
		if g := s.clearGen.Load(); g != gen {
			s.pending.Add(-int64(len(buf)))
			buf = nil
			gen = g
		}

		if len(buf) >= len(s.out) {
			copy(s.out, buf)
			buf = buf[len(s.out):]
			s.write(stream)
			s.pending.Add(-int64(len(s.out)))
			continue
		}

		var samples []int16
		if len(buf) > 0 {
			select {
			case samples = <-s.queue:
			case <-s.stopCh:
				return
			default:
				n := copy(s.out, buf)
				clear(s.out[n:])
				buf = nil
				s.write(stream)
				s.pending.Add(-int64(n))
				continue
			}
		} else {
			select {
			case samples = <-s.queue:
			case <-s.stopCh:
				return
			}
		}
		buf = append(buf, samples...)
	}
}

func (s *Sink) write(stream *portaudio.Stream) {
	if err := stream.Write(); err != nil {
		if errors.Is(err, portaudio.OutputUnderflowed) {
			s.underruns.Add(1)
			return
		}
		s.logger.Warn("speaker write failed", "error", err)
	}
}

// Flush waits until every queued sample has been handed to the device.
func (s *Sink) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// Clear discards queued audio.
func (s *Sink) Clear() error {
	for {
		select {
		case samples := <-s.queue:
			s.pending.Add(-int64(len(samples)))
		default:
			s.clearGen.Add(1)
			return nil
		}
	}
}

// Stop halts playback and closes the device stream.
func (s *Sink) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	wasRunning, stream := s.running, s.stream
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	if !wasRunning {
		return nil
	}

	<-s.done
	stream.Stop()
	err := stream.Close()
	release()

	s.logger.Info("speaker playback stopped",
		"chunks", s.chunksWritten.Load(),
		"underruns", s.underruns.Load(),
	)
	return err
}

// Config returns the playback configuration.
func (s *Sink) Config() audioio.Config {
	return s.cfg
}

// Name returns "portaudio".
func (s *Sink) Name() string {
	return string(audioio.BackendPortAudio)
}

// Close stops playback.
func (s *Sink) Close() error {
	return s.Stop()
}

// Stats returns playback counters.
func (s *Sink) Stats() audioio.SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return audioio.SinkStats{
		ChunksWritten:   s.chunksWritten.Load(),
		SamplesWritten:  s.samplesWritten.Load(),
		Underruns:       s.underruns.Load(),
		Running:         running,
		Backend:         s.Name(),
		BufferedSamples: s.pending.Load(),
	}
}

var _ audioio.SinkWithStats = (*Sink)(nil)
