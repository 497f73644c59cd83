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

// Source captures the default input device through PortAudio.
type Source struct {
	cfg    audioio.Config
	logger *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	started bool
	stopped bool
	chunks  chan audioio.AudioChunk
	stopCh  chan struct{}
	done    chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newSource(cfg audioio.Config, logger *slog.Logger) (*Source, error) {
	return &Source{
		cfg:    cfg,
		logger: logger.With("component", "audioio.portaudio_source"),
		chunks: make(chan audioio.AudioChunk, 32),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start opens the default input stream and begins capture.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return io.ErrClosedPipe
	}
	if s.started {
		return nil
	}

	if err := acquire(); err != nil {
		return err
	}

	s.buf = make([]int16, s.cfg.BufferSamples())
	stream, err := portaudio.OpenDefaultStream(s.cfg.Channels, 0, float64(s.cfg.SampleRate), s.cfg.FramesPerBuffer(), s.buf)
	if err != nil {
		release()
		return fmt.Errorf("device: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return fmt.Errorf("device: start input stream: %w", err)
	}

	s.stream = stream
	s.started = true
	go s.captureLoop(ctx, stream)

	s.logger.Info("microphone capture started", "sample_rate", s.cfg.SampleRate)
	return nil
}

// captureLoop owns s.chunks and closes it on exit.
func (s *Source) captureLoop(ctx context.Context, stream *portaudio.Stream) {
	defer close(s.done)
	defer close(s.chunks)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				s.overruns.Add(1)
				continue
			}
			s.logger.Warn("microphone read failed", "error", err)
			select {
			case <-s.stopCh:
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		samples := make([]int16, len(s.buf))
		copy(samples, s.buf)
		chunk := audioio.AudioChunk{
			Samples:    samples,
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
			Captured:   time.Now(),
		}

		select {
		case s.chunks <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(samples)))
		default:
			s.overruns.Add(1)
		}
	}
}

// Stop halts capture and closes the device stream.
func (s *Source) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	started, stream := s.started, s.stream
	s.mu.Unlock()

	if !started {
		close(s.chunks)
		return nil
	}

	<-s.done
	stream.Stop()
	err := stream.Close()
	release()

	s.logger.Info("microphone capture stopped",
		"chunks", s.chunksRead.Load(),
		"overruns", s.overruns.Load(),
	)
	return err
}

// Read returns the next captured chunk, or io.EOF after Stop.
func (s *Source) Read(ctx context.Context) (audioio.AudioChunk, error) {
	select {
	case <-ctx.Done():
		return audioio.AudioChunk{}, ctx.Err()
	case chunk, ok := <-s.chunks:
		if !ok {
			return audioio.AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Config returns the capture configuration.
func (s *Source) Config() audioio.Config {
	return s.cfg
}

// Name returns "portaudio".
func (s *Source) Name() string {
	return string(audioio.BackendPortAudio)
}

// Close stops capture.
func (s *Source) Close() error {
	return s.Stop()
}

// Stats returns capture counters.
func (s *Source) Stats() audioio.SourceStats {
	s.mu.Lock()
	running := s.started && !s.stopped
	s.mu.Unlock()

	return audioio.SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     s.Name(),
	}
}

var _ audioio.SourceWithStats = (*Source)(nil)
