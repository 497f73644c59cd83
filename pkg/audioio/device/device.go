// Package device opens the system default microphone and speaker.
package device

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/teslashibe/go-voiceloop/pkg/audioio"
)

var (
	paMu   sync.Mutex
	paRefs int
)

// acquire initializes PortAudio for the first open stream.
func acquire() error {
	paMu.Lock()
	defer paMu.Unlock()

	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("device: initialize portaudio: %w", err)
		}
	}
	paRefs++
	return nil
}

// release terminates PortAudio after the last stream closes.
func release() {
	paMu.Lock()
	defer paMu.Unlock()

	if paRefs == 0 {
		return
	}
	paRefs--
	if paRefs == 0 {
		portaudio.Terminate()
	}
}

// OpenSource returns a capture source for cfg.Backend.
func OpenSource(cfg audioio.Config, logger *slog.Logger) (audioio.Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening audio source",
		"backend", cfg.Backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch cfg.Backend {
	case audioio.BackendMock:
		return audioio.NewMockSource(cfg, logger), nil
	case audioio.BackendPortAudio:
		return newSource(cfg, logger)
	default:
		return nil, fmt.Errorf("device: unsupported backend %q", cfg.Backend)
	}
}

// OpenSink returns a playback sink for cfg.Backend.
func OpenSink(cfg audioio.Config, logger *slog.Logger) (audioio.Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening audio sink",
		"backend", cfg.Backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch cfg.Backend {
	case audioio.BackendMock:
		return audioio.NewMockSink(cfg, logger), nil
	case audioio.BackendPortAudio:
		return newSink(cfg, logger)
	default:
		return nil, fmt.Errorf("device: unsupported backend %q", cfg.Backend)
	}
}
