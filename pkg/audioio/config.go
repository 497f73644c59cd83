// Package audioio moves PCM16 audio between devices and the voice pipeline.
//
// A Source captures microphone audio as AudioChunks and a Sink plays them.
// The device subpackage opens the system default devices through PortAudio;
// MockSource and MockSink in this package stand in for hardware in tests
// and headless runs.
package audioio

import (
	"fmt"
	"strings"
	"time"
)

// Backend selects the audio device implementation.
type Backend string

const (
	// BackendPortAudio uses the system default devices through PortAudio.
	BackendPortAudio Backend = "portaudio"
	// BackendMock uses generated silence and discards playback.
	BackendMock Backend = "mock"
)

// ParseBackend converts a backend name, case-insensitively.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(name))); b {
	case BackendPortAudio, BackendMock:
		return b, nil
	case "":
		return BackendPortAudio, nil
	default:
		return "", fmt.Errorf("audioio: unsupported backend %q", name)
	}
}

// Config holds audio stream parameters.
type Config struct {
	Backend Backend

	// SampleRate is the stream sample rate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int

	// BufferDuration is the length of one device buffer.
	BufferDuration time.Duration
}

// DefaultConfig returns the capture configuration: 16 kHz mono in 100ms
// buffers, the format speech recognition expects.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendPortAudio,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 100 * time.Millisecond,
	}
}

// DefaultPlaybackConfig returns the playback configuration for the given
// synthesis sample rate, in 40ms buffers.
func DefaultPlaybackConfig(sampleRate int) Config {
	return Config{
		Backend:        BackendPortAudio,
		SampleRate:     sampleRate,
		Channels:       1,
		BufferDuration: 40 * time.Millisecond,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("audioio: sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("audioio: channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("audioio: buffer duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// FramesPerBuffer returns the number of frames in one buffer.
func (c *Config) FramesPerBuffer() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferSamples returns the number of interleaved samples in one buffer.
func (c *Config) BufferSamples() int {
	return c.FramesPerBuffer() * c.Channels
}
