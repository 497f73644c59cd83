// Package tts converts response text into played audio.
//
// A Markup renders an SSML document from a template, escaping every
// substituted value. A Provider submits that document to the synthesis
// service, either returning the whole audio buffer or an incremental
// AudioStream. The Synthesizer ties both together and forwards audio to an
// audioio.Sink as it arrives.
//
// Example usage:
//
//	provider, _ := tts.NewAzure(
//	    tts.WithAPIKey(os.Getenv("SPEECH_KEY")),
//	    tts.WithRegion("westeurope"),
//	)
//	defer provider.Close()
//
//	synth, _ := tts.NewSynthesizer(tts.SynthesizerConfig{
//	    Provider: provider,
//	    Language: "en-US",
//	    Voice:    "en-US-JennyNeural",
//	    Sink:     sink,
//	})
//	result, err := synth.SynthesizeStreaming(ctx, "Hello world.", "+10%")
package tts

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Provider submits markup documents to a speech synthesis service.
type Provider interface {
	// Synthesize converts a markup document to audio, returning the complete buffer.
	Synthesize(ctx context.Context, markup string) (*AudioResult, error)

	// Stream converts a markup document to audio, returning chunks as they arrive.
	Stream(ctx context.Context, markup string) (AudioStream, error)

	// Health checks provider connectivity and key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioStream is an incrementally read synthesis response.
// Callers should read until Read returns nil, then call Close.
type AudioStream interface {
	// Read returns the next audio chunk, at most StreamBufferSize bytes.
	// Returns nil when the stream is complete (not an error).
	Read() ([]byte, error)

	// Close stops the stream and releases resources.
	Close() error

	// Format returns the audio format metadata.
	Format() AudioFormat
}

// StreamBufferSize is the fixed read size for streamed audio.
const StreamBufferSize = 16 << 10

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the raw audio data in the specified format.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// Duration is the estimated audio playback duration.
	Duration time.Duration

	// LatencyMs is the time to first byte in milliseconds.
	LatencyMs int64

	// TotalMs is the time until the last byte in milliseconds.
	TotalMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// Encoding is a synthesis output format name as sent in
// X-Microsoft-OutputFormat.
type Encoding string

const (
	EncodingPCM16k Encoding = "raw-16khz-16bit-mono-pcm"
	EncodingPCM24k Encoding = "raw-24khz-16bit-mono-pcm"
	EncodingPCM48k Encoding = "raw-48khz-16bit-mono-pcm"
	EncodingWAV24k Encoding = "riff-24khz-16bit-mono-pcm"
	EncodingMP3    Encoding = "audio-24khz-48kbitrate-mono-mp3"
)

// IsRawPCM reports whether the encoding is headerless 16-bit PCM.
func (e Encoding) IsRawPCM() bool {
	return strings.HasPrefix(string(e), "raw-") && strings.Contains(string(e), "16bit")
}

// SampleRateFromEncoding extracts the sample rate from an encoding name,
// defaulting to 24 kHz.
func SampleRateFromEncoding(enc Encoding) int {
	for _, part := range strings.Split(string(enc), "-") {
		khz, ok := strings.CutSuffix(part, "khz")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(khz); err == nil && n > 0 {
			return n * 1000
		}
	}
	return 24000
}

// FormatFor returns the mono 16-bit format for enc.
func FormatFor(enc Encoding) AudioFormat {
	return AudioFormat{
		Encoding:   enc,
		SampleRate: SampleRateFromEncoding(enc),
		Channels:   1,
		BitDepth:   16,
	}
}

// estimateDuration estimates PCM16 playback time from a byte count.
func estimateDuration(f AudioFormat, n int) time.Duration {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	samples := n / 2 / f.Channels
	return time.Duration(float64(samples) / float64(f.SampleRate) * float64(time.Second))
}
