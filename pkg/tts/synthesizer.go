package tts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-voiceloop/pkg/audioio"
)

// Status is the outcome of one synthesis call.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// CancellationReason explains a canceled synthesis.
type CancellationReason string

const (
	// ReasonError means the service or transport failed.
	ReasonError CancellationReason = "error"

	// ReasonCanceled means the caller's context ended first.
	ReasonCanceled CancellationReason = "canceled"
)

// Cancellation details a canceled synthesis.
type Cancellation struct {
	Reason CancellationReason
	Detail string
}

// SynthesisResult describes one synthesized sentence unit.
type SynthesisResult struct {
	Status       Status
	Cancellation *Cancellation

	// FirstByteLatency is the time from submission to the first audio byte.
	FirstByteLatency time.Duration

	// FinishLatency is the time from submission to the last audio byte.
	FinishLatency time.Duration

	// Bytes and Chunks count the audio received.
	Bytes  int
	Chunks int
}

// SynthesizerConfig wires a Synthesizer.
type SynthesizerConfig struct {
	Provider Provider
	Markup   *Markup // nil uses DefaultMarkup
	Language string
	Voice    string

	// Sink receives PCM audio as it arrives. Nil discards audio.
	Sink audioio.Sink

	Logger *slog.Logger
}

// Synthesizer renders markup for text units and plays the resulting audio.
// Calls must not overlap: the sink is an exclusive resource.
type Synthesizer struct {
	provider Provider
	markup   *Markup
	language string
	voice    string
	sink     audioio.Sink
	logger   *slog.Logger
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(cfg SynthesizerConfig) (*Synthesizer, error) {
	if cfg.Provider == nil {
		return nil, ErrProviderUnavailable
	}
	if cfg.Voice == "" {
		return nil, ErrNoVoice
	}
	if cfg.Markup == nil {
		cfg.Markup = DefaultMarkup()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Synthesizer{
		provider: cfg.Provider,
		markup:   cfg.Markup,
		language: cfg.Language,
		voice:    cfg.Voice,
		sink:     cfg.Sink,
		logger:   cfg.Logger.With("component", "tts.synthesizer"),
	}, nil
}

// Render builds the markup document for text at rate.
func (s *Synthesizer) Render(text, rate string) (string, error) {
	return s.markup.Render(Fields{
		Language: s.language,
		Voice:    s.voice,
		Rate:     rate,
		Text:     text,
	})
}

// SynthesizeBlocking submits text and waits for the complete audio, then
// plays it. On failure the result is canceled with the error as detail
// and no audio is played.
func (s *Synthesizer) SynthesizeBlocking(ctx context.Context, text, rate string) (*SynthesisResult, error) {
	start := time.Now()
	res := &SynthesisResult{}

	doc, err := s.Render(text, rate)
	if err != nil {
		return s.fail(ctx, res, start, err)
	}

	audio, err := s.provider.Synthesize(ctx, doc)
	if err != nil {
		return s.fail(ctx, res, start, err)
	}

	res.FirstByteLatency = time.Duration(audio.LatencyMs) * time.Millisecond
	res.FinishLatency = time.Duration(audio.TotalMs) * time.Millisecond
	res.Bytes = len(audio.Audio)
	if res.Bytes > 0 {
		res.Chunks = 1
	}

	if err := s.checkFormat(audio.Format); err != nil {
		return s.fail(ctx, res, start, err)
	}
	var carry []byte
	if err := s.play(ctx, &carry, audio.Audio, audio.Format); err != nil {
		return s.fail(ctx, res, start, err)
	}

	res.Status = StatusCompleted
	s.logger.Info("synthesis completed",
		"mode", "blocking",
		"first_byte_ms", res.FirstByteLatency.Milliseconds(),
		"finish_ms", res.FinishLatency.Milliseconds(),
		"bytes", res.Bytes,
	)
	return res, nil
}

// SynthesizeStreaming submits text and forwards audio to the sink in
// StreamBufferSize reads until the stream is exhausted, so playback starts
// before synthesis finishes.
func (s *Synthesizer) SynthesizeStreaming(ctx context.Context, text, rate string) (*SynthesisResult, error) {
	start := time.Now()
	res := &SynthesisResult{}

	doc, err := s.Render(text, rate)
	if err != nil {
		return s.fail(ctx, res, start, err)
	}

	stream, err := s.provider.Stream(ctx, doc)
	if err != nil {
		return s.fail(ctx, res, start, err)
	}
	defer stream.Close()

	format := stream.Format()
	if err := s.checkFormat(format); err != nil {
		return s.fail(ctx, res, start, err)
	}

	var carry []byte
	for {
		data, err := stream.Read()
		if err != nil {
			return s.fail(ctx, res, start, err)
		}
		if data == nil {
			break
		}

		if res.Chunks == 0 {
			res.FirstByteLatency = time.Since(start)
		}
		res.Chunks++
		res.Bytes += len(data)
		s.logger.Debug("audio chunk received", "chunk", res.Chunks, "bytes", len(data))

		if err := s.play(ctx, &carry, data, format); err != nil {
			return s.fail(ctx, res, start, err)
		}
	}

	res.FinishLatency = time.Since(start)
	res.Status = StatusCompleted
	s.logger.Info("synthesis completed",
		"mode", "streaming",
		"first_byte_ms", res.FirstByteLatency.Milliseconds(),
		"finish_ms", res.FinishLatency.Milliseconds(),
		"bytes", res.Bytes,
		"chunks", res.Chunks,
	)
	return res, nil
}

// Drain waits until queued audio has played.
func (s *Synthesizer) Drain(ctx context.Context) error {
	if s.sink == nil {
		return nil
	}
	return s.sink.Flush(ctx)
}

// Interrupt discards queued audio.
func (s *Synthesizer) Interrupt() error {
	if s.sink == nil {
		return nil
	}
	return s.sink.Clear()
}

func (s *Synthesizer) checkFormat(f AudioFormat) error {
	if s.sink != nil && !f.Encoding.IsRawPCM() {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Encoding)
	}
	return nil
}

// play writes whole PCM16 samples to the sink, holding back an odd
// trailing byte in carry until the next chunk completes it.
func (s *Synthesizer) play(ctx context.Context, carry *[]byte, data []byte, f AudioFormat) error {
	if s.sink == nil || len(data) == 0 {
		return nil
	}

	buf := append(*carry, data...)
	even := len(buf) &^ 1

	var chunk audioio.AudioChunk
	chunk.FromBytes(buf[:even], f.SampleRate, f.Channels)
	*carry = append((*carry)[:0], buf[even:]...)

	if len(chunk.Samples) == 0 {
		return nil
	}
	if err := s.sink.Write(ctx, chunk); err != nil {
		return fmt.Errorf("tts: play audio: %w", err)
	}
	return nil
}

func (s *Synthesizer) fail(ctx context.Context, res *SynthesisResult, start time.Time, err error) (*SynthesisResult, error) {
	reason := ReasonError
	if ctx.Err() != nil {
		reason = ReasonCanceled
	}

	res.Status = StatusCanceled
	res.Cancellation = &Cancellation{Reason: reason, Detail: err.Error()}
	if res.FinishLatency == 0 {
		res.FinishLatency = time.Since(start)
	}
	return res, err
}
