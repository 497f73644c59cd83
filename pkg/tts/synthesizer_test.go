package tts

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-voiceloop/internal/log"
	"github.com/teslashibe/go-voiceloop/pkg/audioio"
)

// chunkStream yields fixed chunks, for exercising odd chunk boundaries.
type chunkStream struct {
	chunks [][]byte
	format AudioFormat
	closed bool
}

func (s *chunkStream) Read() ([]byte, error) {
	if s.closed {
		return nil, ErrStreamClosed
	}
	if len(s.chunks) == 0 {
		return nil, nil
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *chunkStream) Close() error        { s.closed = true; return nil }
func (s *chunkStream) Format() AudioFormat { return s.format }

func newTestSynth(t *testing.T, p Provider) (*Synthesizer, *audioio.MockSink) {
	t.Helper()

	sink := audioio.NewMockSink(audioio.DefaultPlaybackConfig(24000), log.Discard())
	require.NoError(t, sink.Start(context.Background()))

	s, err := NewSynthesizer(SynthesizerConfig{
		Provider: p,
		Language: "en-US",
		Voice:    "en-US-JennyNeural",
		Sink:     sink,
		Logger:   log.Discard(),
	})
	require.NoError(t, err)
	return s, sink
}

func TestSynthesizeStreamingForwardsAudio(t *testing.T) {
	stream := &chunkStream{
		chunks: [][]byte{{1, 0, 2}, {0, 3, 0}, {4, 0}},
		format: FormatFor(EncodingPCM24k),
	}
	mock := NewMock()
	mock.StreamFunc = func(ctx context.Context, markup string) (AudioStream, error) {
		return stream, nil
	}
	s, sink := newTestSynth(t, mock)

	res, err := s.SynthesizeStreaming(context.Background(), "Fish & chips.", "+10%")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Nil(t, res.Cancellation)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 8, res.Bytes)
	assert.LessOrEqual(t, res.FirstByteLatency, res.FinishLatency)

	// Odd chunk boundaries never split a sample.
	assert.Equal(t, []byte{1, 0, 2, 0, 3, 0, 4, 0}, sink.WrittenBytes())
	assert.True(t, stream.closed)

	last := mock.LastCall()
	require.NotNil(t, last)
	assert.Equal(t, "Stream", last.Method)
	assert.Contains(t, last.Markup, "Fish &amp; chips.")
	assert.Contains(t, last.Markup, `rate="+10%"`)
}

func TestSynthesizeStreamingFailure(t *testing.T) {
	format := FormatFor(EncodingPCM24k)
	mock := NewMock()
	mock.StreamFunc = func(ctx context.Context, markup string) (AudioStream, error) {
		return NewFailingStream(make([]byte, 100), format, errors.New("connection reset")), nil
	}
	s, sink := newTestSynth(t, mock)

	res, err := s.SynthesizeStreaming(context.Background(), "Hello.", "+0%")
	require.Error(t, err)

	assert.Equal(t, StatusCanceled, res.Status)
	require.NotNil(t, res.Cancellation)
	assert.Equal(t, ReasonError, res.Cancellation.Reason)
	assert.Equal(t, "connection reset", res.Cancellation.Detail)
	assert.Equal(t, 100, res.Bytes)
	assert.Len(t, sink.WrittenBytes(), 100)
}

func TestSynthesizeStreamingCanceled(t *testing.T) {
	mock := NewMock()
	mock.StreamFunc = func(ctx context.Context, markup string) (AudioStream, error) {
		return nil, WrapError("mock", ctx.Err())
	}
	s, _ := newTestSynth(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := s.SynthesizeStreaming(ctx, "Hello.", "+0%")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCanceled, res.Status)
	assert.Equal(t, ReasonCanceled, res.Cancellation.Reason)
}

func TestSynthesizeUnsupportedFormat(t *testing.T) {
	mock := NewMock()
	mock.StreamFunc = func(ctx context.Context, markup string) (AudioStream, error) {
		return NewBufferStream([]byte{1, 2, 3}, FormatFor(EncodingMP3)), nil
	}
	s, sink := newTestSynth(t, mock)

	res, err := s.SynthesizeStreaming(context.Background(), "Hi.", "+0%")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Equal(t, StatusCanceled, res.Status)
	assert.Empty(t, sink.Written())

	// Without a sink the audio is only counted.
	quiet, err := NewSynthesizer(SynthesizerConfig{Provider: mock, Voice: "v", Logger: log.Discard()})
	require.NoError(t, err)
	res, err = quiet.SynthesizeStreaming(context.Background(), "Hi.", "+0%")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Bytes)
}

func TestSynthesizeBlocking(t *testing.T) {
	mock := NewMock()
	s, sink := newTestSynth(t, mock)

	res, err := s.SynthesizeBlocking(context.Background(), "Hi.", "+0%")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 10, int(res.FirstByteLatency.Milliseconds()))
	assert.Equal(t, 20, int(res.FinishLatency.Milliseconds()))
	assert.Equal(t, res.Bytes, len(sink.WrittenBytes()))
	assert.True(t, bytes.Equal(make([]byte, res.Bytes), sink.WrittenBytes()))
	assert.Equal(t, 1, mock.CallCount("Synthesize"))
	assert.Equal(t, 0, mock.CallCount("Stream"))
}

func TestSynthesizeBlockingFailurePlaysNothing(t *testing.T) {
	apiErr := &APIError{StatusCode: 503, Message: "busy", Provider: "mock"}
	s, sink := newTestSynth(t, WithError(apiErr))

	res, err := s.SynthesizeBlocking(context.Background(), "Hi.", "+0%")

	var got *APIError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, StatusCanceled, res.Status)
	assert.Equal(t, ReasonError, res.Cancellation.Reason)
	assert.Contains(t, res.Cancellation.Detail, "busy")
	assert.Empty(t, sink.Written())
}

func TestSynthesizerSinkFailure(t *testing.T) {
	s, sink := newTestSynth(t, NewMock())
	sink.FailWrites(errors.New("device lost"))

	res, err := s.SynthesizeStreaming(context.Background(), "Hi.", "+0%")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device lost")
	assert.Equal(t, StatusCanceled, res.Status)
}

func TestSynthesizerDrainAndInterrupt(t *testing.T) {
	s, sink := newTestSynth(t, NewMock())
	ctx := context.Background()

	require.NoError(t, s.Drain(ctx))
	require.NoError(t, s.Interrupt())
	assert.Equal(t, 1, sink.Flushes())
	assert.Equal(t, 1, sink.Clears())
}

func TestNewSynthesizerValidation(t *testing.T) {
	_, err := NewSynthesizer(SynthesizerConfig{Voice: "v"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	_, err = NewSynthesizer(SynthesizerConfig{Provider: NewMock()})
	assert.ErrorIs(t, err, ErrNoVoice)
}
