package stt

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-voiceloop/internal/log"
	"github.com/teslashibe/go-voiceloop/pkg/audioio"
)

// fakeService speaks the server side of the recognition protocol.
type fakeService struct {
	// status rejects the handshake with this HTTP status when set.
	status int

	// afterEnd delays respond until the end-of-audio frame arrives.
	afterEnd bool

	// respond is called once audio arrives.
	respond func(conn *websocket.Conn)

	mu     sync.Mutex
	dials  int
	header http.Header
	query  url.Values
	config string
	audio  [][]byte
	ended  bool
}

var upgrader = websocket.Upgrader{}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.dials++
	f.header = r.Header.Clone()
	f.query = r.URL.Query()
	f.mu.Unlock()

	if f.status != 0 {
		http.Error(w, "denied", f.status)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_, cfg, err := conn.ReadMessage()
	if err != nil {
		return
	}
	f.mu.Lock()
	f.config = string(cfg)
	f.mu.Unlock()

	responded := false
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		_, payload := splitAudio(data)
		end := len(payload) == 0

		f.mu.Lock()
		if end {
			f.ended = true
		} else {
			f.audio = append(f.audio, payload)
		}
		f.mu.Unlock()

		if !responded && f.respond != nil && (end || !f.afterEnd) {
			responded = true
			f.respond(conn)
		}
	}
}

func (f *fakeService) snapshot() (dials int, audio [][]byte, ended bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials, f.audio, f.ended
}

func splitAudio(frame []byte) (header string, payload []byte) {
	n := int(binary.BigEndian.Uint16(frame))
	return string(frame[2 : 2+n]), frame[2+n:]
}

func serviceFrame(path, body string) []byte {
	return []byte("X-RequestId: 0123456789abcdef\r\nPath: " + path +
		"\r\nContent-Type: application/json; charset=utf-8\r\n\r\n" + body)
}

func send(conn *websocket.Conn, frames ...[]byte) {
	for _, f := range frames {
		conn.WriteMessage(websocket.TextMessage, f)
	}
}

func startService(t *testing.T, f *fakeService) string {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// liveSource produces fresh silence until the test ends.
func liveSource(t *testing.T, cfg audioio.Config) *audioio.MockSource {
	t.Helper()
	src := audioio.NewMockSource(cfg, log.Discard())
	require.NoError(t, src.Start(t.Context()))
	t.Cleanup(func() { src.Stop() })
	return src
}

// scriptedSource replays chunks, then ends.
func scriptedSource(t *testing.T, chunks ...audioio.AudioChunk) *audioio.MockSource {
	t.Helper()
	src := audioio.NewMockSource(audioio.DefaultConfig(), log.Discard(), audioio.WithChunks(chunks...))
	require.NoError(t, src.Start(t.Context()))
	t.Cleanup(func() { src.Stop() })
	return src
}

func newRecognizer(t *testing.T, src audioio.Source, endpoint string, opts ...Option) *Azure {
	t.Helper()
	opts = append([]Option{
		WithAPIKey("speech-key"),
		WithEndpoint(endpoint),
		WithLanguage("en-US"),
		WithSilenceTimeout(800 * time.Millisecond),
		WithLogger(log.Discard()),
	}, opts...)
	r, err := NewAzure(src, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func silence(samples int) audioio.AudioChunk {
	return audioio.AudioChunk{Samples: make([]int16, samples), SampleRate: 16000, Channels: 1}
}

func TestAzureRecognizes(t *testing.T) {
	svc := &fakeService{respond: func(conn *websocket.Conn) {
		send(conn,
			serviceFrame("turn.start", `{}`),
			serviceFrame("speech.startDetected", `{"Offset":1000000}`),
			serviceFrame("speech.hypothesis", `{"Text":"what's the","Offset":1000000,"Duration":5000000}`),
			serviceFrame("speech.endDetected", `{"Offset":16000000}`),
			serviceFrame("speech.phrase", `{"RecognitionStatus":"Success","DisplayText":"What's the weather?","Offset":1000000,"Duration":15000000}`),
		)
	}}
	endpoint := startService(t, svc)

	cfg := audioio.DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond
	r := newRecognizer(t, liveSource(t, cfg), endpoint)

	var events []Event
	utt, err := r.RecognizeOnce(t.Context(), func(e Event) { events = append(events, e) })
	require.NoError(t, err)

	assert.True(t, utt.Recognized())
	assert.Equal(t, "What's the weather?", utt.Text)
	assert.Equal(t, 100*time.Millisecond, utt.Offset)
	assert.Equal(t, 1500*time.Millisecond, utt.Duration)
	assert.False(t, utt.SpeechEnd.IsZero())
	assert.GreaterOrEqual(t, utt.Latency, time.Duration(0))

	var kinds []EventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []EventKind{EventSpeechStart, EventRecognizing, EventSpeechEnd, EventRecognized}, kinds)
	assert.Equal(t, "what's the", events[1].Text)
	assert.Equal(t, "What's the weather?", events[3].Text)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, "speech-key", svc.header.Get("Ocp-Apim-Subscription-Key"))
	assert.Len(t, svc.header.Get("X-ConnectionId"), 32)
	assert.Equal(t, "en-US", svc.query.Get("language"))
	assert.Equal(t, "simple", svc.query.Get("format"))
	assert.Equal(t, "800", svc.query.Get("segmentationSilenceTimeoutMs"))
	assert.True(t, strings.HasPrefix(svc.config, "Path: speech.config\r\n"))
	require.NotEmpty(t, svc.audio)
	assert.Equal(t, "RIFF", string(svc.audio[0][:4]))
}

func TestAzureResamplesToServiceFormat(t *testing.T) {
	svc := &fakeService{afterEnd: true, respond: func(conn *websocket.Conn) {
		send(conn, serviceFrame("speech.phrase", `{"RecognitionStatus":"NoMatch"}`))
	}}
	endpoint := startService(t, svc)

	chunk := audioio.AudioChunk{Samples: make([]int16, 960), SampleRate: 48000, Channels: 2}
	src := scriptedSource(t, chunk, chunk)
	r := newRecognizer(t, src, endpoint)

	_, err := r.RecognizeOnce(t.Context(), nil)
	require.NoError(t, err)

	_, audio, ended := svc.snapshot()
	require.Len(t, audio, 2)
	assert.Len(t, audio[0], 44+320)
	assert.Len(t, audio[1], 320)
	assert.True(t, ended)
}

func TestAzureSkipsStaleAudio(t *testing.T) {
	svc := &fakeService{afterEnd: true, respond: func(conn *websocket.Conn) {
		send(conn, serviceFrame("speech.phrase", `{"RecognitionStatus":"Success","DisplayText":"hello"}`))
	}}
	endpoint := startService(t, svc)

	stale := silence(100)
	stale.Captured = time.Now().Add(-time.Minute)
	fresh := silence(160)
	fresh.Captured = time.Now().Add(time.Minute)

	r := newRecognizer(t, scriptedSource(t, stale, fresh), endpoint)
	utt, err := r.RecognizeOnce(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", utt.Text)

	_, audio, _ := svc.snapshot()
	require.Len(t, audio, 1)
	assert.Len(t, audio[0], 44+320)
}

func TestAzureOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		frames [][]byte
		status Status
		reason CancellationReason
	}{
		{
			name:   "no match",
			frames: [][]byte{serviceFrame("speech.phrase", `{"RecognitionStatus":"NoMatch"}`)},
			status: StatusNoMatch,
		},
		{
			name:   "initial silence",
			frames: [][]byte{serviceFrame("speech.phrase", `{"RecognitionStatus":"InitialSilenceTimeout"}`)},
			status: StatusNoMatch,
		},
		{
			name:   "empty text",
			frames: [][]byte{serviceFrame("speech.phrase", `{"RecognitionStatus":"Success","DisplayText":"  "}`)},
			status: StatusNoMatch,
		},
		{
			name:   "turn ended without phrase",
			frames: [][]byte{serviceFrame("turn.end", `{}`)},
			status: StatusNoMatch,
		},
		{
			name:   "service error",
			frames: [][]byte{serviceFrame("speech.phrase", `{"RecognitionStatus":"Error"}`)},
			status: StatusCanceled,
			reason: ReasonError,
		},
		{
			name:   "undecodable phrase",
			frames: [][]byte{serviceFrame("speech.phrase", `{`)},
			status: StatusCanceled,
			reason: ReasonError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{respond: func(conn *websocket.Conn) {
				send(conn, tt.frames...)
			}}
			endpoint := startService(t, svc)

			cfg := audioio.DefaultConfig()
			cfg.BufferDuration = 10 * time.Millisecond
			r := newRecognizer(t, liveSource(t, cfg), endpoint)

			var events []Event
			utt, err := r.RecognizeOnce(t.Context(), func(e Event) { events = append(events, e) })
			require.NoError(t, err)
			assert.Equal(t, tt.status, utt.Status)
			assert.Empty(t, utt.Text)
			if tt.reason != "" {
				require.NotNil(t, utt.Cancellation)
				assert.Equal(t, tt.reason, utt.Cancellation.Reason)
				assert.NotEmpty(t, utt.Cancellation.Detail)
			}
			for _, e := range events {
				assert.NotEqual(t, EventRecognized, e.Kind)
			}
		})
	}
}

func TestAzureHandshakeRejected(t *testing.T) {
	endpoint := startService(t, &fakeService{status: http.StatusUnauthorized})
	r := newRecognizer(t, scriptedSource(t, silence(160)), endpoint)

	utt, err := r.RecognizeOnce(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, utt.Status)
	require.NotNil(t, utt.Cancellation)
	assert.Equal(t, ReasonError, utt.Cancellation.Reason)
	assert.Contains(t, utt.Cancellation.Detail, "401")
}

func TestAzureConnectionLost(t *testing.T) {
	svc := &fakeService{respond: func(conn *websocket.Conn) { conn.Close() }}
	endpoint := startService(t, svc)

	cfg := audioio.DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond
	r := newRecognizer(t, liveSource(t, cfg), endpoint)

	utt, err := r.RecognizeOnce(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, utt.Status)
	require.NotNil(t, utt.Cancellation)
	assert.Equal(t, ReasonError, utt.Cancellation.Reason)
}

func TestAzureInputClosedWithoutAudio(t *testing.T) {
	svc := &fakeService{}
	endpoint := startService(t, svc)
	r := newRecognizer(t, scriptedSource(t), endpoint)

	_, err := r.RecognizeOnce(t.Context(), nil)
	assert.ErrorIs(t, err, ErrInputClosed)

	_, err = r.RecognizeOnce(t.Context(), nil)
	assert.ErrorIs(t, err, ErrInputClosed)

	dials, _, _ := svc.snapshot()
	assert.Equal(t, 1, dials)
}

func TestAzureInputClosedAfterFinalPhrase(t *testing.T) {
	svc := &fakeService{afterEnd: true, respond: func(conn *websocket.Conn) {
		send(conn, serviceFrame("speech.phrase", `{"RecognitionStatus":"Success","DisplayText":"stop"}`))
	}}
	endpoint := startService(t, svc)
	r := newRecognizer(t, scriptedSource(t, silence(160)), endpoint)

	utt, err := r.RecognizeOnce(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, "stop", utt.Text)

	_, err = r.RecognizeOnce(t.Context(), nil)
	assert.ErrorIs(t, err, ErrInputClosed)

	dials, _, ended := svc.snapshot()
	assert.Equal(t, 1, dials)
	assert.True(t, ended)
}

func TestAzureContextDeadline(t *testing.T) {
	endpoint := startService(t, &fakeService{})

	cfg := audioio.DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond
	r := newRecognizer(t, liveSource(t, cfg), endpoint)

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.RecognizeOnce(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	// A canceled attempt leaves the input open.
	assert.False(t, r.inputClosed.Load())
}

func TestNewAzureValidation(t *testing.T) {
	src := scriptedSource(t)
	tests := []struct {
		name string
		src  audioio.Source
		opts []Option
		want error
	}{
		{"no source", nil, []Option{WithAPIKey("k"), WithRegion("r"), WithLanguage("en-US")}, ErrNoSource},
		{"no key", src, []Option{WithRegion("r"), WithLanguage("en-US")}, ErrNoAPIKey},
		{"no region", src, []Option{WithAPIKey("k"), WithLanguage("en-US")}, ErrNoRegion},
		{"no language", src, []Option{WithAPIKey("k"), WithRegion("r")}, ErrNoLanguage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAzure(tt.src, tt.opts...)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestAzureURL(t *testing.T) {
	r, err := NewAzure(scriptedSource(t),
		WithAPIKey("k"),
		WithRegion("westeurope"),
		WithLanguage("de-DE"),
		WithSilenceTimeout(1200*time.Millisecond),
	)
	require.NoError(t, err)
	assert.Equal(t,
		"wss://westeurope.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1"+
			"?format=simple&language=de-DE&segmentationSilenceTimeoutMs=1200",
		r.URL())

	r, err = NewAzure(scriptedSource(t), WithAPIKey("k"), WithEndpoint("ws://localhost:9000/"), WithLanguage("en-US"))
	require.NoError(t, err)
	assert.Equal(t,
		"ws://localhost:9000/speech/recognition/conversation/cognitiveservices/v1?format=simple&language=en-US",
		r.URL())
}
