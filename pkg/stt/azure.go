package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-voiceloop/pkg/audioio"
)

const recognitionPath = "/speech/recognition/conversation/cognitiveservices/v1"

// Azure recognizes speech over the Azure Speech WebSocket protocol.
// Each attempt opens a fresh connection and streams audio from the
// source until the service returns a phrase.
type Azure struct {
	config *Config
	source audioio.Source
	dialer *websocket.Dialer
	logger *slog.Logger

	inputClosed atomic.Bool
}

// NewAzure creates a recognizer reading audio from source.
func NewAzure(source audioio.Source, opts ...Option) (*Azure, error) {
	if source == nil {
		return nil, ErrNoSource
	}

	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Azure{
		config: cfg,
		source: source,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: cfg.Logger.With("component", "stt.azure"),
	}, nil
}

// URL returns the recognition endpoint with its query parameters.
func (a *Azure) URL() string {
	base := a.config.Endpoint
	if base == "" {
		base = fmt.Sprintf("wss://%s.stt.speech.microsoft.com", a.config.Region)
	}

	q := url.Values{}
	q.Set("language", a.config.Language)
	q.Set("format", "simple")
	if a.config.SilenceTimeout > 0 {
		q.Set("segmentationSilenceTimeoutMs", strconv.FormatInt(a.config.SilenceTimeout.Milliseconds(), 10))
	}
	return strings.TrimSuffix(base, "/") + recognitionPath + "?" + q.Encode()
}

// RecognizeOnce streams audio until one phrase result arrives.
func (a *Azure) RecognizeOnce(ctx context.Context, observe Observer) (*Utterance, error) {
	if a.inputClosed.Load() {
		return nil, ErrInputClosed
	}
	if observe == nil {
		observe = func(Event) {}
	}

	start := time.Now()
	connID := newID()

	header := http.Header{}
	header.Set("Ocp-Apim-Subscription-Key", a.config.APIKey)
	header.Set("X-ConnectionId", connID)

	conn, resp, err := a.dialer.DialContext(ctx, a.URL(), header)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		detail := err.Error()
		if resp != nil {
			detail = fmt.Sprintf("%s (HTTP %d)", detail, resp.StatusCode)
		}
		a.logger.Warn("recognition connection failed", "error", detail)
		return Canceled(ReasonError, detail), nil
	}
	defer conn.Close()

	requestID := newID()
	cfgMsg, err := configMessage(requestID)
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, cfgMsg)
	}
	if err != nil {
		return Canceled(ReasonError, fmt.Sprintf("send speech config: %v", err)), nil
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(attemptCtx)
	stop := context.AfterFunc(gctx, func() { conn.Close() })
	defer stop()

	var (
		utt     *Utterance
		eofSent atomic.Bool
	)
	g.Go(func() error {
		return a.streamAudio(gctx, conn, requestID, start, &eofSent)
	})
	g.Go(func() error {
		defer cancel()
		utt = a.readResult(gctx, conn, observe)
		return nil
	})
	err = g.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if eofSent.Load() {
		a.inputClosed.Store(true)
	}
	if errors.Is(err, ErrInputClosed) {
		a.inputClosed.Store(true)
		return nil, ErrInputClosed
	}
	if err != nil {
		return Canceled(ReasonError, err.Error()), nil
	}
	if utt == nil {
		return Canceled(ReasonError, "recognition ended without a result"), nil
	}

	a.logger.Info("recognition finished",
		"status", utt.Status,
		"latency_ms", utt.Latency.Milliseconds(),
		"connection_id", connID,
	)
	return utt, nil
}

// streamAudio is the connection's only writer after the config frame.
func (a *Azure) streamAudio(ctx context.Context, conn *websocket.Conn, requestID string, since time.Time, eofSent *atomic.Bool) error {
	rate := a.config.SampleRate
	sent := 0

	for {
		chunk, err := a.source.Read(ctx)
		if errors.Is(err, io.EOF) {
			if sent == 0 {
				return ErrInputClosed
			}
			eofSent.Store(true)
			if err := conn.WriteMessage(websocket.BinaryMessage, audioMessage(requestID, nil)); err != nil && ctx.Err() == nil {
				return fmt.Errorf("stt: send end of audio: %w", err)
			}
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stt: read audio: %w", err)
		}

		// Audio captured before this attempt began (e.g. during playback)
		// is stale.
		if !chunk.Captured.IsZero() && chunk.Captured.Before(since) {
			continue
		}

		pcm := audioio.Convert(chunk, rate, 1)
		payload := pcm.Bytes()
		if sent == 0 {
			payload = append(wavHeader(rate), payload...)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, audioMessage(requestID, payload)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stt: send audio: %w", err)
		}
		sent++
	}
}

// readResult is the connection's only reader. It returns nil if ctx ends
// first.
func (a *Azure) readResult(ctx context.Context, conn *websocket.Conn, observe Observer) *Utterance {
	var speechEnd time.Time

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return Canceled(ReasonError, fmt.Sprintf("connection lost: %v", err))
		}
		if kind != websocket.TextMessage {
			continue
		}

		msg, err := parseMessage(data)
		if err != nil {
			a.logger.Debug("ignoring service message", "error", err)
			continue
		}

		now := time.Now()
		switch msg.Path {
		case pathTurnStart:
			a.logger.Debug("turn started", "request_id", msg.RequestID)

		case pathStart:
			observe(Event{Kind: EventSpeechStart, At: now})

		case pathHypothesis, pathFragment:
			var h hypothesis
			if err := json.Unmarshal(msg.Body, &h); err != nil {
				a.logger.Debug("bad hypothesis", "error", err)
				continue
			}
			a.logger.Debug("recognizing", "text", h.Text)
			observe(Event{Kind: EventRecognizing, Text: h.Text, At: now})

		case pathEnd:
			speechEnd = now
			observe(Event{Kind: EventSpeechEnd, At: now})

		case pathPhrase:
			var p phrase
			if err := json.Unmarshal(msg.Body, &p); err != nil {
				return Canceled(ReasonError, fmt.Sprintf("decode phrase: %v", err))
			}
			utt := p.toUtterance()
			if speechEnd.IsZero() {
				speechEnd = now
			}
			utt.SpeechEnd = speechEnd
			utt.Latency = now.Sub(speechEnd)
			if utt.Recognized() {
				observe(Event{Kind: EventRecognized, Text: utt.Text, At: now})
			}
			return utt

		case pathTurnEnd:
			return NoMatch()
		}
	}
}

// Close releases the recognizer. The audio source is owned by the caller.
func (a *Azure) Close() error {
	return nil
}

var _ Recognizer = (*Azure)(nil)
