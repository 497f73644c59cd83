package voice

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/teslashibe/go-voiceloop/pkg/assistant"
	"github.com/teslashibe/go-voiceloop/pkg/stt"
	"github.com/teslashibe/go-voiceloop/pkg/tts"
)

// IntentClassifier maps an utterance to an intent label.
type IntentClassifier interface {
	Classify(ctx context.Context, utterance string) (string, error)
}

// ResponseGenerator opens a streamed response for a classified utterance.
// It returns an error matching assistant.ErrUnclassifiedIntent when label
// selects no prompt.
type ResponseGenerator interface {
	Respond(ctx context.Context, label, utterance string) (*assistant.ResponseStream, error)
}

// Speaker speaks sentence units. *tts.Synthesizer implements it.
type Speaker interface {
	SynthesizeStreaming(ctx context.Context, text, rate string) (*tts.SynthesisResult, error)
	SynthesizeBlocking(ctx context.Context, text, rate string) (*tts.SynthesisResult, error)

	// Drain waits until queued audio has played.
	Drain(ctx context.Context) error

	// Interrupt discards queued audio.
	Interrupt() error
}

// Deps are the collaborators a Loop drives.
type Deps struct {
	Recognizer stt.Recognizer
	Classifier IntentClassifier
	Generator  ResponseGenerator
	Speaker    Speaker
}

func (d Deps) validate() error {
	switch {
	case d.Recognizer == nil:
		return ErrNoRecognizer
	case d.Classifier == nil:
		return ErrNoClassifier
	case d.Generator == nil:
		return ErrNoGenerator
	case d.Speaker == nil:
		return ErrNoSpeaker
	}
	return nil
}

// Loop is the conversation loop. Only one turn is in flight at a time.
type Loop struct {
	deps    Deps
	config  *Config
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *MetricsCollector
	retry   *backoff.ExponentialBackOff

	running atomic.Bool

	mu        sync.Mutex
	state     State
	listeners []func(from, to State)
}

// NewLoop creates a conversation loop.
func NewLoop(deps Deps, opts ...Option) (*Loop, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetricsCollector()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = DefaultConfig().Tracer
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = cfg.RetryInitial
	retry.MaxInterval = cfg.RetryMax

	return &Loop{
		deps:    deps,
		config:  cfg,
		logger:  cfg.Logger.With("component", "voice.loop"),
		tracer:  cfg.Tracer,
		metrics: cfg.Metrics,
		retry:   retry,
		state:   StateIdle,
	}, nil
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// OnStateChange registers fn to be called on every transition. fn runs
// synchronously on the goroutine making the transition and must not block.
func (l *Loop) OnStateChange(fn func(from, to State)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Metrics returns the loop's metrics collector.
func (l *Loop) Metrics() *MetricsCollector {
	return l.metrics
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	from := l.state
	if from == s {
		l.mu.Unlock()
		return
	}
	l.state = s
	fns := slices.Clone(l.listeners)
	l.mu.Unlock()

	for _, fn := range fns {
		fn(from, s)
	}
}

// Run listens and answers until the stop phrase is recognized or the audio
// input closes, both of which return nil. A failed turn is logged and the
// loop listens again. Run returns ctx.Err() when ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.running.Store(false)

	l.logger.Info("conversation loop started",
		"stop_phrase", l.config.StopPhrase,
		"mode", l.config.Mode,
		"queue_depth", l.config.QueueDepth,
	)

	for {
		l.setState(StateListening)
		utt, err := l.listen(ctx)
		if err != nil {
			l.setState(StateStopped)
			if errors.Is(err, stt.ErrInputClosed) {
				l.logger.Info("audio input closed, stopping")
				return nil
			}
			return err
		}
		if utt == nil {
			continue
		}

		if IsStopPhrase(utt.Text, l.config.StopPhrase) {
			l.logger.Info("stop phrase recognized, stopping", "text", utt.Text)
			l.setState(StateStopped)
			return nil
		}

		l.setState(StateRecognized)
		l.runTurn(ctx, utt)
		if err := ctx.Err(); err != nil {
			l.setState(StateStopped)
			return err
		}
		l.setState(StateIdle)
	}
}

// listen runs one recognition attempt. It returns a nil utterance when
// nothing usable was recognized and the loop should listen again.
func (l *Loop) listen(ctx context.Context) (*stt.Utterance, error) {
	utt, err := l.deps.Recognizer.RecognizeOnce(ctx, l.observe)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, stt.ErrInputClosed) {
			return nil, err
		}
		utt = stt.Canceled(stt.ReasonError, err.Error())
	}
	l.metrics.ObserveRecognition(string(utt.Status))

	switch utt.Status {
	case stt.StatusRecognized:
		l.retry.Reset()
		l.logger.Info("speech recognized", "text", utt.Text, "latency_ms", utt.Latency.Milliseconds())
		return utt, nil

	case stt.StatusNoMatch:
		l.retry.Reset()
		l.logger.Info("no speech could be recognized")
		return nil, nil
	}

	var reason stt.CancellationReason
	var detail string
	if c := utt.Cancellation; c != nil {
		reason, detail = c.Reason, c.Detail
	}
	if reason == stt.ReasonEndOfStream {
		return nil, stt.ErrInputClosed
	}
	if reason != stt.ReasonError {
		l.logger.Warn("recognition canceled", "reason", reason)
		return nil, nil
	}

	pause := l.retry.NextBackOff()
	l.logger.Warn("recognition canceled", "reason", reason, "detail", detail, "retry_in", pause)

	timer := time.NewTimer(pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (l *Loop) observe(e stt.Event) {
	switch e.Kind {
	case stt.EventSpeechStart:
		l.logger.Debug("speech started")
	case stt.EventRecognizing:
		l.logger.Debug("recognizing", "text", e.Text)
	case stt.EventSpeechEnd:
		l.logger.Debug("speech ended")
	}
}

// runTurn is the recovery boundary: every failure below it is logged here
// and the loop carries on.
func (l *Loop) runTurn(ctx context.Context, utt *stt.Utterance) {
	t := &turn{
		loop:      l,
		id:        uuid.NewString(),
		utterance: utt,
	}
	t.logger = l.logger.With("turn_id", t.id)

	ctx, span := l.tracer.Start(ctx, "voice.turn", trace.WithAttributes(attribute.String("turn_id", t.id)))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.metrics.MarkSpeechEnd(t.id, utt.SpeechEnd)
	l.metrics.MarkTranscript(utt.SpeechEnd.Add(utt.Latency))

	err := t.run(ctx)

	outcome := OutcomeCompleted
	switch {
	case err == nil:
	case ctx.Err() != nil:
		outcome = OutcomeCanceled
	case errors.Is(err, assistant.ErrUnclassifiedIntent):
		outcome = OutcomeUnclassified
	default:
		outcome = OutcomeFailed
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ierr := l.deps.Speaker.Interrupt(); ierr != nil {
			t.logger.Warn("failed to discard queued audio", "error", ierr)
		}
		switch outcome {
		case OutcomeUnclassified:
			t.logger.Warn("turn ended without an answer", "error", err)
		case OutcomeFailed:
			l.setState(StateError)
			t.logger.Error("turn failed", "error", err, "upstream", IsUpstream(err))
		}
	}

	l.metrics.MarkResponseDone(outcome)
	m := l.metrics.Current()
	t.logger.Info("turn finished", "outcome", outcome, "sentences", m.Sentences, "latency", m.FormatLatency())
}
