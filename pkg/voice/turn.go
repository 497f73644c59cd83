package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-voiceloop/pkg/assistant"
	"github.com/teslashibe/go-voiceloop/pkg/chunker"
	"github.com/teslashibe/go-voiceloop/pkg/stt"
	"github.com/teslashibe/go-voiceloop/pkg/tts"
)

// turn is one recognize-classify-generate-speak cycle. Nothing in it
// outlives the cycle.
type turn struct {
	loop      *Loop
	id        string
	logger    *slog.Logger
	utterance *stt.Utterance

	spoken atomic.Bool
}

func (t *turn) run(ctx context.Context) error {
	l := t.loop

	l.setState(StateClassifying)
	label, err := t.classify(ctx)
	if err != nil {
		return err
	}

	l.setState(StateGenerating)
	stream, err := l.deps.Generator.Respond(ctx, label, t.utterance.Text)
	if errors.Is(err, assistant.ErrUnclassifiedIntent) {
		t.logger.Warn("unclassified intent", "label", label)
		if reply := l.config.FallbackReply; reply != "" {
			if serr := t.speak(ctx, reply); serr != nil {
				return serr
			}
			if derr := l.deps.Speaker.Drain(ctx); derr != nil {
				return fmt.Errorf("drain audio: %w", derr)
			}
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	defer stream.Close()

	if err := t.respond(ctx, stream); err != nil {
		return err
	}
	if err := l.deps.Speaker.Drain(ctx); err != nil {
		return fmt.Errorf("drain audio: %w", err)
	}
	return nil
}

func (t *turn) classify(ctx context.Context) (string, error) {
	ctx, span := t.loop.tracer.Start(ctx, "voice.classify")
	defer span.End()

	label, err := t.loop.deps.Classifier.Classify(ctx, t.utterance.Text)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("classify: %w", err)
	}

	t.loop.metrics.MarkClassified()
	span.SetAttributes(attribute.String("intent", label))
	t.logger.Info("intent classified", "label", label)
	return label, nil
}

// respond speaks stream sentence by sentence. With a queue depth above
// zero, generation runs ahead of synthesis by at most that many units.
func (t *turn) respond(ctx context.Context, stream *assistant.ResponseStream) error {
	depth := t.loop.config.QueueDepth
	if depth == 0 {
		return t.generate(ctx, stream, func(unit string) error {
			return t.speak(ctx, unit)
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	// Unblocks a pending Next when synthesis fails.
	stop := context.AfterFunc(gctx, func() { stream.Close() })
	defer stop()

	queue := make(chan string, depth)
	g.Go(func() error {
		defer close(queue)
		return t.generate(gctx, stream, func(unit string) error {
			select {
			case queue <- unit:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})
	g.Go(func() error {
		for unit := range queue {
			if err := t.speak(gctx, unit); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

// generate pulls fragments from stream, chunks them into sentence units
// and hands each unit to emit, flushing the remainder at the end.
func (t *turn) generate(ctx context.Context, stream *assistant.ResponseStream, emit func(string) error) error {
	ctx, span := t.loop.tracer.Start(ctx, "voice.generate")
	defer span.End()

	chunks := chunker.New()
	fragments := 0
	for {
		fragment, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			span.RecordError(err)
			return fmt.Errorf("generate: %w", err)
		}

		if fragments == 0 {
			t.loop.metrics.MarkFirstToken()
		}
		fragments++
		t.logger.Debug("fragment received", "fragment", fragment)

		if unit, ok := chunks.Push(fragment); ok {
			if err := emit(unit); err != nil {
				return err
			}
		}
	}

	if unit, ok := chunks.Flush(); ok {
		if err := emit(unit); err != nil {
			return err
		}
	}

	span.SetAttributes(attribute.Int("fragments", fragments))
	t.logger.Info("response generated", "response", stream.Text())
	return nil
}

// speak synthesizes one sentence unit.
func (t *turn) speak(ctx context.Context, unit string) error {
	l := t.loop
	l.setState(StateSynthesizing)

	if !t.spoken.Swap(true) {
		latency := l.metrics.MarkFirstAudio()
		t.logger.Info("speech end to synthesis start", "latency_ms", latency.Milliseconds())
	}
	l.metrics.MarkSentence()

	ctx, span := l.tracer.Start(ctx, "voice.synthesize", trace.WithAttributes(attribute.Int("chars", len(unit))))
	defer span.End()
	t.logger.Debug("synthesizing", "text", unit)

	var (
		res *tts.SynthesisResult
		err error
	)
	if l.config.Mode == SynthesisBlocking {
		res, err = l.deps.Speaker.SynthesizeBlocking(ctx, unit, l.config.SpeechRate)
	} else {
		res, err = l.deps.Speaker.SynthesizeStreaming(ctx, unit, l.config.SpeechRate)
	}
	if err != nil {
		span.RecordError(err)
		if res != nil && res.Cancellation != nil {
			t.logger.Warn("synthesis canceled", "reason", res.Cancellation.Reason, "detail", res.Cancellation.Detail)
		}
		return fmt.Errorf("synthesize: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("first_byte_ms", res.FirstByteLatency.Milliseconds()),
		attribute.Int("bytes", res.Bytes),
	)
	return nil
}
