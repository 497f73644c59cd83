// Command voiceloop runs the hands-free voice assistant.
//
// It listens on the default microphone, classifies each utterance into one
// of two configured intents, streams a response from the completion service
// and speaks it sentence by sentence. Saying the stop phrase ends the
// process; so does EOF on stdin (Ctrl-D) or SIGINT/SIGTERM.
//
// Usage:
//
//	go run ./cmd/voiceloop
//	go run ./cmd/voiceloop --env-file ./prod.env
//	AUDIO_BACKEND=mock go run ./cmd/voiceloop  # headless smoke run
//
// Configuration is read from the environment and an optional dotenv file;
// see internal/config for the full list of keys.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-voiceloop/internal/config"
	"github.com/teslashibe/go-voiceloop/internal/log"
	"github.com/teslashibe/go-voiceloop/internal/telemetry"
	"github.com/teslashibe/go-voiceloop/pkg/assistant"
	"github.com/teslashibe/go-voiceloop/pkg/audioio"
	"github.com/teslashibe/go-voiceloop/pkg/audioio/device"
	"github.com/teslashibe/go-voiceloop/pkg/inference"
	"github.com/teslashibe/go-voiceloop/pkg/stt"
	"github.com/teslashibe/go-voiceloop/pkg/tts"
	"github.com/teslashibe/go-voiceloop/pkg/voice"
)

func main() {
	envFile := flag.String("env-file", "", "dotenv file (default: $ENV_FILE or .env)")
	flag.Parse()

	settings, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log.Init(settings.LogLevel, settings.LogFormat)
	logger := log.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := run(ctx, settings, logger)
	stop()
	os.Exit(code)
}

// run wires the components and drives the loop. It returns the exit code.
func run(ctx context.Context, s *config.Settings, logger *slog.Logger) int {
	tp, err := telemetry.Init(ctx, s.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("tracing setup failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	backend, err := audioio.ParseBackend(s.AudioBackend)
	if err != nil {
		logger.Error("invalid audio backend", "error", err)
		return 1
	}

	captureCfg := audioio.DefaultConfig()
	captureCfg.Backend = backend
	source, err := device.OpenSource(captureCfg, logger)
	if err != nil {
		logger.Error("failed to open microphone", "error", err)
		return 1
	}
	if err := source.Start(ctx); err != nil {
		logger.Error("failed to start microphone", "error", err)
		return 1
	}
	defer source.Stop()

	encoding := tts.Encoding(s.SpeechOutputFormat)
	playbackCfg := audioio.DefaultPlaybackConfig(tts.SampleRateFromEncoding(encoding))
	playbackCfg.Backend = backend
	sink, err := device.OpenSink(playbackCfg, logger)
	if err != nil {
		logger.Error("failed to open speaker", "error", err)
		return 1
	}
	if err := sink.Start(ctx); err != nil {
		logger.Error("failed to start speaker", "error", err)
		return 1
	}
	defer sink.Stop()

	loop, err := buildLoop(s, source, sink, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	// EOF on stdin closes the microphone, which ends the loop cleanly.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
		}
		logger.Info("stdin closed, stopping microphone")
		source.Stop()
	}()

	logger.Info("voice loop ready",
		"stop_phrase", s.StopPhrase,
		"synthesis_mode", s.SynthesisMode,
		"audio_backend", s.AudioBackend)

	runErr := loop.Run(ctx)

	if s.MetricsTextfile != "" {
		if err := loop.Metrics().WriteToTextfile(s.MetricsTextfile); err != nil {
			logger.Warn("failed to write metrics", "path", s.MetricsTextfile, "error", err)
		}
	}
	if avg := loop.Metrics().Average(); avg.TotalLatency > 0 {
		logger.Info("average latency", "summary", avg.FormatLatency())
	}

	switch {
	case runErr == nil:
		logger.Info("goodbye")
		return 0
	case errors.Is(runErr, context.Canceled):
		logger.Info("interrupted")
		return 0
	default:
		logger.Error("voice loop failed", "error", runErr)
		return 1
	}
}

func buildLoop(s *config.Settings, source audioio.Source, sink audioio.Sink, logger *slog.Logger) (*voice.Loop, error) {
	client, err := inference.NewClient(
		inference.WithAzure(s.OpenAIEndpoint, s.OpenAIDeployment, s.OpenAIAPIVersion),
		inference.WithAPIKey(s.OpenAIKey),
		inference.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("completion client: %w", err)
	}

	labels := assistant.Labels{Primary: s.IntentSubcategory1, Secondary: s.IntentSubcategory2}
	classifier, err := assistant.NewClassifier(client, labels, s.PromptClassifyIntent,
		assistant.WithClassifyMaxTokens(s.ClassifyMaxTokens),
		assistant.WithRetry(s.ClassifyMaxRetries, 200*time.Millisecond),
		assistant.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	generator, err := assistant.NewGenerator(client, labels,
		assistant.Prompts{Primary: s.PromptSubcategory1, Secondary: s.PromptSubcategory2},
		assistant.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}

	provider, err := tts.NewAzure(
		tts.WithAPIKey(s.SpeechKey),
		tts.WithRegion(s.SpeechRegion),
		tts.WithOutputFormat(tts.Encoding(s.SpeechOutputFormat)),
		tts.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("speech synthesis: %w", err)
	}

	markup := tts.DefaultMarkup()
	if s.SSMLTemplatePath != "" {
		if markup, err = tts.LoadMarkup(s.SSMLTemplatePath); err != nil {
			return nil, fmt.Errorf("markup template: %w", err)
		}
	}

	speaker, err := tts.NewSynthesizer(tts.SynthesizerConfig{
		Provider: provider,
		Markup:   markup,
		Language: s.SpeechLanguage,
		Voice:    s.SpeechVoice,
		Sink:     sink,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesizer: %w", err)
	}

	recognizer, err := stt.NewAzure(source,
		stt.WithAPIKey(s.SpeechKey),
		stt.WithRegion(s.SpeechRegion),
		stt.WithLanguage(s.SpeechLanguage),
		stt.WithSilenceTimeout(time.Duration(s.SilenceTimeoutMs)*time.Millisecond),
		stt.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("speech recognition: %w", err)
	}

	return voice.NewLoop(voice.Deps{
		Recognizer: recognizer,
		Classifier: classifier,
		Generator:  generator,
		Speaker:    speaker,
	},
		voice.WithStopPhrase(s.StopPhrase),
		voice.WithFallbackReply(s.FallbackReply),
		voice.WithSpeechRate(s.SpeechRate),
		voice.WithSynthesisMode(voice.SynthesisMode(s.SynthesisMode)),
		voice.WithQueueDepth(s.SynthesisQueueDepth),
		voice.WithMetrics(voice.NewMetricsCollector()),
		voice.WithLogger(logger),
	)
}
