// Package config loads the immutable process-wide settings for go-voiceloop.
//
// Settings are read once at startup from the process environment, falling
// back to an optional dotenv file. A missing required key is a fatal
// startup error; the returned *Settings is never mutated afterwards and is
// handed to each component's constructor.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Environment keys.
const (
	KeyOpenAIEndpoint       = "OPEN_AI_ENDPOINT"
	KeyOpenAIKey            = "OPEN_AI_KEY"
	KeyOpenAIDeployment     = "OPEN_AI_DEPLOYMENT_NAME"
	KeyOpenAIAPIVersion     = "OPEN_AI_API_VERSION"
	KeySpeechKey            = "SPEECH_KEY"
	KeySpeechRegion         = "SPEECH_REGION"
	KeySpeechLanguage       = "SPEECH_LANGUAGE"
	KeySpeechVoice          = "SPEECH_VOICE"
	KeySpeechRate           = "SPEECH_RATE"
	KeySilenceTimeout       = "SPEECH_SEGMENT_SILENCE_TIMEOUT"
	KeySpeechOutputFormat   = "SPEECH_OUTPUT_FORMAT"
	KeyIntentSubcategory1   = "INTENT_SUBCATEGORY_1"
	KeyIntentSubcategory2   = "INTENT_SUBCATEGORY_2"
	KeyPromptClassify       = "PROMPT_CLASSIFY_INTENT"
	KeyPromptSubcategory1   = "PROMPT_SUBCATEGORY_1"
	KeyPromptSubcategory2   = "PROMPT_SUBCATEGORY_2"
	KeyClassifyMaxTokens    = "CLASSIFY_MAX_TOKENS"
	KeyClassifyMaxRetries   = "CLASSIFY_MAX_RETRIES"
	KeyStopPhrase           = "STOP_PHRASE"
	KeySynthesisMode        = "SYNTHESIS_MODE"
	KeySynthesisQueueDepth  = "SYNTHESIS_QUEUE_DEPTH"
	KeySSMLTemplatePath     = "SSML_TEMPLATE_PATH"
	KeyFallbackReply        = "FALLBACK_REPLY"
	KeyLogLevel             = "LOG_LEVEL"
	KeyLogFormat            = "LOG_FORMAT"
	KeyMetricsTextfile      = "METRICS_TEXTFILE"
	KeyOTLPEndpoint         = "OTEL_EXPORTER_OTLP_ENDPOINT"
	KeyAudioBackend         = "AUDIO_BACKEND"
	KeyEnvFile              = "ENV_FILE"
	DefaultEnvFile          = ".env"
	DefaultOpenAIAPIVersion = "2023-05-15"
)

// Synthesis modes.
const (
	SynthesisStreaming = "streaming"
	SynthesisBlocking  = "blocking"
)

// requiredKeys lists every key that must be present at startup.
var requiredKeys = []string{
	KeyOpenAIEndpoint,
	KeyOpenAIKey,
	KeyOpenAIDeployment,
	KeySpeechKey,
	KeySpeechRegion,
	KeySpeechLanguage,
	KeySpeechVoice,
	KeySpeechRate,
	KeySilenceTimeout,
	KeyIntentSubcategory1,
	KeyIntentSubcategory2,
	KeyPromptClassify,
	KeyPromptSubcategory1,
	KeyPromptSubcategory2,
}

// RequiredKeys returns a copy of the required configuration keys.
func RequiredKeys() []string {
	out := make([]string, len(requiredKeys))
	copy(out, requiredKeys)
	return out
}

// Settings is the process-wide configuration.
type Settings struct {
	// Completion capability
	OpenAIEndpoint   string
	OpenAIKey        string
	OpenAIDeployment string
	OpenAIAPIVersion string

	// Speech capability
	SpeechKey          string
	SpeechRegion       string
	SpeechLanguage     string
	SpeechVoice        string
	SpeechRate         string
	SilenceTimeoutMs   int
	SpeechOutputFormat string

	// Intents and prompts
	IntentSubcategory1   string
	IntentSubcategory2   string
	PromptClassifyIntent string
	PromptSubcategory1   string
	PromptSubcategory2   string
	ClassifyMaxTokens    int
	ClassifyMaxRetries   int

	// Loop behavior
	StopPhrase          string
	SynthesisMode       string
	SynthesisQueueDepth int
	SSMLTemplatePath    string
	FallbackReply       string

	// Observability
	LogLevel        string
	LogFormat       string
	MetricsTextfile string
	OTLPEndpoint    string

	// Devices
	AudioBackend string
}

// StartupConfigError reports configuration that prevents the process from starting.
type StartupConfigError struct {
	// Missing lists required keys that were absent or empty.
	Missing []string

	// Err is set for keys that were present but invalid.
	Err error
}

// Error implements the error interface.
func (e *StartupConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required environment variable(s): "+strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return "config: " + strings.Join(parts, "; ")
}

// Unwrap returns the underlying validation error.
func (e *StartupConfigError) Unwrap() error {
	return e.Err
}

// Load reads settings from the environment and the optional dotenv file at
// envFile. An empty envFile uses ENV_FILE or ".env"; a missing file is fine.
func Load(envFile string) (*Settings, error) {
	v := viper.New()
	v.AutomaticEnv()

	if envFile == "" {
		envFile = os.Getenv(KeyEnvFile)
	}
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if _, err := os.Stat(envFile); err == nil {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, &StartupConfigError{Err: fmt.Errorf("read %s: %w", envFile, err)}
		}
	}

	setDefaults(v)

	var missing []string
	for _, key := range requiredKeys {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, &StartupConfigError{Missing: missing}
	}

	s := &Settings{
		OpenAIEndpoint:       v.GetString(KeyOpenAIEndpoint),
		OpenAIKey:            v.GetString(KeyOpenAIKey),
		OpenAIDeployment:     v.GetString(KeyOpenAIDeployment),
		OpenAIAPIVersion:     v.GetString(KeyOpenAIAPIVersion),
		SpeechKey:            v.GetString(KeySpeechKey),
		SpeechRegion:         v.GetString(KeySpeechRegion),
		SpeechLanguage:       v.GetString(KeySpeechLanguage),
		SpeechVoice:          v.GetString(KeySpeechVoice),
		SpeechRate:           v.GetString(KeySpeechRate),
		SpeechOutputFormat:   v.GetString(KeySpeechOutputFormat),
		IntentSubcategory1:   v.GetString(KeyIntentSubcategory1),
		IntentSubcategory2:   v.GetString(KeyIntentSubcategory2),
		PromptClassifyIntent: v.GetString(KeyPromptClassify),
		PromptSubcategory1:   v.GetString(KeyPromptSubcategory1),
		PromptSubcategory2:   v.GetString(KeyPromptSubcategory2),
		StopPhrase:           v.GetString(KeyStopPhrase),
		SynthesisMode:        strings.ToLower(v.GetString(KeySynthesisMode)),
		SSMLTemplatePath:     v.GetString(KeySSMLTemplatePath),
		FallbackReply:        v.GetString(KeyFallbackReply),
		LogLevel:             v.GetString(KeyLogLevel),
		LogFormat:            v.GetString(KeyLogFormat),
		MetricsTextfile:      v.GetString(KeyMetricsTextfile),
		OTLPEndpoint:         v.GetString(KeyOTLPEndpoint),
		AudioBackend:         v.GetString(KeyAudioBackend),
	}

	var errs []error
	s.SilenceTimeoutMs, errs = parseInt(v, KeySilenceTimeout, 1, errs)
	s.ClassifyMaxTokens, errs = parseInt(v, KeyClassifyMaxTokens, 1, errs)
	s.ClassifyMaxRetries, errs = parseInt(v, KeyClassifyMaxRetries, 0, errs)
	s.SynthesisQueueDepth, errs = parseInt(v, KeySynthesisQueueDepth, 0, errs)

	if s.SynthesisMode != SynthesisStreaming && s.SynthesisMode != SynthesisBlocking {
		errs = append(errs, fmt.Errorf("%s must be %q or %q, got %q",
			KeySynthesisMode, SynthesisStreaming, SynthesisBlocking, s.SynthesisMode))
	}
	if strings.TrimSpace(s.StopPhrase) == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", KeyStopPhrase))
	}

	if len(errs) > 0 {
		return nil, &StartupConfigError{Err: errors.Join(errs...)}
	}

	return s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyOpenAIAPIVersion, DefaultOpenAIAPIVersion)
	v.SetDefault(KeySpeechOutputFormat, "raw-24khz-16bit-mono-pcm")
	v.SetDefault(KeyClassifyMaxTokens, 50)
	v.SetDefault(KeyClassifyMaxRetries, 2)
	v.SetDefault(KeyStopPhrase, "stop")
	v.SetDefault(KeySynthesisMode, SynthesisStreaming)
	v.SetDefault(KeySynthesisQueueDepth, 1)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyAudioBackend, "portaudio")
}

// parseInt reads key as an integer no smaller than min, appending any
// problem to errs.
func parseInt(v *viper.Viper, key string, min int, errs []error) (int, []error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, raw))
	}
	if n < min {
		return 0, append(errs, fmt.Errorf("%s must be >= %d, got %d", key, min, n))
	}
	return n, errs
}
