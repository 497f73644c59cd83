package voice

import (
	"errors"

	"github.com/teslashibe/go-voiceloop/pkg/assistant"
	"github.com/teslashibe/go-voiceloop/pkg/tts"
)

// Common errors returned by the loop.
var (
	ErrAlreadyRunning = errors.New("voice: loop already running")
	ErrNoStopPhrase   = errors.New("voice: stop phrase required")
	ErrNoRecognizer   = errors.New("voice: recognizer required")
	ErrNoClassifier   = errors.New("voice: intent classifier required")
	ErrNoGenerator    = errors.New("voice: response generator required")
	ErrNoSpeaker      = errors.New("voice: speaker required")
)

// IsUpstream reports whether err came from the completion or synthesis
// service rather than from local processing.
func IsUpstream(err error) bool {
	if err == nil {
		return false
	}
	if assistant.IsUpstream(err) {
		return true
	}
	var apiErr *tts.APIError
	if errors.As(err, &apiErr) {
		return true
	}
	var provErr *tts.ProviderError
	return errors.As(err, &provErr)
}
