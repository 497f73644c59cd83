package stt

import "errors"

var (
	// ErrInputClosed is returned once the audio source has ended.
	ErrInputClosed = errors.New("stt: audio input closed")

	// ErrNoAPIKey is returned when the subscription key is missing.
	ErrNoAPIKey = errors.New("stt: API key required")

	// ErrNoRegion is returned when neither a region nor an endpoint is set.
	ErrNoRegion = errors.New("stt: region required")

	// ErrNoLanguage is returned when the recognition language is missing.
	ErrNoLanguage = errors.New("stt: language required")

	// ErrNoSource is returned when no audio source is given.
	ErrNoSource = errors.New("stt: audio source required")
)
