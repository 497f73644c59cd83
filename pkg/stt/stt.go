// Package stt recognizes one utterance at a time from a microphone source.
//
// A Recognizer blocks in RecognizeOnce until the speech service reports a
// final result for a single phrase. Progress (speech start, partial
// hypotheses, speech end) is reported to an optional Observer while the
// call is in flight, decoupled from the returned Utterance.
package stt

import (
	"context"
	"time"
)

// Status is the outcome of one recognition attempt.
type Status string

const (
	StatusRecognized Status = "recognized"
	StatusNoMatch    Status = "no-match"
	StatusCanceled   Status = "canceled"
	StatusError      Status = "error"
)

// CancellationReason explains a canceled attempt.
type CancellationReason string

const (
	ReasonError       CancellationReason = "error"
	ReasonEndOfStream CancellationReason = "end-of-stream"
	ReasonCanceled    CancellationReason = "canceled"
)

// Cancellation details a canceled attempt.
type Cancellation struct {
	Reason CancellationReason

	// Detail carries the error text when Reason is ReasonError.
	Detail string
}

// Utterance is the result of one recognition attempt.
type Utterance struct {
	Text         string
	Status       Status
	Cancellation *Cancellation

	// Offset and Duration locate the phrase within the submitted audio.
	Offset   time.Duration
	Duration time.Duration

	// SpeechEnd is when the end of speech was detected, or when the
	// result arrived if the service never reported it.
	SpeechEnd time.Time

	// Latency is the time from SpeechEnd to the final result.
	Latency time.Duration
}

// Recognized reports whether the attempt produced text.
func (u *Utterance) Recognized() bool {
	return u != nil && u.Status == StatusRecognized
}

// EventKind identifies a recognition progress event.
type EventKind string

const (
	EventSpeechStart EventKind = "speech-start"
	EventRecognizing EventKind = "recognizing"
	EventSpeechEnd   EventKind = "speech-end"
	EventRecognized  EventKind = "recognized"
)

// Event is a progress notification delivered during RecognizeOnce.
type Event struct {
	Kind EventKind
	Text string
	At   time.Time
}

// Observer receives progress events. It is called from the goroutine
// running RecognizeOnce and must not block.
type Observer func(Event)

// Recognizer performs one-shot speech recognition.
type Recognizer interface {
	// RecognizeOnce listens until one phrase is recognized, nothing was
	// recognized, or the attempt is canceled. Those outcomes are reported
	// in the Utterance with a nil error. It returns ErrInputClosed once the
	// audio source has ended, and the context error if ctx is done.
	RecognizeOnce(ctx context.Context, observe Observer) (*Utterance, error)

	// Close releases resources held by the recognizer.
	Close() error
}

// NoMatch returns a no-match utterance.
func NoMatch() *Utterance {
	return &Utterance{Status: StatusNoMatch}
}

// Canceled returns a canceled utterance.
func Canceled(reason CancellationReason, detail string) *Utterance {
	return &Utterance{
		Status:       StatusCanceled,
		Cancellation: &Cancellation{Reason: reason, Detail: detail},
	}
}

// RecognizedText returns a recognized utterance for text.
func RecognizedText(text string) *Utterance {
	now := time.Now()
	return &Utterance{Text: text, Status: StatusRecognized, SpeechEnd: now}
}
