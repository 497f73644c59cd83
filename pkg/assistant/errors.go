package assistant

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrUnclassifiedIntent matches any UnclassifiedIntentError.
	ErrUnclassifiedIntent = errors.New("assistant: unclassified intent")

	// ErrStreamClosed is returned by Next after Close.
	ErrStreamClosed = errors.New("assistant: response stream closed")

	// ErrEmptyLabel is returned when an intent label is blank.
	ErrEmptyLabel = errors.New("assistant: intent labels must not be empty")

	// ErrDuplicateLabel is returned when both intent labels are equal.
	ErrDuplicateLabel = errors.New("assistant: intent labels must differ")

	// ErrNilProvider is returned when no completion provider is given.
	ErrNilProvider = errors.New("assistant: provider required")
)

// UpstreamError is a failure of the completion capability.
type UpstreamError struct {
	// Op is the failing step: classify, generate or stream.
	Op  string
	Err error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("assistant %s: upstream: %v", e.Op, e.Err)
}

// Unwrap returns the provider error.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// UnclassifiedIntentError reports a label matching neither subcategory.
type UnclassifiedIntentError struct {
	Label string
}

// Error implements the error interface.
func (e *UnclassifiedIntentError) Error() string {
	return fmt.Sprintf("assistant: unclassified intent %q", e.Label)
}

// Is makes errors.Is(err, ErrUnclassifiedIntent) match.
func (e *UnclassifiedIntentError) Is(target error) bool {
	return target == ErrUnclassifiedIntent
}

// IsUpstream reports whether err came from the completion capability.
func IsUpstream(err error) bool {
	var up *UpstreamError
	return errors.As(err, &up)
}
