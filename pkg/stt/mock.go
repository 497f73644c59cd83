package stt

import (
	"context"
	"sync"
	"time"
)

// Script is one scripted recognition attempt for Mock.
type Script struct {
	Utterance *Utterance
	Err       error

	// Delay is how long the attempt takes before returning.
	Delay time.Duration
}

// Say scripts a recognized utterance.
func Say(text string) Script {
	return Script{Utterance: RecognizedText(text)}
}

// Silence scripts a no-match attempt.
func Silence() Script {
	return Script{Utterance: NoMatch()}
}

// Mock is a recognizer that replays scripted attempts, then reports
// ErrInputClosed.
type Mock struct {
	// RecognizeFunc, if set, replaces the script.
	RecognizeFunc func(ctx context.Context, observe Observer) (*Utterance, error)

	mu     sync.Mutex
	script []Script
	next   int
	calls  int
	closed bool
}

// NewMock creates a mock recognizer replaying script in order.
func NewMock(script ...Script) *Mock {
	return &Mock{script: script}
}

// RecognizeOnce implements Recognizer.
func (m *Mock) RecognizeOnce(ctx context.Context, observe Observer) (*Utterance, error) {
	m.mu.Lock()
	m.calls++
	fn := m.RecognizeFunc
	if fn != nil {
		m.mu.Unlock()
		return fn(ctx, observe)
	}
	if m.next >= len(m.script) {
		m.mu.Unlock()
		return nil, ErrInputClosed
	}
	s := m.script[m.next]
	m.next++
	m.mu.Unlock()

	if observe == nil {
		observe = func(Event) {}
	}

	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}

	u := *s.Utterance
	now := time.Now()
	if u.Recognized() {
		observe(Event{Kind: EventSpeechStart, At: now})
		observe(Event{Kind: EventRecognizing, Text: u.Text, At: now})
		observe(Event{Kind: EventSpeechEnd, At: now})
		observe(Event{Kind: EventRecognized, Text: u.Text, At: now})
	}
	if u.SpeechEnd.IsZero() || u.Recognized() {
		u.SpeechEnd = now
	}
	return &u, nil
}

// Close implements Recognizer.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// CallCount returns the number of RecognizeOnce calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ Recognizer = (*Mock)(nil)
