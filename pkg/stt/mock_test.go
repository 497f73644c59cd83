package stt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockReplaysScript(t *testing.T) {
	boom := errors.New("boom")
	m := NewMock(Say("hello"), Silence(), Script{Err: boom})

	var events []EventKind
	utt, err := m.RecognizeOnce(t.Context(), func(e Event) { events = append(events, e.Kind) })
	require.NoError(t, err)
	assert.Equal(t, "hello", utt.Text)
	assert.Equal(t, []EventKind{EventSpeechStart, EventRecognizing, EventSpeechEnd, EventRecognized}, events)

	utt, err = m.RecognizeOnce(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusNoMatch, utt.Status)

	_, err = m.RecognizeOnce(t.Context(), nil)
	assert.ErrorIs(t, err, boom)

	_, err = m.RecognizeOnce(t.Context(), nil)
	assert.ErrorIs(t, err, ErrInputClosed)
	assert.Equal(t, 4, m.CallCount())
}

func TestMockDelayHonorsContext(t *testing.T) {
	m := NewMock(Script{Utterance: RecognizedText("late"), Delay: time.Hour})

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := m.RecognizeOnce(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockRecognizeFunc(t *testing.T) {
	m := NewMock()
	m.RecognizeFunc = func(ctx context.Context, observe Observer) (*Utterance, error) {
		return Canceled(ReasonCanceled, ""), nil
	}

	utt, err := m.RecognizeOnce(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, utt.Status)

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
}
