package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-voiceloop/internal/log"
	"github.com/teslashibe/go-voiceloop/pkg/inference"
)

var testLabels = Labels{Primary: "weather", Secondary: "other"}

const testTemplate = "Answer {intent_subcategory_1} or {intent_subcategory_2} only."

func newTestClassifier(t *testing.T, p inference.Provider, opts ...Option) *Classifier {
	t.Helper()
	opts = append([]Option{WithLogger(log.Discard()), WithRetry(2, time.Millisecond)}, opts...)
	c, err := NewClassifier(p, testLabels, testTemplate, opts...)
	require.NoError(t, err)
	return c
}

func reply(content string) func(context.Context, *inference.ChatRequest) (*inference.ChatResponse, error) {
	return func(context.Context, *inference.ChatRequest) (*inference.ChatResponse, error) {
		return &inference.ChatResponse{Message: inference.NewAssistantMessage(content)}, nil
	}
}

func TestClassificationPrompt(t *testing.T) {
	got := ClassificationPrompt(testTemplate, testLabels)
	assert.Equal(t, "Answer weather or other only.", got)

	// Templates without placeholders pass through unchanged.
	assert.Equal(t, "plain", ClassificationPrompt("plain", testLabels))
}

func TestClassify(t *testing.T) {
	mock := inference.NewMock()
	mock.ChatFunc = reply("  weather\n")
	c := newTestClassifier(t, mock)

	label, err := c.Classify(context.Background(), "Will it rain tomorrow?")
	require.NoError(t, err)
	assert.Equal(t, "weather", label)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 50, reqs[0].MaxTokens)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, inference.RoleSystem, reqs[0].Messages[0].Role)
	assert.Equal(t, "Answer weather or other only.", reqs[0].Messages[0].Content)
	assert.Equal(t, "Will it rain tomorrow?", reqs[0].Messages[1].Content)
}

func TestClassifyMaxTokensOption(t *testing.T) {
	mock := inference.NewMock()
	c := newTestClassifier(t, mock, WithClassifyMaxTokens(5))

	_, err := c.Classify(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, 5, mock.Requests()[0].MaxTokens)
}

func TestClassifyRetriesTransientFailures(t *testing.T) {
	mock := inference.NewMock()
	attempts := 0
	mock.ChatFunc = func(ctx context.Context, req *inference.ChatRequest) (*inference.ChatResponse, error) {
		attempts++
		if attempts == 1 {
			return nil, &inference.APIError{StatusCode: 503, Provider: "azure"}
		}
		return reply("other")(ctx, req)
	}
	c := newTestClassifier(t, mock)

	label, err := c.Classify(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "other", label)
	assert.Equal(t, 2, mock.CallCount("Chat"))
}

func TestClassifyFailures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{"unauthorized is not retried", &inference.APIError{StatusCode: 401}, 1},
		{"no choices is not retried", inference.WrapError("azure", inference.ErrNoChoices), 1},
		{"rate limit exhausts retries", &inference.APIError{StatusCode: 429}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := inference.WithError(tt.err)
			c := newTestClassifier(t, mock)

			_, err := c.Classify(context.Background(), "hello")
			require.Error(t, err)

			var up *UpstreamError
			require.True(t, errors.As(err, &up), "got %T", err)
			assert.Equal(t, "classify", up.Op)
			assert.ErrorIs(t, err, tt.err)
			assert.True(t, IsUpstream(err))
			assert.Equal(t, tt.wantCalls, mock.CallCount("Chat"))
		})
	}
}

func TestClassifyNoRetries(t *testing.T) {
	mock := inference.WithError(&inference.APIError{StatusCode: 500})
	c := newTestClassifier(t, mock, WithRetry(0, time.Millisecond))

	_, err := c.Classify(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, 1, mock.CallCount("Chat"))
}

func TestNewClassifierValidation(t *testing.T) {
	_, err := NewClassifier(nil, testLabels, testTemplate)
	assert.ErrorIs(t, err, ErrNilProvider)

	_, err = NewClassifier(inference.NewMock(), Labels{Primary: "a"}, testTemplate)
	assert.ErrorIs(t, err, ErrEmptyLabel)

	_, err = NewClassifier(inference.NewMock(), Labels{Primary: "a", Secondary: "a"}, testTemplate)
	assert.ErrorIs(t, err, ErrDuplicateLabel)
}
