package inference

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

// Stream returns a streaming chat response. Streams are never retried:
// a partially consumed completion cannot be replayed.
func (c *Client) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	resp, err := c.post(ctx, c.stream, "/chat/completions", c.buildChatPayload(req, true))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.parseError(resp)
	}

	return &clientStream{
		provider: c.provider,
		reader:   bufio.NewReader(resp.Body),
		body:     resp.Body,
	}, nil
}

// clientStream implements Stream for SSE responses.
type clientStream struct {
	provider string
	reader   *bufio.Reader
	body     io.ReadCloser
	closed   atomic.Bool
	done     bool
}

// Recv returns the next stream chunk.
func (s *clientStream) Recv() (*StreamChunk, error) {
	if s.closed.Load() {
		return nil, ErrStreamClosed
	}
	if s.done {
		return &StreamChunk{Done: true}, nil
	}

	for {
		line, err := s.reader.ReadString('\n')
		if errors.Is(err, io.EOF) && strings.TrimSpace(line) == "" {
			s.done = true
			return &StreamChunk{Done: true}, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			if s.closed.Load() {
				return nil, ErrStreamClosed
			}
			return nil, WrapError(s.provider, fmt.Errorf("read stream: %w", err))
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			return &StreamChunk{Done: true}, nil
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			// Skip malformed events
			continue
		}

		// Azure emits a leading event with only content filter results.
		if len(event.Choices) == 0 {
			continue
		}

		choice := event.Choices[0]
		chunk := &StreamChunk{
			Delta:        choice.Delta.Content,
			Role:         Role(choice.Delta.Role),
			FinishReason: choice.FinishReason,
			Done:         choice.FinishReason != "",
		}
		s.done = chunk.Done
		return chunk, nil
	}
}

// Close stops the stream. Safe to call more than once.
func (s *clientStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.body.Close()
}

// streamEvent is the SSE event format.
type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
