// Package inference is the completion capability used by the assistant.
//
// A Provider issues chat completions against an Azure OpenAI deployment or
// any OpenAI-compatible endpoint, either as a single response or as a
// forward-only stream of deltas.
//
// Example usage:
//
//	client, _ := inference.NewClient(
//	    inference.WithAzure(endpoint, deployment, "2023-05-15"),
//	    inference.WithAPIKey(key),
//	)
//	defer client.Close()
//
//	stream, _ := client.Stream(ctx, &inference.ChatRequest{
//	    Messages: []inference.Message{
//	        inference.NewSystemMessage(prompt),
//	        inference.NewUserMessage("What's the weather like?"),
//	    },
//	})
//	defer stream.Close()
package inference

import "context"

// Provider is the completion capability.
type Provider interface {
	// Chat generates a single response from a sequence of messages.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream opens a streaming completion.
	Stream(ctx context.Context, req *ChatRequest) (Stream, error)

	// Health checks connectivity and key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Stream is a finite, single-pass sequence of completion chunks.
type Stream interface {
	// Recv returns the next chunk. The final chunk has Done set; chunks
	// may carry no Delta (role announcements, keep-alives).
	Recv() (*StreamChunk, error)

	// Close abandons the stream and releases the connection.
	Close() error
}

// StreamChunk is a piece of a streaming response.
type StreamChunk struct {
	// Delta is the incremental text content, possibly empty.
	Delta string

	// Role is set on the first chunk by most providers.
	Role Role

	// FinishReason indicates why generation stopped (stop, length, content_filter).
	FinishReason string

	// Done is true when the stream is complete.
	Done bool
}

// ChatRequest for chat completions.
type ChatRequest struct {
	// Messages is the conversation so far.
	Messages []Message

	// Model overrides the default model. Ignored for Azure deployments.
	Model string

	// MaxTokens limits the response length. Zero uses the provider default.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64

	// TopP controls nucleus sampling.
	TopP float64

	// Stop sequences that halt generation.
	Stop []string
}

// ChatResponse from chat completion.
type ChatResponse struct {
	// Message is the first choice.
	Message Message

	// FinishReason indicates why generation stopped.
	FinishReason string

	// Usage tracks token consumption.
	Usage Usage

	// Model used for generation.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
