package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
		}
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Expected Bearer test-key, got %s", auth)
		}

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "gpt-4o-mini" {
			t.Errorf("Expected model gpt-4o-mini, got %v", body["model"])
		}
		if body["max_tokens"] != float64(50) {
			t.Errorf("Expected max_tokens 50, got %v", body["max_tokens"])
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "test-id",
			"model": "gpt-4o-mini",
			"choices": [{"message": {"role": "assistant", "content": "Hello! How can I help?"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	defer server.Close()

	client, err := NewClient(
		WithBaseURL(server.URL),
		WithAPIKey("test-key"),
		WithModel("gpt-4o-mini"),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	resp, err := client.Chat(context.Background(), &ChatRequest{
		Messages:  []Message{NewUserMessage("Hello")},
		MaxTokens: 50,
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if resp.Message.Content != "Hello! How can I help?" {
		t.Errorf("Unexpected content: %s", resp.Message.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("Expected finish_reason 'stop', got %s", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("Expected 15 tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestClientAzureRouting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/gpt-35/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if v := r.URL.Query().Get("api-version"); v != "2023-05-15" {
			t.Errorf("Expected api-version 2023-05-15, got %q", v)
		}
		if key := r.Header.Get("api-key"); key != "azure-key" {
			t.Errorf("Expected api-key header, got %q", key)
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("Azure requests must not send Authorization, got %q", auth)
		}

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["model"]; ok {
			t.Error("Azure payload should not carry a model")
		}

		fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "weather"}, "finish_reason": "stop"}]}`)
	}))
	defer server.Close()

	client, err := NewClient(
		WithAzure(server.URL+"/", "gpt-35", ""),
		WithAPIKey("azure-key"),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	resp, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{NewSystemMessage("classify"), NewUserMessage("Is it raining?")},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Message.Content != "weather" {
		t.Errorf("Unexpected content: %s", resp.Message.Content)
	}
}

func TestClientNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": []}`)
	}))
	defer server.Close()

	client, _ := NewClient(WithBaseURL(server.URL))
	defer client.Close()

	_, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{NewUserMessage("test")},
	})
	if !errors.Is(err, ErrNoChoices) {
		t.Fatalf("Expected ErrNoChoices, got %v", err)
	}
}

func TestClientHealth(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		path string
	}{
		{"openai", nil, "/models"},
		{"azure", []Option{WithAzure("", "dep", "2023-05-15"), WithAPIKey("k")}, "/openai/models"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.path {
					t.Errorf("Expected %s, got %s", tt.path, r.URL.Path)
				}
				json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}})
			}))
			defer server.Close()

			opts := append([]Option{}, tt.opts...)
			if len(opts) == 0 {
				opts = append(opts, WithBaseURL(server.URL))
			} else {
				opts[0] = WithAzure(server.URL, "dep", "2023-05-15")
			}

			client, err := NewClient(opts...)
			if err != nil {
				t.Fatalf("Failed to create client: %v", err)
			}
			defer client.Close()

			if err := client.Health(context.Background()); err != nil {
				t.Errorf("Health check failed: %v", err)
			}
		})
	}
}

func TestClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"message": "Invalid API key",
				"code":    "invalid_api_key",
			},
		})
	}))
	defer server.Close()

	client, _ := NewClient(
		WithBaseURL(server.URL),
		WithAPIKey("bad-key"),
	)
	defer client.Close()

	_, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{NewUserMessage("test")},
	})
	if err == nil {
		t.Fatal("Expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T", err)
	}
	if apiErr.StatusCode != 401 {
		t.Errorf("Expected 401, got %d", apiErr.StatusCode)
	}
	if !apiErr.IsUnauthorized() {
		t.Error("Expected IsUnauthorized() to be true")
	}
	if IsRetryable(err) {
		t.Error("401 should not be retryable")
	}
}

func TestClientNoAPIKey(t *testing.T) {
	// Local providers like Ollama don't need a key
	client, err := NewClient(WithBaseURL("http://localhost:11434/v1"))
	if err != nil {
		t.Fatalf("Should allow creation without API key: %v", err)
	}
	client.Close()

	// Azure does
	if _, err := NewClient(WithAzure("https://x.openai.azure.com", "dep", "")); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("Expected ErrNoAPIKey, got %v", err)
	}
	if _, err := NewClient(WithAzure("https://x.openai.azure.com", "", ""), WithAPIKey("k")); !errors.Is(err, ErrNoDeployment) {
		t.Errorf("Expected ErrNoDeployment, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &APIError{StatusCode: 429}, true},
		{"server error", &APIError{StatusCode: 503}, true},
		{"bad request", &APIError{StatusCode: 400}, false},
		{"wrapped server error", WrapError("azure", &APIError{StatusCode: 500}), true},
		{"canceled", WrapError("azure", context.Canceled), false},
		{"no choices", WrapError("azure", ErrNoChoices), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
