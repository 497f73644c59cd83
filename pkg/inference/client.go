package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-voiceloop/internal/httpc"
)

const (
	providerClient = "client"
	providerAzure  = "azure"
)

// Client is the HTTP-based completion provider.
// Works with Azure OpenAI deployments and any OpenAI-compatible API
// (OpenAI, Ollama, vLLM, Groq, etc.).
type Client struct {
	baseURL  string
	apiKey   string
	provider string
	config   *Config
	http     *http.Client
	stream   *http.Client
	logger   *slog.Logger
}

// NewClient creates a new inference client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider := providerClient
	if cfg.Azure {
		provider = providerAzure
	}

	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		provider: provider,
		config:   cfg,
		http:     httpc.NewClient(cfg.Timeout),
		stream:   httpc.NewStreamingClient(cfg.StreamTimeout),
		logger:   cfg.Logger.With("component", "inference."+provider),
	}, nil
}

// Chat generates a chat completion.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	resp, err := c.post(ctx, c.http, "/chat/completions", c.buildChatPayload(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, WrapError(c.provider, fmt.Errorf("decode response: %w", err))
	}

	if len(result.Choices) == 0 {
		return nil, WrapError(c.provider, ErrNoChoices)
	}

	choice := result.Choices[0]
	latency := time.Since(start)

	c.logger.Debug("chat completed",
		"latency_ms", latency.Milliseconds(),
		"finish_reason", choice.FinishReason,
		"total_tokens", result.Usage.TotalTokens,
	)

	return &ChatResponse{
		Message:      NewAssistantMessage(choice.Message.Content),
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
		Model:     result.Model,
		LatencyMs: latency.Milliseconds(),
	}, nil
}

// Health checks API connectivity.
func (c *Client) Health(ctx context.Context) error {
	path := "/models"
	if c.config.Azure {
		path = "/openai/models"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path, false), nil)
	if err != nil {
		return WrapError(c.provider, fmt.Errorf("create request: %w", err))
	}
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return WrapError(c.provider, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(resp)
	}
	return nil
}

// Close releases resources.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	c.stream.CloseIdleConnections()
	return nil
}

// url builds the request URL. Azure chat paths are deployment scoped.
func (c *Client) url(path string, deploymentScoped bool) string {
	if !c.config.Azure {
		return c.baseURL + path
	}
	u := c.baseURL
	if deploymentScoped {
		u += "/openai/deployments/" + url.PathEscape(c.config.Deployment)
	}
	return u + path + "?api-version=" + url.QueryEscape(c.config.APIVersion)
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey == "" {
		return
	}
	if c.config.Azure {
		req.Header.Set("api-key", c.apiKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// buildChatPayload constructs the API request payload.
func (c *Client) buildChatPayload(req *ChatRequest, stream bool) map[string]interface{} {
	messages := make([]map[string]interface{}, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = map[string]interface{}{
			"role":    string(msg.Role),
			"content": msg.Content,
		}
	}

	payload := map[string]interface{}{
		"messages": messages,
	}

	// Azure routes by deployment; the model field is ignored there.
	if !c.config.Azure {
		model := req.Model
		if model == "" {
			model = c.config.Model
		}
		payload["model"] = model
	}

	if stream {
		payload["stream"] = true
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}
	if maxTokens > 0 {
		payload["max_tokens"] = maxTokens
	}

	temp := req.Temperature
	if temp == 0 {
		temp = c.config.Temperature
	}
	if temp > 0 {
		payload["temperature"] = temp
	}

	if req.TopP > 0 {
		payload["top_p"] = req.TopP
	}

	if len(req.Stop) > 0 {
		payload["stop"] = req.Stop
	}

	return payload
}

// post makes a POST request against a chat path.
func (c *Client) post(ctx context.Context, hc *http.Client, path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(c.provider, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path, true), bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(c.provider, fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, WrapError(c.provider, err)
	}
	return resp, nil
}

// parseError reads and parses an error response.
func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Code
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   c.provider,
	}
}

// API response types
type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Verify Client implements Provider at compile time.
var _ Provider = (*Client)(nil)
