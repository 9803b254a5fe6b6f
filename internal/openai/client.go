// Package openai communicates with an OpenAI-compatible API for chat
// completions with tool calling and for text embeddings. External calls
// carry timeouts and are retried with exponential backoff.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrModelCall indicates the model service stayed unreachable or kept
// returning malformed responses after all retries.
var ErrModelCall = errors.New("model call failed")

// Default configuration values.
const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultChatModel  = "gpt-4o-mini"
	DefaultEmbedModel = "text-embedding-3-small"
	DefaultTimeout    = 60 * time.Second

	// Retry policy for transient failures (network, 429, 5xx).
	maxAttempts    = 3
	retryBaseDelay = time.Second
)

// Config holds client configuration. Zero values fall back to defaults;
// only APIKey is required.
type Config struct {
	APIKey      string
	BaseURL     string
	ChatModel   string
	EmbedModel  string
	Temperature float64
	Timeout     time.Duration
}

// Client talks to an OpenAI-compatible HTTP API.
type Client struct {
	baseURL     string
	apiKey      string
	chatModel   string
	embedModel  string
	temperature float64
	httpClient  *http.Client
}

// New creates a Client. Returns an error when no API key is configured.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = DefaultEmbedModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		chatModel:   cfg.ChatModel,
		embedModel:  cfg.EmbedModel,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// embedRequest is the JSON body for POST /embeddings.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the JSON returned by POST /embeddings.
type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one embedding vector per input text, in input order.
// Returns nil (not error) for empty input.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := c.postJSON(ctx, "/embeddings", embedRequest{Model: c.embedModel, Input: texts})
	if err != nil {
		return nil, err
	}

	var result embedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decoding embeddings response: %v", ErrModelCall, err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrModelCall, len(result.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrModelCall, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// chatRequest is the JSON body for POST /chat/completions.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []ToolDef `json:"tools,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// chatResponse is the JSON returned by POST /chat/completions.
type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// Complete sends the transcript plus the tool catalog to the model and
// returns the assistant message, which carries either free text or one or
// more tool calls.
func (c *Client) Complete(ctx context.Context, messages []Message, tools []ToolDef) (Message, error) {
	body, err := c.postJSON(ctx, "/chat/completions", chatRequest{
		Model:       c.chatModel,
		Messages:    messages,
		Tools:       tools,
		Temperature: c.temperature,
	})
	if err != nil {
		return Message{}, err
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return Message{}, fmt.Errorf("%w: decoding chat response: %v", ErrModelCall, err)
	}
	if len(result.Choices) == 0 {
		return Message{}, fmt.Errorf("%w: no choices in chat response", ErrModelCall)
	}

	msg := result.Choices[0].Message
	if msg.Role == "" {
		msg.Role = RoleAssistant
	}
	return msg, nil
}

// apiError mirrors the error envelope OpenAI-compatible servers return.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// postJSON posts the payload and returns the response body, retrying
// transient failures with exponential backoff.
func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrModelCall, ctx.Err())
			case <-time.After(delay):
			}
		}

		body, retryable, err := c.doOnce(ctx, path, reqBody)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrModelCall, lastErr)
}

// doOnce performs a single attempt. The second return value reports whether
// the failure is worth retrying.
func (c *Client) doOnce(ctx context.Context, path string, reqBody []byte) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusOK {
		return body, false, nil
	}

	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

	var ae apiError
	if json.Unmarshal(body, &ae) == nil && ae.Error.Message != "" {
		return nil, retryable, fmt.Errorf("status %d: %s", resp.StatusCode, ae.Error.Message)
	}
	return nil, retryable, fmt.Errorf("unexpected status %d", resp.StatusCode)
}
