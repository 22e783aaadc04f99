// Package llm provides the Anthropic Messages API client behind the optional
// dialogue and narration adapters.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	defaultModel   = "claude-haiku-4-5-20251001"
)

// ErrRateLimited is returned when the per-minute call budget is spent.
var ErrRateLimited = errors.New("llm: rate limit exceeded")

// ErrDisabled is returned by a client without an API key.
var ErrDisabled = errors.New("llm: client not configured")

// Options configure a Client.
type Options struct {
	APIKey            string
	BaseURL           string // defaults to the public API
	Model             string
	RequestsPerMinute int
	Timeout           time.Duration
}

// Client wraps the Anthropic Messages API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client

	// Rate limiting: max calls per minute.
	mu        sync.Mutex
	callCount int
	resetAt   time.Time
	maxPerMin int
}

// NewClient creates a client. Returns nil if opts.APIKey is empty (LLM features disabled).
func NewClient(opts Options) *Client {
	if opts.APIKey == "" {
		return nil
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		httpClient: &http.Client{Timeout: opts.Timeout},
		maxPerMin:  opts.RequestsPerMinute,
	}
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

type response struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Client) reserve() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.After(c.resetAt) {
		c.callCount = 0
		c.resetAt = now.Add(time.Minute)
	}
	if c.callCount >= c.maxPerMin {
		return false
	}
	c.callCount++
	return true
}

// Complete sends a prompt and returns the response text.
func (c *Client) Complete(ctx context.Context, system, userPrompt string, maxTokens int) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	if !c.reserve() {
		return "", fmt.Errorf("%w (%d calls/min)", ErrRateLimited, c.maxPerMin)
	}

	body, err := json.Marshal(request{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []Message{{Role: "user", Content: userPrompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("API call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("empty response")
	}

	slog.Debug("llm call",
		"model", c.model,
		"input_tokens", apiResp.Usage.InputTokens,
		"output_tokens", apiResp.Usage.OutputTokens,
	)
	return strings.TrimSpace(apiResp.Content[0].Text), nil
}
