// Package llm calls the YandexGPT foundation-models completion API.
package llm

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

const (
	DefaultBaseURL = "https://llm.api.cloud.yandex.net"
	DefaultModel   = "yandexgpt-lite/latest"
	completionPath = "/foundationModels/v1/completion"
)

// ErrEmptyResponse is returned when the API answers without any alternative.
var ErrEmptyResponse = errors.New("completion returned no alternatives")

// StatusError is returned when the API answers with a non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion API returned status %d: %s", e.Code, e.Body)
}

// Config holds the completion client settings.
type Config struct {
	APIKey      string
	FolderID    string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client sends single-turn completion requests. Requests are never retried.
type Client struct {
	config Config
	client *http.Client
}

// NewClient creates a client, filling unset fields with defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.config.APIKey != "" && c.config.FolderID != ""
}

// ModelURI is the model identifier sent with each request.
func (c *Client) ModelURI() string {
	return fmt.Sprintf("gpt://%s/%s", c.config.FolderID, c.config.Model)
}

type message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type completionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

type completionRequest struct {
	ModelURI          string            `json:"modelUri"`
	CompletionOptions completionOptions `json:"completionOptions"`
	Messages          []message         `json:"messages"`
}

type completionResponse struct {
	Result struct {
		Alternatives []struct {
			Message message `json:"message"`
			Status  string  `json:"status"`
		} `json:"alternatives"`
	} `json:"result"`
}

// Complete sends a system instruction and a user prompt and returns the
// text of the first alternative.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	if !c.Configured() {
		return "", errors.New("completion client is not configured")
	}

	body, err := json.Marshal(completionRequest{
		ModelURI: c.ModelURI(),
		CompletionOptions: completionOptions{
			Stream:      false,
			Temperature: c.config.Temperature,
			MaxTokens:   c.config.MaxTokens,
		},
		Messages: []message{
			{Role: "system", Text: system},
			{Role: "user", Text: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+completionPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Authorization", "Api-Key "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(out.Result.Alternatives) == 0 {
		return "", ErrEmptyResponse
	}
	return out.Result.Alternatives[0].Message.Text, nil
}
