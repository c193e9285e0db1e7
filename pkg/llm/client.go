package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/meggy-ai/bruno-core-sub000/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// ClientConfig configures the chat completions client.
type ClientConfig struct {
	// Target is the API base URL, e.g. http://localhost:11434/v1.
	Target string
	// Model is the model identifier sent with every request.
	Model string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Timeout bounds each HTTP round trip. Defaults to 30s.
	Timeout time.Duration
	// Logger defaults to a nop logger.
	Logger *slog.Logger
}

// Client is a Generator backed by an OpenAI-compatible /chat/completions
// endpoint. It keeps an optional rolling history of turns for callers that
// request conversational context.
type Client struct {
	target string
	model  string
	apiKey string
	http   *http.Client
	log    *slog.Logger

	mu      sync.Mutex
	history []chatMessage
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewClient validates the config and returns a ready Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	target := strings.TrimRight(strings.TrimSpace(cfg.Target), "/")
	if target == "" {
		return nil, fmt.Errorf("llm: target is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		target: target,
		model:  cfg.Model,
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: timeout},
		log:    log,
	}, nil
}

// Generate sends the prompt and returns the assistant's reply. With
// useHistory true the prompt and reply are appended to the rolling history
// and prior turns are included in the request.
func (c *Client) Generate(ctx context.Context, prompt string, useHistory bool) (string, error) {
	var msgs []chatMessage
	if useHistory {
		c.mu.Lock()
		msgs = append(msgs, c.history...)
		c.mu.Unlock()
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.target+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm: response contained no choices")
	}
	reply := parsed.Choices[0].Message.Content

	if useHistory {
		c.mu.Lock()
		c.history = append(c.history,
			chatMessage{Role: "user", Content: prompt},
			chatMessage{Role: "assistant", Content: reply},
		)
		c.mu.Unlock()
	}

	c.log.Debug("generated completion", "model", c.model, "prompt_len", len(prompt), "reply_len", len(reply))
	return reply, nil
}

// ResetHistory clears the rolling conversation history.
func (c *Client) ResetHistory() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}
