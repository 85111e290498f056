// Package assistant calls an OpenAI-compatible chat completions endpoint for
// the optional suggestion/motivation/report features.
//
// Every failure mode (transport error, non-2xx status, malformed body, empty
// choice) surfaces as ErrService so callers can substitute a fixed fallback
// reply instead of leaking provider internals to the chat.
package assistant

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

	"github.com/kabinh07/team-bot/pkg/logx"
)

// ErrService wraps any assistant failure.
var ErrService = errors.New("assistant service error")

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second
)

type Config struct {
	BaseURL string // e.g. "https://api.openai.com/v1"
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Generator is the capability consumed by the task service.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("assistant base_url is empty")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate runs one chat completion. Transient failures are retried once.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrService, ctx.Err())
			case <-time.After(time.Second):
			}
		}
		text, err := c.complete(ctx, system, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		c.log.Warn("assistant call failed", logx.Int("attempt", attempt+1), logx.Err(err))
	}
	return "", fmt.Errorf("%w: %v", ErrService, lastErr)
}

func (c *Client) complete(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode response (http=%d): %w", resp.StatusCode, err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("api error: %s (%s)", out.Error.Message, out.Error.Type)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("empty choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty completion")
	}
	return text, nil
}
