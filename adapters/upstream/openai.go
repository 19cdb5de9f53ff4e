// Package upstream talks to the OpenAI-compatible model provider that
// serves tutoring chat, speech synthesis and transcription.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/tutorquota/adapters/metrics"
	"github.com/artpar/tutorquota/domain/chat"
	"github.com/artpar/tutorquota/ports"
)

// Provider errors.
var (
	ErrRateLimited         = errors.New("upstream: rate limited")
	ErrAuthFailed          = errors.New("upstream: authentication failed")
	ErrInvalidRequest      = errors.New("upstream: invalid request")
	ErrProviderUnavailable = errors.New("upstream: provider unavailable")
)

// Client is an OpenAI-compatible chat completion client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	metrics    *metrics.Collector
}

var _ ports.ChatCompleter = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithMetrics records call durations on the collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(cl *Client) { cl.metrics = m }
}

// New creates a client for baseURL (e.g. "https://api.openai.com/v1").
func New(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiRequest is the chat completion request format. Generation options are
// always sent explicitly.
type apiRequest struct {
	Model            string       `json:"model"`
	Messages         []apiMessage `json:"messages"`
	Temperature      float64      `json:"temperature"`
	TopP             float64      `json:"top_p"`
	PresencePenalty  float64      `json:"presence_penalty"`
	FrequencyPenalty float64      `json:"frequency_penalty"`
	MaxTokens        int          `json:"max_tokens"`
	User             string       `json:"user,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int        `json:"index"`
		Message      apiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// Complete implements ports.ChatCompleter.
func (c *Client) Complete(ctx context.Context, req chat.Request) (chat.Response, error) {
	msgs := make([]apiMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = apiMessage{Role: string(m.Role), Content: m.Content}
	}
	opts := req.Options.WithDefaults()
	body, err := json.Marshal(apiRequest{
		Model:            opts.Model,
		Messages:         msgs,
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
		PresencePenalty:  opts.PresencePenalty,
		FrequencyPenalty: opts.FrequencyPenalty,
		MaxTokens:        opts.MaxTokens,
		User:             req.UserID,
	})
	if err != nil {
		return chat.Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return chat.Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe("error", start)
		return chat.Response{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	defer httpResp.Body.Close()
	c.observe(strconv.Itoa(httpResp.StatusCode), start)

	if err := mapHTTPError(httpResp); err != nil {
		return chat.Response{}, err
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return chat.Response{}, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return chat.Response{}, errors.New("upstream: empty choices in response")
	}

	m := resp.Choices[0].Message
	return chat.Response{
		ID:      resp.ID,
		Model:   resp.Model,
		Message: chat.Message{Role: chat.Role(m.Role), Content: m.Content},
		Usage: chat.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) observe(status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, string(body))
	default:
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
}
