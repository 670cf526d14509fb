// Package llm adapts a single chat-completion call to an OpenRouter-style
// HTTP backend. Calls are gated by a shared ratelimit.Limiter and retried
// according to the taxonomy in the research engine's error model.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"deepresearch/internal/ratelimit"
)

const defaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"

// Message is a single role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are the recognized per-call overrides.
type Params struct {
	Temperature    float64
	MaxTokens      int
	ResponseFormat string // "text" or "json"
}

// DefaultParams returns the spec's default temperature/maxTokens.
func DefaultParams() Params {
	return Params{Temperature: 0.7, MaxTokens: 4000}
}

// Response is the single text completion returned by a chat call, along
// with token usage for cost accounting.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Kind classifies an LLMClient failure per the error taxonomy.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindRateLimited     Kind = "rate_limited"
	KindTimeout         Kind = "timeout"
	KindBadResponse     Kind = "bad_response"
	KindTransient       Kind = "transient"
)

// Error wraps a classified LLMClient failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("llm: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// CredentialReloader is invoked when the provider returns 401, giving the
// caller a chance to refresh credentials before a single retry.
type CredentialReloader func(ctx context.Context) error

// Client calls a chat-completions endpoint keyed by model ID.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	reload     CredentialReloader
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the default OpenRouter endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithCredentialReloader installs the 401 recovery hook.
func WithCredentialReloader(reload CredentialReloader) Option {
	return func(c *Client) { c.reload = reload }
}

// WithHTTPClient overrides the HTTP transport (tests inject a stub server's
// client).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates an LLMClient backed by apiKey and gated by limiter.
func New(apiKey string, limiter *ratelimit.Limiter, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    limiter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Temperature    float64   `json:"temperature,omitempty"`
	MaxTokens      int       `json:"max_tokens,omitempty"`
	ResponseFormat *respFmt  `json:"response_format,omitempty"`
}

type respFmt struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat sends a single chat-completion request for modelID. If
// params.ResponseFormat is "json", the caller is still responsible for
// parsing the resulting text — the prompt, not this client, is what
// instructs the model to emit JSON.
func (c *Client) Chat(ctx context.Context, modelID string, messages []Message, params Params) (*Response, error) {
	return c.chatAttempt(ctx, modelID, messages, params, 0, false)
}

func (c *Client) chatAttempt(ctx context.Context, modelID string, messages []Message, params Params, transientRetries int, reloadedOnce bool) (*Response, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, Err: err}
	}

	req := chatRequest{
		Model:       modelID,
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	}
	if params.ResponseFormat == "json" {
		req.ResponseFormat = &respFmt{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindTimeout, Err: err}
		}
		if transientRetries < 2 {
			return c.chatAttempt(ctx, modelID, messages, params, transientRetries+1, reloadedOnce)
		}
		return nil, &Error{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if !reloadedOnce && c.reload != nil {
			if reloadErr := c.reload(ctx); reloadErr == nil {
				return c.chatAttempt(ctx, modelID, messages, params, transientRetries, true)
			}
		}
		return nil, &Error{Kind: KindUnauthenticated, Err: fmt.Errorf("401 from provider")}

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.limiter.SignalRateLimitError(retryAfter)
		return c.chatAttempt(ctx, modelID, messages, params, transientRetries, reloadedOnce)

	case resp.StatusCode >= 500:
		if transientRetries < 2 {
			return c.chatAttempt(ctx, modelID, messages, params, transientRetries+1, reloadedOnce)
		}
		b, _ := io.ReadAll(resp.Body)
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("server error %d: %s", resp.StatusCode, b)}

	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(resp.Body)
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("provider error %d: %s", resp.StatusCode, b)}
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &Error{Kind: KindBadResponse, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == "" {
		return nil, &Error{Kind: KindBadResponse, Err: fmt.Errorf("empty completion")}
	}

	return &Response{
		Text:         decoded.Choices[0].Message.Content,
		InputTokens:  decoded.Usage.PromptTokens,
		OutputTokens: decoded.Usage.CompletionTokens,
		TotalTokens:  decoded.Usage.TotalTokens,
	}, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := time.ParseDuration(header + "s"); err == nil {
		return secs
	}
	return 0
}
