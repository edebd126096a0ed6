// Package openai implements btchat.Provider on any OpenAI-compatible chat
// completions endpoint. The defaults target DashScope's compatible mode with
// qwen-max.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/meikuraledutech/btchat"
	"github.com/meikuraledutech/btchat/observability"
)

const (
	DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultModel   = "qwen-max"
)

// Config configures a Provider.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Headers map[string]string
}

// Provider speaks the chat completions API.
type Provider struct {
	model      string
	apiKey     string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	store      btchat.RequestLogger
	logger     *observability.Logger
}

// New constructs a Provider, filling unset fields with the defaults.
func New(config Config, logger *observability.Logger) *Provider {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	timeout := 120 * time.Second
	if config.Timeout > 0 {
		timeout = config.Timeout
	}

	return &Provider{
		model:      config.Model,
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		headers:    config.Headers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     observability.OrNop(logger).With("provider", "openai"),
	}
}

// WithStore configures request logging for this provider.
func (c *Provider) WithStore(store btchat.RequestLogger) *Provider {
	c.store = store
	return c
}

// Send posts one chat completion request.
func (c *Provider) Send(ctx context.Context, rules btchat.Rules, history []btchat.Message, prompt string) (*btchat.Result, error) {
	if prompt == "" {
		return nil, btchat.ErrEmptyPrompt
	}

	entry := btchat.RequestLog{
		SessionID: btchat.RequestSessionID(ctx, history),
		Provider:  "openai",
		Model:     c.model,
		Prompt:    prompt,
	}

	return btchat.TrackRequest(ctx, c.store, entry, func() (*btchat.Result, error) {
		return c.complete(ctx, rules, history, prompt)
	})
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Provider) buildRequest(rules btchat.Rules, history []btchat.Message, prompt string) chatRequest {
	messages := make([]chatMessage, 0, len(history)+2)
	if rules.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: rules.SystemPrompt})
	}
	for _, m := range history {
		messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	return chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: rules.Temperature,
		MaxTokens:   rules.MaxTokens,
	}
}

func (c *Provider) complete(ctx context.Context, rules btchat.Rules, history []btchat.Message, prompt string) (*btchat.Result, error) {
	body, err := json.Marshal(c.buildRequest(rules, history, prompt))
	if err != nil {
		return nil, fmt.Errorf("btchat: marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("btchat: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	c.logger.DebugContext(ctx, "chat completion request", "url", endpoint, "model", c.model, "messages", len(history)+1)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("btchat: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("btchat: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.DebugContext(ctx, "chat completion error", "status", resp.StatusCode, "body", string(respBody))
		return nil, fmt.Errorf("%w: status %d: %s", btchat.ErrProviderFailed, resp.StatusCode, string(respBody))
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("btchat: decode response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", btchat.ErrProviderFailed, out.Error.Type, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", btchat.ErrProviderFailed)
	}

	msg := out.Choices[0].Message
	return &btchat.Result{
		Output: btchat.Reply{Role: msg.Role, Content: msg.Content},
		Usage: btchat.Usage{
			PromptTokens:   out.Usage.PromptTokens,
			ResponseTokens: out.Usage.CompletionTokens,
			TotalTokens:    out.Usage.TotalTokens,
		},
	}, nil
}

var _ btchat.Provider = (*Provider)(nil)
