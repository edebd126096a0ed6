// Package webhook implements btchat.Provider against a generic HTTP endpoint,
// such as a LangServe chain. The response shape decides the output variant:
// a JSON object becomes btchat.Fields, a JSON string becomes btchat.Text and
// anything else is taken verbatim as btchat.Text.
package webhook

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
)

// Provider posts each prompt to a URL.
type Provider struct {
	url     string
	token   string
	client  *http.Client
	headers map[string]string
	store   btchat.RequestLogger
}

// New creates a Provider for url. A non-empty token is sent as a bearer token.
func New(url, token string, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Provider{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

// WithHeaders adds static headers to every request.
func (p *Provider) WithHeaders(headers map[string]string) *Provider {
	p.headers = headers
	return p
}

// WithStore configures request logging for this provider.
func (p *Provider) WithStore(store btchat.RequestLogger) *Provider {
	p.store = store
	return p
}

type turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	System      string  `json:"system,omitempty"`
	History     []turn  `json:"history"`
	Input       string  `json:"input"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Send posts one request and decodes the reply.
func (p *Provider) Send(ctx context.Context, rules btchat.Rules, history []btchat.Message, prompt string) (*btchat.Result, error) {
	if prompt == "" {
		return nil, btchat.ErrEmptyPrompt
	}

	entry := btchat.RequestLog{
		SessionID: btchat.RequestSessionID(ctx, history),
		Provider:  "webhook",
		Model:     p.url,
		Prompt:    prompt,
	}

	return btchat.TrackRequest(ctx, p.store, entry, func() (*btchat.Result, error) {
		return p.post(ctx, rules, history, prompt)
	})
}

func (p *Provider) post(ctx context.Context, rules btchat.Rules, history []btchat.Message, prompt string) (*btchat.Result, error) {
	body := request{
		System:      rules.SystemPrompt,
		History:     make([]turn, 0, len(history)),
		Input:       prompt,
		Temperature: rules.Temperature,
		MaxTokens:   rules.MaxTokens,
	}
	for _, m := range history {
		body.History = append(body.History, turn{Role: string(m.Role), Content: m.Content})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("btchat: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("btchat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("btchat: send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("btchat: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", btchat.ErrProviderFailed, resp.StatusCode, string(raw))
	}

	return &btchat.Result{Output: Decode(raw)}, nil
}

// Decode maps a response body onto an output variant. A top-level "output"
// member, as LangServe returns it, is unwrapped first.
func Decode(raw []byte) btchat.Output {
	trimmed := bytes.TrimSpace(raw)

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return btchat.Text(strings.TrimSpace(string(raw)))
	}

	if obj, ok := v.(map[string]any); ok {
		if inner, ok := obj["output"]; ok {
			v = inner
		}
	}

	switch val := v.(type) {
	case string:
		return btchat.Text(val)
	case map[string]any:
		return btchat.Fields(val)
	default:
		return btchat.Text(string(trimmed))
	}
}

var _ btchat.Provider = (*Provider)(nil)
