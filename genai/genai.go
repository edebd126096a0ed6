// Package genai implements btchat.Provider with the Google Gen AI Go SDK.
package genai

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/meikuraledutech/btchat"
)

// DefaultModel is used when New is given no model.
const DefaultModel = "gemini-2.5-flash"

// Provider wraps a genai client.
type Provider struct {
	client *genai.Client
	model  string
	store  btchat.RequestLogger
}

// New creates a Provider for the Gemini API. A non-empty baseURL overrides
// the service endpoint.
func New(ctx context.Context, apiKey, model, baseURL string) (*Provider, error) {
	if model == "" {
		model = DefaultModel
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("btchat: create genai client: %w", err)
	}

	return &Provider{client: client, model: model}, nil
}

// WithStore configures request logging for this provider.
func (p *Provider) WithStore(store btchat.RequestLogger) *Provider {
	p.store = store
	return p
}

// Send calls GenerateContent once.
func (p *Provider) Send(ctx context.Context, rules btchat.Rules, history []btchat.Message, prompt string) (*btchat.Result, error) {
	if prompt == "" {
		return nil, btchat.ErrEmptyPrompt
	}

	entry := btchat.RequestLog{
		SessionID: btchat.RequestSessionID(ctx, history),
		Provider:  "genai",
		Model:     p.model,
		Prompt:    prompt,
	}

	return btchat.TrackRequest(ctx, p.store, entry, func() (*btchat.Result, error) {
		resp, err := p.client.Models.GenerateContent(ctx, p.model, buildContents(history, prompt), buildConfig(rules))
		if err != nil {
			return nil, fmt.Errorf("btchat: generate content: %w", err)
		}
		return toResult(resp)
	})
}

func buildContents(history []btchat.Message, prompt string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := genai.RoleUser
		if m.Role == btchat.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return append(contents, genai.NewContentFromText(prompt, genai.RoleUser))
}

func buildConfig(rules btchat.Rules) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(rules.Temperature)),
	}
	if rules.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(rules.MaxTokens)
	}
	if rules.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(rules.SystemPrompt, genai.RoleUser)
	}
	return cfg
}

func toResult(resp *genai.GenerateContentResponse) (*btchat.Result, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: empty response from genai", btchat.ErrProviderFailed)
	}

	res := &btchat.Result{Output: btchat.Text(resp.Text())}
	if u := resp.UsageMetadata; u != nil {
		res.Usage = btchat.Usage{
			PromptTokens:   int(u.PromptTokenCount),
			ResponseTokens: int(u.CandidatesTokenCount),
			TotalTokens:    int(u.TotalTokenCount),
			ThoughtTokens:  int(u.ThoughtsTokenCount),
		}
	}
	return res, nil
}

var _ btchat.Provider = (*Provider)(nil)
