// Package gemini implements btchat.Provider on the Gemini REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/meikuraledutech/btchat"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	DefaultModel   = "gemini-2.5-flash"
)

// GeminiProvider implements btchat.Provider using the Gemini REST API.
type GeminiProvider struct {
	apiKey  string
	modelID string
	baseURL string
	client  *http.Client
	store   btchat.RequestLogger
}

// New creates a new GeminiProvider. An empty modelID selects DefaultModel.
func New(apiKey, modelID string) *GeminiProvider {
	if modelID == "" {
		modelID = DefaultModel
	}
	return &GeminiProvider{
		apiKey:  apiKey,
		modelID: modelID,
		baseURL: defaultBaseURL,
		client:  &http.Client{},
	}
}

// WithStore configures request logging for this provider.
func (g *GeminiProvider) WithStore(store btchat.RequestLogger) *GeminiProvider {
	g.store = store
	return g
}

// WithBaseURL points the provider at another models endpoint.
func (g *GeminiProvider) WithBaseURL(baseURL string) *GeminiProvider {
	g.baseURL = strings.TrimRight(baseURL, "/")
	return g
}

// WithHTTPClient replaces the HTTP client.
func (g *GeminiProvider) WithHTTPClient(client *http.Client) *GeminiProvider {
	g.client = client
	return g
}

// Send calls the Gemini generateContent API once.
func (g *GeminiProvider) Send(ctx context.Context, rules btchat.Rules, history []btchat.Message, prompt string) (*btchat.Result, error) {
	if prompt == "" {
		return nil, btchat.ErrEmptyPrompt
	}

	entry := btchat.RequestLog{
		SessionID: btchat.RequestSessionID(ctx, history),
		Provider:  "gemini",
		Model:     g.modelID,
		Prompt:    prompt,
	}

	return btchat.TrackRequest(ctx, g.store, entry, func() (*btchat.Result, error) {
		return g.sendOnce(ctx, rules, history, prompt)
	})
}

func (g *GeminiProvider) sendOnce(ctx context.Context, rules btchat.Rules, history []btchat.Message, prompt string) (*btchat.Result, error) {
	jsonBody, err := json.Marshal(g.buildRequest(rules, history, prompt))
	if err != nil {
		return nil, fmt.Errorf("btchat: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", g.baseURL, g.modelID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("btchat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Kept out of the URL so transport errors never carry it.
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("btchat: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("btchat: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", btchat.ErrProviderFailed, resp.StatusCode, string(body))
	}

	return g.parseResponse(body)
}

func (g *GeminiProvider) buildRequest(rules btchat.Rules, history []btchat.Message, prompt string) map[string]any {
	contents := make([]map[string]any, 0, len(history)+1)

	for _, msg := range history {
		role := string(msg.Role)
		if msg.Role == btchat.RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]any{{"text": msg.Content}},
		})
	}

	contents = append(contents, map[string]any{
		"role":  "user",
		"parts": []map[string]any{{"text": prompt}},
	})

	genConfig := map[string]any{
		"temperature": rules.Temperature,
	}
	if rules.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = rules.MaxTokens
	}

	req := map[string]any{
		"contents":         contents,
		"generationConfig": genConfig,
	}

	if rules.SystemPrompt != "" {
		req["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": rules.SystemPrompt}},
		}
	}

	return req
}

func (g *GeminiProvider) parseResponse(body []byte) (*btchat.Result, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("btchat: parse response: %w", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty response from Gemini", btchat.ErrProviderFailed)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Thought {
			continue
		}
		text.WriteString(part.Text)
	}

	return &btchat.Result{
		Output: btchat.Text(text.String()),
		Usage: btchat.Usage{
			PromptTokens:   resp.UsageMetadata.PromptTokenCount,
			ResponseTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:    resp.UsageMetadata.TotalTokenCount,
			ThoughtTokens:  resp.UsageMetadata.ThoughtsTokenCount,
		},
	}, nil
}

// Gemini API response types.
type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage       `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text    string `json:"text"`
	Thought bool   `json:"thought,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
}

// Ensure GeminiProvider implements btchat.Provider at compile time.
var _ btchat.Provider = (*GeminiProvider)(nil)
