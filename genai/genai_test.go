package genai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/meikuraledutech/btchat"
)

func TestBuildContents(t *testing.T) {
	history := []btchat.Message{
		{Role: btchat.RoleUser, Content: "q"},
		{Role: btchat.RoleAssistant, Content: "a"},
	}
	contents := buildContents(history, "next")
	require.Len(t, contents, 3)

	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	assert.Equal(t, "next", contents[2].Parts[0].Text)
}

func TestBuildConfig(t *testing.T) {
	cfg := buildConfig(btchat.Rules{SystemPrompt: "sys", MaxTokens: 128, Temperature: 0.3})
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.3, *cfg.Temperature, 1e-6)
	assert.Equal(t, int32(128), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "sys", cfg.SystemInstruction.Parts[0].Text)

	bare := buildConfig(btchat.Rules{})
	assert.Nil(t, bare.SystemInstruction)
	assert.Zero(t, bare.MaxOutputTokens)
}

func TestToResult(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText("<root/>", genai.RoleModel),
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     2,
			CandidatesTokenCount: 3,
			TotalTokenCount:      5,
		},
	}

	res, err := toResult(resp)
	require.NoError(t, err)
	assert.Equal(t, btchat.Text("<root/>"), res.Output)
	assert.Equal(t, 5, res.Usage.TotalTokens)

	_, err = toResult(&genai.GenerateContentResponse{})
	assert.ErrorIs(t, err, btchat.ErrProviderFailed)
}

func TestSend_AgainstFakeEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "<root><a/></root>"}]}}],
			"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 6, "totalTokenCount": 10}
		}`))
	}))
	defer server.Close()

	ctx := context.Background()
	p, err := New(ctx, "k", "gemini-test", server.URL)
	require.NoError(t, err)

	res, err := p.Send(ctx, btchat.Rules{SystemPrompt: "sys"}, nil, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "<root><a/></root>", res.Text())
	assert.Equal(t, 10, res.Usage.TotalTokens)
}

func TestSend_EmptyPrompt(t *testing.T) {
	p, err := New(context.Background(), "k", "", "")
	require.NoError(t, err)
	_, err = p.Send(context.Background(), btchat.Rules{}, nil, "")
	assert.ErrorIs(t, err, btchat.ErrEmptyPrompt)
}
