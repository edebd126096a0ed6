package btchat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputText(t *testing.T) {
	tests := []struct {
		name string
		out  Output
		want string
	}{
		{"nil", nil, ""},
		{"text", Text("<root/>"), "<root/>"},
		{"reply", Reply{Role: "assistant", Content: "hi"}, "hi"},
		{"reply pointer", &Reply{Content: "hi"}, "hi"},
		{"nil reply pointer", (*Reply)(nil), ""},
		{"fields content", Fields{"content": "a", "response": "b"}, "a"},
		{"fields response", Fields{"response": "b"}, "b"},
		{"fields non-string", Fields{"content": 42}, "42"},
		{"fields fallback", Fields{"answer": "x"}, `{"answer":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputText(tt.out))
		})
	}
}

func TestResultText(t *testing.T) {
	var r *Result
	assert.Equal(t, "", r.Text())
	assert.Equal(t, "x", (&Result{Output: Text("x")}).Text())
}

func TestUsageIsZero(t *testing.T) {
	assert.True(t, Usage{}.IsZero())
	assert.False(t, Usage{TotalTokens: 1}.IsZero())
}
