// Package btchat holds the core types and contracts of the behavior-tree chat
// front-end: sessions, messages, artifacts, the completion provider boundary
// and the mode detector.
package btchat

import (
	"strings"
	"time"
)

// DefaultSessionID is used when a caller does not name a session.
const DefaultSessionID = "default"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Rules control provider behavior per request.
type Rules struct {
	SystemPrompt string  `json:"system_prompt"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
}

// Usage holds token counts from the provider response.
type Usage struct {
	PromptTokens   int `json:"prompt_tokens"`
	ResponseTokens int `json:"response_tokens"`
	TotalTokens    int `json:"total_tokens"`
	ThoughtTokens  int `json:"thought_tokens"`
}

// IsZero reports whether no token counts were recorded.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.ResponseTokens == 0 && u.TotalTokens == 0 && u.ThoughtTokens == 0
}

// Message is a single turn in a conversation.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Usage     *Usage    `json:"usage,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session groups messages into a conversation.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Artifact is the most recent behavior-tree XML produced for a session.
type Artifact struct {
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MigrationRecord tracks a single schema migration and the tables it owns.
type MigrationRecord struct {
	Name      string
	Applied   bool
	AppliedAt *time.Time
	Checksum  string
	Tables    []string
	Rows      int64 // rows across Tables; zero when not applied
}

// SessionID returns id trimmed, or DefaultSessionID when it is blank.
func SessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultSessionID
	}
	return id
}
