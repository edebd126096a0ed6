package btchat

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("btchat: session not found")
	ErrNoPriorArtifact = errors.New("btchat: no behavior tree generated for this session")
)

// Store defines the contract for persisting sessions, their history and the
// current artifact. Session is get-or-create; there is no explicit create.
type Store interface {
	// Sessions
	Session(ctx context.Context, sessionID string) (*Session, error)
	ClearSession(ctx context.Context, sessionID string) error

	// Messages
	AddMessages(ctx context.Context, sessionID string, msgs ...Message) ([]Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)

	// Artifacts
	SetArtifact(ctx context.Context, sessionID string, content string) error
	Artifact(ctx context.Context, sessionID string) (*Artifact, error)

	// CommitTurn appends msgs and, when artifact is non-nil, replaces the
	// current artifact as one unit. On error neither write is visible.
	CommitTurn(ctx context.Context, sessionID string, artifact *string, msgs ...Message) ([]Message, error)
}

// Request log statuses.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Request log fail reasons.
const (
	FailReasonTimeout       = "timeout"
	FailReasonNetworkError  = "network_error"
	FailReasonEmptyResponse = "empty_response"
	FailReasonUnknownError  = "unknown_error"
)

// RequestLog records a single provider round trip.
type RequestLog struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	FinalStatus  string    `json:"final_status"`
	FailReason   string    `json:"fail_reason"`
	ErrorMessage string    `json:"error_message"`
	Usage        Usage     `json:"usage"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RequestLogger is implemented by stores that can persist provider request logs.
type RequestLogger interface {
	AddRequestLog(ctx context.Context, log RequestLog) (*RequestLog, error)
	UpdateRequestLog(ctx context.Context, id string, response string, status string, failReason string, errorMsg string, usage *Usage) error
}
