package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/meikuraledutech/btchat"
	"github.com/meikuraledutech/btchat/observability"
	"github.com/meikuraledutech/btchat/requirements"
)

// ReplyKind tells the display layer how to render a Reply.
type ReplyKind string

const (
	KindArtifact ReplyKind = "artifact" // behavior-tree XML
	KindMessage  ReplyKind = "message"  // chat answer
	KindWarning  ReplyKind = "warning"
	KindError    ReplyKind = "error"
)

// Reply is the outcome of one interaction.
type Reply struct {
	SessionID   string       `json:"session_id"`
	Mode        btchat.Mode  `json:"mode"`
	Kind        ReplyKind    `json:"kind"`
	Text        string       `json:"text"`
	HasFragment bool         `json:"has_fragment,omitempty"`
	Usage       btchat.Usage `json:"usage"`
}

// Request is one user submission at the display boundary.
type Request struct {
	SessionID string           `json:"session_id"`
	Mode      btchat.Mode      `json:"mode,omitempty"`
	Input     string           `json:"input"`
	Artifact  string           `json:"artifact,omitempty"` // modify this tree instead of the stored one
	Row       requirements.Row `json:"row,omitempty"`
}

// Handle resolves the mode, dispatches and turns every failure into a
// warning or error Reply. It never returns an error. A request without a
// mode uses the engine's default mode.
func (e *Engine) Handle(ctx context.Context, req Request) Reply {
	sessionID := btchat.SessionID(req.SessionID)
	ctx, span := e.tracer.StartSpan(observability.ContextWithSessionID(ctx, sessionID), observability.SpanEngineHandle)
	defer span.End()

	var (
		mode  btchat.Mode
		reply *Reply
		err   error
	)

	if req.Row != nil {
		mode = btchat.ModeGenerate
		reply, err = e.GenerateFromRow(ctx, sessionID, req.Row)
	} else {
		pinned := req.Mode
		if pinned == "" {
			pinned = e.defaultMode
		}
		mode = btchat.ResolveMode(pinned, req.Input)
		switch mode {
		case btchat.ModeGenerate:
			reply, err = e.Generate(ctx, sessionID, req.Input)
		case btchat.ModeModify:
			if req.Artifact != "" {
				reply, err = e.ModifyArtifact(ctx, sessionID, req.Artifact, req.Input)
			} else {
				reply, err = e.Modify(ctx, sessionID, req.Input)
			}
		default:
			mode = btchat.ModeChat
			reply, err = e.Chat(ctx, sessionID, req.Input)
		}
	}

	if err == nil {
		return *reply
	}
	return e.failure(ctx, sessionID, mode, err)
}

func (e *Engine) failure(ctx context.Context, sessionID string, mode btchat.Mode, err error) Reply {
	r := Reply{SessionID: sessionID, Mode: mode, Kind: KindWarning}

	switch {
	case errors.Is(err, requirements.ErrMissingField):
		r.Text = err.Error()
		e.metrics.RecordWarning(ctx, "missing_field")
	case errors.Is(err, btchat.ErrNoPriorArtifact):
		r.Text = WarnGenerateFirst
		e.metrics.RecordWarning(ctx, "no_prior_artifact")
	case errors.Is(err, btchat.ErrEmptyPrompt):
		r.Text = WarnEmptyInput
		e.metrics.RecordWarning(ctx, "empty_input")
	default:
		r.Kind = KindError
		r.Text = ErrorText(err)
	}
	return r
}

// ErrorText renders an error the way the chat transcript shows it.
func ErrorText(err error) string {
	return "❌ Error: " + strings.TrimPrefix(err.Error(), "btchat: ")
}
