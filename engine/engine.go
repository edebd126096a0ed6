// Package engine orchestrates one interaction: it picks the prompt template,
// threads the session history through the provider, post-processes the
// completion and records the exchange.
package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/meikuraledutech/btchat"
	"github.com/meikuraledutech/btchat/fragment"
	"github.com/meikuraledutech/btchat/observability"
	"github.com/meikuraledutech/btchat/prompt"
	"github.com/meikuraledutech/btchat/requirements"
)

// User-facing warning texts.
const (
	WarnGenerateFirst = "Please generate a behavior tree first before asking for modifications."
	WarnEmptyInput    = "Please enter a mission description or message."
)

const lockStripes = 64

// Engine is safe for concurrent use. Interactions on the same session are
// serialized.
type Engine struct {
	store       btchat.Store
	provider    btchat.Provider
	prompts     *prompt.Set
	rules       btchat.Rules
	defaultMode btchat.Mode
	logger   *observability.Logger
	metrics  *observability.MetricsCollector
	tracer   *observability.TracerProvider
	locks    [lockStripes]sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithPrompts replaces the built-in template set.
func WithPrompts(set *prompt.Set) Option {
	return func(e *Engine) { e.prompts = set }
}

// WithRules sets the token budget and temperature sent with every request.
// The system prompt always comes from the template.
func WithRules(maxTokens int, temperature float64) Option {
	return func(e *Engine) {
		e.rules.MaxTokens = maxTokens
		e.rules.Temperature = temperature
	}
}

// WithDefaultMode sets the mode Handle uses for requests that name none.
// The zero value and btchat.ModeAuto both mean keyword detection.
func WithDefaultMode(mode btchat.Mode) Option {
	return func(e *Engine) { e.defaultMode = mode }
}

// WithLogger sets the logger.
func WithLogger(logger *observability.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer provider.
func WithTracer(tp *observability.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp }
}

// New creates an Engine.
func New(store btchat.Store, provider btchat.Provider, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		provider:    provider,
		prompts:     prompt.Default(),
		rules:       btchat.Rules{MaxTokens: btchat.DefaultMaxTokens, Temperature: 0.3},
		defaultMode: btchat.ModeAuto,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = observability.OrNop(e.logger)
	return e
}

func (e *Engine) lock(sessionID string) func() {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	mu := &e.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Generate produces a new behavior tree from a free-text description.
func (e *Engine) Generate(ctx context.Context, sessionID, description string) (*Reply, error) {
	if strings.TrimSpace(description) == "" {
		return nil, btchat.ErrEmptyPrompt
	}
	return e.run(ctx, turn{
		sessionID:   btchat.SessionID(sessionID),
		mode:        btchat.ModeGenerate,
		kind:        prompt.KindGenerate,
		span:        observability.SpanEngineGenerate,
		input:       prompt.Input{Description: description},
		setArtifact: true,
	})
}

// GenerateFromRow produces a behavior tree from one spreadsheet row. A row
// without a mission description fails with requirements.ErrMissingField
// before any provider call.
func (e *Engine) GenerateFromRow(ctx context.Context, sessionID string, row requirements.Row) (*Reply, error) {
	outcome := requirements.Extract(row)
	if !outcome.OK() {
		return nil, outcome.Err
	}
	return e.run(ctx, turn{
		sessionID:   btchat.SessionID(sessionID),
		mode:        btchat.ModeGenerate,
		kind:        prompt.KindGenerateFromRow,
		span:        observability.SpanEngineFromRow,
		input:       prompt.Input{Requirements: outcome.Render()},
		setArtifact: true,
	})
}

// Modify applies an instruction to the session's current behavior tree.
// It fails with btchat.ErrNoPriorArtifact when nothing was generated yet.
// The tree is read under the session lock, after any turn queued ahead.
func (e *Engine) Modify(ctx context.Context, sessionID, instruction string) (*Reply, error) {
	return e.run(ctx, turn{
		sessionID:   btchat.SessionID(sessionID),
		mode:        btchat.ModeModify,
		kind:        prompt.KindModify,
		span:        observability.SpanEngineModify,
		input:       prompt.Input{Instruction: instruction},
		artifact:    artifactRequired,
		setArtifact: true,
	})
}

// ModifyArtifact applies an instruction to a caller-supplied tree.
func (e *Engine) ModifyArtifact(ctx context.Context, sessionID, artifact, instruction string) (*Reply, error) {
	if strings.TrimSpace(artifact) == "" {
		return nil, btchat.ErrNoPriorArtifact
	}
	if strings.TrimSpace(instruction) == "" {
		return nil, btchat.ErrEmptyPrompt
	}
	return e.run(ctx, turn{
		sessionID:   btchat.SessionID(sessionID),
		mode:        btchat.ModeModify,
		kind:        prompt.KindModify,
		span:        observability.SpanEngineModify,
		input:       prompt.Input{Artifact: artifact, Instruction: instruction},
		setArtifact: true,
	})
}

// Chat answers a free-form question. The current tree, if any, is given to
// the model as context; the artifact is never changed.
func (e *Engine) Chat(ctx context.Context, sessionID, message string) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, btchat.ErrEmptyPrompt
	}
	return e.run(ctx, turn{
		sessionID: btchat.SessionID(sessionID),
		mode:      btchat.ModeChat,
		kind:      prompt.KindChat,
		span:      observability.SpanEngineChat,
		input:     prompt.Input{Message: message},
		artifact:  artifactOptional,
	})
}

// Reset clears the session history and artifact. It is idempotent.
func (e *Engine) Reset(ctx context.Context, sessionID string) error {
	sessionID = btchat.SessionID(sessionID)
	defer e.lock(sessionID)()

	if err := e.store.ClearSession(ctx, sessionID); err != nil {
		return err
	}
	e.metrics.RecordReset(ctx)
	e.logger.InfoContext(observability.ContextWithSessionID(ctx, sessionID), "session reset")
	return nil
}

// Session returns the session, creating it when it does not exist.
func (e *Engine) Session(ctx context.Context, sessionID string) (*btchat.Session, error) {
	return e.store.Session(ctx, btchat.SessionID(sessionID))
}

// History returns the session's turns in order.
func (e *Engine) History(ctx context.Context, sessionID string) ([]btchat.Message, error) {
	return e.store.ListMessages(ctx, btchat.SessionID(sessionID))
}

// CurrentArtifact returns the session's current tree or btchat.ErrNoPriorArtifact.
func (e *Engine) CurrentArtifact(ctx context.Context, sessionID string) (*btchat.Artifact, error) {
	return e.store.Artifact(ctx, btchat.SessionID(sessionID))
}

// artifactNeed says whether run loads the stored tree into the prompt input.
type artifactNeed int

const (
	artifactNone artifactNeed = iota
	artifactOptional
	artifactRequired
)

type turn struct {
	sessionID   string
	mode        btchat.Mode
	kind        prompt.Kind
	span        string
	input       prompt.Input
	artifact    artifactNeed
	setArtifact bool
}

// loadArtifact fills t.input.Artifact from the store. It must run under the
// session lock.
func (e *Engine) loadArtifact(ctx context.Context, t *turn) error {
	if t.artifact == artifactNone {
		return nil
	}
	a, err := e.store.Artifact(ctx, t.sessionID)
	switch {
	case err == nil:
		t.input.Artifact = a.Content
	case errors.Is(err, btchat.ErrNoPriorArtifact) && t.artifact == artifactOptional:
	default:
		return err
	}

	if t.artifact == artifactRequired {
		if strings.TrimSpace(t.input.Artifact) == "" {
			return btchat.ErrNoPriorArtifact
		}
		if strings.TrimSpace(t.input.Instruction) == "" {
			return btchat.ErrEmptyPrompt
		}
	}
	return nil
}

func (e *Engine) run(ctx context.Context, t turn) (*Reply, error) {
	defer e.lock(t.sessionID)()

	if err := e.loadArtifact(ctx, &t); err != nil {
		return nil, err
	}

	ctx = btchat.WithSessionID(ctx, t.sessionID)
	ctx = observability.ContextWithSessionID(ctx, t.sessionID)
	ctx, span := e.tracer.StartSpan(ctx, t.span, observability.ModeAttrs(string(t.mode))...)
	defer span.End()

	logger := e.logger.WithContext(ctx).With("mode", t.mode)

	history, err := e.store.ListMessages(ctx, t.sessionID)
	if err != nil {
		return nil, fmt.Errorf("btchat: read history: %w", err)
	}

	p, err := e.prompts.Build(t.kind, t.input, history)
	if err != nil {
		return nil, err
	}

	rules := e.rules
	rules.SystemPrompt = p.System

	start := time.Now()
	sendCtx, sendSpan := e.tracer.StartSpan(ctx, observability.SpanProviderSend)
	res, err := e.provider.Send(sendCtx, rules, p.History, p.User)
	latency := time.Since(start)
	if err == nil && strings.TrimSpace(res.Text()) == "" {
		err = errors.New("empty completion")
	}
	status := btchat.StatusSuccess
	if err != nil {
		status = btchat.StatusFailed
		sendSpan.RecordError(err)
	}
	sendSpan.SetAttributes(attribute.String(observability.AttrStatus, status))
	sendSpan.End()
	if err != nil {
		e.metrics.RecordCompletion(ctx, string(t.mode), btchat.StatusFailed, latency, 0, 0)
		span.RecordError(err)
		logger.Error("completion failed", "error", err, "latency", latency)
		if !errors.Is(err, btchat.ErrProviderFailed) {
			err = fmt.Errorf("%w: %w", btchat.ErrProviderFailed, err)
		}
		return nil, err
	}

	raw := res.Text()
	text := raw
	found := false
	if t.setArtifact {
		found = fragment.Found(raw)
		text = fragment.Clean(raw)
		if !found {
			e.metrics.RecordMissingFragment(ctx, string(t.mode))
			logger.Warn("completion has no <root> element")
		}
	}

	usage := res.Usage
	var artifact *string
	if t.setArtifact {
		artifact = &text
	}
	if _, err := e.store.CommitTurn(ctx, t.sessionID, artifact,
		btchat.Message{Role: btchat.RoleUser, Content: p.User},
		btchat.Message{Role: btchat.RoleAssistant, Content: text, Usage: &usage},
	); err != nil {
		span.RecordError(err)
		logger.Error("commit turn failed", "error", err)
		return nil, fmt.Errorf("btchat: save turn: %w", err)
	}

	e.metrics.RecordCompletion(ctx, string(t.mode), btchat.StatusSuccess, latency, usage.PromptTokens, usage.ResponseTokens)
	span.SetAttributes(observability.UsageAttrs(usage.PromptTokens, usage.ResponseTokens)...)
	span.SetAttributes(attribute.Bool(observability.AttrHasFragment, found))
	logger.Info("completion done", "latency", latency, "total_tokens", usage.TotalTokens, "fragment", found)

	kind := KindMessage
	if t.setArtifact {
		kind = KindArtifact
	}
	return &Reply{
		SessionID:   t.sessionID,
		Mode:        t.mode,
		Kind:        kind,
		Text:        text,
		HasFragment: found,
		Usage:       usage,
	}, nil
}
