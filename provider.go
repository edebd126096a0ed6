package btchat

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/time/rate"
)

var (
	ErrEmptyPrompt    = errors.New("btchat: prompt is empty")
	ErrProviderFailed = errors.New("btchat: provider error")
)

// Provider defines the contract for completion services.
type Provider interface {
	Send(ctx context.Context, rules Rules, history []Message, prompt string) (*Result, error)
}

// Result is what the provider returns: its output and token usage.
type Result struct {
	Output Output `json:"output"`
	Usage  Usage  `json:"usage"`
}

// Text returns the plain text of the result output.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	return OutputText(r.Output)
}

type sessionIDKey struct{}

// WithSessionID attaches the session id to ctx so providers can tag request logs.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionIDFromContext returns the session id attached by WithSessionID.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return id
	}
	return ""
}

// ClassifyError categorizes a provider transport error into a request log fail reason.
func ClassifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailReasonTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailReasonTimeout
		}
		return FailReasonNetworkError
	}

	if errors.Is(err, context.Canceled) {
		return FailReasonNetworkError
	}

	return FailReasonUnknownError
}

type rateLimitedProvider struct {
	next    Provider
	limiter *rate.Limiter
}

// RateLimited wraps p so that every Send first waits on limiter.
// A nil limiter returns p unchanged.
func RateLimited(p Provider, limiter *rate.Limiter) Provider {
	if limiter == nil {
		return p
	}
	return &rateLimitedProvider{next: p, limiter: limiter}
}

func (p *rateLimitedProvider) Send(ctx context.Context, rules Rules, history []Message, prompt string) (*Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("btchat: rate limit: %w", err)
	}
	return p.next.Send(ctx, rules, history, prompt)
}
