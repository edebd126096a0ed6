package btchat

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type countingProvider struct {
	calls int
}

func (p *countingProvider) Send(ctx context.Context, rules Rules, history []Message, prompt string) (*Result, error) {
	p.calls++
	return &Result{Output: Text(prompt)}, nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	assert.Equal(t, FailReasonTimeout, ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, FailReasonTimeout, ClassifyError(timeoutErr{}))
	assert.Equal(t, FailReasonNetworkError, ClassifyError(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.Equal(t, FailReasonNetworkError, ClassifyError(context.Canceled))
	assert.Equal(t, FailReasonUnknownError, ClassifyError(errors.New("boom")))
}

func TestRateLimited_NilLimiter(t *testing.T) {
	p := &countingProvider{}
	assert.Same(t, p, RateLimited(p, nil))
}

func TestRateLimited_Waits(t *testing.T) {
	p := &countingProvider{}
	limited := RateLimited(p, rate.NewLimiter(rate.Every(time.Hour), 1))

	res, err := limited.Send(context.Background(), Rules{}, nil, "first")
	require.NoError(t, err)
	assert.Equal(t, "first", res.Text())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = limited.Send(ctx, Rules{}, nil, "second")
	assert.Error(t, err)
	assert.Equal(t, 1, p.calls)
}

func TestSessionIDContext(t *testing.T) {
	assert.Equal(t, "", SessionIDFromContext(context.Background()))
	ctx := WithSessionID(context.Background(), "s1")
	assert.Equal(t, "s1", SessionIDFromContext(ctx))
}
