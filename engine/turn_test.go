package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/btchat"
	"github.com/meikuraledutech/btchat/gemini"
	"github.com/meikuraledutech/btchat/memory"
)

// gatedProvider answers by prompt content and holds any call whose prompt
// contains hold until release is closed.
type gatedProvider struct {
	hold    string
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	prompts []string
}

func (g *gatedProvider) Send(ctx context.Context, rules btchat.Rules, history []btchat.Message, p string) (*btchat.Result, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	g.mu.Unlock()

	switch {
	case strings.Contains(p, g.hold):
		close(g.entered)
		<-g.release
		return &btchat.Result{Output: btchat.Text("<root><B/></root>")}, nil
	case strings.Contains(p, "mission A"):
		return &btchat.Result{Output: btchat.Text("<root><A/></root>")}, nil
	default:
		return &btchat.Result{Output: btchat.Text("<root><M/></root>")}, nil
	}
}

func (g *gatedProvider) promptWith(substr string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.prompts {
		if strings.Contains(p, substr) {
			return p, true
		}
	}
	return "", false
}

func TestModify_QueuedBehindGenerateSeesNewTree(t *testing.T) {
	store, err := memory.New(0, nil)
	require.NoError(t, err)
	provider := &gatedProvider{hold: "mission B", entered: make(chan struct{}), release: make(chan struct{})}
	e := New(store, provider)
	ctx := context.Background()

	_, err = e.Generate(ctx, "s", "mission A")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var genErr, modErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, genErr = e.Generate(ctx, "s", "mission B")
	}()
	<-provider.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, modErr = e.Modify(ctx, "s", "rename the root node")
	}()
	// Let the Modify reach the session lock before the Generate finishes.
	time.Sleep(50 * time.Millisecond)
	close(provider.release)
	wg.Wait()

	require.NoError(t, genErr)
	require.NoError(t, modErr)

	p, ok := provider.promptWith("rename the root node")
	require.True(t, ok)
	assert.Contains(t, p, "<root><B/></root>")
	assert.NotContains(t, p, "<root><A/></root>")

	artifact, err := store.Artifact(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "<root><M/></root>", artifact.Content)
}

// failingStore rejects every turn commit.
type failingStore struct {
	*memory.Store
}

func (f failingStore) CommitTurn(ctx context.Context, sessionID string, artifact *string, msgs ...btchat.Message) ([]btchat.Message, error) {
	return nil, errors.New("disk full")
}

func TestHandle_FailedCommitLeavesSessionUntouched(t *testing.T) {
	mem, err := memory.New(0, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, mem.SetArtifact(ctx, "s", droneXML))

	e := New(failingStore{mem}, &fakeProvider{output: btchat.Text("<root><New/></root>")})

	reply := e.Handle(ctx, Request{SessionID: "s", Mode: btchat.ModeModify, Input: "add a node"})
	assert.Equal(t, KindError, reply.Kind)
	assert.Contains(t, reply.Text, "disk full")

	msgs, err := mem.ListMessages(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	artifact, err := mem.Artifact(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, droneXML, artifact.Content)
}

func TestHandle_TransportErrorHidesAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	const key = "AIzaSECRETKEY1234567890"
	store, err := memory.New(0, nil)
	require.NoError(t, err)
	e := New(store, gemini.New(key, "gemini-test").WithBaseURL(baseURL))

	reply := e.Handle(context.Background(), Request{Mode: btchat.ModeGenerate, Input: "a drone patrol"})
	assert.Equal(t, KindError, reply.Kind)
	assert.True(t, strings.HasPrefix(reply.Text, "❌ Error: "))
	assert.NotContains(t, reply.Text, key)
}

func TestHandle_DefaultModeAppliesWhenUnset(t *testing.T) {
	store, err := memory.New(0, nil)
	require.NoError(t, err)
	provider := &fakeProvider{output: btchat.Text(droneXML)}
	e := New(store, provider, WithDefaultMode(btchat.ModeGenerate))

	// No keyword would route this to generate under auto detection.
	reply := e.Handle(context.Background(), Request{SessionID: "s", Input: "a drone patrols a fence"})
	assert.Equal(t, btchat.ModeGenerate, reply.Mode)
	assert.Equal(t, KindArtifact, reply.Kind)

	reply = e.Handle(context.Background(), Request{SessionID: "s", Mode: btchat.ModeAuto, Input: "what does it do?"})
	assert.Equal(t, btchat.ModeChat, reply.Mode)
}

func TestNew_DefaultModeIsAuto(t *testing.T) {
	e, _, _ := newEngine(t, btchat.Text("ok"))
	reply := e.Handle(context.Background(), Request{SessionID: "s", Input: "what is a fallback node?"})
	assert.Equal(t, btchat.ModeChat, reply.Mode)
}
