package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/meikuraledutech/btchat"
	"github.com/meikuraledutech/btchat/memory"
	"github.com/meikuraledutech/btchat/prompt"
	"github.com/meikuraledutech/btchat/requirements"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	rules   btchat.Rules
	history []btchat.Message
	prompt  string
	session string
}

type fakeProvider struct {
	mu     sync.Mutex
	calls  []call
	output btchat.Output
	err    error
}

func (f *fakeProvider) Send(ctx context.Context, rules btchat.Rules, history []btchat.Message, p string) (*btchat.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{rules: rules, history: history, prompt: p, session: btchat.SessionIDFromContext(ctx)})
	if f.err != nil {
		return nil, f.err
	}
	return &btchat.Result{Output: f.output, Usage: btchat.Usage{PromptTokens: 10, ResponseTokens: 20, TotalTokens: 30}}, nil
}

func newEngine(t *testing.T, out btchat.Output) (*Engine, *fakeProvider, *memory.Store) {
	t.Helper()
	store, err := memory.New(0, nil)
	require.NoError(t, err)
	provider := &fakeProvider{output: out}
	return New(store, provider), provider, store
}

const droneXML = "<root BTCPP_format=\"4\"><BehaviorTree ID=\"Patrol\"><Sequence/></BehaviorTree></root>"

func TestHandle_DroneScenario(t *testing.T) {
	e, provider, store := newEngine(t, btchat.Text("Here is the tree:\n"+droneXML+"\nHope it helps."))
	ctx := context.Background()

	reply := e.Handle(ctx, Request{
		Mode:  btchat.ModeGenerate,
		Input: "A drone patrols a perimeter and reports intrusions.",
	})

	assert.Equal(t, KindArtifact, reply.Kind)
	assert.Equal(t, btchat.DefaultSessionID, reply.SessionID)
	assert.Equal(t, droneXML, reply.Text)
	assert.True(t, reply.HasFragment)

	require.Len(t, provider.calls, 1)
	c := provider.calls[0]
	assert.Empty(t, c.history)
	generate, _ := prompt.Default().Template(prompt.KindGenerate)
	assert.Equal(t, generate.System, c.rules.SystemPrompt)
	assert.Contains(t, c.prompt, "A drone patrols a perimeter and reports intrusions.")
	assert.Equal(t, btchat.DefaultSessionID, c.session)

	msgs, err := store.ListMessages(ctx, btchat.DefaultSessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, btchat.RoleUser, msgs[0].Role)
	assert.Equal(t, c.prompt, msgs[0].Content)
	assert.Equal(t, btchat.RoleAssistant, msgs[1].Role)
	assert.Equal(t, droneXML, msgs[1].Content)

	artifact, err := store.Artifact(ctx, btchat.DefaultSessionID)
	require.NoError(t, err)
	assert.Equal(t, droneXML, artifact.Content)
}

func TestHandle_ModifyOnFreshSessionWarns(t *testing.T) {
	e, provider, _ := newEngine(t, btchat.Text(droneXML))

	reply := e.Handle(context.Background(), Request{SessionID: "fresh", Input: "modify the patrol speed"})

	assert.Equal(t, KindWarning, reply.Kind)
	assert.Equal(t, WarnGenerateFirst, reply.Text)
	assert.Equal(t, btchat.ModeModify, reply.Mode)
	assert.Empty(t, provider.calls)
}

func TestHandle_ModifyAfterResetWarnsAgain(t *testing.T) {
	e, provider, _ := newEngine(t, btchat.Text(droneXML))
	ctx := context.Background()

	reply := e.Handle(ctx, Request{SessionID: "s", Input: "generate bt for a drone patrol"})
	require.Equal(t, KindArtifact, reply.Kind)

	require.NoError(t, e.Reset(ctx, "s"))
	require.NoError(t, e.Reset(ctx, "s"))

	reply = e.Handle(ctx, Request{SessionID: "s", Input: "update the patrol route"})
	assert.Equal(t, KindWarning, reply.Kind)
	assert.Equal(t, WarnGenerateFirst, reply.Text)
	assert.Len(t, provider.calls, 1)

	msgs, err := e.History(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestModify_UsesArtifactAndHistory(t *testing.T) {
	e, provider, store := newEngine(t, btchat.Text(droneXML))
	ctx := context.Background()

	_, err := e.Generate(ctx, "s", "a drone patrol")
	require.NoError(t, err)

	provider.output = btchat.Text(`<root><Fallback/></root>`)
	reply, err := e.Modify(ctx, "s", "add a fallback")
	require.NoError(t, err)
	assert.Equal(t, "<root><Fallback/></root>", reply.Text)
	assert.Equal(t, btchat.ModeModify, reply.Mode)

	require.Len(t, provider.calls, 2)
	second := provider.calls[1]
	assert.Len(t, second.history, 2)
	assert.Contains(t, second.prompt, droneXML)
	assert.Contains(t, second.prompt, "add a fallback")

	artifact, err := store.Artifact(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "<root><Fallback/></root>", artifact.Content)

	msgs, _ := store.ListMessages(ctx, "s")
	assert.Len(t, msgs, 4)
}

func TestModifyArtifact_CallerSupplied(t *testing.T) {
	e, provider, _ := newEngine(t, btchat.Text("<root><b/></root>"))

	_, err := e.ModifyArtifact(context.Background(), "s", "", "change it")
	assert.ErrorIs(t, err, btchat.ErrNoPriorArtifact)
	assert.Empty(t, provider.calls)

	reply, err := e.ModifyArtifact(context.Background(), "s", "<root><a/></root>", "rename a to b")
	require.NoError(t, err)
	assert.Equal(t, "<root><b/></root>", reply.Text)
	assert.Contains(t, provider.calls[0].prompt, "<root><a/></root>")
}

func TestHandle_ProviderFailureAppendsNothing(t *testing.T) {
	e, provider, store := newEngine(t, nil)
	provider.err = errors.New("connection refused")
	ctx := context.Background()

	reply := e.Handle(ctx, Request{SessionID: "s", Input: "generate behavior tree for a rover"})

	assert.Equal(t, KindError, reply.Kind)
	assert.True(t, strings.HasPrefix(reply.Text, "❌ Error: "))
	assert.Contains(t, reply.Text, "connection refused")

	msgs, _ := store.ListMessages(ctx, "s")
	assert.Empty(t, msgs)
	_, err := store.Artifact(ctx, "s")
	assert.ErrorIs(t, err, btchat.ErrNoPriorArtifact)
}

func TestGenerate_ProviderErrorIsWrapped(t *testing.T) {
	e, provider, _ := newEngine(t, nil)
	provider.err = context.DeadlineExceeded

	_, err := e.Generate(context.Background(), "s", "x")
	assert.ErrorIs(t, err, btchat.ErrProviderFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerate_EmptyCompletionFails(t *testing.T) {
	e, _, store := newEngine(t, btchat.Text("   "))

	_, err := e.Generate(context.Background(), "s", "x")
	assert.ErrorIs(t, err, btchat.ErrProviderFailed)

	msgs, _ := store.ListMessages(context.Background(), "s")
	assert.Empty(t, msgs)
}

func TestGenerate_NoFragmentKeepsRawText(t *testing.T) {
	e, _, store := newEngine(t, btchat.Text(`I need more detail.\nWhat sensors?`))

	reply, err := e.Generate(context.Background(), "s", "a robot")
	require.NoError(t, err)
	assert.False(t, reply.HasFragment)
	assert.Equal(t, "I need more detail.\nWhat sensors?", reply.Text)

	artifact, err := store.Artifact(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, reply.Text, artifact.Content)
}

func TestHandle_OutputVariants(t *testing.T) {
	tests := []struct {
		name   string
		output btchat.Output
	}{
		{"text", btchat.Text(droneXML)},
		{"reply", btchat.Reply{Role: "assistant", Content: droneXML}},
		{"fields content", btchat.Fields{"content": droneXML}},
		{"fields response", btchat.Fields{"response": droneXML}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _ := newEngine(t, tt.output)
			reply := e.Handle(context.Background(), Request{Mode: btchat.ModeGenerate, Input: "patrol"})
			assert.Equal(t, droneXML, reply.Text)
		})
	}
}

func TestHandle_AutoModeDetection(t *testing.T) {
	e, provider, _ := newEngine(t, btchat.Text(droneXML))
	ctx := context.Background()

	reply := e.Handle(ctx, Request{SessionID: "s", Input: "Extract BT: a robot arm sorts parcels"})
	assert.Equal(t, btchat.ModeGenerate, reply.Mode)

	reply = e.Handle(ctx, Request{SessionID: "s", Input: "Please edit the tree to add a retry"})
	assert.Equal(t, btchat.ModeModify, reply.Mode)

	reply = e.Handle(ctx, Request{SessionID: "s", Input: "what does a ReactiveSequence do?"})
	assert.Equal(t, btchat.ModeChat, reply.Mode)
	assert.Equal(t, KindMessage, reply.Kind)

	assert.Len(t, provider.calls, 3)
}

func TestHandle_PinnedModeOverridesKeywords(t *testing.T) {
	e, provider, _ := newEngine(t, btchat.Text("A fallback tries children in order."))

	reply := e.Handle(context.Background(), Request{Mode: btchat.ModeChat, Input: "how do I modify a fallback?"})
	assert.Equal(t, btchat.ModeChat, reply.Mode)
	assert.Equal(t, KindMessage, reply.Kind)
	require.Len(t, provider.calls, 1)
}

func TestChat_DoesNotTouchArtifact(t *testing.T) {
	e, provider, store := newEngine(t, btchat.Text(droneXML))
	ctx := context.Background()

	_, err := e.Generate(ctx, "s", "patrol")
	require.NoError(t, err)

	provider.output = btchat.Text(`It patrols.\nThen it reports.`)
	reply, err := e.Chat(ctx, "s", "explain the tree")
	require.NoError(t, err)
	assert.Equal(t, `It patrols.\nThen it reports.`, reply.Text)
	assert.Contains(t, provider.calls[1].prompt, droneXML)

	artifact, err := store.Artifact(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, droneXML, artifact.Content)
}

func TestChat_WithoutArtifact(t *testing.T) {
	e, provider, store := newEngine(t, btchat.Text("Behavior trees compose tasks."))

	_, err := e.Chat(context.Background(), "s", "what is a behavior tree?")
	require.NoError(t, err)
	assert.Equal(t, "what is a behavior tree?", provider.calls[0].prompt)

	_, err = store.Artifact(context.Background(), "s")
	assert.ErrorIs(t, err, btchat.ErrNoPriorArtifact)
}

func TestHandle_RowMissingMission(t *testing.T) {
	e, provider, _ := newEngine(t, btchat.Text(droneXML))

	reply := e.Handle(context.Background(), Request{Row: requirements.Row{"Robot Type": "rover"}})

	assert.Equal(t, KindWarning, reply.Kind)
	assert.Equal(t, requirements.Extract(requirements.Row{"Robot Type": "rover"}).Render(), reply.Text)
	assert.Empty(t, provider.calls)
}

func TestGenerateFromRow_HasNoHistorySlot(t *testing.T) {
	e, provider, store := newEngine(t, btchat.Text(droneXML))
	ctx := context.Background()

	_, err := e.Chat(ctx, "s", "hello")
	require.NoError(t, err)

	reply, err := e.GenerateFromRow(ctx, "s", requirements.Row{
		"Mission Description": "Inspect a bridge",
		"Wind Exposure":       "high",
	})
	require.NoError(t, err)
	assert.Equal(t, droneXML, reply.Text)

	require.Len(t, provider.calls, 2)
	c := provider.calls[1]
	assert.Nil(t, c.history)
	assert.Contains(t, c.prompt, "MISSION DESCRIPTION:\nInspect a bridge")
	assert.Contains(t, c.prompt, "wind: high")

	artifact, err := store.Artifact(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, droneXML, artifact.Content)
}

func TestHandle_EmptyInputWarns(t *testing.T) {
	e, provider, _ := newEngine(t, btchat.Text(droneXML))

	for _, mode := range []btchat.Mode{btchat.ModeGenerate, btchat.ModeChat, btchat.ModeAuto} {
		reply := e.Handle(context.Background(), Request{Mode: mode, Input: "  "})
		assert.Equal(t, KindWarning, reply.Kind, mode)
		assert.Equal(t, WarnEmptyInput, reply.Text, mode)
	}
	assert.Empty(t, provider.calls)
}

func TestWithRules(t *testing.T) {
	store, err := memory.New(0, nil)
	require.NoError(t, err)
	provider := &fakeProvider{output: btchat.Text(droneXML)}
	e := New(store, provider, WithRules(512, 0.7))

	_, err = e.Generate(context.Background(), "s", "x")
	require.NoError(t, err)
	assert.Equal(t, 512, provider.calls[0].rules.MaxTokens)
	assert.Equal(t, 0.7, provider.calls[0].rules.Temperature)
}

func TestConcurrentSessions(t *testing.T) {
	e, provider, store := newEngine(t, btchat.Text(droneXML))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := []string{"a", "b"}[i%2]
			reply := e.Handle(ctx, Request{SessionID: id, Mode: btchat.ModeGenerate, Input: "patrol"})
			assert.Equal(t, KindArtifact, reply.Kind)
		}(i)
	}
	wg.Wait()

	assert.Len(t, provider.calls, 8)
	for _, id := range []string{"a", "b"} {
		msgs, err := store.ListMessages(ctx, id)
		require.NoError(t, err)
		assert.Len(t, msgs, 8)
		for i := 0; i < len(msgs); i += 2 {
			assert.Equal(t, btchat.RoleUser, msgs[i].Role)
			assert.Equal(t, btchat.RoleAssistant, msgs[i+1].Role)
		}
	}
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "❌ Error: provider error: boom", ErrorText(errors.New("btchat: provider error: boom")))
}

func TestHandle_ModifySuppliedArtifact(t *testing.T) {
	e, provider, store := newEngine(t, btchat.Text("<root><b/></root>"))

	reply := e.Handle(context.Background(), Request{
		SessionID: "s",
		Mode:      btchat.ModeModify,
		Input:     "rename a to b",
		Artifact:  "<root><a/></root>",
	})
	assert.Equal(t, KindArtifact, reply.Kind)
	require.Len(t, provider.calls, 1)
	assert.Contains(t, provider.calls[0].prompt, "<root><a/></root>")

	artifact, err := store.Artifact(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, "<root><b/></root>", artifact.Content)
}
