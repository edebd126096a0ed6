package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/btchat"
)

func newStore(t *testing.T, size int) *Store {
	t.Helper()
	s, err := New(size, nil)
	require.NoError(t, err)
	return s
}

func TestSession_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	first, err := s.Session(ctx, "a")
	require.NoError(t, err)
	second, err := s.Session(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, "a", first.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, 1, s.Len())
}

func TestAddMessages_Sequence(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	added, err := s.AddMessages(ctx, "a",
		btchat.Message{Role: btchat.RoleUser, Content: "q1"},
		btchat.Message{Role: btchat.RoleAssistant, Content: "a1"},
	)
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, 1, added[0].Seq)
	assert.Equal(t, 2, added[1].Seq)
	assert.NotEmpty(t, added[0].ID)
	assert.Equal(t, "a", added[1].SessionID)

	_, err = s.AddMessages(ctx, "a", btchat.Message{Role: btchat.RoleUser, Content: "q2"})
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, "a")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"q1", "a1", "q2"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})
	assert.Equal(t, 3, msgs[2].Seq)
}

func TestListMessages_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)
	_, err := s.AddMessages(ctx, "a", btchat.Message{Role: btchat.RoleUser, Content: "q"})
	require.NoError(t, err)

	msgs, _ := s.ListMessages(ctx, "a")
	msgs[0].Content = "mutated"

	again, _ := s.ListMessages(ctx, "a")
	assert.Equal(t, "q", again[0].Content)
}

func TestListMessages_UnknownSession(t *testing.T) {
	msgs, err := newStore(t, 0).ListMessages(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestArtifact(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	_, err := s.Artifact(ctx, "a")
	assert.True(t, errors.Is(err, btchat.ErrNoPriorArtifact))

	require.NoError(t, s.SetArtifact(ctx, "a", "<root>1</root>"))
	require.NoError(t, s.SetArtifact(ctx, "a", "<root>2</root>"))

	a, err := s.Artifact(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "<root>2</root>", a.Content)
	assert.Equal(t, "a", a.SessionID)
}

func TestClearSession(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	_, _ = s.AddMessages(ctx, "a", btchat.Message{Role: btchat.RoleUser, Content: "q"})
	require.NoError(t, s.SetArtifact(ctx, "a", "<root/>"))

	require.NoError(t, s.ClearSession(ctx, "a"))
	require.NoError(t, s.ClearSession(ctx, "a"))
	require.NoError(t, s.ClearSession(ctx, "never-seen"))

	msgs, _ := s.ListMessages(ctx, "a")
	assert.Empty(t, msgs)
	_, err := s.Artifact(ctx, "a")
	assert.ErrorIs(t, err, btchat.ErrNoPriorArtifact)
}

func TestEvictionClearsSession(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 2)

	require.NoError(t, s.SetArtifact(ctx, "a", "<root/>"))
	require.NoError(t, s.SetArtifact(ctx, "b", "<root/>"))
	require.NoError(t, s.SetArtifact(ctx, "c", "<root/>"))

	assert.Equal(t, 2, s.Len())
	_, err := s.Artifact(ctx, "a")
	assert.ErrorIs(t, err, btchat.ErrNoPriorArtifact)
}

func TestConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AddMessages(ctx, "shared", btchat.Message{Role: btchat.RoleUser, Content: fmt.Sprint(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := s.ListMessages(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, msgs, 20)
	for i, m := range msgs {
		assert.Equal(t, i+1, m.Seq)
	}
}

func TestRequestLogs(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	log, err := s.AddRequestLog(ctx, btchat.RequestLog{SessionID: "a", Provider: "gemini", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, btchat.StatusPending, log.FinalStatus)

	usage := &btchat.Usage{PromptTokens: 3, ResponseTokens: 4, TotalTokens: 7}
	require.NoError(t, s.UpdateRequestLog(ctx, log.ID, "r", btchat.StatusSuccess, "", "", usage))

	got, ok := s.RequestLog(log.ID)
	require.True(t, ok)
	assert.Equal(t, btchat.StatusSuccess, got.FinalStatus)
	assert.Equal(t, "r", got.Response)
	assert.Equal(t, 7, got.Usage.TotalTokens)

	assert.NoError(t, s.UpdateRequestLog(ctx, "missing", "", btchat.StatusFailed, "", "", nil))
}

func TestCommitTurn(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)
	tree := "<root><a/></root>"

	added, err := s.CommitTurn(ctx, "a", &tree,
		btchat.Message{Role: btchat.RoleUser, Content: "q"},
		btchat.Message{Role: btchat.RoleAssistant, Content: tree},
	)
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, 1, added[0].Seq)
	assert.Equal(t, 2, added[1].Seq)

	a, err := s.Artifact(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, tree, a.Content)

	_, err = s.CommitTurn(ctx, "a", nil, btchat.Message{Role: btchat.RoleUser, Content: "chat"})
	require.NoError(t, err)
	a, err = s.Artifact(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, tree, a.Content)

	msgs, _ := s.ListMessages(ctx, "a")
	assert.Len(t, msgs, 3)
}
