package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/btchat"
)

// Runs against a real database when BTCHAT_TEST_DATABASE_URL is set.
func testStore(t *testing.T) *PGStore {
	t.Helper()
	url := os.Getenv("BTCHAT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("BTCHAT_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.DropSchema(ctx))
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPGStore_SessionLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.Session(ctx, "pg-a")
	require.NoError(t, err)
	second, err := s.Session(ctx, "pg-a")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	added, err := s.AddMessages(ctx, "pg-a",
		btchat.Message{Role: btchat.RoleUser, Content: "q"},
		btchat.Message{Role: btchat.RoleAssistant, Content: "a", Usage: &btchat.Usage{TotalTokens: 9}},
	)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, []int{added[0].Seq, added[1].Seq})

	msgs, err := s.ListMessages(ctx, "pg-a")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, btchat.RoleAssistant, msgs[1].Role)
	require.NotNil(t, msgs[1].Usage)
	assert.Equal(t, 9, msgs[1].Usage.TotalTokens)

	_, err = s.Artifact(ctx, "pg-a")
	assert.ErrorIs(t, err, btchat.ErrNoPriorArtifact)

	require.NoError(t, s.SetArtifact(ctx, "pg-a", "<root>1</root>"))
	require.NoError(t, s.SetArtifact(ctx, "pg-a", "<root>2</root>"))
	a, err := s.Artifact(ctx, "pg-a")
	require.NoError(t, err)
	assert.Equal(t, "<root>2</root>", a.Content)

	require.NoError(t, s.ClearSession(ctx, "pg-a"))
	require.NoError(t, s.ClearSession(ctx, "pg-a"))

	msgs, err = s.ListMessages(ctx, "pg-a")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	_, err = s.Artifact(ctx, "pg-a")
	assert.ErrorIs(t, err, btchat.ErrNoPriorArtifact)
}

func TestPGStore_MigrationStatusAndRollback(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	status, err := s.MigrationStatus(ctx)
	require.NoError(t, err)
	for _, rec := range status {
		assert.True(t, rec.Applied, rec.Name)
	}

	require.NoError(t, s.Rollback(ctx, false))
	status, err = s.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status[len(status)-1].Applied)

	require.NoError(t, s.Migrate(ctx))
}

func TestPGStore_RollbackRefusesStoredTrees(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Drop request logs so the sessions migration is the latest.
	require.NoError(t, s.Rollback(ctx, false))
	require.NoError(t, s.SetArtifact(ctx, "pg-keep", "<root/>"))

	status, err := s.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), status[0].Rows)

	err = s.Rollback(ctx, false)
	require.ErrorIs(t, err, ErrTablesNotEmpty)
	a, err := s.Artifact(ctx, "pg-keep")
	require.NoError(t, err)
	assert.Equal(t, "<root/>", a.Content)

	require.NoError(t, s.Rollback(ctx, true))
	status, err = s.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status[0].Applied)

	require.NoError(t, s.Migrate(ctx))
}

func TestPGStore_CommitTurnIsAtomic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tree := "<root><a/></root>"

	added, err := s.CommitTurn(ctx, "pg-c", &tree,
		btchat.Message{Role: btchat.RoleUser, Content: "describe"},
		btchat.Message{Role: btchat.RoleAssistant, Content: tree},
	)
	require.NoError(t, err)
	require.Len(t, added, 2)

	_, err = s.db.Exec(ctx, `
		CREATE OR REPLACE FUNCTION bt_reject_artifact() RETURNS trigger AS $$
		BEGIN RAISE EXCEPTION 'disk full'; END;
		$$ LANGUAGE plpgsql;
		CREATE TRIGGER reject_artifact BEFORE INSERT OR UPDATE ON bt_artifacts
		FOR EACH ROW EXECUTE FUNCTION bt_reject_artifact();`)
	require.NoError(t, err)

	next := "<root><b/></root>"
	_, err = s.CommitTurn(ctx, "pg-c", &next,
		btchat.Message{Role: btchat.RoleUser, Content: "modify"},
		btchat.Message{Role: btchat.RoleAssistant, Content: next},
	)
	require.Error(t, err)

	msgs, err := s.ListMessages(ctx, "pg-c")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	a, err := s.Artifact(ctx, "pg-c")
	require.NoError(t, err)
	assert.Equal(t, tree, a.Content)
}

func TestPGStore_RequestLog(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	log, err := s.AddRequestLog(ctx, btchat.RequestLog{SessionID: "pg-a", Provider: "gemini", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, btchat.StatusPending, log.FinalStatus)

	require.NoError(t, s.UpdateRequestLog(ctx, log.ID, "r", btchat.StatusSuccess, "", "", &btchat.Usage{TotalTokens: 3}))
}
