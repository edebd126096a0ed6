package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meikuraledutech/btchat"
)

// SetArtifact upserts the current artifact of a session.
func (s *PGStore) SetArtifact(ctx context.Context, sessionID string, content string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("btchat: set artifact: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := ensureSession(ctx, tx, sessionID); err != nil {
		return fmt.Errorf("btchat: set artifact: %w", err)
	}

	if err := upsertArtifact(ctx, tx, sessionID, content); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func upsertArtifact(ctx context.Context, q execer, sessionID, content string) error {
	_, err := q.Exec(ctx,
		`INSERT INTO bt_artifacts (session_id, content) VALUES ($1, $2)
		 ON CONFLICT (session_id) DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()`,
		sessionID, content,
	)
	if err != nil {
		return fmt.Errorf("btchat: set artifact: %w", err)
	}
	return nil
}

// Artifact returns the current artifact or btchat.ErrNoPriorArtifact.
func (s *PGStore) Artifact(ctx context.Context, sessionID string) (*btchat.Artifact, error) {
	a := &btchat.Artifact{SessionID: sessionID}

	err := s.db.QueryRow(ctx,
		`SELECT content, updated_at FROM bt_artifacts WHERE session_id = $1`,
		sessionID,
	).Scan(&a.Content, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, btchat.ErrNoPriorArtifact
	}
	if err != nil {
		return nil, fmt.Errorf("btchat: get artifact: %w", err)
	}

	return a, nil
}
