package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meikuraledutech/btchat"
)

// AddMessages appends msgs to a session in one transaction with
// auto-incremented seq.
func (s *PGStore) AddMessages(ctx context.Context, sessionID string, msgs ...btchat.Message) ([]btchat.Message, error) {
	return s.CommitTurn(ctx, sessionID, nil, msgs...)
}

// CommitTurn appends msgs and, when artifact is non-nil, upserts the artifact
// in the same transaction.
func (s *PGStore) CommitTurn(ctx context.Context, sessionID string, artifact *string, msgs ...btchat.Message) ([]btchat.Message, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("btchat: commit turn: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := ensureSession(ctx, tx, sessionID); err != nil {
		return nil, fmt.Errorf("btchat: commit turn: %w", err)
	}

	added, err := insertMessages(ctx, tx, sessionID, msgs)
	if err != nil {
		return nil, err
	}
	if artifact != nil {
		if err := upsertArtifact(ctx, tx, sessionID, *artifact); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("btchat: commit turn: %w", err)
	}

	return added, nil
}

func insertMessages(ctx context.Context, tx pgx.Tx, sessionID string, msgs []btchat.Message) ([]btchat.Message, error) {
	added := make([]btchat.Message, 0, len(msgs))
	for _, m := range msgs {
		m.ID = uuid.New().String()
		m.SessionID = sessionID

		var promptTokens, responseTokens, totalTokens, thoughtTokens int
		if m.Usage != nil {
			promptTokens = m.Usage.PromptTokens
			responseTokens = m.Usage.ResponseTokens
			totalTokens = m.Usage.TotalTokens
			thoughtTokens = m.Usage.ThoughtTokens
		}

		err := tx.QueryRow(ctx,
			`INSERT INTO bt_messages (id, session_id, seq, role, content, prompt_tokens, response_tokens, total_tokens, thought_tokens)
			 VALUES ($1, $2, COALESCE((SELECT MAX(seq) FROM bt_messages WHERE session_id = $2), 0) + 1, $3, $4, $5, $6, $7, $8)
			 RETURNING seq, created_at`,
			m.ID, sessionID, string(m.Role), m.Content, promptTokens, responseTokens, totalTokens, thoughtTokens,
		).Scan(&m.Seq, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("btchat: add message: %w", err)
		}

		added = append(added, m)
	}
	return added, nil
}

// ListMessages returns all messages for a session ordered by seq.
func (s *PGStore) ListMessages(ctx context.Context, sessionID string) ([]btchat.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, session_id, seq, role, content, prompt_tokens, response_tokens, total_tokens, thought_tokens, created_at
		 FROM bt_messages WHERE session_id = $1 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("btchat: list messages: %w", err)
	}
	defer rows.Close()

	var messages []btchat.Message
	for rows.Next() {
		var msg btchat.Message
		var role string
		var pt, rt, tt, tht int

		err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Seq, &role, &msg.Content, &pt, &rt, &tt, &tht, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("btchat: scan message: %w", err)
		}
		msg.Role = btchat.Role(role)

		if pt > 0 || rt > 0 || tt > 0 || tht > 0 {
			msg.Usage = &btchat.Usage{
				PromptTokens:   pt,
				ResponseTokens: rt,
				TotalTokens:    tt,
				ThoughtTokens:  tht,
			}
		}

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("btchat: list messages: %w", err)
	}

	return messages, nil
}
