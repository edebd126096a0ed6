package postgres

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/btchat"
)

// Session returns the session, creating it on first access.
func (s *PGStore) Session(ctx context.Context, sessionID string) (*btchat.Session, error) {
	session := &btchat.Session{ID: sessionID}

	// DO UPDATE so RETURNING yields the existing row on conflict.
	err := s.db.QueryRow(ctx,
		`INSERT INTO bt_sessions (id) VALUES ($1)
		 ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		 RETURNING created_at`,
		sessionID,
	).Scan(&session.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("btchat: get session: %w", err)
	}

	return session, nil
}

// ClearSession deletes the session; messages and artifact cascade.
// Request logs are kept for auditing.
func (s *PGStore) ClearSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM bt_sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("btchat: clear session: %w", err)
	}
	return nil
}
