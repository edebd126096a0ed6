// Package sqlite implements btchat.Store and btchat.RequestLogger on a local
// SQLite file using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/meikuraledutech/btchat"
)

const schema = `
CREATE TABLE IF NOT EXISTS bt_sessions (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bt_messages (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	prompt_tokens   INTEGER NOT NULL DEFAULT 0,
	response_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens    INTEGER NOT NULL DEFAULT 0,
	thought_tokens  INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	UNIQUE (session_id, seq)
);

CREATE TABLE IF NOT EXISTS bt_artifacts (
	session_id TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bt_request_logs (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL DEFAULT '',
	provider        TEXT NOT NULL DEFAULT '',
	model           TEXT NOT NULL DEFAULT '',
	prompt          TEXT NOT NULL,
	response        TEXT NOT NULL DEFAULT '',
	final_status    TEXT NOT NULL,
	fail_reason     TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT '',
	prompt_tokens   INTEGER NOT NULL DEFAULT 0,
	response_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens    INTEGER NOT NULL DEFAULT 0,
	thought_tokens  INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bt_request_logs_session ON bt_request_logs(session_id);
`

// Store is a SQLite-backed store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("btchat: create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("btchat: open sqlite: %w", err)
	}
	// One writer at a time keeps seq assignment serial.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("btchat: create sqlite schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func ensureSession(ctx context.Context, tx *sql.Tx, sessionID string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO bt_sessions (id, created_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		sessionID, time.Now().UnixNano(),
	)
	return err
}

// Session returns the session, creating it on first access.
func (s *Store) Session(ctx context.Context, sessionID string) (*btchat.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("btchat: get session: %w", err)
	}
	defer tx.Rollback()

	if err := ensureSession(ctx, tx, sessionID); err != nil {
		return nil, fmt.Errorf("btchat: get session: %w", err)
	}

	var created int64
	if err := tx.QueryRowContext(ctx, `SELECT created_at FROM bt_sessions WHERE id = ?`, sessionID).Scan(&created); err != nil {
		return nil, fmt.Errorf("btchat: get session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("btchat: get session: %w", err)
	}

	return &btchat.Session{ID: sessionID, CreatedAt: time.Unix(0, created)}, nil
}

// ClearSession deletes the session with its messages and artifact.
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("btchat: clear session: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM bt_messages WHERE session_id = ?`,
		`DELETE FROM bt_artifacts WHERE session_id = ?`,
		`DELETE FROM bt_sessions WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, sessionID); err != nil {
			return fmt.Errorf("btchat: clear session: %w", err)
		}
	}

	return tx.Commit()
}

// AddMessages appends msgs in one transaction.
func (s *Store) AddMessages(ctx context.Context, sessionID string, msgs ...btchat.Message) ([]btchat.Message, error) {
	return s.CommitTurn(ctx, sessionID, nil, msgs...)
}

// CommitTurn appends msgs and, when artifact is non-nil, upserts the artifact
// in the same transaction.
func (s *Store) CommitTurn(ctx context.Context, sessionID string, artifact *string, msgs ...btchat.Message) ([]btchat.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("btchat: commit turn: %w", err)
	}
	defer tx.Rollback()

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

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("btchat: commit turn: %w", err)
	}
	return added, nil
}

func insertMessages(ctx context.Context, tx *sql.Tx, sessionID string, msgs []btchat.Message) ([]btchat.Message, error) {
	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM bt_messages WHERE session_id = ?`, sessionID,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("btchat: add messages: %w", err)
	}

	now := time.Now()
	added := make([]btchat.Message, 0, len(msgs))
	for _, m := range msgs {
		seq++
		m.ID = uuid.New().String()
		m.SessionID = sessionID
		m.Seq = seq
		m.CreatedAt = now

		var u btchat.Usage
		if m.Usage != nil {
			u = *m.Usage
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO bt_messages (id, session_id, seq, role, content, prompt_tokens, response_tokens, total_tokens, thought_tokens, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, sessionID, m.Seq, string(m.Role), m.Content,
			u.PromptTokens, u.ResponseTokens, u.TotalTokens, u.ThoughtTokens, now.UnixNano(),
		)
		if err != nil {
			return nil, fmt.Errorf("btchat: add message: %w", err)
		}
		added = append(added, m)
	}
	return added, nil
}

func upsertArtifact(ctx context.Context, tx *sql.Tx, sessionID, content string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO bt_artifacts (session_id, content, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		sessionID, content, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("btchat: set artifact: %w", err)
	}
	return nil
}

// ListMessages returns all messages for a session ordered by seq.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]btchat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, seq, role, content, prompt_tokens, response_tokens, total_tokens, thought_tokens, created_at
		 FROM bt_messages WHERE session_id = ? ORDER BY seq ASC`,
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
		var u btchat.Usage
		var created int64

		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Seq, &role, &msg.Content,
			&u.PromptTokens, &u.ResponseTokens, &u.TotalTokens, &u.ThoughtTokens, &created); err != nil {
			return nil, fmt.Errorf("btchat: scan message: %w", err)
		}
		msg.Role = btchat.Role(role)
		msg.CreatedAt = time.Unix(0, created)
		if !u.IsZero() {
			msg.Usage = &u
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("btchat: list messages: %w", err)
	}
	return messages, nil
}

// SetArtifact upserts the current artifact of a session.
func (s *Store) SetArtifact(ctx context.Context, sessionID string, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("btchat: set artifact: %w", err)
	}
	defer tx.Rollback()

	if err := ensureSession(ctx, tx, sessionID); err != nil {
		return fmt.Errorf("btchat: set artifact: %w", err)
	}
	if err := upsertArtifact(ctx, tx, sessionID, content); err != nil {
		return err
	}
	return tx.Commit()
}

// Artifact returns the current artifact or btchat.ErrNoPriorArtifact.
func (s *Store) Artifact(ctx context.Context, sessionID string) (*btchat.Artifact, error) {
	a := &btchat.Artifact{SessionID: sessionID}
	var updated int64

	err := s.db.QueryRowContext(ctx,
		`SELECT content, updated_at FROM bt_artifacts WHERE session_id = ?`, sessionID,
	).Scan(&a.Content, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, btchat.ErrNoPriorArtifact
	}
	if err != nil {
		return nil, fmt.Errorf("btchat: get artifact: %w", err)
	}

	a.UpdatedAt = time.Unix(0, updated)
	return a, nil
}

// AddRequestLog inserts a new request log with pending status.
func (s *Store) AddRequestLog(ctx context.Context, log btchat.RequestLog) (*btchat.RequestLog, error) {
	now := time.Now()
	log.ID = uuid.New().String()
	log.FinalStatus = btchat.StatusPending
	log.CreatedAt = now
	log.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bt_request_logs (id, session_id, provider, model, prompt, response, final_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.SessionID, log.Provider, log.Model, log.Prompt, log.Response,
		log.FinalStatus, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("btchat: add request log: %w", err)
	}
	return &log, nil
}

// UpdateRequestLog completes a request log.
func (s *Store) UpdateRequestLog(ctx context.Context, id string, response string, status string, failReason string, errorMsg string, usage *btchat.Usage) error {
	var u btchat.Usage
	if usage != nil {
		u = *usage
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE bt_request_logs
		 SET response = ?, final_status = ?, fail_reason = ?, error_message = ?,
		     prompt_tokens = ?, response_tokens = ?, total_tokens = ?, thought_tokens = ?,
		     updated_at = ?
		 WHERE id = ?`,
		response, status, failReason, errorMsg,
		u.PromptTokens, u.ResponseTokens, u.TotalTokens, u.ThoughtTokens,
		time.Now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("btchat: update request log: %w", err)
	}
	return nil
}

// RequestLogs returns the request logs of a session, oldest first.
func (s *Store) RequestLogs(ctx context.Context, sessionID string) ([]btchat.RequestLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, provider, model, prompt, response, final_status, fail_reason, error_message,
		        prompt_tokens, response_tokens, total_tokens, thought_tokens, created_at, updated_at
		 FROM bt_request_logs WHERE session_id = ? ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("btchat: list request logs: %w", err)
	}
	defer rows.Close()

	var logs []btchat.RequestLog
	for rows.Next() {
		var l btchat.RequestLog
		var created, updated int64
		if err := rows.Scan(&l.ID, &l.SessionID, &l.Provider, &l.Model, &l.Prompt, &l.Response,
			&l.FinalStatus, &l.FailReason, &l.ErrorMessage,
			&l.Usage.PromptTokens, &l.Usage.ResponseTokens, &l.Usage.TotalTokens, &l.Usage.ThoughtTokens,
			&created, &updated); err != nil {
			return nil, fmt.Errorf("btchat: scan request log: %w", err)
		}
		l.CreatedAt = time.Unix(0, created)
		l.UpdatedAt = time.Unix(0, updated)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

var (
	_ btchat.Store         = (*Store)(nil)
	_ btchat.RequestLogger = (*Store)(nil)
)
