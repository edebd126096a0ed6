// Package memory provides a process-lifetime btchat.Store bounded by an LRU
// cache. Evicting a session is equivalent to clearing it.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/meikuraledutech/btchat"
	"github.com/meikuraledutech/btchat/observability"
)

// DefaultSize is the session capacity used when New is given a non-positive size.
const DefaultSize = 4096

type entry struct {
	mu       sync.Mutex
	session  btchat.Session
	messages []btchat.Message
	artifact *btchat.Artifact
}

// Store keeps sessions in memory. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions *lru.Cache[string, *entry]
	logs     *lru.Cache[string, btchat.RequestLog]
	logger   *observability.Logger
}

// New creates a store holding at most size sessions and size request logs.
func New(size int, logger *observability.Logger) (*Store, error) {
	if size <= 0 {
		size = DefaultSize
	}
	logger = observability.OrNop(logger)

	sessions, err := lru.NewWithEvict(size, func(id string, _ *entry) {
		logger.Debug("session evicted", "session_id", id)
	})
	if err != nil {
		return nil, fmt.Errorf("btchat: create session cache: %w", err)
	}

	logs, err := lru.New[string, btchat.RequestLog](size)
	if err != nil {
		return nil, fmt.Errorf("btchat: create request log cache: %w", err)
	}

	return &Store{sessions: sessions, logs: logs, logger: logger}, nil
}

func (s *Store) entry(sessionID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions.Get(sessionID); ok {
		return e
	}
	e := &entry{session: btchat.Session{ID: sessionID, CreatedAt: time.Now()}}
	s.sessions.Add(sessionID, e)
	return e
}

// Session returns the session, creating it on first access.
func (s *Store) Session(ctx context.Context, sessionID string) (*btchat.Session, error) {
	e := s.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	session := e.session
	return &session, nil
}

// ClearSession drops history and artifact. Clearing an unknown session is a no-op.
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions.Remove(sessionID)
	return nil
}

// AddMessages appends msgs in order, assigning ids, sequence numbers and timestamps.
func (s *Store) AddMessages(ctx context.Context, sessionID string, msgs ...btchat.Message) ([]btchat.Message, error) {
	return s.CommitTurn(ctx, sessionID, nil, msgs...)
}

// CommitTurn appends msgs and replaces the artifact under the session lock.
func (s *Store) CommitTurn(ctx context.Context, sessionID string, artifact *string, msgs ...btchat.Message) ([]btchat.Message, error) {
	e := s.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	added := make([]btchat.Message, 0, len(msgs))
	for _, m := range msgs {
		m.ID = uuid.New().String()
		m.SessionID = sessionID
		m.Seq = len(e.messages) + 1
		m.CreatedAt = now
		e.messages = append(e.messages, m)
		added = append(added, m)
	}
	if artifact != nil {
		e.artifact = &btchat.Artifact{SessionID: sessionID, Content: *artifact, UpdatedAt: now}
	}

	return added, nil
}

// ListMessages returns a copy of the full history ordered by seq.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]btchat.Message, error) {
	e, ok := s.peek(sessionID)
	if !ok {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]btchat.Message, len(e.messages))
	copy(out, e.messages)
	return out, nil
}

// SetArtifact replaces the current artifact of the session.
func (s *Store) SetArtifact(ctx context.Context, sessionID string, content string) error {
	_, err := s.CommitTurn(ctx, sessionID, &content)
	return err
}

// Artifact returns the current artifact or btchat.ErrNoPriorArtifact.
func (s *Store) Artifact(ctx context.Context, sessionID string) (*btchat.Artifact, error) {
	e, ok := s.peek(sessionID)
	if !ok {
		return nil, btchat.ErrNoPriorArtifact
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.artifact == nil {
		return nil, btchat.ErrNoPriorArtifact
	}
	a := *e.artifact
	return &a, nil
}

func (s *Store) peek(sessionID string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Get(sessionID)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.sessions.Len()
}

// AddRequestLog records a pending request log.
func (s *Store) AddRequestLog(ctx context.Context, log btchat.RequestLog) (*btchat.RequestLog, error) {
	now := time.Now()
	log.ID = uuid.New().String()
	log.FinalStatus = btchat.StatusPending
	log.CreatedAt = now
	log.UpdatedAt = now
	s.logs.Add(log.ID, log)
	return &log, nil
}

// UpdateRequestLog completes a request log. Unknown ids are ignored.
func (s *Store) UpdateRequestLog(ctx context.Context, id string, response string, status string, failReason string, errorMsg string, usage *btchat.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs.Get(id)
	if !ok {
		return nil
	}
	log.Response = response
	log.FinalStatus = status
	log.FailReason = failReason
	log.ErrorMessage = errorMsg
	if usage != nil {
		log.Usage = *usage
	}
	log.UpdatedAt = time.Now()
	s.logs.Add(id, log)
	return nil
}

// RequestLog returns a recorded request log by id.
func (s *Store) RequestLog(id string) (btchat.RequestLog, bool) {
	return s.logs.Get(id)
}

var (
	_ btchat.Store         = (*Store)(nil)
	_ btchat.RequestLogger = (*Store)(nil)
)
