package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nvimtools/copilot-agent/pkg/chat"
	"github.com/nvimtools/copilot-agent/pkg/concurrent"
	"github.com/nvimtools/copilot-agent/pkg/sqliteutil"
)

var (
	ErrEmptyID  = errors.New("session ID cannot be empty")
	ErrNotFound = errors.New("session not found")
)

// Store is the conversation-history backend. Each key is written only by the
// call that owns it, so implementations need no cross-key coordination.
type Store interface {
	AddSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	GetSessionSummaries(ctx context.Context) ([]Summary, error)
	DeleteSession(ctx context.Context, id string) error

	// AddMessages appends messages to a session in order.
	AddMessages(ctx context.Context, sessionID string, msgs ...chat.Message) error

	// Messages returns a session's history in insertion order.
	Messages(ctx context.Context, sessionID string) ([]chat.Message, error)

	Close() error
}

// InMemoryStore keeps history for the lifetime of the process. Used when no
// database path is configured, and in tests.
type InMemoryStore struct {
	sessions *concurrent.Map[string, *Session]
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: concurrent.NewMap[string, *Session]()}
}

func (s *InMemoryStore) AddSession(_ context.Context, sess *Session) error {
	if sess.ID == "" {
		return ErrEmptyID
	}
	s.sessions.Store(sess.ID, sess)
	return nil
}

func (s *InMemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	sess, ok := s.sessions.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *InMemoryStore) GetSessionSummaries(context.Context) ([]Summary, error) {
	summaries := make([]Summary, 0, s.sessions.Length())
	s.sessions.Range(func(_ string, sess *Session) bool {
		summaries = append(summaries, Summary{
			ID:        sess.ID,
			Title:     sess.Title,
			CreatedAt: sess.CreatedAt,
			Messages:  len(sess.Messages),
		})
		return true
	})
	return summaries, nil
}

func (s *InMemoryStore) DeleteSession(_ context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if _, ok := s.sessions.Load(id); !ok {
		return ErrNotFound
	}
	s.sessions.Delete(id)
	return nil
}

func (s *InMemoryStore) AddMessages(_ context.Context, sessionID string, msgs ...chat.Message) error {
	if sessionID == "" {
		return ErrEmptyID
	}
	sess, ok := s.sessions.Load(sessionID)
	if !ok {
		return ErrNotFound
	}
	sess.Messages = append(sess.Messages, msgs...)
	return nil
}

func (s *InMemoryStore) Messages(_ context.Context, sessionID string) ([]chat.Message, error) {
	if sessionID == "" {
		return nil, ErrEmptyID
	}
	sess, ok := s.sessions.Load(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]chat.Message(nil), sess.Messages...), nil
}

func (s *InMemoryStore) Close() error { return nil }

// SQLiteStore persists history across restarts.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqliteutil.OpenDB(path)
	if err != nil {
		return nil, err
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating session store: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			position   INTEGER NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, position);
	`)
	return err
}

func (s *SQLiteStore) AddSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		return ErrEmptyID
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions (id, title, created_at) VALUES (?, ?, ?)",
		sess.ID, sess.Title, sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	if len(sess.Messages) > 0 {
		return s.AddMessages(ctx, sess.ID, sess.Messages...)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	sess := &Session{ID: id}
	err := s.db.QueryRowContext(ctx,
		"SELECT title, created_at FROM sessions WHERE id = ?", id).
		Scan(&sess.Title, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	sess.Messages, err = s.Messages(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) GetSessionSummaries(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.created_at, COUNT(m.id)
		FROM sessions s LEFT JOIN messages m ON m.session_id = s.id
		GROUP BY s.id ORDER BY s.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.CreatedAt, &sum.Messages); err != nil {
			return nil, fmt.Errorf("scanning session summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AddMessages(ctx context.Context, sessionID string, msgs ...chat.Message) error {
	if sessionID == "" {
		return ErrEmptyID
	}
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(position), -1) + 1 FROM messages WHERE session_id = ?", sessionID).
		Scan(&next)
	if err != nil {
		return fmt.Errorf("finding next position: %w", err)
	}

	now := time.Now()
	for i, msg := range msgs {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO messages (session_id, position, role, content, name, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			sessionID, next+i, string(msg.Role), msg.Content, msg.Name, now)
		if err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if sessionID == "" {
		return nil, ErrEmptyID
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, name FROM messages WHERE session_id = ? ORDER BY position", sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var msg chat.Message
		var role string
		if err := rows.Scan(&role, &msg.Content, &msg.Name); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = chat.MessageRole(role)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
