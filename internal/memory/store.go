// Package memory persists conversation history, feedback and cached answers.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"docbot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.HistoryLedger and domain.FeedbackLedger on
// SQLite, and backs the response cache through Cache.
type SQLiteStore struct {
	db         *sql.DB
	logger     *slog.Logger
	maxHistory int
}

// Options tune a SQLiteStore.
type Options struct {
	MaxHistory int // default and upper bound for Read limits
	Logger     *slog.Logger
}

func NewSQLiteStore(dbPath string, opts Options) (*SQLiteStore, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 200
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite: writers serialize anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(db, opts.Logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: opts.Logger, maxHistory: opts.MaxHistory}, nil
}

// --- History ---

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, role domain.Role, content string) error {
	_, err := s.AppendMessage(ctx, sessionID, role, content)
	return err
}

// AppendMessage records a message and returns its id.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(role), content, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	return res.LastInsertId()
}

// Read returns the last limit messages of a session, oldest first.
func (s *SQLiteStore) Read(ctx context.Context, sessionID string, limit int) ([]domain.ConversationMessage, error) {
	if limit <= 0 || limit > s.maxHistory {
		limit = s.maxHistory
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at
		 FROM chat_messages WHERE session_id = ?
		 ORDER BY id DESC LIMIT ?`, sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []domain.ConversationMessage{}
	for rows.Next() {
		var m domain.ConversationMessage
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SessionSummary describes one session for listings.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	Messages     int       `json:"messages"`
	LastActivity time.Time `json:"last_activity"`
}

// Sessions lists sessions by most recent activity.
func (s *SQLiteStore) Sessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, COUNT(*), MAX(id)
		 FROM chat_messages GROUP BY session_id
		 ORDER BY MAX(id) DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type row struct {
		summary SessionSummary
		lastID  int64
	}
	var found []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.summary.SessionID, &r.summary.Messages, &r.lastID); err != nil {
			return nil, err
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	out := make([]SessionSummary, 0, len(found))
	for _, r := range found {
		if err := s.db.QueryRowContext(ctx,
			`SELECT created_at FROM chat_messages WHERE id = ?`, r.lastID,
		).Scan(&r.summary.LastActivity); err != nil {
			return nil, err
		}
		out = append(out, r.summary)
	}
	return out, nil
}

// --- Feedback ---

func (s *SQLiteStore) RecordMessageFeedback(ctx context.Context, messageID int64, vote domain.Vote) error {
	if !vote.Valid() {
		return fmt.Errorf("invalid feedback %q: want up or down", vote)
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM chat_messages WHERE id = ?`, messageID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("message %d: %w", messageID, domain.ErrMessageNotFound)
	}
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO message_feedback (message_id, feedback, created_at) VALUES (?, ?, ?)`,
		messageID, string(vote), time.Now().UTC(),
	)
	return err
}

func (s *SQLiteStore) RecordSessionFeedback(ctx context.Context, sessionID string, rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("invalid rating %d: want 1..5", rating)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_feedback (session_id, rating, created_at) VALUES (?, ?, ?)`,
		nullString(sessionID), rating, time.Now().UTC(),
	)
	return err
}

// MessageFeedback returns the votes recorded for a message, oldest first.
func (s *SQLiteStore) MessageFeedback(ctx context.Context, messageID int64) ([]domain.MessageFeedback, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, feedback, created_at FROM message_feedback
		 WHERE message_id = ? ORDER BY id`, messageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MessageFeedback
	for rows.Next() {
		var f domain.MessageFeedback
		var vote string
		if err := rows.Scan(&f.ID, &f.MessageID, &vote, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Vote = domain.Vote(vote)
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
