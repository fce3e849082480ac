// Package store persists every answered question to a SQLite interaction log.
// Rows start as "pending" and are updated to "graded" once the judge has
// scored the reply against the legal context it was given.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Status is the grading state of an interaction.
type Status string

const (
	// StatusPending marks a row the judge has not scored yet.
	StatusPending Status = "pending"
	// StatusGraded marks a row with a judge score and reason.
	StatusGraded Status = "graded"
)

// ErrNotFound is returned when no interaction has the requested id.
var ErrNotFound = errors.New("store: interaction not found")

// Interaction is one answered question.
type Interaction struct {
	ID         int64
	CreatedAt  time.Time
	UserQuery  string
	TargetLang string
	// RAGContext is the legal context the answer model was given.
	RAGContext string
	ModelReply string
	// JudgeScore is nil until the row is graded.
	JudgeScore  *int
	JudgeReason string
	Status      Status
}

// row mirrors the interactions table for sqlx scanning.
type row struct {
	ID          int64          `db:"id"`
	CreatedAt   int64          `db:"created_at"`
	UserQuery   string         `db:"user_query"`
	TargetLang  string         `db:"target_lang"`
	RAGContext  string         `db:"rag_context"`
	ModelReply  string         `db:"model_reply"`
	JudgeScore  sql.NullInt64  `db:"judge_score"`
	JudgeReason sql.NullString `db:"judge_reason"`
	Status      string         `db:"status"`
}

func (r row) interaction() Interaction {
	in := Interaction{
		ID:          r.ID,
		CreatedAt:   time.Unix(r.CreatedAt, 0),
		UserQuery:   r.UserQuery,
		TargetLang:  r.TargetLang,
		RAGContext:  r.RAGContext,
		ModelReply:  r.ModelReply,
		JudgeReason: r.JudgeReason.String,
		Status:      Status(r.Status),
	}
	if r.JudgeScore.Valid {
		score := int(r.JudgeScore.Int64)
		in.JudgeScore = &score
	}
	return in
}

// SQLiteStore is the interaction log backed by a local SQLite database. It is
// safe for concurrent use.
type SQLiteStore struct {
	db *sqlx.DB
}

// DefaultDBPath returns the default path for the interaction database.
// It resolves to ~/.civic/interactions.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".civic")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "interactions.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		// WAL lets the judge's updates proceed while handlers insert.
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under
	// concurrent writes; for ":memory:" it also keeps one shared database.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS interactions (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at    INTEGER NOT NULL,  -- Unix timestamp (seconds)
    user_query    TEXT    NOT NULL,
    target_lang   TEXT    NOT NULL,
    rag_context   TEXT    NOT NULL,
    model_reply   TEXT    NOT NULL,
    judge_score   INTEGER,
    judge_reason  TEXT,
    status        TEXT    NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_interactions_status
    ON interactions (status, id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Log inserts a pending interaction and returns its id.
func (s *SQLiteStore) Log(ctx context.Context, in *Interaction) (int64, error) {
	created := in.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	const q = `
INSERT INTO interactions (created_at, user_query, target_lang, rag_context, model_reply)
VALUES (?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, created.Unix(), in.UserQuery, in.TargetLang, in.RAGContext, in.ModelReply)
	if err != nil {
		return 0, fmt.Errorf("store: log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: log id: %w", err)
	}
	return id, nil
}

// Grade records the judge's score and reason and marks the row graded.
func (s *SQLiteStore) Grade(ctx context.Context, id int64, score int, reason string) error {
	const q = `UPDATE interactions SET judge_score = ?, judge_reason = ?, status = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, score, reason, string(StatusGraded), id)
	if err != nil {
		return fmt.Errorf("store: grade %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("store: grade %d: %w", id, ErrNotFound)
	}
	return nil
}

// Count returns the total number of logged interactions.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(id) FROM interactions`); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Pending returns up to limit ungraded interactions, oldest first.
func (s *SQLiteStore) Pending(ctx context.Context, limit int) ([]Interaction, error) {
	var rows []row
	const q = `SELECT * FROM interactions WHERE status = ? ORDER BY id ASC LIMIT ?`
	if err := s.db.SelectContext(ctx, &rows, q, string(StatusPending), limit); err != nil {
		return nil, fmt.Errorf("store: pending: %w", err)
	}
	out := make([]Interaction, len(rows))
	for i, r := range rows {
		out[i] = r.interaction()
	}
	return out, nil
}

// Ping checks the database connection. It is used by the readiness probe.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
