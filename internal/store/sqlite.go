package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/askstream/internal/domain"
	"github.com/ashureev/askstream/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT,
		status INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_questions_user_created ON questions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_questions_created ON questions(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateQuestion records a newly asked question.
func (s *SQLiteStore) CreateQuestion(ctx context.Context, q *domain.Question) error {
	query := `
	INSERT INTO questions (id, user_id, question, answer, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	var answer interface{}
	if q.Answer != nil {
		answer = *q.Answer
	}
	created := q.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	return withRetry(ctx, "create question", func() error {
		_, err := s.db.ExecContext(ctx, query,
			q.ID, q.UserID, q.Text, answer, int(q.Status),
			created.UnixMilli(), created.UnixMilli(),
		)
		return err
	})
}

// GetQuestion retrieves a question by ID.
func (s *SQLiteStore) GetQuestion(ctx context.Context, id string) (*domain.Question, error) {
	query := `
		SELECT id, user_id, question, answer, status, created_at, updated_at
		FROM questions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var q domain.Question
	var answer sql.NullString
	var status int
	var createdAt, updatedAt int64

	err := row.Scan(&q.ID, &q.UserID, &q.Text, &answer, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan question row: %w", err)
	}

	if answer.Valid {
		q.Answer = &answer.String
	}
	q.Status = domain.Status(status)
	q.CreatedAt = time.UnixMilli(createdAt)
	q.UpdatedAt = time.UnixMilli(updatedAt)

	return &q, nil
}

// UpdateStatus moves a question to a new lifecycle status.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	query := `UPDATE questions SET status = ?, updated_at = ? WHERE id = ?`
	return s.execOne(ctx, "update status", query, int(status), time.Now().UnixMilli(), id)
}

// CompleteQuestion stores the full answer and a terminal status.
func (s *SQLiteStore) CompleteQuestion(ctx context.Context, id, answer string, status domain.Status) error {
	query := `UPDATE questions SET answer = ?, status = ?, updated_at = ? WHERE id = ?`
	return s.execOne(ctx, "complete question", query, answer, int(status), time.Now().UnixMilli(), id)
}

func (s *SQLiteStore) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	var rows int64
	err := withRetry(ctx, op, func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// CountQuestionsSince counts a user's questions created at or after since.
func (s *SQLiteStore) CountQuestionsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM questions WHERE user_id = ? AND created_at >= ?`
	var n int
	if err := s.db.QueryRowContext(ctx, query, userID, since.UnixMilli()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return n, nil
}

// DeleteQuestionsBefore removes questions created before the cutoff.
func (s *SQLiteStore) DeleteQuestionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM questions WHERE created_at < ?`
	var deleted int64
	err := withRetry(ctx, "delete expired questions", func() error {
		result, err := s.db.ExecContext(ctx, query, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry runs fn with exponential backoff on SQLITE_BUSY errors.
func withRetry(ctx context.Context, op string, fn func() error) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 50ms, 100ms, 200ms
			slog.Debug("Database locked, retrying", "op", op, "attempt", i+1, "delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			}
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
