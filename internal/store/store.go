// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/askstream/internal/domain"
)

// ErrNotFound is returned when an update targets a question that does not exist.
var ErrNotFound = errors.New("question not found")

// Repository defines the interface for persisting relayed questions.
type Repository interface {
	// CreateQuestion records a newly asked question. Asking the same ID twice
	// keeps the first record.
	CreateQuestion(ctx context.Context, q *domain.Question) error

	// GetQuestion retrieves a question by ID. It returns nil, nil when absent.
	GetQuestion(ctx context.Context, id string) (*domain.Question, error)

	// UpdateStatus moves a question to a new lifecycle status.
	UpdateStatus(ctx context.Context, id string, status domain.Status) error

	// CompleteQuestion stores the full answer and a terminal status.
	CompleteQuestion(ctx context.Context, id, answer string, status domain.Status) error

	// CountQuestionsSince counts a user's questions created at or after since.
	CountQuestionsSince(ctx context.Context, userID string, since time.Time) (int, error)

	// DeleteQuestionsBefore removes questions created before the cutoff.
	DeleteQuestionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
