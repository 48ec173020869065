package domain

import (
	"time"
)

// Question is the server-side record of an asked question, kept so the
// status endpoint can answer polls after the stream is gone.
type Question struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"question"`
	Answer    *string   `json:"answer,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Answered returns true once a full answer has been stored.
func (q *Question) Answered() bool {
	return q.Answer != nil
}

// Age returns how long ago the question was asked.
func (q *Question) Age(now time.Time) time.Duration {
	if q.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(q.CreatedAt)
}
