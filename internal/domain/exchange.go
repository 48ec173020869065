// Package domain contains core domain types for askstream.
package domain

import (
	"strings"
	"time"
)

// Status is the server-reported lifecycle stage of an exchange.
type Status int

const (
	// StatusNone means the server has not acknowledged the exchange yet.
	StatusNone Status = 0
	// StatusCreated means the question was accepted but answering has not begun.
	StatusCreated Status = 1
	// StatusAnswering means answer fragments are being streamed.
	StatusAnswering Status = 2
	// StatusComplete means the answer finished normally.
	StatusComplete Status = 3
	// StatusErrored means the server gave up on the answer.
	StatusErrored Status = 4
)

// Terminal reports whether s ends an exchange.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusErrored
}

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusCreated:
		return "created"
	case StatusAnswering:
		return "answering"
	case StatusComplete:
		return "complete"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Exchange is one question/answer unit keyed by a client-generated ID.
// Timestamp is unix milliseconds on the record that introduces the exchange
// and 0 on every later update push.
type Exchange struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Timestamp int64  `json:"timestamp"`
	IsDone    bool   `json:"isDone,omitempty"`
	Status    Status `json:"status,omitempty"`
}

// NewExchange creates the initial record for a freshly submitted question.
func NewExchange(id, question string, now time.Time) Exchange {
	return Exchange{
		ID:        id,
		Question:  question,
		Timestamp: now.UnixMilli(),
	}
}

// IsNew reports whether the record introduces the exchange rather than updating it.
func (e Exchange) IsNew() bool {
	return e.Timestamp != 0
}

// Update returns a copy of e marked as an update push.
func (e Exchange) Update() Exchange {
	e.Timestamp = 0
	return e
}

// NormalizeQuestion trims surrounding whitespace. An empty result is not submittable.
func NormalizeQuestion(q string) string {
	return strings.TrimSpace(q)
}
