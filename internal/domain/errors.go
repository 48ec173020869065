package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to the session caller.
type ErrorKind string

const (
	KindInput               ErrorKind = "input_empty"
	KindAuth                ErrorKind = "not_login"
	KindConnectivity        ErrorKind = "net_offline"
	KindNoResponse          ErrorKind = "service_not_responding"
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	KindTransport           ErrorKind = "ws_error"
	KindPollExhausted       ErrorKind = "question_fetch_max"
	KindPollFailed          ErrorKind = "http_error"
	KindDecode              ErrorKind = "decode_error"
)

// Error is a classified session error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError creates a classified error.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError classifies an underlying error.
func WrapError(kind ErrorKind, err error) *Error {
	e := &Error{Kind: kind, Err: err}
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a classified error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
