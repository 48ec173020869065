package session

import "github.com/ashureev/askstream/internal/domain"

// Listener receives snapshots and classified errors. Calls are made from the
// controller's loop goroutine; implementations must return quickly and must
// not call back into Submit, Reset or Close.
type Listener interface {
	// ExchangeUpdated receives the current record for an exchange. Callers
	// reconcile by ID; a non-zero Timestamp marks the first record.
	ExchangeUpdated(ex domain.Exchange)
	// Failed receives every asynchronous error for the active exchange.
	Failed(err *domain.Error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnExchange func(domain.Exchange)
	OnError    func(*domain.Error)
}

// ExchangeUpdated implements Listener.
func (f ListenerFuncs) ExchangeUpdated(ex domain.Exchange) {
	if f.OnExchange != nil {
		f.OnExchange(ex)
	}
}

// Failed implements Listener.
func (f ListenerFuncs) Failed(err *domain.Error) {
	if f.OnError != nil {
		f.OnError(err)
	}
}
