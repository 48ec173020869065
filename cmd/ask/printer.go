package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ashureev/askstream/internal/domain"
)

// outcome signals a terminal record (err nil) or a failure that ends the
// exchange for the caller.
type outcome struct {
	id  string
	err *domain.Error
}

// printer renders exchange updates as a growing line of text.
type printer struct {
	out  io.Writer
	errw io.Writer
	done chan outcome

	mu      sync.Mutex
	id      string
	printed string
}

func newPrinter(out, errw io.Writer) *printer {
	return &printer{out: out, errw: errw, done: make(chan outcome, 4)}
}

// ExchangeUpdated implements session.Listener.
func (p *printer) ExchangeUpdated(ex domain.Exchange) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ex.ID != p.id {
		p.id, p.printed = ex.ID, ""
	}

	switch {
	case strings.HasPrefix(ex.Answer, p.printed):
		fmt.Fprint(p.out, ex.Answer[len(p.printed):])
	default:
		// Out-of-order fragments or a polled answer rewrote the text.
		fmt.Fprint(p.out, "\r\n"+ex.Answer)
	}
	p.printed = ex.Answer

	if ex.IsDone {
		fmt.Fprintln(p.out)
		p.signal(outcome{id: ex.ID})
	}
}

// Failed implements session.Listener.
func (p *printer) Failed(err *domain.Error) {
	fmt.Fprintf(p.errw, "error: %s\n", describe(err))
	if !terminal(err.Kind) {
		return
	}
	p.mu.Lock()
	id := p.id
	p.mu.Unlock()
	p.signal(outcome{id: id, err: err})
}

func (p *printer) signal(o outcome) {
	select {
	case p.done <- o:
	default:
	}
}

// terminal reports whether an error ends the exchange for the caller.
func terminal(kind domain.ErrorKind) bool {
	switch kind {
	case domain.KindNoResponse, domain.KindDecode, domain.KindConnectivity:
		return false
	default:
		return true
	}
}

func describe(err *domain.Error) string {
	switch err.Kind {
	case domain.KindAuth:
		return "not logged in, set ASK_TOKEN or --token"
	case domain.KindInsufficientBalance:
		return "insufficient balance"
	case domain.KindNoResponse:
		return "service is not responding yet, still waiting"
	case domain.KindConnectivity:
		return "network is offline"
	case domain.KindPollExhausted:
		return "gave up waiting for the answer"
	default:
		return err.Error()
	}
}
