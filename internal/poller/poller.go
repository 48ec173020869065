// Package poller recovers a stalled answer by polling the status endpoint
// on a fixed interval up to a bounded number of attempts.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/askstream/internal/domain"
	"github.com/ashureev/askstream/internal/metrics"
	"github.com/ashureev/askstream/internal/timer"
)

// ErrStatusFailed is wrapped by failures reported through OnFailure.
var ErrStatusFailed = errors.New("status endpoint returned failure")

const pollKey = "poll"

// StatusFetcher fetches the status of one exchange.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, id string) (domain.StatusResponse, error)
}

// Callbacks receive the outcome of one polling cycle. Exactly one of them is
// invoked, at most once.
type Callbacks struct {
	OnResult    func(answer string)
	OnExhausted func(attempts int)
	OnFailure   func(err error)
}

// Config holds poller configuration.
type Config struct {
	Interval       time.Duration
	MaxAttempts    int
	RequestTimeout time.Duration
}

// DefaultConfig returns default poller configuration.
func DefaultConfig() Config {
	return Config{
		Interval:       3 * time.Second,
		MaxAttempts:    10,
		RequestTimeout: 10 * time.Second,
	}
}

type cycle struct {
	gen      uint64
	id       string
	cb       Callbacks
	attempts int
	ctx      context.Context
	cancel   context.CancelFunc
}

// Poller runs at most one polling cycle at a time.
type Poller struct {
	fetcher  StatusFetcher
	cfg      Config
	dispatch timer.Dispatcher
	timers   *timer.Registry
	logger   *slog.Logger

	mu  sync.Mutex
	gen uint64
	cur *cycle
}

// New creates a poller. Results are delivered through dispatch when it is
// non-nil, otherwise on the fetching goroutine.
func New(fetcher StatusFetcher, cfg Config, dispatch timer.Dispatcher, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = d.RequestTimeout
	}
	return &Poller{
		fetcher:  fetcher,
		cfg:      cfg,
		dispatch: dispatch,
		timers:   timer.NewRegistry(dispatch),
		logger:   logger,
	}
}

// Start begins polling for id, superseding any running cycle. The first
// fetch is issued immediately.
func (p *Poller) Start(id string, cb Callbacks) {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.stopLocked()
	p.gen++
	c := &cycle{gen: p.gen, id: id, cb: cb, ctx: ctx, cancel: cancel}
	p.cur = c
	p.mu.Unlock()

	p.logger.Info("Fallback polling started", "exchange_id", id, "max_attempts", p.cfg.MaxAttempts)
	p.fetch(c)
}

// Stop cancels the running cycle, if any. No callback fires afterwards.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Running reports whether a cycle is in progress.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur != nil
}

func (p *Poller) stopLocked() {
	p.timers.CancelKey(pollKey)
	if p.cur != nil {
		p.cur.cancel()
		p.cur = nil
	}
}

func (p *Poller) fetch(c *cycle) {
	p.mu.Lock()
	if p.cur != c {
		p.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	p.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, p.cfg.RequestTimeout)
		resp, err := p.fetcher.FetchStatus(ctx, c.id)
		cancel()
		p.post(func() { p.handle(c, attempt, resp, err) })
	}()
}

func (p *Poller) post(fn func()) {
	if p.dispatch == nil {
		fn()
		return
	}
	p.dispatch(fn)
}

func (p *Poller) handle(c *cycle, attempt int, resp domain.StatusResponse, err error) {
	p.mu.Lock()
	if p.cur != c {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	switch {
	case err != nil:
		// Network errors are what polling recovers from; they use up an attempt.
		metrics.PollAttemptsTotal.WithLabelValues("error").Inc()
		p.logger.Warn("Status fetch failed", "exchange_id", c.id, "attempt", attempt, "error", err)
	case resp.Code != http.StatusOK:
		metrics.PollAttemptsTotal.WithLabelValues("failed").Inc()
		if p.finish(c) && c.cb.OnFailure != nil {
			c.cb.OnFailure(fmt.Errorf("%w: code %d: %s", ErrStatusFailed, resp.Code, resp.Msg))
		}
		return
	default:
		if answer, ok := resp.ResolvedAnswer(); ok && answer != "" {
			metrics.PollAttemptsTotal.WithLabelValues("resolved").Inc()
			p.logger.Info("Fallback polling resolved", "exchange_id", c.id, "attempt", attempt)
			if p.finish(c) && c.cb.OnResult != nil {
				c.cb.OnResult(answer)
			}
			return
		}
		metrics.PollAttemptsTotal.WithLabelValues("pending").Inc()
	}

	if attempt >= p.cfg.MaxAttempts {
		p.logger.Warn("Fallback polling exhausted", "exchange_id", c.id, "attempts", attempt)
		if p.finish(c) && c.cb.OnExhausted != nil {
			c.cb.OnExhausted(attempt)
		}
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == c {
		p.timers.Schedule(pollKey, p.cfg.Interval, func() { p.fetch(c) })
	}
}

// finish ends c if it is still current and reports whether it was.
func (p *Poller) finish(c *cycle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur != c {
		return false
	}
	p.stopLocked()
	return true
}
