// Package session drives one question/answer exchange at a time over a
// streaming socket, falling back to status polling when the stream stalls.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/askstream/internal/auth"
	"github.com/ashureev/askstream/internal/domain"
	"github.com/ashureev/askstream/internal/metrics"
	"github.com/ashureev/askstream/internal/poller"
	"github.com/ashureev/askstream/internal/reassembler"
	"github.com/ashureev/askstream/internal/timer"
	"github.com/ashureev/askstream/internal/transport"
	"github.com/google/uuid"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("session controller closed")

const (
	keyNoResponse = "no-response"
	keyStall      = "answering-stall"
	eventQueueLen = 64
)

// Dialer opens the controller's socket.
type Dialer interface {
	Dial(ctx context.Context, endpoint, token string, h transport.Handlers) (transport.Socket, error)
}

// NetworkProbe reports whether the host is online.
type NetworkProbe interface {
	Online() bool
}

// Config holds session timing and addressing.
type Config struct {
	SocketURL         string
	UserID            string
	NoResponseTimeout time.Duration
	StallTimeout      time.Duration
	Poll              poller.Config
}

// DefaultConfig returns default session configuration.
func DefaultConfig() Config {
	return Config{
		NoResponseTimeout: 5 * time.Second,
		StallTimeout:      3 * time.Second,
		Poll:              poller.DefaultConfig(),
	}
}

// Deps are the collaborators the controller calls into.
type Deps struct {
	Dialer  Dialer
	Fetcher poller.StatusFetcher
	Tokens  auth.Source
	Network NetworkProbe
	Logger  *slog.Logger
	Now     func() time.Time
	NewID   func() string
}

// serverStatus is the last {isDone, status} pair reported by the server.
type serverStatus struct {
	isDone bool
	status domain.Status
}

// Controller owns one exchange lifecycle at a time. All state below the loop
// marker is touched only by the loop goroutine.
type Controller struct {
	cfg      Config
	deps     Deps
	listener Listener
	logger   *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan func()
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	pubState  State
	pubEx     domain.Exchange
	pubActive bool

	// loop-owned
	state    State
	exchange domain.Exchange
	status   serverStatus
	buffer   *reassembler.Buffer
	timers   *timer.Registry
	poller   *poller.Poller
	sock     transport.Socket
	sockGen  uint64
	sockOpen bool
	unsent   bool
}

// New creates a controller and starts its loop.
func New(cfg Config, deps Deps, l Listener) *Controller {
	d := DefaultConfig()
	if cfg.NoResponseTimeout <= 0 {
		cfg.NoResponseTimeout = d.NoResponseTimeout
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = d.StallTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if l == nil {
		l = ListenerFuncs{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:      cfg,
		deps:     deps,
		listener: l,
		logger:   deps.Logger,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan func(), eventQueueLen),
		done:     make(chan struct{}),
		buffer:   reassembler.New(),
	}
	c.timers = timer.NewRegistry(c.post)
	c.poller = poller.New(deps.Fetcher, cfg.Poll, c.post, deps.Logger)

	go c.run()
	return c
}

func (c *Controller) run() {
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.done:
			return
		}
	}
}

// post queues fn on the loop. It drops fn once the controller is closed.
func (c *Controller) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

// call runs fn on the loop and waits for it.
func (c *Controller) call(fn func()) bool {
	ran := make(chan struct{})
	select {
	case c.events <- func() { fn(); close(ran) }:
	case <-c.done:
		return false
	}
	select {
	case <-ran:
		return true
	case <-c.done:
		return false
	}
}

// Submit starts a new exchange and returns its ID. Input, auth and
// connectivity failures are returned directly and open no socket; every
// later failure is delivered to the Listener. A submission while another
// exchange is in flight aborts the previous one.
func (c *Controller) Submit(question string) (string, error) {
	var id string
	var err error
	if !c.call(func() { id, err = c.submit(question) }) {
		return "", ErrClosed
	}
	return id, err
}

// NotifyOffline reports that the host lost connectivity.
func (c *Controller) NotifyOffline() {
	c.post(func() {
		c.fail(domain.NewError(domain.KindConnectivity, "network offline"))
	})
}

// Reset cancels every timer, stops polling and closes the socket.
func (c *Controller) Reset() {
	c.call(c.teardown)
}

// Close tears the controller down. It is safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.call(c.teardown)
		close(c.done)
		c.cancel()
		c.logger.Debug("Session controller closed")
	})
}

// State returns the current lifecycle stage.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pubState
}

// Current returns the latest record of the most recent exchange.
func (c *Controller) Current() (domain.Exchange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pubEx, c.pubActive
}

func (c *Controller) submit(question string) (string, error) {
	q := domain.NormalizeQuestion(question)
	if q == "" {
		return "", c.reject(domain.NewError(domain.KindInput, "question is empty"))
	}
	token := ""
	if c.deps.Tokens != nil {
		token = c.deps.Tokens.Token()
	}
	if token == "" {
		return "", c.reject(domain.NewError(domain.KindAuth, "no credential"))
	}
	if c.deps.Network != nil && !c.deps.Network.Online() {
		return "", c.reject(domain.NewError(domain.KindConnectivity, "network offline"))
	}

	c.resetExchange()

	id := c.deps.NewID()
	c.exchange = domain.NewExchange(id, q, c.deps.Now())
	c.unsent = true
	c.setState(StateAwaitingAck)
	c.timers.Schedule(keyNoResponse, c.cfg.NoResponseTimeout, c.onNoResponse)
	metrics.ExchangesTotal.WithLabelValues("submitted").Inc()
	c.logger.Info("Exchange submitted", "exchange_id", id)

	c.emit(c.exchange)

	switch {
	case c.sock != nil && c.sockOpen:
		c.sendQuestion()
	default:
		// A socket that is not open may be mid-reconnect or exhausted; start clean.
		c.closeSocket()
		if err := c.dial(token); err != nil {
			c.timers.CancelKey(keyNoResponse)
			c.setState(StateDone)
			c.fail(domain.WrapError(domain.KindTransport, err))
		}
	}
	return id, nil
}

func (c *Controller) reject(err *domain.Error) *domain.Error {
	metrics.SessionErrorsTotal.WithLabelValues(string(err.Kind)).Inc()
	c.logger.Debug("Submission rejected", "kind", err.Kind)
	return err
}

func (c *Controller) dial(token string) error {
	c.sockGen++
	gen := c.sockGen
	sock, err := c.deps.Dialer.Dial(c.ctx, c.cfg.SocketURL, token, transport.Handlers{
		OnOpen:    func() { c.post(func() { c.onOpen(gen) }) },
		OnMessage: func(raw []byte) { c.post(func() { c.onMessage(gen, raw) }) },
		OnClose:   func(reason string) { c.post(func() { c.onClose(gen, reason) }) },
		OnError:   func(err error) { c.post(func() { c.onSocketError(gen, err) }) },
	})
	if err != nil {
		return fmt.Errorf("dial socket: %w", err)
	}
	c.sock = sock
	c.sockOpen = false
	return nil
}

func (c *Controller) closeSocket() {
	if c.sock == nil {
		return
	}
	if err := c.sock.Close(); err != nil {
		c.logger.Debug("Socket close failed", "error", err)
	}
	c.sock = nil
	c.sockOpen = false
	c.sockGen++
}

// sendQuestion writes the request envelope off the loop. A failed write
// leaves the question unsent so the next open retries it.
func (c *Controller) sendQuestion() {
	req := domain.QuestionRequest{
		Op:       domain.OpQuestion,
		WebID:    c.exchange.ID,
		Question: c.exchange.Question,
		UserID:   c.cfg.UserID,
	}
	data, err := json.Marshal(req)
	if err != nil {
		c.fail(domain.WrapError(domain.KindTransport, fmt.Errorf("encode question: %w", err)))
		return
	}

	c.unsent = false
	sock, gen, id := c.sock, c.sockGen, c.exchange.ID
	go func() {
		if err := sock.Send(c.ctx, string(data)); err != nil {
			c.post(func() { c.onSendFailed(gen, id, err) })
		}
	}()
}

func (c *Controller) onSendFailed(gen uint64, id string, err error) {
	c.logger.Warn("Question send failed", "exchange_id", id, "error", err)
	if gen != c.sockGen || id != c.exchange.ID || c.state != StateAwaitingAck {
		return
	}
	c.unsent = true
}

func (c *Controller) onOpen(gen uint64) {
	if gen != c.sockGen {
		return
	}
	c.sockOpen = true
	if c.unsent && c.state == StateAwaitingAck {
		c.sendQuestion()
	}
}

func (c *Controller) onClose(gen uint64, reason string) {
	if gen != c.sockGen {
		return
	}
	c.sockOpen = false
	c.logger.Info("Socket closed", "reason", reason, "state", c.state)

	// Without a terminal status the exchange would never resolve; hand it to
	// the stall path so polling settles it.
	if (c.state == StateAwaitingAck || c.state == StateAnswering) && !c.unsent && !c.timers.Active(keyStall) {
		c.timers.Schedule(keyStall, c.cfg.StallTimeout, c.onStall)
	}
}

func (c *Controller) onSocketError(gen uint64, err error) {
	if gen != c.sockGen {
		return
	}
	c.logger.Warn("Socket error", "error", err, "state", c.state)
}

func (c *Controller) onMessage(gen uint64, raw []byte) {
	if gen != c.sockGen {
		return
	}
	if string(bytes.TrimSpace(raw)) == domain.HeartbeatPong {
		return
	}

	msg, err := domain.DecodeServerMessage(raw)
	if err != nil {
		c.fail(domain.WrapError(domain.KindDecode, err))
		return
	}
	if !c.state.active() {
		// Server errors still reach the caller, e.g. a quota rejection that
		// arrives after the exchange settled.
		if msg.Op == domain.OpError {
			c.fail(serverError(msg))
			return
		}
		c.logger.Debug("Message without active exchange", "op", msg.Op, "state", c.state)
		return
	}

	switch msg.Op {
	case domain.OpError:
		c.handleError(msg)
	case domain.OpStatus:
		if !c.owns(msg.WebID) {
			return
		}
		c.handleStatus(msg)
	case domain.OpAnswer:
		if !c.owns(msg.WebID) {
			return
		}
		c.handleAnswer(msg)
	default:
		c.logger.Debug("Unknown message op", "op", msg.Op)
	}
}

// owns reports whether a message addressed to webID belongs to the active exchange.
func (c *Controller) owns(webID string) bool {
	if webID == "" || webID == c.exchange.ID {
		return true
	}
	c.logger.Debug("Dropping message for stale exchange", "web_id", webID, "exchange_id", c.exchange.ID)
	return false
}

func (c *Controller) handleError(msg domain.ServerMessage) {
	c.buffer.Reset()
	c.timers.CancelKey(keyNoResponse)
	c.timers.CancelKey(keyStall)
	c.poller.Stop()
	c.setState(StateDone)
	metrics.ExchangesTotal.WithLabelValues("failed").Inc()
	c.fail(serverError(msg))
}

func serverError(msg domain.ServerMessage) *domain.Error {
	if code, ok := msg.ErrorCode(); ok && code == domain.InsufficientBalanceCode {
		return domain.NewError(domain.KindInsufficientBalance, msg.Message)
	}
	return domain.NewError(domain.KindTransport, msg.Message)
}

func (c *Controller) handleStatus(msg domain.ServerMessage) {
	c.status = serverStatus{isDone: msg.IsDone, status: msg.Status}

	switch msg.Status {
	case domain.StatusCreated:
		c.timers.CancelKey(keyNoResponse)
	case domain.StatusAnswering:
		c.timers.CancelKey(keyNoResponse)
		if c.state == StateAwaitingAck || c.state == StateAnswering {
			c.setState(StateAnswering)
			c.timers.Schedule(keyStall, c.cfg.StallTimeout, c.onStall)
		}
	case domain.StatusComplete, domain.StatusErrored:
		c.timers.CancelKey(keyNoResponse)
		stalled := c.state == StateStalled
		if !stalled {
			c.timers.CancelKey(keyStall)
		}
		c.closeSocket()
		c.status = serverStatus{}

		c.exchange.IsDone = true
		c.exchange.Status = msg.Status
		if msg.Status == domain.StatusComplete {
			metrics.ExchangesTotal.WithLabelValues("complete").Inc()
		} else {
			metrics.ExchangesTotal.WithLabelValues("errored").Inc()
		}
		// A running poller keeps the exchange until it settles.
		if !stalled {
			c.setState(StateDone)
		}
		c.emit(c.exchange.Update())
	default:
		c.logger.Debug("Unknown status", "status", int(msg.Status))
	}
}

func (c *Controller) handleAnswer(msg domain.ServerMessage) {
	c.buffer.Put(msg.Index, msg.Answer)
	metrics.FragmentsTotal.Inc()

	c.exchange.Answer = c.buffer.Snapshot()
	c.exchange.IsDone = c.status.isDone
	c.exchange.Status = c.status.status
	c.emit(c.exchange.Update())

	switch c.state {
	case StateAwaitingAck:
		c.timers.CancelKey(keyNoResponse)
		c.setState(StateAnswering)
		c.timers.Schedule(keyStall, c.cfg.StallTimeout, c.onStall)
	case StateAnswering:
		c.timers.Schedule(keyStall, c.cfg.StallTimeout, c.onStall)
	}
}

func (c *Controller) onNoResponse() {
	if c.state != StateAwaitingAck {
		return
	}
	c.logger.Warn("Service not responding", "exchange_id", c.exchange.ID, "timeout", c.cfg.NoResponseTimeout)
	c.fail(domain.NewError(domain.KindNoResponse, "service not responding"))
}

func (c *Controller) onStall() {
	if c.state != StateAnswering && c.state != StateAwaitingAck {
		return
	}
	id := c.exchange.ID
	c.setState(StateStalled)
	metrics.StallsTotal.Inc()
	c.logger.Info("Answer stream stalled, polling status", "exchange_id", id, "timeout", c.cfg.StallTimeout)

	c.poller.Start(id, poller.Callbacks{
		OnResult:    func(answer string) { c.onPollResult(id, answer) },
		OnExhausted: func(attempts int) { c.onPollExhausted(id, attempts) },
		OnFailure:   func(err error) { c.onPollFailure(id, err) },
	})
}

func (c *Controller) onPollResult(id, answer string) {
	if id != c.exchange.ID {
		return
	}
	c.closeSocket()
	c.exchange.Answer = answer
	c.exchange.IsDone = true
	c.exchange.Status = domain.StatusComplete
	c.setState(StateDone)
	metrics.ExchangesTotal.WithLabelValues("recovered").Inc()
	c.emit(c.exchange.Update())
}

func (c *Controller) onPollExhausted(id string, attempts int) {
	if id != c.exchange.ID {
		return
	}
	c.fail(domain.NewError(domain.KindPollExhausted, fmt.Sprintf("no answer after %d attempts", attempts)))
	c.settleErrored()
}

func (c *Controller) onPollFailure(id string, err error) {
	if id != c.exchange.ID {
		return
	}
	c.fail(domain.WrapError(domain.KindPollFailed, err))
	c.settleErrored()
}

// settleErrored forces a terminal errored record when recovery gave up.
// Callers report the failure first so listeners see the cause before the
// record that ends the exchange.
func (c *Controller) settleErrored() {
	c.closeSocket()
	alreadyDone := c.exchange.IsDone
	c.exchange.IsDone = true
	if !alreadyDone {
		c.exchange.Status = domain.StatusErrored
	}
	c.setState(StateDone)
	metrics.ExchangesTotal.WithLabelValues("failed").Inc()
	c.emit(c.exchange.Update())
}

func (c *Controller) resetExchange() {
	c.timers.CancelKey(keyNoResponse)
	c.timers.CancelKey(keyStall)
	c.poller.Stop()
	c.buffer.Reset()
	c.status = serverStatus{}
	c.unsent = false
}

func (c *Controller) teardown() {
	c.resetExchange()
	c.timers.Stop()
	c.closeSocket()
	if c.state.active() {
		c.setState(StateDone)
	}
}

func (c *Controller) setState(s State) {
	if c.state != s {
		c.logger.Debug("Session state", "from", c.state, "to", s, "exchange_id", c.exchange.ID)
	}
	c.state = s
	c.mu.Lock()
	c.pubState = s
	c.mu.Unlock()
}

func (c *Controller) emit(ex domain.Exchange) {
	c.mu.Lock()
	c.pubEx = c.exchange
	c.pubActive = c.exchange.ID != ""
	c.mu.Unlock()
	c.listener.ExchangeUpdated(ex)
}

func (c *Controller) fail(err *domain.Error) {
	metrics.SessionErrorsTotal.WithLabelValues(string(err.Kind)).Inc()
	c.logger.Warn("Session error", "kind", err.Kind, "message", err.Message, "exchange_id", c.exchange.ID)
	c.listener.Failed(err)
}
