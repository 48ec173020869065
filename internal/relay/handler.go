package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/askstream/internal/domain"
	"github.com/ashureev/askstream/internal/identity"
	"github.com/ashureev/askstream/internal/metrics"
	"github.com/ashureev/askstream/internal/store"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	quotaWindow   = 24 * time.Hour
	jobQueueLen   = 8
	storeTimeout  = 5 * time.Second
	readLimitSize = 64 << 10
)

// Options tunes how the relay streams answers.
type Options struct {
	FragmentDelay time.Duration
	// Shuffle sends fragments out of index order.
	Shuffle bool
	// StallAfter stops streaming after this many fragments without a
	// terminal status. The full answer is still stored. 0 disables.
	StallAfter    int
	DailyQuota    int
	AllowedOrigin string
	IsDev         bool
}

// Handler serves the /ws/chat streaming endpoint.
type Handler struct {
	repo     store.Repository
	answerer Answerer
	conns    *ConnManager
	opts     Options
	now      func() time.Time
}

// NewHandler creates a new relay handler.
func NewHandler(repo store.Repository, answerer Answerer, conns *ConnManager, opts Options) *Handler {
	if answerer == nil {
		answerer = EchoAnswerer{}
	}
	return &Handler{
		repo:     repo,
		answerer: answerer,
		conns:    conns,
		opts:     opts,
		now:      time.Now,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	slog.Info("Relay connection request", "user_id", userID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(readLimitSize)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	connID := uuid.NewString()
	h.conns.Register(userID, connID, ws)
	defer h.conns.Unregister(userID, connID, ws)

	jobs := make(chan domain.QuestionRequest, jobQueueLen)
	g, ctx := errgroup.WithContext(r.Context())

	// Read loop: client -> jobs.
	g.Go(func() error {
		defer close(jobs)
		return h.readLoop(ctx, ws, jobs, userID)
	})

	// Answer loop: jobs -> client, one question at a time.
	g.Go(func() error {
		for req := range jobs {
			if err := h.answer(ctx, ws, userID, req); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("Relay connection ended with error", "error", err, "user_id", userID)
	}
	slog.Info("Relay connection ended", "user_id", userID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, jobs chan<- domain.QuestionRequest, userID string) error {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
				return nil
			}
			return err
		}

		if strings.TrimSpace(string(message)) == domain.HeartbeatPing {
			continue
		}

		var req domain.QuestionRequest
		if err := json.Unmarshal(message, &req); err != nil {
			slog.Debug("Ignoring malformed frame", "error", err, "user_id", userID)
			continue
		}
		if req.Op != domain.OpQuestion || req.WebID == "" {
			slog.Debug("Ignoring frame", "op", req.Op, "user_id", userID)
			continue
		}

		select {
		case jobs <- req:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// answer runs one exchange. It returns an error only when the connection
// is unusable.
//
//nolint:gocognit // The exchange script interleaves store writes with frames.
func (h *Handler) answer(ctx context.Context, ws *websocket.Conn, userID string, req domain.QuestionRequest) error {
	logger := slog.With("user_id", userID, "web_id", req.WebID)
	question := domain.NormalizeQuestion(req.Question)
	if question == "" {
		return h.send(ctx, ws, domain.ServerMessage{Op: domain.OpError, WebID: req.WebID, Message: "question is empty"})
	}

	if h.opts.DailyQuota > 0 {
		n, err := h.repo.CountQuestionsSince(ctx, userID, h.now().Add(-quotaWindow))
		if err != nil {
			logger.Error("Failed to check quota", "error", err)
		} else if n >= h.opts.DailyQuota {
			metrics.RelayQuestionsTotal.WithLabelValues("quota").Inc()
			logger.Info("Question rejected, quota exhausted", "count", n, "quota", h.opts.DailyQuota)
			return h.send(ctx, ws, domain.ServerMessage{
				Op:      domain.OpError,
				WebID:   req.WebID,
				Message: strconv.Itoa(domain.InsufficientBalanceCode),
			})
		}
	}

	if err := h.repo.CreateQuestion(ctx, &domain.Question{
		ID:        req.WebID,
		UserID:    userID,
		Text:      question,
		Status:    domain.StatusCreated,
		CreatedAt: h.now(),
	}); err != nil {
		logger.Error("Failed to record question", "error", err)
		return h.send(ctx, ws, domain.ServerMessage{Op: domain.OpError, WebID: req.WebID, Message: "failed to record question"})
	}
	if err := h.send(ctx, ws, h.status(req, domain.StatusCreated)); err != nil {
		return err
	}

	fragments, err := h.answerer.Answer(ctx, question)
	if err != nil {
		logger.Warn("Answerer failed", "error", err)
		metrics.RelayQuestionsTotal.WithLabelValues("failed").Inc()
		h.complete(req.WebID, "", domain.StatusErrored)
		return h.send(ctx, ws, h.status(req, domain.StatusErrored))
	}
	full := strings.Join(fragments, "")

	h.setStatus(req.WebID, domain.StatusAnswering)
	if err := h.send(ctx, ws, h.status(req, domain.StatusAnswering)); err != nil {
		return err
	}

	for sent, idx := range h.order(len(fragments)) {
		if h.opts.StallAfter > 0 && sent >= h.opts.StallAfter {
			// Go silent mid-stream; the client recovers through the status endpoint.
			h.complete(req.WebID, full, domain.StatusComplete)
			metrics.RelayQuestionsTotal.WithLabelValues("stalled").Inc()
			logger.Info("Stream stalled on purpose", "sent", sent, "total", len(fragments))
			return nil
		}
		if err := h.send(ctx, ws, domain.ServerMessage{
			Op:     domain.OpAnswer,
			WebID:  req.WebID,
			Index:  idx,
			Answer: fragments[idx],
		}); err != nil {
			return err
		}
		if h.opts.FragmentDelay > 0 {
			select {
			case <-time.After(h.opts.FragmentDelay):
			case <-ctx.Done():
				h.complete(req.WebID, full, domain.StatusComplete)
				return ctx.Err()
			}
		}
	}

	h.complete(req.WebID, full, domain.StatusComplete)
	metrics.RelayQuestionsTotal.WithLabelValues("complete").Inc()
	logger.Info("Question answered", "fragments", len(fragments))
	return h.send(ctx, ws, h.status(req, domain.StatusComplete))
}

func (h *Handler) status(req domain.QuestionRequest, s domain.Status) domain.ServerMessage {
	return domain.ServerMessage{
		Op:        domain.OpStatus,
		WebID:     req.WebID,
		Question:  req.Question,
		Status:    s,
		IsDone:    s.Terminal(),
		Timestamp: h.now().UnixMilli(),
	}
}

func (h *Handler) order(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if h.opts.Shuffle {
		rand.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}
	return idx
}

// complete stores the final answer on a detached context so that a client
// disconnect does not lose it.
func (h *Handler) complete(id, answer string, status domain.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.repo.CompleteQuestion(ctx, id, answer, status); err != nil {
		slog.Error("Failed to store answer", "error", err, "web_id", id)
	}
}

func (h *Handler) setStatus(id string, status domain.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.repo.UpdateStatus(ctx, id, status); err != nil {
		slog.Warn("Failed to update question status", "error", err, "web_id", id)
	}
}

func (h *Handler) send(ctx context.Context, ws *websocket.Conn, msg domain.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
