package relay_test

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/askstream/internal/api"
	"github.com/ashureev/askstream/internal/auth"
	"github.com/ashureev/askstream/internal/domain"
	"github.com/ashureev/askstream/internal/identity"
	"github.com/ashureev/askstream/internal/poller"
	"github.com/ashureev/askstream/internal/relay"
	"github.com/ashureev/askstream/internal/session"
	"github.com/ashureev/askstream/internal/store"
	"github.com/ashureev/askstream/internal/transport"
	"github.com/go-chi/chi/v5"
)

const testToken = "relay-token"

func newRelayServer(t *testing.T, opts relay.Options) *httptest.Server {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}

	conns := relay.NewConnManager()
	opts.IsDev = true
	ws := relay.NewHandler(repo, relay.EchoAnswerer{}, conns, opts)
	status := api.NewQuestionHandler(api.NewHandler(repo))

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(identity.NewAuthenticator([]string{testToken})))
		r.Handle("/ws/chat", ws)
		r.Get("/api/question/{id}", status.Status)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		conns.CloseAll()
		srv.Close()
		_ = repo.Close()
	})
	return srv
}

type collector struct {
	mu        sync.Mutex
	exchanges []domain.Exchange
	errs      []*domain.Error
}

func (c *collector) ExchangeUpdated(ex domain.Exchange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = append(c.exchanges, ex)
}

func (c *collector) Failed(err *domain.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) latest() domain.Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.exchanges) == 0 {
		return domain.Exchange{}
	}
	return c.exchanges[len(c.exchanges)-1]
}

func (c *collector) hasError(kind domain.ErrorKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.errs {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func newController(t *testing.T, srv *httptest.Server, stall time.Duration) (*session.Controller, *collector) {
	t.Helper()
	tokens := auth.NewStatic(testToken)
	col := &collector{}

	dialer := transport.NewDialer(transport.Config{
		HeartbeatInterval:    time.Second,
		ReconnectBaseDelay:   20 * time.Millisecond,
		ReconnectMaxDelay:    100 * time.Millisecond,
		MaxReconnectAttempts: 2,
	}, nil)
	fetcher := poller.NewHTTPClient(srv.URL+"/api", tokens, srv.Client(), nil)

	ctrl := session.New(session.Config{
		SocketURL:         srv.URL + "/ws/chat",
		NoResponseTimeout: 2 * time.Second,
		StallTimeout:      stall,
		Poll:              poller.Config{Interval: 30 * time.Millisecond, MaxAttempts: 20, RequestTimeout: time.Second},
	}, session.Deps{
		Dialer:  dialer,
		Fetcher: fetcher,
		Tokens:  tokens,
	}, col)
	t.Cleanup(ctrl.Close)
	return ctrl, col
}

func TestRelay_StreamsShuffledAnswer(t *testing.T) {
	srv := newRelayServer(t, relay.Options{Shuffle: true, FragmentDelay: 5 * time.Millisecond})
	ctrl, col := newController(t, srv, time.Second)

	id, err := ctrl.Submit("how do goroutines work")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, func() bool { return ctrl.State() == session.StateDone })

	ex := col.latest()
	if ex.ID != id {
		t.Fatalf("Expected exchange %s, got %s", id, ex.ID)
	}
	if ex.Answer != "You asked: how do goroutines work" {
		t.Errorf("Unexpected reassembled answer %q", ex.Answer)
	}
	if !ex.IsDone || ex.Status != domain.StatusComplete {
		t.Errorf("Expected complete exchange, got %+v", ex)
	}
}

func TestRelay_StallRecoveredByPolling(t *testing.T) {
	srv := newRelayServer(t, relay.Options{StallAfter: 2})
	ctrl, col := newController(t, srv, 150*time.Millisecond)

	if _, err := ctrl.Submit("tell me about channels please"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, func() bool { return ctrl.State() == session.StateDone })

	ex := col.latest()
	if ex.Answer != "You asked: tell me about channels please" {
		t.Errorf("Expected polled full answer, got %q", ex.Answer)
	}
	if !ex.IsDone || ex.Status != domain.StatusComplete {
		t.Errorf("Expected complete exchange, got %+v", ex)
	}

	sawPartial := false
	col.mu.Lock()
	for _, e := range col.exchanges {
		if e.Answer == "You asked: " {
			sawPartial = true
		}
	}
	col.mu.Unlock()
	if !sawPartial {
		t.Error("Expected a partial streamed answer before the stall")
	}
}

func TestRelay_QuotaExhausted(t *testing.T) {
	srv := newRelayServer(t, relay.Options{DailyQuota: 1})
	ctrl, col := newController(t, srv, time.Second)

	if _, err := ctrl.Submit("first"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitFor(t, func() bool { return ctrl.State() == session.StateDone })

	if _, err := ctrl.Submit("second"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitFor(t, func() bool { return col.hasError(domain.KindInsufficientBalance) })
}

func TestRelay_RejectsBadToken(t *testing.T) {
	srv := newRelayServer(t, relay.Options{})
	resp, err := srv.Client().Get(srv.URL + "/api/question/x")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", resp.StatusCode)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}
