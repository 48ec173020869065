package config

import (
	"testing"
	"time"
)

func TestLoadClient_Defaults(t *testing.T) {
	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient failed: %v", err)
	}
	if cfg.NoResponseTimeout != 5*time.Second {
		t.Errorf("Expected no-response 5s, got %v", cfg.NoResponseTimeout)
	}
	if cfg.StallTimeout != 3*time.Second {
		t.Errorf("Expected stall 3s, got %v", cfg.StallTimeout)
	}
	if cfg.PollMaxAttempts != 10 || cfg.PollInterval != 3*time.Second {
		t.Errorf("Expected 10 polls every 3s, got %d every %v", cfg.PollMaxAttempts, cfg.PollInterval)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("Expected heartbeat 30s, got %v", cfg.HeartbeatInterval)
	}

	sc := cfg.Session()
	if sc.Poll.MaxAttempts != 10 || sc.SocketURL != cfg.SocketURL {
		t.Errorf("Unexpected session config: %+v", sc)
	}
	if tc := cfg.Transport(); tc.HeartbeatInterval != 30*time.Second {
		t.Errorf("Expected transport heartbeat 30s, got %v", tc.HeartbeatInterval)
	}
}

func TestLoadClient_Overrides(t *testing.T) {
	t.Setenv("ASK_WS_URL", "wss://ask.example.com/ws/chat")
	t.Setenv("ASK_STALL_TIMEOUT", "1500")
	t.Setenv("ASK_POLL_INTERVAL", "250ms")
	t.Setenv("ASK_POLL_MAX_ATTEMPTS", "4")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient failed: %v", err)
	}
	if cfg.StallTimeout != 1500*time.Millisecond {
		t.Errorf("Expected bare milliseconds to parse, got %v", cfg.StallTimeout)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", cfg.PollInterval)
	}
	if cfg.PollMaxAttempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", cfg.PollMaxAttempts)
	}
}

func TestLoadClient_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad socket scheme", "ASK_WS_URL", "ftp://example.com"},
		{"empty api", "ASK_API_URL", ""},
		{"zero attempts", "ASK_POLL_MAX_ATTEMPTS", "0"},
		{"negative stall", "ASK_STALL_TIMEOUT", "-1s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadClient(); err == nil {
				t.Errorf("Expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoadServer(t *testing.T) {
	t.Setenv("RELAY_AUTH_TOKENS", " alpha, ,beta ")
	t.Setenv("RELAY_SHUFFLE_FRAGMENTS", "yes")
	t.Setenv("RELAY_STALL_AFTER", "2")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer failed: %v", err)
	}
	if len(cfg.AuthTokens) != 2 || cfg.AuthTokens[0] != "alpha" || cfg.AuthTokens[1] != "beta" {
		t.Errorf("Expected [alpha beta], got %v", cfg.AuthTokens)
	}
	if !cfg.ShuffleChunks || cfg.StallAfter != 2 {
		t.Errorf("Expected fault injection enabled, got shuffle=%v stallAfter=%d", cfg.ShuffleChunks, cfg.StallAfter)
	}
	if !cfg.IsDevelopment() {
		t.Error("Expected development mode without FRONTEND_URL")
	}
	if got := cfg.AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Errorf("Expected wildcard origin in development, got %v", got)
	}
}

func TestServerValidate(t *testing.T) {
	cfg := &Server{Port: "", DBPath: "x", Retention: time.Hour}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for empty port")
	}
	cfg = &Server{Port: "8080", DBPath: "x", Retention: 0}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero retention")
	}
}
