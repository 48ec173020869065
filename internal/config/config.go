// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/askstream/internal/poller"
	"github.com/ashureev/askstream/internal/session"
	"github.com/ashureev/askstream/internal/transport"
)

// Client holds configuration for the ask client.
type Client struct {
	SocketURL         string
	APIURL            string
	Token             string
	UserID            string
	NoResponseTimeout time.Duration
	StallTimeout      time.Duration
	PollInterval      time.Duration
	PollMaxAttempts   int
	PollTimeout       time.Duration
	HeartbeatInterval time.Duration
	MaxReconnects     int
	LogFile           string
	LogLevel          string
}

// Server holds configuration for the reference relay server.
type Server struct {
	Port          string
	FrontendURL   string
	DBPath        string
	AuthTokens    []string
	DailyQuota    int
	Retention     time.Duration
	FragmentDelay time.Duration
	ShuffleChunks bool
	StallAfter    int // drop the stream after this many fragments; 0 disables
	LogFile       string
	LogLevel      string
}

// LoadClient reads client configuration from environment variables.
func LoadClient() (*Client, error) {
	cfg := &Client{
		SocketURL:         getEnv("ASK_WS_URL", "ws://localhost:8080/ws/chat"),
		APIURL:            getEnv("ASK_API_URL", "http://localhost:8080/api"),
		Token:             getEnv("ASK_TOKEN", ""),
		UserID:            getEnv("ASK_USER_ID", ""),
		NoResponseTimeout: getEnvDuration("ASK_NO_RESPONSE_TIMEOUT", 5*time.Second),
		StallTimeout:      getEnvDuration("ASK_STALL_TIMEOUT", 3*time.Second),
		PollInterval:      getEnvDuration("ASK_POLL_INTERVAL", 3*time.Second),
		PollMaxAttempts:   getEnvInt("ASK_POLL_MAX_ATTEMPTS", 10),
		PollTimeout:       getEnvDuration("ASK_POLL_TIMEOUT", 10*time.Second),
		HeartbeatInterval: getEnvDuration("ASK_HEARTBEAT_INTERVAL", 30*time.Second),
		MaxReconnects:     getEnvInt("ASK_MAX_RECONNECTS", 10),
		LogFile:           getEnv("ASK_LOG_FILE", ""),
		LogLevel:          getEnv("ASK_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required client fields are usable.
func (c *Client) Validate() error {
	if err := validateURL("ASK_WS_URL", c.SocketURL, "ws", "wss", "http", "https"); err != nil {
		return err
	}
	if err := validateURL("ASK_API_URL", c.APIURL, "http", "https"); err != nil {
		return err
	}
	if c.NoResponseTimeout <= 0 {
		return fmt.Errorf("ASK_NO_RESPONSE_TIMEOUT must be > 0")
	}
	if c.StallTimeout <= 0 {
		return fmt.Errorf("ASK_STALL_TIMEOUT must be > 0")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("ASK_POLL_INTERVAL must be > 0")
	}
	if c.PollMaxAttempts <= 0 {
		return fmt.Errorf("ASK_POLL_MAX_ATTEMPTS must be > 0")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("ASK_HEARTBEAT_INTERVAL must be > 0")
	}
	return nil
}

// Session returns the session controller configuration.
func (c *Client) Session() session.Config {
	return session.Config{
		SocketURL:         c.SocketURL,
		UserID:            c.UserID,
		NoResponseTimeout: c.NoResponseTimeout,
		StallTimeout:      c.StallTimeout,
		Poll: poller.Config{
			Interval:       c.PollInterval,
			MaxAttempts:    c.PollMaxAttempts,
			RequestTimeout: c.PollTimeout,
		},
	}
}

// Transport returns the socket configuration.
func (c *Client) Transport() transport.Config {
	tc := transport.DefaultConfig()
	tc.HeartbeatInterval = c.HeartbeatInterval
	if c.MaxReconnects > 0 {
		tc.MaxReconnectAttempts = c.MaxReconnects
	}
	return tc
}

// LoadServer reads relay server configuration from environment variables.
func LoadServer() (*Server, error) {
	quota := getEnvInt("RELAY_DAILY_QUOTA", 100)
	if quota < 0 {
		quota = 0
	}

	cfg := &Server{
		Port:          getEnv("PORT", "8080"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		DBPath:        getEnv("DB_PATH", "./data/askstream.db"),
		AuthTokens:    getEnvList("RELAY_AUTH_TOKENS"),
		DailyQuota:    quota,
		Retention:     getEnvDuration("RELAY_RETENTION", 24*time.Hour),
		FragmentDelay: getEnvDuration("RELAY_FRAGMENT_DELAY", 150*time.Millisecond),
		ShuffleChunks: getEnvBool("RELAY_SHUFFLE_FRAGMENTS", false),
		StallAfter:    getEnvInt("RELAY_STALL_AFTER", 0),
		LogFile:       getEnv("LOG_FILE", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required server fields are set.
func (c *Server) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Retention <= 0 {
		return fmt.Errorf("RELAY_RETENTION must be > 0")
	}
	if c.StallAfter < 0 {
		return fmt.Errorf("RELAY_STALL_AFTER must be >= 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Server) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the server.
func (c *Server) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func validateURL(key, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s: unsupported scheme %q", key, u.Scheme)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("3s") or bare milliseconds ("3000").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
