package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/askstream/internal/auth"
	"github.com/ashureev/askstream/internal/domain"
)

const maxStatusBodySize = 1 << 20

// UndecodableCode is reported for a 200 response whose body is not a status
// envelope, such as an HTML page from a proxy.
const UndecodableCode = -1

// HTTPClient fetches exchange status from GET {base}/question/{id}.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	tokens  auth.Source
	logger  *slog.Logger
}

// NewHTTPClient creates a status client. A nil client uses a 15s timeout client.
func NewHTTPClient(baseURL string, tokens auth.Source, client *http.Client, logger *slog.Logger) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		tokens:  tokens,
		logger:  logger,
	}
}

// FetchStatus implements StatusFetcher. A response that is not a valid
// envelope is reported as a failure code rather than an error so that the
// poller stops instead of retrying.
func (c *HTTPClient) FetchStatus(ctx context.Context, id string) (domain.StatusResponse, error) {
	endpoint := c.baseURL + "/question/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.StatusResponse{}, fmt.Errorf("build status request: %w", err)
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", token)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.StatusResponse{}, fmt.Errorf("status request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close status response body", "error", closeErr)
		}
	}()

	var body domain.StatusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxStatusBodySize)).Decode(&body); err != nil {
		c.logger.Warn("Undecodable status response", "exchange_id", id, "http_status", resp.StatusCode, "error", err)
		body = domain.StatusResponse{Code: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)}
		if resp.StatusCode == http.StatusOK {
			body.Code = UndecodableCode
		}
	}
	if body.Code == 0 {
		body.Code = resp.StatusCode
	}
	if resp.StatusCode != http.StatusOK && body.Code == http.StatusOK {
		body.Code = resp.StatusCode
	}

	if body.Code == http.StatusUnauthorized && c.tokens != nil {
		c.logger.Warn("Status endpoint rejected credential", "exchange_id", id)
		c.tokens.Invalidate()
	}
	return body, nil
}
