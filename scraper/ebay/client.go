// Package ebay is a listing source backed by the eBay Browse API.
package ebay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fretscout/utils"
)

// Env is an eBay API environment.
type Env string

const (
	Production Env = "production"
	Sandbox    Env = "sandbox"
)

// DefaultMarketplace is used when no marketplace id is configured.
const DefaultMarketplace = "EBAY_US"

var searchEndpoints = map[Env]string{
	Production: "https://api.ebay.com/buy/browse/v1/item_summary/search",
	Sandbox:    "https://api.sandbox.ebay.com/buy/browse/v1/item_summary/search",
}

// defaultBackoff is the wait before each retry of a retryable response.
var defaultBackoff = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// ParseEnv validates an environment name. Blank means production.
func ParseEnv(s string) (Env, error) {
	switch Env(strings.ToLower(strings.TrimSpace(s))) {
	case "", Production:
		return Production, nil
	case Sandbox:
		return Sandbox, nil
	default:
		return "", fmt.Errorf("ebay: env must be 'production' or 'sandbox', got %q", s)
	}
}

// APIError represents a non-success response from an eBay endpoint.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ebay api error %d: %s: %s", e.StatusCode, e.Message, e.Body)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Client searches the Browse API item_summary endpoint.
type Client struct {
	env            Env
	searchURL      string
	marketplaceID  string
	acceptLanguage string
	tokens         TokenSource
	httpClient     *http.Client
	logger         *utils.Logger
	backoff        []time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *utils.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSearchURL overrides the search endpoint.
func WithSearchURL(u string) ClientOption {
	return func(c *Client) {
		c.searchURL = u
	}
}

// WithMarketplace sets the X-EBAY-C-MARKETPLACE-ID header value.
func WithMarketplace(id string) ClientOption {
	return func(c *Client) {
		if id != "" {
			c.marketplaceID = id
		}
	}
}

// WithAcceptLanguage sets the Accept-Language header.
func WithAcceptLanguage(lang string) ClientOption {
	return func(c *Client) {
		c.acceptLanguage = lang
	}
}

// WithBackoff sets the retry schedule; one retry per entry.
func WithBackoff(delays ...time.Duration) ClientOption {
	return func(c *Client) {
		c.backoff = delays
	}
}

// NewClient creates a Browse API client for env.
func NewClient(env Env, tokens TokenSource, opts ...ClientOption) (*Client, error) {
	searchURL, ok := searchEndpoints[env]
	if !ok {
		return nil, fmt.Errorf("ebay: env must be 'production' or 'sandbox', got %q", env)
	}
	c := &Client{
		env:           env,
		searchURL:     searchURL,
		marketplaceID: DefaultMarketplace,
		tokens:        tokens,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		logger:        utils.NewNopLogger(),
		backoff:       defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// getWithRetry performs an authenticated GET, retrying retryable responses
// on the backoff schedule. Connection failures are not retried.
func (c *Client) getWithRetry(ctx context.Context, fullURL string) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("ebay: token: %w", err)
	}

	retry := &utils.RetryConfig{
		MaxAttempts: len(c.backoff) + 1,
		Delays:      c.backoff,
		Logger:      c.logger,
		Retryable: func(err error) bool {
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.IsRetryable()
		},
	}

	var body []byte
	err = retry.DoContext(ctx, "ebay-search", func(ctx context.Context) error {
		var reqErr error
		body, reqErr = c.doRequest(ctx, fullURL, token)
		return reqErr
	})
	return body, err
}

func (c *Client) doRequest(ctx context.Context, fullURL, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-EBAY-C-MARKETPLACE-ID", c.marketplaceID)
	if c.acceptLanguage != "" {
		req.Header.Set("Accept-Language", c.acceptLanguage)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       snippet(body),
		}
	}
	return body, nil
}
