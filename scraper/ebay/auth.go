package ebay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"fretscout/cache"
	"fretscout/config"
	"fretscout/utils"
)

// Secret names holding the application keyset.
const (
	ClientIDKey     = "EBAY_CLIENT_ID"
	ClientSecretKey = "EBAY_CLIENT_SECRET"
)

// DefaultScope grants public Browse API access.
const DefaultScope = "https://api.ebay.com/oauth/api_scope"

// expiryBuffer is how long before expiry a cached token is refreshed.
const expiryBuffer = 120 * time.Second

// ErrMissingCredentials is returned when the client id or secret is unset.
var ErrMissingCredentials = errors.New("ebay: missing credentials: set EBAY_CLIENT_ID and EBAY_CLIENT_SECRET")

var tokenEndpoints = map[Env]string{
	Production: "https://api.ebay.com/identity/v1/oauth2/token",
	Sandbox:    "https://api.sandbox.ebay.com/identity/v1/oauth2/token",
}

// TokenSource yields a bearer token for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// cachedToken is the cache entry for one (env, scopes) pair.
type cachedToken struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   *int   `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// TokenProvider mints client-credentials application tokens and caches them
// until shortly before they expire.
type TokenProvider struct {
	env        Env
	scopes     []string
	secrets    config.Secrets
	cache      cache.Cache
	httpClient *http.Client
	endpoint   string
	logger     *utils.Logger
	now        func() time.Time

	mu sync.Mutex
}

// TokenOption configures a TokenProvider.
type TokenOption func(*TokenProvider)

// WithScopes overrides the requested OAuth scopes. Blank scopes are ignored;
// an empty result falls back to DefaultScope.
func WithScopes(scopes ...string) TokenOption {
	return func(p *TokenProvider) {
		p.scopes = normalizeScopes(scopes)
	}
}

// WithTokenEndpoint overrides the OAuth token URL.
func WithTokenEndpoint(endpoint string) TokenOption {
	return func(p *TokenProvider) {
		p.endpoint = endpoint
	}
}

// WithTokenHTTPClient sets the HTTP client used for token requests.
func WithTokenHTTPClient(hc *http.Client) TokenOption {
	return func(p *TokenProvider) {
		p.httpClient = hc
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger *utils.Logger) TokenOption {
	return func(p *TokenProvider) {
		p.logger = logger
	}
}

// NewTokenProvider creates a TokenProvider for env. Credentials are read from
// secrets on every mint, so rotated secrets are picked up without restart.
func NewTokenProvider(env Env, secrets config.Secrets, c cache.Cache, opts ...TokenOption) *TokenProvider {
	p := &TokenProvider{
		env:        env,
		scopes:     []string{DefaultScope},
		secrets:    secrets,
		cache:      c,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   tokenEndpoints[env],
		logger:     utils.NewNopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cache == nil {
		p.cache = cache.NewMemoryCache()
	}
	return p
}

// Token returns a cached token or mints a new one.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := p.cacheKey()
	var cached cachedToken
	err := cache.GetJSON(ctx, p.cache, key, &cached)
	switch {
	case err == nil && cached.Token != "" && cached.ExpiresAt.Sub(p.now()) > expiryBuffer:
		return cached.Token, nil
	case err != nil && !errors.Is(err, cache.ErrNotFound):
		p.logger.Warn("[ebay] Token cache read failed, minting a new token: %v", err)
	}

	fresh, err := p.requestToken(ctx)
	if err != nil {
		return "", err
	}

	if ttl := fresh.ExpiresAt.Sub(p.now()); ttl > 0 {
		if err := cache.SetJSON(ctx, p.cache, key, fresh, ttl); err != nil {
			p.logger.Warn("[ebay] Token cache write failed: %v", err)
		}
	}
	return fresh.Token, nil
}

// Invalidate drops the cached token, forcing the next call to mint.
func (p *TokenProvider) Invalidate(ctx context.Context) error {
	return p.cache.Delete(ctx, p.cacheKey())
}

func (p *TokenProvider) cacheKey() string {
	return "ebay:token:" + string(p.env) + ":" + strings.Join(p.scopes, " ")
}

func (p *TokenProvider) requestToken(ctx context.Context) (cachedToken, error) {
	clientID, okID := p.secrets.Get(ClientIDKey)
	clientSecret, okSecret := p.secrets.Get(ClientSecretKey)
	if !okID || !okSecret {
		return cachedToken{}, ErrMissingCredentials
	}

	form := url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {strings.Join(p.scopes, " ")},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return cachedToken{}, fmt.Errorf("ebay: oauth: create request: %w", err)
	}
	req.Header.Set("Authorization", basicAuth(clientID, clientSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return cachedToken{}, fmt.Errorf("ebay: oauth: request failed to connect: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cachedToken{}, fmt.Errorf("ebay: oauth: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return cachedToken{}, &APIError{
			StatusCode: resp.StatusCode,
			Message:    "oauth request failed",
			Body:       snippet(body),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return cachedToken{}, fmt.Errorf("ebay: oauth: decode response: %w", err)
	}
	if tr.AccessToken == "" || tr.ExpiresIn == nil {
		return cachedToken{}, errors.New("ebay: oauth: response missing access_token or expires_in")
	}

	p.logger.Debug("[ebay] Minted %s token valid for %ds", p.env, *tr.ExpiresIn)
	return cachedToken{
		Token:     tr.AccessToken,
		TokenType: tr.TokenType,
		ExpiresAt: p.now().Add(time.Duration(*tr.ExpiresIn) * time.Second),
	}, nil
}

func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{DefaultScope}
	}
	return out
}

func basicAuth(id, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(id+":"+secret))
}

// snippet trims an error body for messages.
func snippet(body []byte) []byte {
	if len(body) > 200 {
		return body[:200]
	}
	return body
}
