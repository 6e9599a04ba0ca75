// Package token supplies short-lived bearer credentials to the chat
// session and its HTTP collaborators.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Provider yields a credential on demand. Callers must not cache the
// result beyond a single use; refresh policy belongs to the provider.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

var ErrNoToken = errors.New("no token available")

// Static returns a provider that always yields the same token. Empty
// tokens are allowed for servers that do not require authentication.
func Static(tok string) Provider {
	return staticProvider(tok)
}

type staticProvider string

func (p staticProvider) Token(context.Context) (string, error) {
	return string(p), nil
}

// RefreshingProvider fetches tokens from an auth endpoint and re-fetches
// ahead of the JWT expiry. The expiry is read with an unverified parse;
// signature verification is the server's job.
type RefreshingProvider struct {
	endpoint string
	client   *http.Client
	leeway   time.Duration

	mu     sync.Mutex
	cached string
	expiry time.Time
}

// RefreshOption customizes a RefreshingProvider.
type RefreshOption func(*RefreshingProvider)

// WithHTTPClient overrides the HTTP client used for token fetches.
func WithHTTPClient(c *http.Client) RefreshOption {
	return func(p *RefreshingProvider) { p.client = c }
}

// WithLeeway sets how long before expiry a token is considered stale.
func WithLeeway(d time.Duration) RefreshOption {
	return func(p *RefreshingProvider) { p.leeway = d }
}

// NewRefreshing builds a provider backed by a token endpoint that responds
// to GET with {"token": "..."}.
func NewRefreshing(endpoint string, opts ...RefreshOption) *RefreshingProvider {
	p := &RefreshingProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		leeway:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RefreshingProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" && (p.expiry.IsZero() || time.Until(p.expiry) > p.leeway) {
		return p.cached, nil
	}

	tok, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}
	p.cached = tok
	p.expiry = tokenExpiry(tok)
	return tok, nil
}

func (p *RefreshingProvider) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch token: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.Token == "" {
		return "", ErrNoToken
	}
	return body.Token, nil
}

// tokenExpiry extracts the exp claim. A zero time means the token does
// not expire or is not a JWT; it is then cached indefinitely.
func tokenExpiry(tok string) time.Time {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tok, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
