package remote

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// TokenConfig configures client-credentials token acquisition. TokenURL may
// be left empty when Issuer supports OIDC discovery.
type TokenConfig struct {
	Issuer       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// CredentialCache is the single-owner cache for the access token. Refreshes
// are single-flight: concurrent callers of Token during a refresh share one
// fetch.
type CredentialCache struct {
	source oauth2.TokenSource

	mu    sync.Mutex
	token *oauth2.Token

	group singleflight.Group

	// now is swappable for tests.
	now func() time.Time
}

// NewCredentialCache builds a cache from config, discovering the token
// endpoint from the issuer when TokenURL is not set.
func NewCredentialCache(ctx context.Context, cfg TokenConfig) (*CredentialCache, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client ID and secret are required")
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		if cfg.Issuer == "" {
			return nil, fmt.Errorf("either token URL or issuer is required")
		}
		provider, err := oidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover issuer %s: %w", cfg.Issuer, err)
		}
		tokenURL = provider.Endpoint().TokenURL
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       cfg.Scopes,
	}
	return NewCredentialCacheWithSource(cc.TokenSource(ctx)), nil
}

// NewCredentialCacheWithSource wraps an existing token source. Used in tests
// and by callers with their own acquisition flow.
func NewCredentialCacheWithSource(source oauth2.TokenSource) *CredentialCache {
	return &CredentialCache{
		source: source,
		now:    time.Now,
	}
}

// Token returns the cached token, refreshing when absent or expired.
func (c *CredentialCache) Token(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token != nil && !c.expired(token) {
		return token, nil
	}
	return c.refresh(ctx)
}

// Expired reports whether the cached token is missing or past its expiry.
func (c *CredentialCache) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token == nil || c.expired(c.token)
}

// Invalidate drops the cached token so the next Token call refreshes. Called
// when the remote rejects a request with an auth-expiry signal before the
// local expiry elapsed.
func (c *CredentialCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
}

func (c *CredentialCache) refresh(ctx context.Context) (*oauth2.Token, error) {
	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		token, err := c.source.Token()
		if err != nil {
			return nil, &Error{Kind: KindAuthExpired, Op: "token", Message: err.Error()}
		}
		c.mu.Lock()
		c.token = token
		c.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

// expired applies a 30-second skew so tokens are refreshed before the remote
// would reject them.
func (c *CredentialCache) expired(token *oauth2.Token) bool {
	if token.Expiry.IsZero() {
		return false
	}
	return c.now().After(token.Expiry.Add(-30 * time.Second))
}

// authTransport injects the bearer token into outgoing requests.
type authTransport struct {
	base  http.RoundTripper
	cache *CredentialCache
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.cache.Token(req.Context())
	if err != nil {
		return nil, err
	}
	clone := req.Clone(req.Context())
	token.SetAuthHeader(clone)
	return t.base.RoundTrip(clone)
}
