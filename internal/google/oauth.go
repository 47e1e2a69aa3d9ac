package google

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
)

// NewHTTPClient wraps a token source in an HTTP client. The client is pinned
// to HTTP/1.1, which avoids sporadic HTTP/2 stream errors from Google APIs.
func NewHTTPClient(ts oauth2.TokenSource) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, ts),
			Base: &http.Transport{
				Proxy:             http.ProxyFromEnvironment,
				ForceAttemptHTTP2: false,
			},
		},
	}
}

// ClientCache hands out one authorized HTTP client per account.
type ClientCache struct {
	ctx      context.Context
	provider TokenProvider

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewClientCache creates a cache backed by the given token provider. ctx
// bounds token renewals and should live as long as the process.
func NewClientCache(ctx context.Context, provider TokenProvider) *ClientCache {
	return &ClientCache{ctx: ctx, provider: provider, clients: make(map[string]*http.Client)}
}

// HTTPClient returns the cached client for the account, creating it on
// first use.
func (c *ClientCache) HTTPClient(account string) (*http.Client, error) {
	if account == "" {
		account = "default"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[account]; ok {
		return client, nil
	}

	ts, err := c.provider.TokenSource(c.ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials for account %s: %w", account, err)
	}
	client := NewHTTPClient(ts)
	c.clients[account] = client
	return client, nil
}

// Forget drops the cached client for the account.
func (c *ClientCache) Forget(account string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, account)
}
