// Package token caches short-lived speech authorization tokens.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/tts/metrics"
)

// DefaultSafetyBuffer is subtracted from a token's validity to decide when
// to refresh it.
const DefaultSafetyBuffer = 60 * time.Second

// Token is a bearer token scoped to a region.
type Token struct {
	Value     string
	Region    string
	ExpiresAt time.Time
}

// Credentials are exchanged for a token by a Fetcher.
type Credentials struct {
	SubscriptionKey string
}

// Issued is what a Fetcher returns for one exchange.
type Issued struct {
	Token    string
	Region   string
	Validity time.Duration
}

// Fetcher exchanges credentials for a short-lived token.
type Fetcher interface {
	FetchToken(ctx context.Context, creds Credentials, region string) (Issued, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, creds Credentials, region string) (Issued, error)

// FetchToken calls f.
func (f FetcherFunc) FetchToken(ctx context.Context, creds Credentials, region string) (Issued, error) {
	return f(ctx, creds, region)
}

// Option configures a Cache.
type Option func(*Cache)

// WithSafetyBuffer sets how long before expiry a token is refreshed.
func WithSafetyBuffer(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.buffer = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records token exchanges.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// Cache holds at most one token and refreshes it ahead of expiry.
type Cache struct {
	fetcher Fetcher
	buffer  time.Duration
	now     func() time.Time
	logger  *log.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	current   *Token
	region    string // requested region the current token is keyed by
	refreshAt time.Time
}

// NewCache creates a token cache backed by fetcher.
func NewCache(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		buffer:  DefaultSafetyBuffer,
		now:     time.Now,
		logger:  log.WithPrefix("token"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetToken returns a valid token for region, fetching a new one when the
// cached token is missing, was issued for another region, or has reached
// its refresh deadline. Concurrent callers share a single exchange.
func (c *Cache) GetToken(ctx context.Context, creds Credentials, region string) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.current != nil && c.region == region && now.Before(c.refreshAt) {
		return *c.current, nil
	}

	if c.fetcher == nil {
		return Token{}, tts.NewSpeechError(tts.ErrConfigurationMissing, "token", "fetch")
	}

	issued, err := c.fetcher.FetchToken(ctx, creds, region)
	if err == nil && issued.Validity <= 0 {
		err = tts.NewSpeechError(tts.ErrTokenRequestFailed, "token", "fetch").
			WithCause(fmt.Errorf("token validity %v is not positive", issued.Validity))
	}
	c.metrics.TokenFetch(err)
	if err != nil {
		c.logger.Debug("token exchange failed", "region", region, "err", err)
		return Token{}, err
	}
	if issued.Region == "" {
		issued.Region = region
	}

	tok := Token{
		Value:     issued.Token,
		Region:    issued.Region,
		ExpiresAt: now.Add(issued.Validity),
	}

	if issued.Validity <= c.buffer {
		// Too short to reuse: hand it out once and keep nothing.
		c.logger.Warn("token validity within safety buffer",
			"validity", issued.Validity, "buffer", c.buffer)
		c.reset()
		return tok, nil
	}

	c.current = &tok
	c.region = region
	c.refreshAt = tok.ExpiresAt.Add(-c.buffer)
	c.logger.Debug("token refreshed", "region", region, "refresh_at", c.refreshAt)
	return tok, nil
}

// Clear drops the cached token.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *Cache) reset() {
	c.current = nil
	c.region = ""
	c.refreshAt = time.Time{}
}

// Expiry reports when the cached token will be refreshed.
func (c *Cache) Expiry() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return time.Time{}, false
	}
	return c.refreshAt, true
}
