package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/evalagent/internal/apperr"
	"github.com/ppiankov/evalagent/internal/cache"
	"github.com/ppiankov/evalagent/internal/worker"
)

const clientMaxRetries = 3

// Client adapts a Provider to the Completer capability with rate limiting,
// retry of transient failures, and an optional response cache.
type Client struct {
	provider Provider
	limiter  *worker.Limiter
	cache    cache.Cache
	cacheTTL time.Duration
	log      *zap.Logger
	sleep    func(context.Context, time.Duration) error
}

// Option configures a Client
type Option func(*Client)

// WithLimiter throttles calls per provider name.
func WithLimiter(l *worker.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithCache reuses identical completions for ttl.
func WithCache(store cache.Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = store
		c.cacheTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient wraps provider.
func NewClient(provider Provider, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		log:      zap.NewNop(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProviderName returns the wrapped provider's name
func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// Complete implements Completer. Errors are classified as upstream failures.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	key := cache.CacheKey("llm", c.provider.Name(), system, user)
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			c.log.Debug("llm cache hit", zap.String("provider", c.provider.Name()))
			return string(cached), nil
		}
	}

	var lastErr error
	for attempt := 0; attempt < clientMaxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, c.provider.Name()); err != nil {
				return "", apperr.Upstream(err, "rate limit wait")
			}
		}

		resp, err := c.provider.Complete(ctx, CompletionRequest{System: system, Prompt: user})
		if err == nil {
			if c.cache != nil {
				if cerr := c.cache.Set(key, []byte(resp.Text), c.cacheTTL); cerr != nil {
					c.log.Warn("llm cache write failed", zap.Error(cerr))
				}
			}
			c.log.Debug("llm completion",
				zap.String("provider", c.provider.Name()),
				zap.String("model", resp.Model),
				zap.Int("tokens", resp.TokensUsed))
			return resp.Text, nil
		}

		lastErr = err
		if !IsTransient(err) || attempt == clientMaxRetries-1 {
			break
		}
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		c.log.Warn("llm transient failure, retrying",
			zap.String("provider", c.provider.Name()),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if err := c.sleep(ctx, backoff); err != nil {
			return "", apperr.Upstream(err, "retry wait")
		}
	}

	return "", apperr.Upstream(lastErr, "%s completion", c.provider.Name())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
