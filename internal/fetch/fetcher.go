// Package fetch retrieves source pages so the judge can read what the
// registered sources actually say.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/evalagent/internal/cache"
	"github.com/ppiankov/evalagent/internal/extract"
	"github.com/ppiankov/evalagent/internal/model"
	"github.com/ppiankov/evalagent/internal/util"
	"github.com/ppiankov/evalagent/internal/worker"
)

const fetchMaxRetries = 3

// ErrDisallowed is returned when robots.txt forbids fetching a URL.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// Config controls the fetcher
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	MaxExcerpt   int // runes kept per source
	HTTPProxy    string
	HTTPSProxy   string
	NoProxy      string
}

// ConfigFromModel converts the fetch and proxy settings of the app config
func ConfigFromModel(cfg *model.Config) Config {
	return Config{
		Timeout:      cfg.Fetch.Timeout,
		UserAgent:    cfg.Fetch.UserAgent,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		MaxExcerpt:   cfg.Fetch.MaxExcerpt,
		HTTPProxy:    cfg.LLM.HTTPProxy,
		HTTPSProxy:   cfg.LLM.HTTPSProxy,
	}
}

// Fetcher fetches HTML content from source URLs
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	maxExcerpt int
	robots     *util.RobotsChecker
	limiter    *worker.Limiter
	cache      cache.Cache
	cacheTTL   time.Duration
	log        *zap.Logger
	sleep      worker.SleepFunc
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithCache keeps extracted excerpts for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(f *Fetcher) {
		f.cache = c
		f.cacheTTL = ttl
	}
}

// WithLimiter throttles requests per host.
func WithLimiter(l *worker.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithoutRobots skips robots.txt checks.
func WithoutRobots() Option {
	return func(f *Fetcher) { f.robots = nil }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(f *Fetcher) { f.log = log }
}

// New creates a fetcher
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2_000_000
	}
	if cfg.MaxExcerpt <= 0 {
		cfg.MaxExcerpt = 4000
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "evalagent/0.1"
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy: util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy),
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return fmt.Errorf("stopped after 3 redirects")
			}
			return nil
		},
	}

	f := &Fetcher{
		httpClient: client,
		userAgent:  cfg.UserAgent,
		maxBytes:   cfg.MaxBodyBytes,
		maxExcerpt: cfg.MaxExcerpt,
		robots:     util.NewRobotsChecker(cfg.UserAgent, client),
		log:        zap.NewNop(),
		sleep:      worker.Sleep,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Page is a fetched HTML page
type Page struct {
	HTML         string
	FinalURL     string
	StatusCode   int
	ContentType  string
	LastModified string
}

// statusError is a non-2xx response
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.code, e.status)
}

// Fetch retrieves one page without retrying
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, status: resp.Status}
	}

	// Read body with size limit
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Page{
		HTML:         string(body),
		FinalURL:     resp.Request.URL.String(),
		StatusCode:   resp.StatusCode,
		ContentType:  resp.Header.Get("Content-Type"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// FetchWithRetry retries transient failures (5xx, 429, timeouts, refused
// or reset connections) with exponential backoff.
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) (*Page, error) {
	var lastErr error
	for attempt := 0; attempt < fetchMaxRetries; attempt++ {
		page, err := f.Fetch(ctx, rawURL)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !isRetryableFetchError(err) || attempt == fetchMaxRetries-1 {
			break
		}
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		f.log.Debug("fetch failed, retrying",
			zap.String("url", rawURL), zap.Int("attempt", attempt+1), zap.Error(err))
		if err := f.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset")
}

// Excerpt returns the visible text of rawURL, truncated, honouring
// robots.txt and the per-host rate limit. Excerpts are cached.
func (f *Fetcher) Excerpt(ctx context.Context, rawURL string) (string, error) {
	key := cache.CacheKey("excerpt", rawURL)
	if f.cache != nil {
		if cached, ok := f.cache.Get(key); ok {
			return string(cached), nil
		}
	}

	var crawlDelay time.Duration
	if f.robots != nil {
		allowed, delay, err := f.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return "", err
		}
		if !allowed {
			return "", fmt.Errorf("%s: %w", rawURL, ErrDisallowed)
		}
		crawlDelay = delay
	}
	if f.limiter != nil {
		if err := f.limiter.WaitURLWithDelay(ctx, rawURL, crawlDelay); err != nil {
			return "", err
		}
	}

	page, err := f.FetchWithRetry(ctx, rawURL)
	if err != nil {
		return "", err
	}
	text, err := extract.VisibleText(page.HTML)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", rawURL, err)
	}
	text = truncateRunes(strings.Join(strings.Fields(text), " "), f.maxExcerpt)

	if f.cache != nil {
		if err := f.cache.Set(key, []byte(text), f.cacheTTL); err != nil {
			f.log.Warn("excerpt cache write failed", zap.Error(err))
		}
	}
	return text, nil
}

// SourceContent fetches the base page of every source and joins the
// excerpts under a per-source heading. Sources that cannot be fetched are
// skipped.
func (f *Fetcher) SourceContent(ctx context.Context, sources []model.Source) string {
	outcomes := worker.Map(ctx, 3, sources, func(ctx context.Context, src model.Source) (string, error) {
		return f.Excerpt(ctx, src.BaseURL)
	})

	var b strings.Builder
	for i, out := range outcomes {
		src := sources[i]
		if out.Err != nil {
			f.log.Debug("source excerpt unavailable",
				zap.String("source", src.ID), zap.String("url", src.BaseURL), zap.Error(out.Err))
			continue
		}
		if out.Value == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n%s\n\n", src.Name, src.BaseURL, out.Value)
	}
	return strings.TrimSpace(b.String())
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
