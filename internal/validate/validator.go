package validate

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/evalagent/internal/model"
	"github.com/ppiankov/evalagent/internal/util"
	"github.com/ppiankov/evalagent/internal/worker"
)

const validateMaxRetries = 3

// Health is the reachability of one source's base URL
type Health struct {
	SourceID     string     `json:"source_id"`
	URL          string     `json:"url"`
	StatusCode   int        `json:"status_code,omitempty"`
	Reachable    bool       `json:"reachable"`
	Dead         bool       `json:"dead"`
	RedirectURL  string     `json:"redirect_url,omitempty"`
	LastModified *time.Time `json:"last_modified,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Validator checks source base URLs concurrently
type Validator struct {
	httpClient *http.Client
	userAgent  string
	maxWorkers int
	sleep      worker.SleepFunc
}

// NewValidator creates a new validator
func NewValidator(timeout time.Duration, maxWorkers int, userAgent, httpProxy, httpsProxy, noProxy string) *Validator {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Validator{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(httpProxy, httpsProxy, noProxy),
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent:  userAgent,
		maxWorkers: maxWorkers,
		sleep:      worker.Sleep,
	}
}

// CheckSources checks every source and returns results in input order
func (v *Validator) CheckSources(ctx context.Context, sources []model.Source) []Health {
	outcomes := worker.Map(ctx, v.maxWorkers, sources, func(ctx context.Context, src model.Source) (Health, error) {
		return v.checkWithRetry(ctx, src), nil
	})

	results := make([]Health, len(sources))
	for i, out := range outcomes {
		results[i] = out.Value
		if out.Err != nil {
			results[i] = Health{SourceID: sources[i].ID, URL: sources[i].BaseURL, Error: out.Err.Error()}
		}
	}
	return results
}

// check requests one source with HEAD, falling back to GET for servers that
// refuse HEAD
func (v *Validator) check(ctx context.Context, src model.Source) Health {
	result := Health{SourceID: src.ID, URL: src.BaseURL}

	resp, err := v.do(ctx, http.MethodHead, src.BaseURL)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		_ = resp.Body.Close()
		resp, err = v.do(ctx, http.MethodGet, src.BaseURL)
	}
	if err != nil {
		result.Error = err.Error()
		result.Dead = true
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	result.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		result.Reachable = true
	} else if resp.StatusCode == 404 || resp.StatusCode == 410 {
		result.Dead = true
	}

	if resp.Request.URL.String() != src.BaseURL {
		result.RedirectURL = resp.Request.URL.String()
	}

	if lastModified := resp.Header.Get("Last-Modified"); lastModified != "" {
		if t, err := http.ParseTime(lastModified); err == nil {
			result.LastModified = &t
		}
	}
	return result
}

func (v *Validator) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if v.userAgent != "" {
		req.Header.Set("User-Agent", v.userAgent)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// checkWithRetry retries transient failures with exponential backoff
func (v *Validator) checkWithRetry(ctx context.Context, src model.Source) Health {
	var result Health
	for attempt := 0; attempt < validateMaxRetries; attempt++ {
		result = v.check(ctx, src)
		if !isRetryable(result) {
			return result
		}
		if attempt < validateMaxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			if err := v.sleep(ctx, backoff); err != nil {
				return result
			}
		}
	}
	return result
}

// isRetryable returns true for results that indicate transient failures
func isRetryable(result Health) bool {
	if result.StatusCode >= 500 && result.StatusCode < 600 {
		return true
	}
	if result.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if result.Error != "" {
		s := strings.ToLower(result.Error)
		return strings.Contains(s, "timeout") ||
			strings.Contains(s, "connection refused") ||
			strings.Contains(s, "connection reset")
	}
	return false
}
