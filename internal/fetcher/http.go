// Package fetcher provides a shared rate-limited HTTP client used by the
// network connectors. Per-host token buckets keep concurrent requests from
// hammering a single upstream; transient statuses are retried with backoff.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/baseline-env/casefill/internal/resilience"
)

// DefaultRPS is the per-host request rate applied unless overridden.
const DefaultRPS = 4

// Fetcher is a rate-limited HTTP GET client shared by the connectors.
type Fetcher struct {
	client    *http.Client
	userAgent string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      map[string]float64

	retry resilience.RetryConfig
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.client.Timeout = d }
}

// WithHostRate overrides the request rate for a specific host.
func WithHostRate(host string, rps float64) Option {
	return func(f *Fetcher) { f.rps[host] = rps }
}

// WithRetry overrides the retry policy for transient responses.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(f *Fetcher) { f.retry = cfg }
}

// New returns a Fetcher with sane defaults.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: "casefill/1.0",
		limiters:  make(map[string]*rate.Limiter),
		rps:       make(map[string]float64),
		retry: resilience.RetryConfig{
			MaxAttempts: 3,
			Backoff:     time.Second,
			Multiplier:  2.0,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Result is a fetched response body with its content type and final URL.
type Result struct {
	Body        []byte
	ContentType string
	URL         string
}

// Fetch performs a rate-limited GET. Responses with transient statuses are
// retried; 401 and 403 fail immediately as permission errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url")
	}

	limiter := f.limiter(u.Host)

	return resilience.DoVal(ctx, f.retry, func(ctx context.Context) (*Result, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return f.do(ctx, rawURL)
	})
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: build request")
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &resilience.TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resilience.IsPermissionHTTPStatus(resp.StatusCode):
		io.Copy(io.Discard, resp.Body)
		return nil, &resilience.PermissionError{
			Err: fmt.Errorf("fetcher: %s returned %d", req.URL.Host, resp.StatusCode),
		}
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		io.Copy(io.Discard, resp.Body)
		zap.L().Warn("transient upstream status",
			zap.String("host", req.URL.Host),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &resilience.TransientError{
			Err:        fmt.Errorf("fetcher: %s returned %d", req.URL.Host, resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, eris.Errorf("fetcher: %s returned %d", req.URL.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &resilience.TransientError{Err: err}
	}

	return &Result{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		URL:         resp.Request.URL.String(),
	}, nil
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.limiters[host]; ok {
		return l
	}
	rps := f.rps[host]
	if rps <= 0 {
		rps = DefaultRPS
	}
	l := rate.NewLimiter(rate.Limit(rps), 1)
	f.limiters[host] = l
	return l
}
