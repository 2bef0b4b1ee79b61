// Package collyfetcher implements the crawler's Fetcher using gocolly, with
// a fixed browser-like request identity and per-category retry.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/tvcatalog-crawler/internal/metrics"
)

// Browser identity sent with every request.
const (
	DefaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	DefaultAcceptLanguage = "en-us"
	DefaultUserAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/605.1.15 (KHTML, like Gecko) " +
		"Version/14.1.1 Safari/605.1.15"
)

// DefaultHeaders returns the browser-like header set.
func DefaultHeaders() http.Header {
	return http.Header{
		"Accept":          {DefaultAccept},
		"Accept-Language": {DefaultAcceptLanguage},
		"User-Agent":      {DefaultUserAgent},
	}
}

// Config controls collector behavior. It is copied at construction and never
// changed afterwards.
type Config struct {
	Headers     http.Header
	Timeout     time.Duration
	MaxBodySize int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// Limiter, when set, is waited on before every attempt.
	Limiter Limiter
}

// Limiter paces requests.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher retrieves resources through a shared Colly collector. Cookies set by
// the remote site persist across fetches.
type Fetcher struct {
	headers       http.Header
	baseCollector *colly.Collector
	policy        *RetryPolicy
	limiter       Limiter
	sleep         func(context.Context, time.Duration) error
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type attemptResult struct {
	body   []byte
	status int
	err    error
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	headers := cfg.Headers.Clone()
	if len(headers) == 0 {
		headers = DefaultHeaders()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := colly.NewCollector(colly.Async(false))
	// Retries revisit the same URL.
	c.AllowURLRevisit = true
	c.MaxBodySize = cfg.MaxBodySize
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(timeout)
	if ua := headers.Get("User-Agent"); ua != "" {
		c.UserAgent = ua
	}

	return &Fetcher{
		headers:       headers,
		baseCollector: c,
		policy:        NewRetryPolicy(cfg.MaxAttempts, cfg.BackoffBase, cfg.BackoffMax),
		limiter:       cfg.Limiter,
		sleep:         sleepWithContext,
		logger:        logger,
	}
}

// Fetch returns the body of rawURL. Connection, TLS and HTTP status failures
// are retried with backoff, each category up to the policy's attempt budget.
// The returned error is a *FetchError unless ctx was canceled.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	attempts := make(map[Category]int, 3)
	total := 0
	for {
		total++
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, rawURL); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
			}
		}
		start := time.Now()
		res := f.attempt(ctx, rawURL)
		if res.err == nil {
			metrics.ObserveFetch("ok", time.Since(start))
			return res.body, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}

		category := classify(res.err, res.status)
		metrics.ObserveFetch(string(category), time.Since(start))
		attempts[category]++
		if !f.policy.ShouldRetry(category, attempts[category]) {
			return nil, &FetchError{
				URL:        rawURL,
				Category:   category,
				Attempts:   total,
				StatusCode: res.status,
				Err:        res.err,
			}
		}

		delay := f.policy.Backoff(attempts[category])
		f.logger.Warn("fetch failed; retrying",
			zap.String("url", rawURL),
			zap.String("category", string(category)),
			zap.Int("status", res.status),
			zap.Int("attempt", attempts[category]),
			zap.Duration("delay", delay),
			zap.Error(res.err),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string) attemptResult {
	var result attemptResult
	collector := f.buildCollector(&result)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return attemptResult{err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case err := <-done:
		if result.err != nil {
			return result
		}
		if err != nil {
			result.err = fmt.Errorf("colly visit failed: %w", err)
		}
		return result
	}
}

func (f *Fetcher) buildCollector(result *attemptResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, result)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *attemptResult) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.body = append([]byte(nil), r.Body...)
		result.status = r.StatusCode
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		result.err = err
		if r != nil {
			result.status = r.StatusCode
		}
	})
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
