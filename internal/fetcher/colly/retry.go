package collyfetcher

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"
)

// Category groups fetch failures that share a retry budget.
type Category string

// Failure categories. Each transient category is retried independently.
const (
	CategoryConnection Category = "connection"
	CategoryTLS        Category = "tls"
	CategoryHTTP       Category = "http"
	CategoryPermanent  Category = "permanent"
)

// Transient reports whether failures in the category are retried.
func (c Category) Transient() bool {
	return c == CategoryConnection || c == CategoryTLS || c == CategoryHTTP
}

// FetchError is returned once a URL could not be fetched, either because the
// failure was permanent or because a category exhausted its attempts.
type FetchError struct {
	URL        string
	Category   Category
	Attempts   int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s failure (status %d) after %d attempts: %v",
			e.URL, e.Category, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s failure after %d attempts: %v", e.URL, e.Category, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// RetryPolicy is a per-category exponential backoff with jitter.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryPolicy builds a policy; non-positive values fall back to defaults.
func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// MaxAttempts is the attempt budget of each transient category.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether another attempt is allowed after attempts
// failures in the given category.
func (p *RetryPolicy) ShouldRetry(category Category, attempts int) bool {
	return category.Transient() && attempts < p.maxAttempts
}

// Backoff returns the wait before the next attempt of a category that has
// failed attempts times.
func (p *RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempts-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// classify maps a failed attempt to its category. status is the HTTP status
// of the response, zero when none was received.
func classify(err error, status int) Category {
	if err == nil {
		return CategoryPermanent
	}
	if errors.Is(err, context.Canceled) {
		return CategoryPermanent
	}
	if status >= http.StatusBadRequest {
		return CategoryHTTP
	}
	if status != 0 {
		return CategoryPermanent
	}
	if isTLSError(err) {
		return CategoryTLS
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CategoryConnection
	}
	return CategoryPermanent
}

func isTLSError(err error) bool {
	var (
		recordErr  tls.RecordHeaderError
		verifyErr  *tls.CertificateVerificationError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &recordErr),
		errors.As(err, &verifyErr),
		errors.As(err, &unknownCA),
		errors.As(err, &hostErr),
		errors.As(err, &invalidErr):
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
