package collyfetcher

import (
	"context"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	refused := &url.Error{Op: "Get", URL: "https://x", Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}
	testCases := []struct {
		name   string
		err    error
		status int
		want   Category
	}{
		{"server error", errors.New("Service Unavailable"), http.StatusServiceUnavailable, CategoryHTTP},
		{"client error", errors.New("Not Found"), http.StatusNotFound, CategoryHTTP},
		{"odd success code", errors.New("No Content"), http.StatusNoContent, CategoryPermanent},
		{"connection refused", refused, 0, CategoryConnection},
		{"unknown authority", &url.Error{Op: "Get", URL: "https://x", Err: x509.UnknownAuthorityError{}}, 0, CategoryTLS},
		{"tls message", errors.New("remote error: tls: handshake failure"), 0, CategoryTLS},
		{"canceled", context.Canceled, 0, CategoryPermanent},
		{"missing url", errors.New("Missing URL"), 0, CategoryPermanent},
		{"nil", nil, 0, CategoryPermanent},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, classify(tc.err, tc.status))
		})
	}
}

func TestRetryPolicyBudgetsArePerCategory(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(5, time.Millisecond, time.Second)
	require.Equal(t, 5, p.MaxAttempts())
	require.True(t, p.ShouldRetry(CategoryHTTP, 4))
	require.False(t, p.ShouldRetry(CategoryHTTP, 5))
	require.True(t, p.ShouldRetry(CategoryTLS, 1))
	require.False(t, p.ShouldRetry(CategoryPermanent, 1))
}

func TestRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(0, 0, 0)
	require.Equal(t, 5, p.MaxAttempts())
	require.Equal(t, time.Second, p.baseDelay)
	require.Equal(t, time.Second, p.maxDelay)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(5, 100*time.Millisecond, 400*time.Millisecond)
	for attempt := 1; attempt <= 6; attempt++ {
		want := 100 * time.Millisecond << (attempt - 1)
		if want > 400*time.Millisecond {
			want = 400 * time.Millisecond
		}
		got := p.Backoff(attempt)
		require.GreaterOrEqual(t, got, want/2, "attempt %d", attempt)
		require.LessOrEqual(t, got, want, "attempt %d", attempt)
	}
}

func TestSleepWithContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, sleepWithContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepWithContext(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchErrorMessage(t *testing.T) {
	t.Parallel()

	inner := errors.New("Not Found")
	err := &FetchError{URL: "https://x", Category: CategoryHTTP, Attempts: 5, StatusCode: 404, Err: inner}
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "status 404")
	require.Contains(t, err.Error(), "after 5 attempts")
}
