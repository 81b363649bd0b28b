package google

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"tiktok-sheets/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestRetrier() (*Retrier, *sleepRecorder) {
	r := NewRetrier(config.SheetsConfig{
		MaxRetries:     5,
		BaseDelay:      2 * time.Second,
		MaxJitter:      2 * time.Second,
		RateLimitCap:   120 * time.Second,
		UnavailableCap: 90 * time.Second,
	}, nil)
	rec := &sleepRecorder{}
	r.sleep = rec.sleep
	r.jitter = func(max time.Duration) time.Duration { return max }
	return r, rec
}

func TestExecuteWithRetry_RateLimitedTwiceThenSucceeds(t *testing.T) {
	r, rec := newTestRetrier()
	calls := 0
	got, err := ExecuteWithRetry(context.Background(), r, "write", func(context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", &googleapi.Error{Code: http.StatusTooManyRequests, Message: "Quota exceeded"}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	require.Len(t, rec.delays, 2)
	assert.Less(t, rec.delays[0], rec.delays[1])
	assert.Equal(t, 6*time.Second, rec.delays[0])
	assert.Equal(t, 10*time.Second, rec.delays[1])
}

func TestExecuteWithRetry_NonRetryable(t *testing.T) {
	r, rec := newTestRetrier()
	calls := 0
	_, err := ExecuteWithRetry(context.Background(), r, "write", func(context.Context) (int, error) {
		calls++
		return 0, &googleapi.Error{Code: http.StatusBadRequest, Message: "Invalid range"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)

	var apiErr *googleapi.Error
	assert.True(t, errors.As(err, &apiErr))
}

func TestExecuteWithRetry_CapacityNotRetried(t *testing.T) {
	r, rec := newTestRetrier()
	calls := 0
	_, err := ExecuteWithRetry(context.Background(), r, "write", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("This action would increase the number of cells in the workbook above the limit of 10000000 cells.")
	})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.True(t, IsCapacityExceeded(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestExecuteWithRetry_Exhausted(t *testing.T) {
	r, rec := newTestRetrier()
	calls := 0
	_, err := ExecuteWithRetry(context.Background(), r, "write", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("The service is currently unavailable.")
	})
	require.Error(t, err)
	assert.Equal(t, r.MaxRetries+1, calls)
	require.Len(t, rec.delays, r.MaxRetries)
	for _, d := range rec.delays {
		assert.LessOrEqual(t, d, 90*time.Second)
	}
	assert.Equal(t, 66*time.Second, rec.delays[len(rec.delays)-1])
}

func TestExecuteWithRetry_ContextCancelledDuringBackoff(t *testing.T) {
	r, _ := newTestRetrier()
	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	_, err := ExecuteWithRetry(ctx, r, "write", func(context.Context) (int, error) {
		return 0, &googleapi.Error{Code: http.StatusServiceUnavailable}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retryReason
	}{
		{"429 status", &googleapi.Error{Code: 429}, reasonRateLimit},
		{"503 status", &googleapi.Error{Code: 503}, reasonUnavailable},
		{"rate limit text", errors.New("User Rate Limit Exceeded"), reasonRateLimit},
		{"resource exhausted", errors.New("RESOURCE_EXHAUSTED: try later"), reasonRateLimit},
		{"backend error", errors.New("Backend Error"), reasonUnavailable},
		{"bad request", &googleapi.Error{Code: 400, Message: "bad"}, reasonNone},
		{"plain error", errors.New("permission denied"), reasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestDelayIsCapped(t *testing.T) {
	r, _ := newTestRetrier()
	assert.Equal(t, 120*time.Second, r.Delay(10, reasonRateLimit))
	assert.Equal(t, 90*time.Second, r.Delay(10, reasonUnavailable))
	assert.Equal(t, 6*time.Second, r.Delay(1, reasonUnavailable))
}
