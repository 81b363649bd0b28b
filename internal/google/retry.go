package google

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"tiktok-sheets/internal/config"
	"tiktok-sheets/internal/metrics"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
)

// ErrCapacityExceeded means the workbook hit the per-spreadsheet cell ceiling.
// Retrying in place cannot succeed.
var ErrCapacityExceeded = errors.New("spreadsheet cell capacity exceeded")

type retryReason int

const (
	reasonNone retryReason = iota
	reasonRateLimit
	reasonUnavailable
)

func (r retryReason) String() string {
	switch r {
	case reasonRateLimit:
		return "rate_limit"
	case reasonUnavailable:
		return "unavailable"
	default:
		return "none"
	}
}

var (
	rateLimitMarkers = []string{
		"quota exceeded",
		"rate limit",
		"ratelimitexceeded",
		"resource_exhausted",
		"too many requests",
	}
	unavailableMarkers = []string{
		"service is currently unavailable",
		"unavailable",
		"backend error",
	}
	capacityMarkers = []string{
		"10000000 cells",
		"10,000,000 cells",
	}
)

// Retrier holds backoff settings for spreadsheet calls.
type Retrier struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxJitter      time.Duration
	RateLimitCap   time.Duration
	UnavailableCap time.Duration

	logger *zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

func NewRetrier(cfg config.SheetsConfig, logger *zerolog.Logger) *Retrier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	r := &Retrier{
		MaxRetries:     cfg.MaxRetries,
		BaseDelay:      cfg.BaseDelay,
		MaxJitter:      cfg.MaxJitter,
		RateLimitCap:   cfg.RateLimitCap,
		UnavailableCap: cfg.UnavailableCap,
		logger:         logger,
		sleep:          sleepCtx,
		jitter:         randomJitter,
	}
	if r.MaxRetries <= 0 {
		r.MaxRetries = 5
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = 2 * time.Second
	}
	if r.RateLimitCap <= 0 {
		r.RateLimitCap = 120 * time.Second
	}
	if r.UnavailableCap <= 0 {
		r.UnavailableCap = 90 * time.Second
	}
	return r
}

// Delay returns the wait before retry number attempt (1-based).
func (r *Retrier) Delay(attempt int, reason retryReason) time.Duration {
	limit := r.UnavailableCap
	if reason == reasonRateLimit {
		limit = r.RateLimitCap
	}
	backoff := time.Duration(math.Pow(2, float64(attempt))) * r.BaseDelay
	if r.MaxJitter > 0 && r.jitter != nil {
		backoff += r.jitter(r.MaxJitter)
	}
	if backoff > limit {
		return limit
	}
	return backoff
}

// ExecuteWithRetry runs op, retrying quota and availability failures with
// capped exponential backoff. Other errors are returned immediately.
func ExecuteWithRetry[T any](ctx context.Context, r *Retrier, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if IsCapacityExceeded(err) {
			if errors.Is(err, ErrCapacityExceeded) {
				return zero, err
			}
			return zero, fmt.Errorf("%s: %w: %v", name, ErrCapacityExceeded, err)
		}

		reason := classify(err)
		if reason == reasonNone {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
		if attempt > r.MaxRetries {
			return zero, fmt.Errorf("%s: giving up after %d attempts: %w", name, attempt, err)
		}

		delay := r.Delay(attempt, reason)
		metrics.IncSheetsRetry(reason.String())
		r.logger.Warn().Err(err).
			Str("operation", name).
			Str("reason", reason.String()).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("sheets call failed, backing off")
		if err := r.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// IsCapacityExceeded reports whether err is the workbook cell ceiling.
func IsCapacityExceeded(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCapacityExceeded) {
		return true
	}
	return containsAny(strings.ToLower(err.Error()), capacityMarkers)
}

func classify(err error) retryReason {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return reasonRateLimit
		case http.StatusServiceUnavailable:
			return reasonUnavailable
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, rateLimitMarkers):
		return reasonRateLimit
	case containsAny(msg, unavailableMarkers):
		return reasonUnavailable
	default:
		return reasonNone
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
