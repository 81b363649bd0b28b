package fetcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"tiktok-sheets/internal/marketplace"
	"tiktok-sheets/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchFunc func(params marketplace.SearchParams, filters marketplace.SearchFilters) (*marketplace.SearchResult, error)

type fakeSearcher struct {
	mu    sync.Mutex
	calls []marketplace.SearchFilters
	pages []marketplace.SearchParams
	fn    searchFunc
}

func (f *fakeSearcher) SearchOrders(_ context.Context, _ marketplace.Credentials, params marketplace.SearchParams, filters marketplace.SearchFilters) (*marketplace.SearchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, filters)
	f.pages = append(f.pages, params)
	f.mu.Unlock()
	return f.fn(params, filters)
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func order(id string, created int64) models.Order {
	return models.Order{
		ID:         id,
		Status:     models.OrderStatusCompleted,
		CreateTime: created,
		LineItems:  []models.LineItem{{SkuID: "sku-" + id, OriginalPrice: "1"}},
	}
}

func newTestFetcher(s OrderSearcher, opts Options) (*Fetcher, *sleepRecorder) {
	f := New(s, opts, nil)
	rec := &sleepRecorder{}
	f.sleep = rec.sleep
	return f, rec
}

var target = Target{Credentials: marketplace.Credentials{AppKey: "k"}, Region: "VN"}

func TestFetchWindow_FollowsCursor(t *testing.T) {
	pages := map[string]*marketplace.SearchResult{
		"":   {NextPageToken: "p2", Orders: []models.Order{order("3", 300), order("2", 200)}},
		"p2": {NextPageToken: "", Orders: []models.Order{order("1", 150)}},
	}
	s := &fakeSearcher{fn: func(p marketplace.SearchParams, _ marketplace.SearchFilters) (*marketplace.SearchResult, error) {
		return pages[p.PageToken], nil
	}}
	f, _ := newTestFetcher(s, Options{})

	rows, err := f.FetchWindow(context.Background(), target, 100, 400, 50, marketplace.SortDesc)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "1", rows[0].OrderID)
	assert.Equal(t, "2", rows[1].OrderID)
	assert.Equal(t, "3", rows[2].OrderID)

	assert.Equal(t, 2, s.callCount())
	assert.Equal(t, int64(100), s.calls[0].CreateTimeGE)
	assert.Equal(t, int64(400), s.calls[0].CreateTimeLT)
	assert.Equal(t, 50, s.pages[0].PageSize)
	assert.Equal(t, marketplace.SortDesc, s.pages[0].SortOrder)
}

func TestFetchWindow_FiltersOutsideWindow(t *testing.T) {
	s := &fakeSearcher{fn: func(marketplace.SearchParams, marketplace.SearchFilters) (*marketplace.SearchResult, error) {
		return &marketplace.SearchResult{Orders: []models.Order{order("late", 400), order("in", 250), order("early", 99)}}, nil
	}}
	f, _ := newTestFetcher(s, Options{})

	rows, err := f.FetchWindow(context.Background(), target, 100, 400, 10, marketplace.SortDesc)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "in", rows[0].OrderID)
}

func TestFetchWindow_StopConditions(t *testing.T) {
	t.Run("MaxRequests", func(t *testing.T) {
		s := &fakeSearcher{fn: func(marketplace.SearchParams, marketplace.SearchFilters) (*marketplace.SearchResult, error) {
			return &marketplace.SearchResult{NextPageToken: "again", Orders: []models.Order{order("x", 200)}}, nil
		}}
		f, _ := newTestFetcher(s, Options{MaxRequests: 4})
		_, err := f.FetchWindow(context.Background(), target, 100, 400, 10, marketplace.SortDesc)
		require.NoError(t, err)
		assert.Equal(t, 4, s.callCount())
	})

	t.Run("DescEarlyExit", func(t *testing.T) {
		s := &fakeSearcher{fn: func(marketplace.SearchParams, marketplace.SearchFilters) (*marketplace.SearchResult, error) {
			return &marketplace.SearchResult{NextPageToken: "more", Orders: []models.Order{order("a", 150), order("b", 50)}}, nil
		}}
		f, _ := newTestFetcher(s, Options{})
		rows, err := f.FetchWindow(context.Background(), target, 100, 400, 10, marketplace.SortDesc)
		require.NoError(t, err)
		assert.Equal(t, 1, s.callCount())
		assert.Len(t, rows, 1)
	})

	t.Run("AscEarlyExit", func(t *testing.T) {
		s := &fakeSearcher{fn: func(marketplace.SearchParams, marketplace.SearchFilters) (*marketplace.SearchResult, error) {
			return &marketplace.SearchResult{NextPageToken: "more", Orders: []models.Order{order("a", 150), order("b", 450)}}, nil
		}}
		f, _ := newTestFetcher(s, Options{})
		_, err := f.FetchWindow(context.Background(), target, 100, 400, 10, marketplace.SortAsc)
		require.NoError(t, err)
		assert.Equal(t, 1, s.callCount())
	})

	t.Run("PageError", func(t *testing.T) {
		s := &fakeSearcher{fn: func(marketplace.SearchParams, marketplace.SearchFilters) (*marketplace.SearchResult, error) {
			return nil, errors.New("boom")
		}}
		f, _ := newTestFetcher(s, Options{})
		_, err := f.FetchWindow(context.Background(), target, 100, 400, 10, marketplace.SortDesc)
		assert.Error(t, err)
	})
}

func TestFetchWindowParallel_ChunksAndToleratesFailures(t *testing.T) {
	day := int64(24 * 60 * 60)
	start := int64(1_700_000_000)
	end := start + 4*day

	s := &fakeSearcher{fn: func(_ marketplace.SearchParams, f marketplace.SearchFilters) (*marketplace.SearchResult, error) {
		if f.CreateTimeGE == start+day {
			return nil, errors.New("chunk down")
		}
		return &marketplace.SearchResult{Orders: []models.Order{order("o", f.CreateTimeGE+10)}}, nil
	}}
	f, rec := newTestFetcher(s, Options{
		ChunkSize:     24 * time.Hour,
		MaxConcurrent: 3,
		LaunchStagger: 500 * time.Millisecond,
		BatchDelay:    2 * time.Second,
	})

	rows, err := f.FetchWindowParallel(context.Background(), target, start, end, 100)
	require.NoError(t, err)
	assert.Equal(t, 4, s.callCount())
	require.Len(t, rows, 3)
	for i := 1; i < len(rows); i++ {
		assert.LessOrEqual(t, rows[i-1].CreateTime, rows[i].CreateTime)
	}

	// two staggers in the first batch of three, one batch delay, none in the last batch of one
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second}, rec.delays)
}

func TestFetchWindowParallel_ShortWindowIsSerial(t *testing.T) {
	s := &fakeSearcher{fn: func(marketplace.SearchParams, marketplace.SearchFilters) (*marketplace.SearchResult, error) {
		return &marketplace.SearchResult{}, nil
	}}
	f, rec := newTestFetcher(s, Options{})
	_, err := f.FetchWindowParallel(context.Background(), target, 0, 3600, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, s.callCount())
	assert.Empty(t, rec.delays)
}

func TestFetchByDateRange_ExhaustsToEmpty(t *testing.T) {
	s := &fakeSearcher{fn: func(marketplace.SearchParams, marketplace.SearchFilters) (*marketplace.SearchResult, error) {
		return nil, &marketplace.APIError{Code: marketplace.CodeUnknown, Message: "connection reset"}
	}}
	f, rec := newTestFetcher(s, Options{RetryDelay: time.Second, GatewayTimeoutDelay: 5 * time.Second})

	rows, err := f.FetchByDateRange(context.Background(), target, 0, 3600, 100, 3)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
	assert.Equal(t, 3, s.callCount())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestFetchRange_ReportsDegradation(t *testing.T) {
	day := int64(24 * 60 * 60)
	start := int64(1_700_000_000)

	t.Run("exhausted retries", func(t *testing.T) {
		s := &fakeSearcher{fn: func(marketplace.SearchParams, marketplace.SearchFilters) (*marketplace.SearchResult, error) {
			return nil, &marketplace.APIError{Code: marketplace.CodeUnknown, Message: "connection reset"}
		}}
		f, _ := newTestFetcher(s, Options{})
		res, err := f.FetchRange(context.Background(), target, 0, 3600, 100, 2)
		require.NoError(t, err)
		assert.True(t, res.Degraded)
		assert.Empty(t, res.Rows)
	})

	t.Run("failed chunk", func(t *testing.T) {
		s := &fakeSearcher{fn: func(_ marketplace.SearchParams, f marketplace.SearchFilters) (*marketplace.SearchResult, error) {
			if f.CreateTimeGE == start {
				return nil, errors.New("chunk down")
			}
			return &marketplace.SearchResult{Orders: []models.Order{order("o", f.CreateTimeGE+10)}}, nil
		}}
		f, _ := newTestFetcher(s, Options{ChunkSize: 24 * time.Hour, MaxConcurrent: 2})
		res, err := f.FetchRange(context.Background(), target, start, start+2*day, 100, 1)
		require.NoError(t, err)
		assert.True(t, res.Degraded)
		assert.Len(t, res.Rows, 1)
	})

	t.Run("empty but healthy", func(t *testing.T) {
		s := &fakeSearcher{fn: func(marketplace.SearchParams, marketplace.SearchFilters) (*marketplace.SearchResult, error) {
			return &marketplace.SearchResult{}, nil
		}}
		f, _ := newTestFetcher(s, Options{})
		res, err := f.FetchRange(context.Background(), target, 0, 3600, 100, 3)
		require.NoError(t, err)
		assert.False(t, res.Degraded)
		assert.Empty(t, res.Rows)
	})
}

func TestFetchByDateRange_GatewayTimeoutBacksOffLonger(t *testing.T) {
	calls := 0
	s := &fakeSearcher{fn: func(marketplace.SearchParams, marketplace.SearchFilters) (*marketplace.SearchResult, error) {
		calls++
		if calls == 1 {
			return nil, &marketplace.APIError{Code: http.StatusGatewayTimeout, Message: "Gateway Timeout"}
		}
		return &marketplace.SearchResult{Orders: []models.Order{order("ok", 10)}}, nil
	}}
	f, rec := newTestFetcher(s, Options{RetryDelay: time.Second, GatewayTimeoutDelay: 5 * time.Second})

	rows, err := f.FetchByDateRange(context.Background(), target, 0, 3600, 100, 3)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, []time.Duration{5 * time.Second}, rec.delays)
}

func TestFetchByDateRange_ContextCancelled(t *testing.T) {
	s := &fakeSearcher{fn: func(marketplace.SearchParams, marketplace.SearchFilters) (*marketplace.SearchResult, error) {
		return nil, errors.New("unreachable")
	}}
	f, _ := newTestFetcher(s, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.FetchByDateRange(ctx, target, 0, 3600, 100, 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSplitWindow(t *testing.T) {
	got := splitWindow(0, 250, 100)
	assert.Equal(t, []window{{0, 100}, {100, 200}, {200, 250}}, got)
}
