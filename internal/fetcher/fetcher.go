// Package fetcher pages through the order search API for a time window.
package fetcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"tiktok-sheets/internal/config"
	"tiktok-sheets/internal/marketplace"
	"tiktok-sheets/internal/models"
	"tiktok-sheets/internal/orders"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// OrderSearcher is the slice of the marketplace client the fetcher needs.
type OrderSearcher interface {
	SearchOrders(ctx context.Context, creds marketplace.Credentials, params marketplace.SearchParams, filters marketplace.SearchFilters) (*marketplace.SearchResult, error)
}

// Target identifies the shop being fetched.
type Target struct {
	Credentials marketplace.Credentials
	Region      string
}

// TargetFor builds a fetch target from an account.
func TargetFor(a *models.Account) Target {
	return Target{Credentials: marketplace.CredentialsFor(a), Region: a.Region()}
}

type Options struct {
	MaxRequests         int
	RetryDelay          time.Duration
	GatewayTimeoutDelay time.Duration
	ParallelThreshold   time.Duration
	ChunkSize           time.Duration
	MaxConcurrent       int
	LaunchStagger       time.Duration
	BatchDelay          time.Duration
}

// OptionsFromConfig maps the fetcher config section.
func OptionsFromConfig(cfg config.FetcherConfig) Options {
	return Options{
		MaxRequests:         cfg.MaxRequests,
		RetryDelay:          cfg.RetryDelay,
		GatewayTimeoutDelay: cfg.GatewayTimeoutDelay,
		ParallelThreshold:   cfg.ParallelThreshold,
		ChunkSize:           cfg.ChunkSize,
		MaxConcurrent:       cfg.MaxConcurrent,
		LaunchStagger:       cfg.LaunchStagger,
		BatchDelay:          cfg.BatchDelay,
	}
}

type Fetcher struct {
	searcher OrderSearcher
	opts     Options
	logger   *zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(searcher OrderSearcher, opts Options, logger *zerolog.Logger) *Fetcher {
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = 50
	}
	if opts.ParallelThreshold <= 0 {
		opts.ParallelThreshold = 24 * time.Hour
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 24 * time.Hour
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 3
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Fetcher{searcher: searcher, opts: opts, logger: logger, sleep: sleepCtx}
}

// FetchWindow pages through [start, end) and returns extracted rows sorted
// oldest first. A page error aborts the walk and is returned.
func (f *Fetcher) FetchWindow(ctx context.Context, target Target, start, end int64, pageSize int, sortOrder marketplace.SortOrder) ([]models.OrderRow, error) {
	if sortOrder == "" {
		sortOrder = marketplace.SortDesc
	}
	filters := marketplace.SearchFilters{CreateTimeGE: start, CreateTimeLT: end}

	var (
		raw   []models.Order
		token string
	)
	for requests := 0; requests < f.opts.MaxRequests; requests++ {
		res, err := f.searcher.SearchOrders(ctx, target.Credentials, marketplace.SearchParams{
			PageSize:  pageSize,
			PageToken: token,
			SortOrder: sortOrder,
		}, filters)
		if err != nil {
			return nil, fmt.Errorf("search orders page %d: %w", requests+1, err)
		}
		raw = append(raw, res.Orders...)

		if res.NextPageToken == "" {
			break
		}
		if n := len(res.Orders); n > 0 {
			last := res.Orders[n-1].CreateTime
			if sortOrder == marketplace.SortDesc && last < start {
				break
			}
			if sortOrder == marketplace.SortAsc && last >= end {
				break
			}
		}
		if requests+1 == f.opts.MaxRequests {
			f.logger.Warn().
				Int("max_requests", f.opts.MaxRequests).
				Int64("start", start).
				Int64("end", end).
				Msg("pagination stopped at request limit")
		}
		token = res.NextPageToken
	}

	inWindow := raw[:0:0]
	for _, o := range raw {
		if o.CreateTime >= start && o.CreateTime < end {
			inWindow = append(inWindow, o)
		}
	}

	rows := orders.Extract(inWindow, target.Region)
	orders.SortByCreatedTime(rows, orders.Location(target.Region))
	return rows, nil
}

// Result is the outcome of a range fetch. Degraded is set when retries ran out
// or a chunk failed, so Rows may be missing orders that exist.
type Result struct {
	Rows     []models.OrderRow
	Degraded bool
}

// FetchWindowParallel splits windows longer than the parallel threshold into
// chunks fetched in bounded batches. Failed chunks count as empty.
func (f *Fetcher) FetchWindowParallel(ctx context.Context, target Target, start, end int64, pageSize int) ([]models.OrderRow, error) {
	rows, _, err := f.fetchParallel(ctx, target, start, end, pageSize)
	return rows, err
}

// fetchParallel also reports how many chunks failed.
func (f *Fetcher) fetchParallel(ctx context.Context, target Target, start, end int64, pageSize int) ([]models.OrderRow, int, error) {
	if time.Duration(end-start)*time.Second <= f.opts.ParallelThreshold {
		rows, err := f.FetchWindow(ctx, target, start, end, pageSize, marketplace.SortDesc)
		return rows, 0, err
	}

	chunks := splitWindow(start, end, int64(f.opts.ChunkSize/time.Second))
	results := make([][]models.OrderRow, len(chunks))
	var failed atomic.Int32

	for batchStart := 0; batchStart < len(chunks); batchStart += f.opts.MaxConcurrent {
		batchEnd := batchStart + f.opts.MaxConcurrent
		if batchEnd > len(chunks) {
			batchEnd = len(chunks)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(f.opts.MaxConcurrent)
		for i := batchStart; i < batchEnd; i++ {
			if i > batchStart {
				if err := f.sleep(ctx, f.opts.LaunchStagger); err != nil {
					_ = g.Wait()
					return nil, 0, err
				}
			}
			i := i
			g.Go(func() error {
				rows, err := f.FetchWindow(gctx, target, chunks[i].start, chunks[i].end, pageSize, marketplace.SortDesc)
				if err != nil {
					failed.Add(1)
					f.logger.Warn().Err(err).
						Int64("chunk_start", chunks[i].start).
						Int64("chunk_end", chunks[i].end).
						Msg("chunk fetch failed, treating as empty")
					return nil
				}
				results[i] = rows
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if batchEnd < len(chunks) {
			if err := f.sleep(ctx, f.opts.BatchDelay); err != nil {
				return nil, 0, err
			}
		}
	}

	var merged []models.OrderRow
	for _, rows := range results {
		merged = append(merged, rows...)
	}
	orders.SortByCreatedTime(merged, orders.Location(target.Region))
	return merged, int(failed.Load()), nil
}

// FetchByDateRange retries the fetch and degrades to an empty result once
// retries are exhausted. Only context cancellation is returned as an error.
func (f *Fetcher) FetchByDateRange(ctx context.Context, target Target, start, end int64, pageSize, maxRetries int) ([]models.OrderRow, error) {
	res, err := f.FetchRange(ctx, target, start, end, pageSize, maxRetries)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// FetchRange is FetchByDateRange that also reports whether the rows are
// incomplete.
func (f *Fetcher) FetchRange(ctx context.Context, target Target, start, end int64, pageSize, maxRetries int) (Result, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		rows, failed, err := f.fetchParallel(ctx, target, start, end, pageSize)
		if err == nil {
			return Result{Rows: rows, Degraded: failed > 0}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		lastErr = err
		if attempt == maxRetries {
			break
		}

		delay := f.opts.RetryDelay * time.Duration(attempt)
		if marketplace.IsGatewayTimeout(err) {
			delay = f.opts.GatewayTimeoutDelay * time.Duration(attempt)
		}
		f.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_retries", maxRetries).
			Dur("delay", delay).
			Msg("fetch failed, retrying")
		if err := f.sleep(ctx, delay); err != nil {
			return Result{}, err
		}
	}

	f.logger.Error().Err(lastErr).
		Int64("start", start).
		Int64("end", end).
		Int("attempts", maxRetries).
		Msg("fetch retries exhausted, returning empty result")
	return Result{Rows: []models.OrderRow{}, Degraded: true}, nil
}

type window struct {
	start, end int64
}

func splitWindow(start, end, size int64) []window {
	if size <= 0 {
		size = end - start
	}
	var out []window
	for s := start; s < end; s += size {
		e := s + size
		if e > end {
			e = end
		}
		out = append(out, window{start: s, end: e})
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
