// Package ingest runs one account's fetch-transform-write cycle.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"tiktok-sheets/internal/config"
	"tiktok-sheets/internal/domain"
	"tiktok-sheets/internal/fetcher"
	"tiktok-sheets/internal/google"
	"tiktok-sheets/internal/logging"
	"tiktok-sheets/internal/metrics"
	"tiktok-sheets/internal/models"
	"tiktok-sheets/internal/orders"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// WindowFetcher returns extracted rows for one time window and whether they
// are incomplete.
type WindowFetcher interface {
	FetchRange(ctx context.Context, target fetcher.Target, start, end int64, pageSize, maxRetries int) (fetcher.Result, error)
}

type Options struct {
	LookbackDays          int
	TokenRefreshThreshold time.Duration
	BatchRows             int
	WindowConcurrency     int
	PageSize              int
	FetchRetries          int
	SpreadsheetTitle      string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		LookbackDays:          cfg.Ingest.LookbackDays,
		TokenRefreshThreshold: cfg.Ingest.TokenRefreshThreshold,
		BatchRows:             cfg.Ingest.BatchRows,
		WindowConcurrency:     cfg.Ingest.WindowConcurrency,
		PageSize:              cfg.Fetcher.PageSize,
		FetchRetries:          cfg.Fetcher.MaxRetries,
		SpreadsheetTitle:      cfg.Google.SpreadsheetTitle,
	}
}

type Orchestrator struct {
	store  domain.AccountStore
	tokens domain.TokenClient
	fetch  WindowFetcher
	sheets domain.SheetGateway
	opts   Options
	logger *zerolog.Logger
	now    func() time.Time
}

func NewOrchestrator(store domain.AccountStore, tokens domain.TokenClient, fetch WindowFetcher, sheets domain.SheetGateway, opts Options, logger *zerolog.Logger) *Orchestrator {
	if opts.TokenRefreshThreshold <= 0 {
		opts.TokenRefreshThreshold = time.Hour
	}
	if opts.BatchRows <= 0 {
		opts.BatchRows = 5000
	}
	if opts.WindowConcurrency <= 0 {
		opts.WindowConcurrency = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.FetchRetries <= 0 {
		opts.FetchRetries = 3
	}
	if opts.SpreadsheetTitle == "" {
		opts.SpreadsheetTitle = "TikTok Orders"
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Orchestrator{
		store:  store,
		tokens: tokens,
		fetch:  fetch,
		sheets: sheets,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// RunScheduled is the scheduler entry point.
func (o *Orchestrator) RunScheduled(ctx context.Context, account *models.Account) error {
	return o.RunCurrentWindow(ctx, account)
}

// RunCurrentWindow refreshes the current month and, inside the lookback, the
// previous one.
func (o *Orchestrator) RunCurrentWindow(ctx context.Context, account *models.Account) error {
	now := o.now().In(orders.Location(account.Region()))
	return o.run(ctx, account, CurrentWindows(now, o.opts.LookbackDays))
}

// RunFullYear rewrites every month sheet of the current year.
func (o *Orchestrator) RunFullYear(ctx context.Context, account *models.Account) error {
	now := o.now().In(orders.Location(account.Region()))
	return o.run(ctx, account, YearWindows(now))
}

// run is the pipeline shared by all entry points.
type run struct {
	account *models.Account
	loc     *time.Location
	log     zerolog.Logger

	spreadsheetID string
	pending       map[string]map[string]models.OrderRow
	pendingRows   int
	written       map[string]int

	// degraded holds sheets whose window fetch was incomplete. They are
	// neither rewritten nor deleted.
	degraded map[string]bool
}

func (o *Orchestrator) run(ctx context.Context, account *models.Account, windows []Window) error {
	if account == nil {
		return errors.New("account is nil")
	}
	r := &run{
		account:       account,
		loc:           orders.Location(account.Region()),
		log:           *logging.Account(o.logger, account.ID),
		spreadsheetID: account.SpreadsheetID,
		pending:       make(map[string]map[string]models.OrderRow),
		written:       make(map[string]int),
		degraded:      make(map[string]bool),
	}
	started := o.now()

	if err := o.ensureToken(ctx, r); err != nil {
		return err
	}
	if r.spreadsheetID == "" {
		if err := o.provision(ctx, r); err != nil {
			return err
		}
	}

	target := fetcher.TargetFor(r.account)
	for i := 0; i < len(windows); i += o.opts.WindowConcurrency {
		end := i + o.opts.WindowConcurrency
		if end > len(windows) {
			end = len(windows)
		}
		if err := o.fetchBatch(ctx, r, target, windows[i:end]); err != nil {
			return err
		}
		if r.pendingRows > o.opts.BatchRows {
			if err := o.flush(ctx, r); err != nil {
				return err
			}
		}
	}
	if err := o.flush(ctx, r); err != nil {
		return err
	}

	if err := o.cleanup(ctx, r, windows); err != nil {
		r.log.Warn().Err(err).Msg("empty sheet cleanup failed")
	}

	total := 0
	for _, n := range r.written {
		total += n
	}
	r.log.Info().
		Int("windows", len(windows)).
		Int("rows", total).
		Int("degraded", len(r.degraded)).
		Str("spreadsheet_id", r.spreadsheetID).
		Dur("elapsed", o.now().Sub(started)).
		Msg("ingestion finished")
	return nil
}

// ensureToken refreshes the access token when it expires within the threshold.
func (o *Orchestrator) ensureToken(ctx context.Context, r *run) error {
	remaining := time.Duration(r.account.AccessTokenExpireIn-o.now().Unix()) * time.Second
	if r.account.AccessToken != "" && remaining >= o.opts.TokenRefreshThreshold {
		return nil
	}

	res, err := o.tokens.RefreshToken(ctx, r.account.AppKey, r.account.AppSecret, r.account.RefreshToken)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	updated, err := o.store.Update(ctx, r.account.ID, models.AccountUpdate{
		AccessToken:          &res.AccessToken,
		RefreshToken:         &res.RefreshToken,
		AccessTokenExpireIn:  &res.AccessTokenExpireIn,
		RefreshTokenExpireIn: &res.RefreshTokenExpireIn,
	})
	if err != nil {
		return fmt.Errorf("persist refreshed token: %w", err)
	}
	r.account = updated
	r.log.Info().Time("expires_at", time.Unix(res.AccessTokenExpireIn, 0)).Msg("access token refreshed")
	return nil
}

// provision creates a new destination spreadsheet and stores its id.
func (o *Orchestrator) provision(ctx context.Context, r *run) error {
	title := fmt.Sprintf("%s %s %s", o.opts.SpreadsheetTitle, r.account.ID, o.now().In(r.loc).Format("2006-01-02 15:04"))
	id, err := o.sheets.CreateSpreadsheet(ctx, title)
	if err != nil {
		return fmt.Errorf("create spreadsheet: %w", err)
	}
	if _, err := o.store.Update(ctx, r.account.ID, models.AccountUpdate{SpreadsheetID: &id}); err != nil {
		return fmt.Errorf("persist spreadsheet id: %w", err)
	}
	r.log.Info().Str("spreadsheet_id", id).Str("previous", r.spreadsheetID).Msg("destination spreadsheet provisioned")
	r.spreadsheetID = id
	r.account.SpreadsheetID = id
	return nil
}

func (o *Orchestrator) fetchBatch(ctx context.Context, r *run, target fetcher.Target, batch []Window) error {
	results := make([]fetcher.Result, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range batch {
		i, w := i, w
		g.Go(func() error {
			res, err := o.fetch.FetchRange(gctx, target, w.Start, w.End, o.opts.PageSize, o.opts.FetchRetries)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", w.Sheet, err)
			}
			res.Rows = orders.FilterWindow(res.Rows, w.Start, w.End)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, w := range batch {
		if results[i].Degraded {
			r.degraded[w.Sheet] = true
			r.pendingRows -= len(r.pending[w.Sheet])
			delete(r.pending, w.Sheet)
			r.log.Warn().Str("sheet", w.Sheet).Int("rows", len(results[i].Rows)).Msg("window fetch incomplete, sheet left unchanged")
			continue
		}
		if _, ok := r.pending[w.Sheet]; !ok {
			r.pending[w.Sheet] = make(map[string]models.OrderRow)
		}
		for _, row := range results[i].Rows {
			sheet := orders.SheetNameForRow(row, r.loc)
			if r.degraded[sheet] {
				continue
			}
			bucket, ok := r.pending[sheet]
			if !ok {
				bucket = make(map[string]models.OrderRow)
				r.pending[sheet] = bucket
			}
			r.pendingRows += orders.Merge(bucket, []models.OrderRow{row})
		}
		r.log.Debug().Str("sheet", w.Sheet).Int("rows", len(results[i].Rows)).Msg("window fetched")
	}
	return nil
}

// flush writes every pending month sheet and releases the buffers. Windows
// are whole months, so a flushed sheet is complete.
func (o *Orchestrator) flush(ctx context.Context, r *run) error {
	names := make([]string, 0, len(r.pending))
	for name, bucket := range r.pending {
		if len(bucket) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		rows := orders.Collect(r.pending[name], r.loc)
		values := make([][]interface{}, len(rows))
		for i := range rows {
			values[i] = rows[i].Values()
		}
		if err := o.writeSheet(ctx, r, name, values); err != nil {
			return err
		}
		r.written[name] += len(rows)
		delete(r.pending, name)
	}
	for name := range r.pending {
		delete(r.pending, name)
	}
	r.pendingRows = 0
	return nil
}

// writeSheet writes one sheet, rotating to a fresh spreadsheet once when the
// destination is full.
func (o *Orchestrator) writeSheet(ctx context.Context, r *run, name string, values [][]interface{}) error {
	err := o.sheets.WriteAndFormatSheet(ctx, r.spreadsheetID, name, models.HeaderValues(), values, models.NumericColumns)
	if err == nil || !google.IsCapacityExceeded(err) {
		if err != nil {
			return fmt.Errorf("write sheet %s: %w", name, err)
		}
		return nil
	}

	r.log.Warn().Err(err).Str("sheet", name).Str("spreadsheet_id", r.spreadsheetID).Msg("spreadsheet full, rotating")
	if err := o.provision(ctx, r); err != nil {
		return err
	}
	metrics.IncSpreadsheetRotation()
	// written counts belong to the old destination
	for k := range r.written {
		delete(r.written, k)
	}

	if err := o.sheets.WriteAndFormatSheet(ctx, r.spreadsheetID, name, models.HeaderValues(), values, models.NumericColumns); err != nil {
		return fmt.Errorf("write sheet %s after rotation: %w", name, err)
	}
	return nil
}

// cleanup deletes targeted month sheets whose fetch completed with no rows.
// The last remaining sheet is never deleted.
func (o *Orchestrator) cleanup(ctx context.Context, r *run, windows []Window) error {
	titles, err := o.sheets.ListSheets(ctx, r.spreadsheetID)
	if err != nil {
		return err
	}

	remaining := len(titles)
	var errs []error
	for _, title := range titles {
		if remaining <= 1 {
			break
		}
		if !orders.IsMonthSheet(title) || !targeted(title, windows, r.degraded) || r.written[title] > 0 {
			continue
		}
		if err := o.sheets.DeleteSheet(ctx, r.spreadsheetID, title); err != nil {
			if errors.Is(err, google.ErrSheetNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		remaining--
		r.log.Info().Str("sheet", title).Msg("empty month sheet deleted")
	}
	return errors.Join(errs...)
}

func targeted(title string, windows []Window, degraded map[string]bool) bool {
	for _, w := range windows {
		if degraded[w.Sheet] {
			continue
		}
		if strings.HasPrefix(title, w.Sheet) {
			return true
		}
	}
	return false
}
