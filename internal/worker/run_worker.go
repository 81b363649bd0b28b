package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tiktok-sheets/internal/config"
	"tiktok-sheets/internal/database"
	"tiktok-sheets/internal/domain"
	"tiktok-sheets/internal/metrics"
	"tiktok-sheets/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	ErrQueueFull      = errors.New("run queue is full")
	ErrAccountMissing = errors.New("account id is required")
	errAccountBusy    = errors.New("account run already in progress")
)

type Options struct {
	QueueKey      string
	DeadLetterKey string
	Retry         RetryPolicy
	RunTimeout    time.Duration
	LockTTL       time.Duration
	PollInterval  time.Duration
	BufferSize    int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		QueueKey:      cfg.Worker.QueueKey,
		DeadLetterKey: cfg.Worker.DeadLetterKey,
		Retry: RetryPolicy{
			MaxRetries:    cfg.Worker.MaxRetries,
			InitialDelay:  cfg.Worker.InitialDelay,
			MaxDelay:      cfg.Worker.MaxDelay,
			BackoffFactor: cfg.Worker.BackoffFactor,
		},
		RunTimeout: cfg.Scheduler.RunTimeout,
		LockTTL:    cfg.Scheduler.LockTTL,
	}
}

// RunWorker executes manual run requests from Redis or, without Redis, from
// an in-memory queue.
type RunWorker struct {
	store  domain.AccountStore
	runner domain.Runner
	lock   domain.RunLock
	redis  *redis.Client
	opts   Options
	queue  chan models.RunRequest
	logger *zerolog.Logger
	after  func(d time.Duration, f func())
}

func NewRunWorker(store domain.AccountStore, runner domain.Runner, lock domain.RunLock, redisClient *redis.Client, opts Options, logger *zerolog.Logger) *RunWorker {
	opts.Retry = opts.Retry.withDefaults()
	if opts.QueueKey == "" {
		opts.QueueKey = "runs:queue"
	}
	if opts.DeadLetterKey == "" {
		opts.DeadLetterKey = "runs:deadletter"
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 2 * time.Hour
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = opts.RunTimeout + 5*time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 128
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &RunWorker{
		store:  store,
		runner: runner,
		lock:   lock,
		redis:  redisClient,
		opts:   opts,
		queue:  make(chan models.RunRequest, opts.BufferSize),
		logger: logger,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// Enqueue schedules a run. Redis is tried first; the in-memory queue is the
// fallback when Redis is missing or failing.
func (w *RunWorker) Enqueue(ctx context.Context, req *models.RunRequest) error {
	if req == nil || req.AccountID == "" {
		return ErrAccountMissing
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	if w.redis != nil {
		err := w.pushRedis(ctx, w.opts.QueueKey, req)
		if err == nil {
			return nil
		}
		w.logger.Warn().Err(err).Str("request_id", req.ID).Msg("redis push failed, falling back to memory queue")
	}

	select {
	case w.queue <- *req:
		return nil
	default:
		return fmt.Errorf("%w: request %s", ErrQueueFull, req.ID)
	}
}

// Start consumes requests until ctx is done.
func (w *RunWorker) Start(ctx context.Context) {
	w.logger.Info().Str("queue", w.opts.QueueKey).Bool("redis", w.redis != nil).Msg("run worker started")
	defer w.logger.Info().Msg("run worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if req, ok := w.tryLocalQueue(); ok {
			w.process(ctx, &req)
			continue
		}

		if w.redis != nil {
			if req, ok := w.tryRedis(ctx); ok {
				w.process(ctx, &req)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case req := <-w.queue:
			w.process(ctx, &req)
		case <-time.After(w.opts.PollInterval):
		}
	}
}

func (w *RunWorker) tryLocalQueue() (models.RunRequest, bool) {
	select {
	case req := <-w.queue:
		return req, true
	default:
		return models.RunRequest{}, false
	}
}

func (w *RunWorker) tryRedis(ctx context.Context) (models.RunRequest, bool) {
	res, err := w.redis.BRPop(ctx, w.opts.PollInterval, w.opts.QueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return models.RunRequest{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP failed")
		return models.RunRequest{}, false
	}
	if len(res) != 2 {
		return models.RunRequest{}, false
	}
	var req models.RunRequest
	if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
		w.logger.Error().Err(err).Msg("decode run request")
		return models.RunRequest{}, false
	}
	return req, true
}

// process runs one request under the account's run lock. Runs are detached
// from ctx so shutdown lets them finish.
func (w *RunWorker) process(_ context.Context, req *models.RunRequest) {
	log := w.logger.With().Str("account_id", req.AccountID).Str("request_id", req.ID).Logger()

	runCtx, cancel := context.WithTimeout(context.Background(), w.opts.RunTimeout)
	defer cancel()

	err := w.execute(runCtx, req)
	switch {
	case err == nil:
		metrics.IncJobRun("manual_success")
		log.Info().Bool("full_year", req.FullYear).Msg("manual run finished")
	case errors.Is(err, database.ErrNotFound):
		metrics.IncJobRun("manual_dropped")
		w.fail(runCtx, req, err)
	default:
		metrics.IncJobRun("manual_error")
		w.retryOrFail(runCtx, req, err)
	}
}

func (w *RunWorker) execute(ctx context.Context, req *models.RunRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()

	account, err := w.store.FindOne(ctx, req.AccountID)
	if err != nil {
		return err
	}

	acquired, err := w.lock.Acquire(ctx, req.AccountID, w.opts.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		return errAccountBusy
	}
	defer func() {
		if relErr := w.lock.Release(context.Background(), req.AccountID); relErr != nil {
			w.logger.Warn().Err(relErr).Str("account_id", req.AccountID).Msg("run lock release failed")
		}
	}()

	if req.FullYear {
		return w.runner.RunFullYear(ctx, account)
	}
	return w.runner.RunScheduled(ctx, account)
}

func (w *RunWorker) retryOrFail(ctx context.Context, req *models.RunRequest, cause error) {
	req.RetryCount++
	req.LastError = cause.Error()
	if w.opts.Retry.Exhausted(req.RetryCount) {
		w.fail(ctx, req, cause)
		return
	}

	delay := w.opts.Retry.NextDelay(req.RetryCount)
	w.logger.Warn().Err(cause).
		Str("account_id", req.AccountID).
		Str("request_id", req.ID).
		Int("retry", req.RetryCount).
		Dur("delay", delay).
		Msg("manual run failed, retrying")

	retry := *req
	w.after(delay, func() {
		if err := w.Enqueue(context.Background(), &retry); err != nil {
			w.logger.Error().Err(err).Str("request_id", retry.ID).Msg("re-enqueue failed")
		}
	})
}

func (w *RunWorker) fail(ctx context.Context, req *models.RunRequest, cause error) {
	req.LastError = cause.Error()
	w.logger.Error().Err(cause).
		Str("account_id", req.AccountID).
		Str("request_id", req.ID).
		Int("retries", req.RetryCount).
		Msg("manual run abandoned")
	if w.redis == nil {
		return
	}
	if err := w.pushRedis(ctx, w.opts.DeadLetterKey, req); err != nil {
		w.logger.Error().Err(err).Str("request_id", req.ID).Msg("deadletter push failed")
	}
}

func (w *RunWorker) pushRedis(ctx context.Context, key string, req *models.RunRequest) error {
	if w.redis == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
