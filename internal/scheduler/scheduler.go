// Package scheduler keeps one recurring ingestion job per eligible account.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tiktok-sheets/internal/config"
	"tiktok-sheets/internal/database"
	"tiktok-sheets/internal/domain"
	"tiktok-sheets/internal/events"
	"tiktok-sheets/internal/metrics"
	"tiktok-sheets/internal/models"

	"github.com/rs/zerolog"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrTaskMissing     = errors.New("account has no task")
)

type Options struct {
	ReconcileInterval time.Duration
	RunTimeout        time.Duration
	LockTTL           time.Duration
}

func OptionsFromConfig(cfg config.SchedulerConfig) Options {
	return Options{
		ReconcileInterval: cfg.ReconcileInterval,
		RunTimeout:        cfg.RunTimeout,
		LockTTL:           cfg.LockTTL,
	}
}

type Scheduler struct {
	store    domain.AccountStore
	runner   domain.Runner
	lock     domain.RunLock
	engine   Engine
	registry *Registry
	opts     Options
	logger   *zerolog.Logger
	now      func() time.Time
	runs     sync.WaitGroup

	// regMu orders Reconcile, RegisterImmediate and removals so a pass
	// working from an older read cannot undo a newer registration.
	regMu sync.Mutex
}

func New(store domain.AccountStore, runner domain.Runner, lock domain.RunLock, engine Engine, opts Options, logger *zerolog.Logger) *Scheduler {
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = time.Hour
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 2 * time.Hour
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = opts.RunTimeout + 5*time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Scheduler{
		store:    store,
		runner:   runner,
		lock:     lock,
		engine:   engine,
		registry: NewRegistry(),
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Start runs the engine, reconciles once, then reconciles on every interval
// until ctx is done. On return the engine is stopped and in-flight runs have
// finished or the run timeout elapsed.
func (s *Scheduler) Start(ctx context.Context) error {
	s.engine.Start()
	s.logger.Info().Dur("reconcile_interval", s.opts.ReconcileInterval).Msg("scheduler started")

	if err := s.Reconcile(ctx); err != nil {
		s.logger.Error().Err(err).Msg("startup reconcile failed")
	}

	ticker := time.NewTicker(s.opts.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil {
				s.logger.Error().Err(err).Msg("reconcile failed")
			}
		}
	}
}

func (s *Scheduler) shutdown() {
	s.registry.Clear()
	stopped := s.engine.Stop()

	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
	case <-time.After(s.opts.RunTimeout):
		s.logger.Warn().Dur("timeout", s.opts.RunTimeout).Msg("scheduler stopped with runs still in flight")
	}
	metrics.SetScheduledJobs(0)
}

// Reconcile brings the registry in line with the stored accounts.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	accounts, err := s.store.FindAll(ctx)
	if err != nil {
		metrics.IncReconcile("error")
		return fmt.Errorf("load accounts: %w", err)
	}

	seen := make(map[string]struct{}, len(accounts))
	var created, replaced, removed int
	for _, account := range accounts {
		seen[account.ID] = struct{}{}
		log := s.logger.With().Str("account_id", account.ID).Logger()

		if !account.Eligible() {
			if s.registry.Remove(account.ID) {
				removed++
				log.Info().Msg("job removed for ineligible account")
			}
			continue
		}

		expr := account.Task.CronExpression
		current, exists := s.registry.Expression(account.ID)
		if exists && current == expr {
			continue
		}
		if err := s.schedule(account.ID, expr); err != nil {
			log.Warn().Err(err).Str("cron", expr).Msg("job not scheduled")
			if exists {
				removed++
			}
			continue
		}
		if exists {
			replaced++
			log.Info().Str("from", current).Str("to", expr).Msg("job rescheduled")
		} else {
			created++
			log.Info().Str("cron", expr).Msg("job scheduled")
		}
	}

	for id := range s.registry.Snapshot() {
		if _, ok := seen[id]; !ok && s.registry.Remove(id) {
			removed++
			s.logger.Info().Str("account_id", id).Msg("job removed for deleted account")
		}
	}

	metrics.SetScheduledJobs(s.registry.Len())
	metrics.IncReconcile("success")
	s.logger.Debug().
		Int("accounts", len(accounts)).
		Int("created", created).
		Int("replaced", replaced).
		Int("removed", removed).
		Int("jobs", s.registry.Len()).
		Msg("reconcile finished")
	return nil
}

// RegisterImmediate re-reads one account and recreates or removes its job.
func (s *Scheduler) RegisterImmediate(ctx context.Context, accountID string) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	account, err := s.store.FindOne(ctx, accountID)
	if errors.Is(err, database.ErrNotFound) {
		s.remove(accountID)
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}
	if account.Task == nil {
		s.remove(accountID)
		return fmt.Errorf("%w: %s", ErrTaskMissing, accountID)
	}
	if !account.Eligible() {
		s.remove(accountID)
		return nil
	}

	if err := s.schedule(accountID, account.Task.CronExpression); err != nil {
		metrics.SetScheduledJobs(s.registry.Len())
		return err
	}
	metrics.SetScheduledJobs(s.registry.Len())
	s.logger.Info().Str("account_id", accountID).Str("cron", account.Task.CronExpression).Msg("job registered")
	return nil
}

// Remove stops the job for accountID if one exists.
func (s *Scheduler) Remove(accountID string) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	s.remove(accountID)
}

func (s *Scheduler) remove(accountID string) {
	if s.registry.Remove(accountID) {
		s.logger.Info().Str("account_id", accountID).Msg("job removed")
	}
	metrics.SetScheduledJobs(s.registry.Len())
}

// Snapshot returns account id to cron expression for all scheduled jobs.
func (s *Scheduler) Snapshot() map[string]string {
	return s.registry.Snapshot()
}

// Subscribe wires account mutation events to immediate registration.
func (s *Scheduler) Subscribe(bus *events.EventBus) {
	register := func(e *events.Event) error {
		id, err := e.AccountID()
		if err != nil {
			return err
		}
		return s.RegisterImmediate(context.Background(), id)
	}
	bus.Subscribe(events.EventAccountCreated, register)
	bus.Subscribe(events.EventAccountUpdated, register)
	bus.Subscribe(events.EventAccountTaskUpdated, register)
	bus.Subscribe(events.EventAccountDeleted, func(e *events.Event) error {
		id, err := e.AccountID()
		if err != nil {
			return err
		}
		s.Remove(id)
		return nil
	})
}

func (s *Scheduler) schedule(accountID, expr string) error {
	return s.registry.Upsert(accountID, func() (Handle, error) {
		return s.engine.Schedule(expr, func() { s.runJob(accountID) })
	})
}

// runJob is the trigger body. Runs use their own timeout so shutdown does not
// cut them short.
func (s *Scheduler) runJob(accountID string) {
	s.runs.Add(1)
	defer s.runs.Done()

	log := s.logger.With().Str("account_id", accountID).Logger()
	defer func() {
		if r := recover(); r != nil {
			metrics.IncJobRun("panic")
			log.Error().Interface("panic", r).Msg("job panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RunTimeout)
	defer cancel()

	acquired, err := s.lock.Acquire(ctx, accountID, s.opts.LockTTL)
	if err != nil {
		metrics.IncJobRun("lock_error")
		log.Error().Err(err).Msg("run lock unavailable")
		return
	}
	if !acquired {
		metrics.IncJobRun("skipped")
		log.Info().Msg("previous run still active, skipping tick")
		return
	}
	defer func() {
		if err := s.lock.Release(context.Background(), accountID); err != nil {
			log.Warn().Err(err).Msg("run lock release failed")
		}
	}()

	account, err := s.store.FindOne(ctx, accountID)
	if errors.Is(err, database.ErrNotFound) {
		s.dropIfIneligible(ctx, accountID)
		metrics.IncJobRun("skipped")
		return
	}
	if err != nil {
		metrics.IncJobRun("error")
		log.Error().Err(err).Msg("reload account failed")
		return
	}
	if !account.Eligible() {
		s.dropIfIneligible(ctx, accountID)
		metrics.IncJobRun("skipped")
		return
	}

	now := s.now()
	if updated, err := s.store.Update(ctx, accountID, models.AccountUpdate{TaskLastRun: &now}); err != nil {
		log.Warn().Err(err).Msg("last run not recorded")
	} else {
		account = updated
	}
	if !account.Eligible() {
		s.dropIfIneligible(ctx, accountID)
		metrics.IncJobRun("skipped")
		return
	}

	started := s.now()
	if err := s.runner.RunScheduled(ctx, account); err != nil {
		metrics.IncJobRun("error")
		log.Error().Err(err).Dur("elapsed", s.now().Sub(started)).Msg("scheduled run failed")
		return
	}
	metrics.IncJobRun("success")
	log.Info().Dur("elapsed", s.now().Sub(started)).Msg("scheduled run finished")
}

// dropIfIneligible removes the job only if a fresh read still finds the
// account missing or ineligible.
func (s *Scheduler) dropIfIneligible(ctx context.Context, accountID string) {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	account, err := s.store.FindOne(ctx, accountID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return
	}
	if err == nil && account.Eligible() {
		return
	}
	s.remove(accountID)
}
